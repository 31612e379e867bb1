package commands

import (
	"fmt"
	"time"

	contextutils "mcqgen/internal/utils"

	"github.com/spf13/cobra"
)

// IndexCommands returns the similarity index commands
func IndexCommands(env *Env) *cobra.Command {
	indexCmd := &cobra.Command{
		Use:   "index",
		Short: "Similarity index maintenance",
	}

	indexCmd.AddCommand(&cobra.Command{
		Use:   "rebuild",
		Short: "Re-embed the corpus and persisted items and rewrite the snapshot",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			container, err := env.Container(ctx)
			if err != nil {
				return err
			}
			index, err := container.GetIndexService()
			if err != nil {
				return contextutils.WrapError(err, "failed to get index service")
			}

			start := time.Now()
			n, err := index.Rebuild(ctx)
			if err != nil {
				env.Logger.Error(ctx, "Index rebuild failed", err, nil)
				return contextutils.WrapError(err, "failed to rebuild similarity index")
			}
			env.Logger.Info(ctx, "Index rebuilt", map[string]interface{}{"entries": n, "duration_ms": time.Since(start).Milliseconds()})
			fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d questions in %s\n", n, time.Since(start).Round(time.Millisecond))
			return nil
		},
	})

	return indexCmd
}
