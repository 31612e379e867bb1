package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"mcqgen/internal/middleware"
	"mcqgen/internal/models"
	contextutils "mcqgen/internal/utils"

	"github.com/spf13/cobra"
)

// CorpusCommands returns the seed corpus commands
func CorpusCommands(env *Env) *cobra.Command {
	corpusCmd := &cobra.Command{
		Use:   "corpus",
		Short: "Seed corpus management",
	}

	var file string
	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Import seed questions from a JSON file",
		Long: `Import seed questions from a JSON array of
{"question", "correct_answer", "cluster", "difficulty"} objects.
Questions already present are skipped.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			raw, err := os.ReadFile(file)
			if err != nil {
				return contextutils.WrapErrorf(contextutils.ErrInvalidInput, "failed to read %s: %v", file, err)
			}
			schemas, err := middleware.LoadEmbeddedSchemas()
			if err != nil {
				return contextutils.WrapError(err, "failed to load schemas")
			}
			entries, err := parseCorpus(raw, schemas)
			if err != nil {
				return err
			}

			container, err := env.Container(ctx)
			if err != nil {
				return err
			}
			corpus, err := container.GetCorpusRepository()
			if err != nil {
				return contextutils.WrapError(err, "failed to get corpus repository")
			}
			added, err := corpus.InsertMany(ctx, entries)
			if err != nil {
				env.Logger.Error(ctx, "Corpus import failed", err, map[string]interface{}{"file": file})
				return contextutils.WrapError(err, "failed to import corpus")
			}

			env.Logger.Info(ctx, "Corpus imported", map[string]interface{}{"file": file, "read": len(entries), "added": added})
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d of %d entries (%d already present)\n", added, len(entries), len(entries)-added)
			if added > 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Run `adm index rebuild` to index the new entries")
			}
			return nil
		},
	}
	importCmd.Flags().StringVar(&file, "file", "", "Path to the JSON seed file")
	_ = importCmd.MarkFlagRequired("file")
	corpusCmd.AddCommand(importCmd)

	return corpusCmd
}

// parseCorpus validates raw against the corpus import schema and decodes it
func parseCorpus(raw []byte, schemas *middleware.SchemaLoader) ([]models.CorpusEntry, error) {
	if err := schemas.ValidateJSON(raw, middleware.SchemaCorpusImport); err != nil {
		return nil, err
	}
	var entries []models.CorpusEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, contextutils.WrapErrorf(contextutils.ErrInvalidInput, "failed to decode corpus: %v", err)
	}
	if len(entries) == 0 {
		return nil, contextutils.WrapError(contextutils.ErrInvalidInput, "corpus file holds no entries")
	}
	return entries, nil
}
