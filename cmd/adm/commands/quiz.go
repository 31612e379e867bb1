package commands

import (
	"fmt"

	contextutils "mcqgen/internal/utils"

	"github.com/spf13/cobra"
)

// QuizCommands returns the quiz maintenance commands
func QuizCommands(env *Env) *cobra.Command {
	quizCmd := &cobra.Command{
		Use:   "quiz",
		Short: "Quiz maintenance commands",
	}

	quizCmd.AddCommand(&cobra.Command{
		Use:   "verify <quiz_id>",
		Short: "Settle the answer keys of every unverified item in a quiz",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			container, err := env.Container(ctx)
			if err != nil {
				return err
			}
			posthoc, err := container.GetPostHocVerifier()
			if err != nil {
				return contextutils.WrapError(err, "failed to get post-hoc verifier")
			}
			report, err := posthoc.VerifyQuiz(ctx, args[0])
			if err != nil {
				env.Logger.Error(ctx, "Quiz verification failed", err, map[string]interface{}{"quiz_id": args[0]})
				return contextutils.WrapErrorf(err, "failed to verify quiz %s", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Quiz %s: %d items verified, %d answer keys overridden\n",
				report.QuizID, report.Verified, report.Overridden)
			return nil
		},
	})

	return quizCmd
}
