package commands

import (
	"fmt"
	"os"

	"golang.org/x/term"

	"mcqgen/internal/services"
	contextutils "mcqgen/internal/utils"

	"github.com/spf13/cobra"
)

// UserCommands returns the user management commands
func UserCommands(env *Env) *cobra.Command {
	userCmd := &cobra.Command{
		Use:   "user",
		Short: "User management commands",
	}

	var req services.RegisterRequest
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user account",
		Long:  `Create a user account. The password is read from the terminal without echo.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			password, err := readPassword(cmd, "Enter password: ")
			if err != nil {
				return err
			}
			confirm, err := readPassword(cmd, "Confirm password: ")
			if err != nil {
				return err
			}
			if password != confirm {
				return contextutils.ErrorWithContextf("passwords do not match")
			}
			req.Password = password

			container, err := env.Container(ctx)
			if err != nil {
				return err
			}
			userService, err := container.GetUserService()
			if err != nil {
				return contextutils.WrapError(err, "failed to get user service")
			}

			user, err := userService.Register(ctx, req)
			if err != nil {
				env.Logger.Error(ctx, "Failed to create user", err, map[string]interface{}{"username": req.Username})
				return contextutils.WrapErrorf(err, "failed to create user '%s'", req.Username)
			}

			env.Logger.Info(ctx, "User created", map[string]interface{}{"username": user.Username, "user_id": user.ID})
			fmt.Fprintf(cmd.OutOrStdout(), "Created user '%s' (ID: %d)\n", user.Username, user.ID)
			return nil
		},
	}
	createCmd.Flags().StringVar(&req.Username, "username", "", "Login name")
	createCmd.Flags().StringVar(&req.Email, "email", "", "Email address")
	createCmd.Flags().StringVar(&req.FullName, "full-name", "", "Display name")
	createCmd.Flags().StringVar(&req.EducationLevel, "education-level", "", "Education level used to pitch questions")
	_ = createCmd.MarkFlagRequired("username")
	_ = createCmd.MarkFlagRequired("email")
	userCmd.AddCommand(createCmd)

	return userCmd
}

func readPassword(cmd *cobra.Command, prompt string) (string, error) {
	fmt.Fprint(cmd.OutOrStdout(), prompt)
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(cmd.OutOrStdout())
	if err != nil {
		return "", contextutils.WrapErrorf(contextutils.ErrInternalError, "failed to read password: %v", err)
	}
	if len(raw) == 0 {
		return "", contextutils.ErrorWithContextf("password cannot be empty")
	}
	return string(raw), nil
}
