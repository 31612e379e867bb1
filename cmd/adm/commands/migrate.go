package commands

import (
	"fmt"

	contextutils "mcqgen/internal/utils"

	"github.com/spf13/cobra"
)

// MigrateCommands returns the schema migration commands
func MigrateCommands(env *Env) *cobra.Command {
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database schema migrations",
		Long: `Database schema migrations using the embedded migration set.

Available commands:
  up       - Apply every pending migration
  down     - Roll back every applied migration
  version  - Show the applied schema version`,
	}

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply every pending migration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, manager, err := env.Database(cmd.Context())
			if err != nil {
				return err
			}
			if err := manager.RunMigrations(db); err != nil {
				env.Logger.Error(cmd.Context(), "Migration failed", err, nil)
				return contextutils.WrapError(err, "failed to apply migrations")
			}
			return printVersion(cmd, env)
		},
	})

	var confirm bool
	downCmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back every applied migration",
		Long:  `Roll back every applied migration. This drops all data; pass --yes to confirm.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !confirm {
				return contextutils.ErrorWithContextf("refusing to roll back without --yes")
			}
			db, manager, err := env.Database(cmd.Context())
			if err != nil {
				return err
			}
			if err := manager.RollbackMigrations(db); err != nil {
				env.Logger.Error(cmd.Context(), "Rollback failed", err, nil)
				return contextutils.WrapError(err, "failed to roll back migrations")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "All migrations rolled back")
			return nil
		},
	}
	downCmd.Flags().BoolVar(&confirm, "yes", false, "Confirm the rollback")
	migrateCmd.AddCommand(downCmd)

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show the applied schema version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printVersion(cmd, env)
		},
	})

	return migrateCmd
}

func printVersion(cmd *cobra.Command, env *Env) error {
	db, manager, err := env.Database(cmd.Context())
	if err != nil {
		return err
	}
	version, dirty, err := manager.MigrationVersion(db)
	if err != nil {
		return contextutils.WrapError(err, "failed to read schema version")
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s\nschema version %d (dirty: %t)\n", getDatabaseInfo(db), version, dirty)
	return nil
}
