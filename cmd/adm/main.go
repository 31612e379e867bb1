// Package main provides the entry point for the mcqgen admin CLI tool.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"mcqgen/cmd/adm/commands"
	"mcqgen/internal/config"
	"mcqgen/internal/observability"

	"github.com/spf13/cobra"
)

func main() {
	ctx := context.Background()

	if os.Getenv("MCQGEN_CONFIG_FILE") == "" {
		defaultPaths := []string{
			"../config.yaml",
			"../../config.yaml",
			"config.yaml",
		}

		for _, path := range defaultPaths {
			if _, err := os.Stat(path); err == nil {
				if err := os.Setenv("MCQGEN_CONFIG_FILE", path); err != nil {
					fmt.Fprintf(os.Stderr, "Failed to set MCQGEN_CONFIG_FILE environment variable: %v\n", err)
					os.Exit(1)
				}
				break
			}
		}
	}

	cfg, err := config.NewConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// The admin tool only talks to stdout
	cfg.Server.LogLevel = "error"
	cfg.OpenTelemetry.EnableTracing = false
	cfg.OpenTelemetry.EnableMetrics = false
	cfg.OpenTelemetry.EnableLogging = false

	tp, mp, logger, err := observability.SetupObservability(&cfg.OpenTelemetry, "mcqgen-admin")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize observability: %v\n", err)
		os.Exit(1)
	}

	env := commands.NewEnv(cfg, logger)

	rootCmd := &cobra.Command{
		Use:   "adm",
		Short: "mcqgen administration tool",
		Long: `mcqgen administration tool

Provides commands for schema migrations, corpus seeding, similarity index
maintenance, answer key verification and user management.`,
		SilenceUsage: true,
		Run: func(cmd *cobra.Command, _ []string) {
			if err := cmd.Help(); err != nil {
				fmt.Printf("Error showing help: %v\n", err)
			}
		},
	}

	rootCmd.AddCommand(commands.MigrateCommands(env))
	rootCmd.AddCommand(commands.IndexCommands(env))
	rootCmd.AddCommand(commands.CorpusCommands(env))
	rootCmd.AddCommand(commands.QuizCommands(env))
	rootCmd.AddCommand(commands.UserCommands(env))

	execErr := rootCmd.ExecuteContext(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	env.Close(shutdownCtx)
	observability.ShutdownProviders(shutdownCtx, tp, mp, logger)

	if execErr != nil {
		os.Exit(1)
	}
}
