//go:build integration

package services

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"mcqgen/internal/config"
	"mcqgen/internal/database"
	"mcqgen/internal/observability"

	"github.com/stretchr/testify/require"
)

// SharedTestDBSetup provides a clean, migrated database for each integration test.
// Tests are skipped when TEST_DATABASE_URL is unset.
func SharedTestDBSetup(t *testing.T) *sql.DB {
	databaseURL := os.Getenv("TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	logger := observability.NewLogger(&config.OpenTelemetryConfig{EnableLogging: false})
	db, err := database.NewManager(logger).InitDB(databaseURL)
	require.NoError(t, err)

	CleanupTestDatabase(db, t)
	return db
}

// CleanupTestDatabase truncates every table and restarts the serial sequences
func CleanupTestDatabase(db *sql.DB, t *testing.T) {
	ctx := context.Background()
	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)

	queries := []string{
		"TRUNCATE TABLE attempts, abilities, quizzes, corpus_entries, worker_status, worker_settings, users CASCADE",
		"ALTER SEQUENCE users_id_seq RESTART WITH 1",
		"ALTER SEQUENCE attempts_id_seq RESTART WITH 1",
		"ALTER SEQUENCE corpus_entries_id_seq RESTART WITH 1",
	}
	for _, query := range queries {
		if _, err := tx.ExecContext(ctx, query); err != nil {
			_ = tx.Rollback()
			require.NoError(t, err, query)
		}
	}
	require.NoError(t, tx.Commit())
}
