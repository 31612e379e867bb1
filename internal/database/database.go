// Package database provides database connection and migration functionality.
package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"net/url"
	"os"
	"strings"
	"sync"

	"mcqgen/internal/config"
	"mcqgen/internal/observability"
	contextutils "mcqgen/internal/utils"

	// Import PostgreSQL driver for database/sql
	_ "github.com/lib/pq"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// OpenTelemetry SQL instrumentation
	"go.nhat.io/otelsql"

	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Manager handles database operations with proper logging
type Manager struct {
	logger *observability.Logger
}

var (
	otelDriverNameCache string
	otelDriverOnce      sync.Once
	otelDriverErr       error
)

// NewManager creates a new database manager with the provided logger
func NewManager(logger *observability.Logger) *Manager {
	return &Manager{
		logger: logger,
	}
}

// DefaultDatabaseConfig returns the default database configuration
func DefaultDatabaseConfig() config.DatabaseConfig {
	cfg := config.DatabaseConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: config.DatabaseConnMaxLifetime,
	}

	// Check for TEST_DATABASE_URL first (for tests)
	if testURL := os.Getenv("TEST_DATABASE_URL"); testURL != "" {
		cfg.URL = testURL
	}

	return cfg
}

// InitDB initializes and returns a database connection with migrations
func (dm *Manager) InitDB(databaseURL string) (result0 *sql.DB, err error) {
	cfg := DefaultDatabaseConfig()
	cfg.URL = databaseURL
	return dm.InitDBWithConfig(cfg)
}

// InitDBWithConfig initializes and returns a database connection with migrations and custom config
func (dm *Manager) InitDBWithConfig(cfg config.DatabaseConfig) (result0 *sql.DB, err error) {
	_, span := observability.TraceDatabaseFunction(context.Background(), "InitDBWithConfig",
		attribute.String("db.name", extractDatabaseName(cfg.URL)),
		attribute.String("db.system", "postgresql"),
		attribute.Bool("migrations.enabled", true),
		attribute.Int("db.max_open_conns", cfg.MaxOpenConns),
		attribute.Int("db.max_idle_conns", cfg.MaxIdleConns),
	)
	defer observability.FinishSpan(span, &err)

	db, err := dm.InitDBWithoutMigrations(cfg)
	if err != nil {
		return nil, err
	}

	if err := dm.RunMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// extractDatabaseName extracts the database name from a PostgreSQL connection string
func extractDatabaseName(databaseURL string) string {
	if u, err := url.Parse(databaseURL); err == nil && u.Path != "" {
		if dbName := strings.TrimPrefix(u.Path, "/"); dbName != "" {
			return dbName
		}
	}
	return "mcqgen"
}

// InitDBWithoutMigrations initializes and returns a database connection without running migrations
func (dm *Manager) InitDBWithoutMigrations(cfg config.DatabaseConfig) (result0 *sql.DB, err error) {
	ctx, span := observability.TraceDatabaseFunction(context.Background(), "InitDBWithoutMigrations",
		attribute.String("db.name", extractDatabaseName(cfg.URL)),
	)
	defer observability.FinishSpan(span, &err)

	if cfg.URL == "" {
		return nil, contextutils.WrapError(contextutils.ErrDatabaseConnection, "database url is not configured")
	}

	// Register OpenTelemetry SQL driver once per process and reuse the name
	otelDriverOnce.Do(func() {
		otelDriverNameCache, otelDriverErr = otelsql.Register("postgres",
			otelsql.WithDatabaseName(extractDatabaseName(cfg.URL)),
			otelsql.TraceQueryWithoutArgs(),
			otelsql.WithSystem(semconv.DBSystemPostgreSQL),
			otelsql.TraceRowsAffected(),
		)
	})
	if otelDriverErr != nil {
		return nil, contextutils.WrapError(otelDriverErr, "failed to register otelsql driver")
	}

	db, err := sql.Open(otelDriverNameCache, cfg.URL)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to open database connection")
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			dm.logger.Error(ctx, "Failed to close database connection after ping failure", closeErr)
		}
		return nil, contextutils.WrapError(contextutils.ErrDatabaseConnection, "failed to ping database: "+err.Error())
	}

	dm.logger.Info(ctx, "Database connection established", map[string]interface{}{
		"max_open_conns":    cfg.MaxOpenConns,
		"max_idle_conns":    cfg.MaxIdleConns,
		"conn_max_lifetime": cfg.ConnMaxLifetime.String(),
	})

	return db, nil
}

// newMigrator binds the embedded migrations to db
func (dm *Manager) newMigrator(db *sql.DB) (*migrate.Migrate, error) {
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to open embedded migrations")
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to create migration driver")
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to initialize golang-migrate")
	}
	return m, nil
}

// RunMigrations applies every pending embedded migration
func (dm *Manager) RunMigrations(db *sql.DB) (err error) {
	ctx, span := observability.TraceDatabaseFunction(context.Background(), "RunMigrations",
		attribute.String("db.system", "postgresql"),
		attribute.String("migration.type", "golang_migrate"),
	)
	defer observability.FinishSpan(span, &err)

	m, err := dm.newMigrator(db)
	if err != nil {
		return err
	}

	err = m.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return contextutils.WrapError(err, "golang-migrate up failed")
	}
	if errors.Is(err, migrate.ErrNoChange) {
		dm.logger.Info(ctx, "No new migrations to apply")
		return nil
	}
	version, dirty, _ := m.Version()
	span.SetAttributes(attribute.Int("migration.version", int(version)))
	dm.logger.Info(ctx, "Migrations applied", map[string]interface{}{"version": version, "dirty": dirty})
	return nil
}

// RollbackMigrations reverts every applied migration
func (dm *Manager) RollbackMigrations(db *sql.DB) (err error) {
	ctx, span := observability.TraceDatabaseFunction(context.Background(), "RollbackMigrations")
	defer observability.FinishSpan(span, &err)

	m, err := dm.newMigrator(db)
	if err != nil {
		return err
	}
	if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return contextutils.WrapError(err, "golang-migrate down failed")
	}
	dm.logger.Info(ctx, "Migrations rolled back")
	return nil
}

// MigrationVersion reports the applied schema version
func (dm *Manager) MigrationVersion(db *sql.DB) (version uint, dirty bool, err error) {
	m, err := dm.newMigrator(db)
	if err != nil {
		return 0, false, err
	}
	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}
