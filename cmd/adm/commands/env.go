// Package commands provides CLI commands for the admin tool
package commands

import (
	"context"
	"database/sql"
	"os"
	"sync"

	"mcqgen/internal/config"
	"mcqgen/internal/database"
	"mcqgen/internal/di"
	"mcqgen/internal/observability"
	contextutils "mcqgen/internal/utils"
)

// Env carries the shared resources of one adm invocation. The service
// container and the raw connection are opened on first use so commands that
// need neither stay offline.
type Env struct {
	Config *config.Config
	Logger *observability.Logger

	mu        sync.Mutex
	container *di.ServiceContainer
	db        *sql.DB
}

// NewEnv creates an Env
func NewEnv(cfg *config.Config, logger *observability.Logger) *Env {
	return &Env{Config: cfg, Logger: logger}
}

// Container returns the initialized service container. The schema is left
// alone; use `adm migrate up` to change it.
func (e *Env) Container(ctx context.Context) (di.ServiceContainerInterface, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.container != nil {
		return e.container, nil
	}
	e.logDiagnostics(ctx)
	sc := di.NewServiceContainer(e.Config, e.Logger, di.WithoutMigrations())
	if err := sc.Initialize(ctx); err != nil {
		return nil, contextutils.WrapError(err, "failed to initialize services")
	}
	e.container = sc
	return sc, nil
}

// Database opens a bare connection without touching migrations
func (e *Env) Database(ctx context.Context) (*sql.DB, *database.Manager, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	manager := database.NewManager(e.Logger)
	if e.db != nil {
		return e.db, manager, nil
	}
	e.logDiagnostics(ctx)
	db, err := manager.InitDBWithoutMigrations(e.Config.Database)
	if err != nil {
		return nil, nil, contextutils.WrapError(err, "failed to connect to database")
	}
	e.db = db
	return db, manager, nil
}

// Close releases whatever the invocation opened
func (e *Env) Close(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.container != nil {
		if err := e.container.Shutdown(ctx); err != nil {
			e.Logger.Warn(ctx, "Warning: container shutdown failed", map[string]interface{}{"error": err.Error()})
		}
		e.container = nil
	}
	if e.db != nil {
		if err := e.db.Close(); err != nil {
			e.Logger.Warn(ctx, "Warning: failed to close database connection", map[string]interface{}{"error": err.Error()})
		}
		e.db = nil
	}
}

func (e *Env) logDiagnostics(ctx context.Context) {
	e.Logger.Info(ctx, "Admin command diagnostics", map[string]interface{}{
		"config_file":  os.Getenv("MCQGEN_CONFIG_FILE"),
		"database_url": maskDatabaseURL(e.Config.Database.URL),
	})
}
