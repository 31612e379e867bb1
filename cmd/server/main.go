// Package main provides the entry point for the quiz generation API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mcqgen/internal/config"
	"mcqgen/internal/di"
	"mcqgen/internal/handlers"
	"mcqgen/internal/middleware"
	"mcqgen/internal/observability"
	contextutils "mcqgen/internal/utils"

	"github.com/gin-gonic/gin"
)

// Application encapsulates the main application logic and can be tested
type Application struct {
	container   di.ServiceContainerInterface
	router      *gin.Engine
	rateLimiter *middleware.RateLimiter
	server      *http.Server
}

// NewApplication creates a new application instance
func NewApplication(container di.ServiceContainerInterface) (*Application, error) {
	cfg := container.GetConfig()

	userService, err := container.GetUserService()
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to get user service")
	}

	generator, err := container.GetQuizGenerationService()
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to get quiz generation service")
	}

	grading, err := container.GetGradingService()
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to get grading service")
	}

	ability, err := container.GetAbilityService()
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to get ability service")
	}

	explanations, err := container.GetExplanationService()
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to get explanation service")
	}

	schemas, err := middleware.LoadEmbeddedSchemas()
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to load request schemas")
	}

	var rateLimiter *middleware.RateLimiter
	if cfg.Server.RequestsPerSecond > 0 {
		rateLimiter = middleware.NewRateLimiter(cfg.Server.RequestsPerSecond, cfg.Server.RequestBurst)
	}

	router := handlers.NewRouter(
		cfg,
		userService,
		generator,
		grading,
		ability,
		explanations,
		schemas,
		rateLimiter,
		container.GetMetrics(),
		container.GetLogger(),
	)

	return &Application{
		container:   container,
		router:      router,
		rateLimiter: rateLimiter,
	}, nil
}

// Run serves HTTP until ctx is cancelled or the listener fails
func (a *Application) Run(ctx context.Context, port string) error {
	a.server = &http.Server{
		Addr:              ":" + port,
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-serverErr:
		return contextutils.WrapError(err, "server failed")
	}
}

// Shutdown drains in-flight requests and then releases the container
func (a *Application) Shutdown(ctx context.Context) error {
	var serverErr error
	if a.server != nil {
		serverErr = a.server.Shutdown(ctx)
	}
	if a.rateLimiter != nil {
		a.rateLimiter.Stop()
	}
	if err := a.container.Shutdown(ctx); err != nil {
		return err
	}
	if serverErr != nil {
		return contextutils.WrapError(serverErr, "failed to shut down HTTP server")
	}
	return nil
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	cfg, err := config.NewConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	tp, mp, logger, err := observability.SetupObservability(&cfg.OpenTelemetry, "mcqgen-server")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize observability: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		observability.ShutdownProviders(shutdownCtx, tp, mp, logger)
	}()

	logger.Info(ctx, "Starting quiz generation service", map[string]interface{}{
		"port":     cfg.Server.Port,
		"logLevel": cfg.Server.LogLevel,
	})

	container := di.NewServiceContainer(cfg, logger)
	if err := container.Initialize(ctx); err != nil {
		logger.Error(ctx, "Failed to initialize services", err, nil)
		os.Exit(1)
	}

	app, err := NewApplication(container)
	if err != nil {
		logger.Error(ctx, "Failed to create application", err, nil)
		_ = container.Shutdown(ctx)
		os.Exit(1)
	}

	appErr := make(chan error, 1)
	go func() {
		if err := app.Run(ctx, cfg.Server.Port); err != nil {
			appErr <- err
		}
	}()

	exitCode := 0
	select {
	case <-shutdownCh:
		logger.Info(ctx, "Received shutdown signal, shutting down gracefully", nil)
	case err := <-appErr:
		logger.Error(ctx, "Application failed", err, nil)
		exitCode = 1
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.AIShutdownTimeout)
	defer shutdownCancel()

	if err := app.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "Error during application shutdown", err, nil)
		exitCode = 1
	}

	logger.Info(ctx, "Shutdown completed", map[string]interface{}{"exit_code": exitCode})
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}
