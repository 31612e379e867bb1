// Package main provides the entry point for the verification sweep worker.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mcqgen/internal/config"
	"mcqgen/internal/di"
	"mcqgen/internal/handlers"
	"mcqgen/internal/observability"
	"mcqgen/internal/worker"
)

// fatalIfErr logs the error with context and panics with a consistent message
func fatalIfErr(ctx context.Context, logger *observability.Logger, msg string, err error, fields map[string]interface{}) {
	logger.Error(ctx, msg, err, fields)
	panic(msg + ": " + err.Error())
}

func instanceName() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "default"
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.NewConfig()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	tp, mp, logger, err := observability.SetupObservability(&cfg.OpenTelemetry, "mcqgen-worker")
	if err != nil {
		panic("Failed to initialize observability: " + err.Error())
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		observability.ShutdownProviders(shutdownCtx, tp, mp, logger)
	}()

	logger.Info(ctx, "Starting verification worker", map[string]interface{}{
		"port":           cfg.Server.WorkerPort,
		"logLevel":       cfg.Server.LogLevel,
		"sweep_interval": cfg.Verifier.SweepInterval.String(),
	})

	// The API server owns migrations
	container := di.NewServiceContainer(cfg, logger, di.WithoutMigrations())
	if err := container.Initialize(ctx); err != nil {
		fatalIfErr(ctx, logger, "Failed to initialize services", err, nil)
	}

	quizzes, err := container.GetQuizRepository()
	if err != nil {
		fatalIfErr(ctx, logger, "Failed to get quiz repository", err, nil)
	}
	posthoc, err := container.GetPostHocVerifier()
	if err != nil {
		fatalIfErr(ctx, logger, "Failed to get post-hoc verifier", err, nil)
	}
	workerService, err := container.GetWorkerService()
	if err != nil {
		fatalIfErr(ctx, logger, "Failed to get worker service", err, nil)
	}

	workerInstance := worker.NewWorker(quizzes, posthoc, workerService, instanceName(), cfg, logger)
	go workerInstance.Start(ctx)

	router := handlers.NewWorkerRouter(cfg, workerInstance, workerService, container.GetMetrics(), logger)
	srv := &http.Server{
		Addr:              ":" + cfg.Server.WorkerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info(ctx, "Worker server starting", map[string]interface{}{"port": cfg.Server.WorkerPort})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatalIfErr(ctx, logger, "Failed to start worker server", err, map[string]interface{}{"port": cfg.Server.WorkerPort})
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info(ctx, "Worker server shutting down", map[string]interface{}{"service": "worker"})

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.WorkerShutdownTimeout)
	defer shutdownCancel()

	// Stop sweeping before the admin surface goes away
	if err := workerInstance.Shutdown(shutdownCtx); err != nil {
		logger.Warn(ctx, "Warning: failed to shutdown worker", map[string]interface{}{"error": err.Error(), "service": "worker"})
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn(ctx, "Worker server forced to shutdown", map[string]interface{}{"error": err.Error()})
	}

	if err := container.Shutdown(shutdownCtx); err != nil {
		logger.Warn(ctx, "Warning: container shutdown failed", map[string]interface{}{"error": err.Error()})
	}

	logger.Info(ctx, "Worker server exited", map[string]interface{}{"service": "worker"})
}
