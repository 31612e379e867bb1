// Package di provides dependency injection container for managing service lifecycle and dependencies.
package di

import (
	"context"
	"database/sql"
	"sync"

	"mcqgen/internal/config"
	"mcqgen/internal/database"
	"mcqgen/internal/observability"
	"mcqgen/internal/services"
	"mcqgen/internal/similarity"
	contextutils "mcqgen/internal/utils"

	goredis "github.com/redis/go-redis/v9"
)

// Service names registered in the container
const (
	ServiceUser            = "user"
	ServiceAbility         = "ability"
	ServiceGrading         = "grading"
	ServiceQuizGeneration  = "quiz_generation"
	ServiceExplanation     = "explanation"
	ServicePostHocVerifier = "posthoc_verifier"
	ServiceWorker          = "worker"
	ServiceIndex           = "index"
	ServiceCorpus          = "corpus"
	ServiceQuizzes         = "quizzes"
)

// ServiceContainerInterface defines the interface for service containers
type ServiceContainerInterface interface {
	GetService(name string) (interface{}, error)
	GetUserService() (services.UserServiceInterface, error)
	GetAbilityService() (services.AbilityServiceInterface, error)
	GetGradingService() (services.GradingServiceInterface, error)
	GetQuizGenerationService() (services.QuizGenerationServiceInterface, error)
	GetExplanationService() (services.ExplanationServiceInterface, error)
	GetPostHocVerifier() (*services.PostHocVerifier, error)
	GetWorkerService() (services.WorkerServiceInterface, error)
	GetIndexService() (*services.IndexService, error)
	GetCorpusRepository() (*services.CorpusRepository, error)
	GetQuizRepository() (*services.QuizRepository, error)
	GetDatabase() *sql.DB
	GetConfig() *config.Config
	GetLogger() *observability.Logger
	GetMetrics() *observability.GenerationMetrics
	Initialize(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// ServiceContainer manages all service dependencies and lifecycle
type ServiceContainer struct {
	cfg           *config.Config
	logger        *observability.Logger
	metrics       *observability.GenerationMetrics
	dbManager     *database.Manager
	db            *sql.DB
	services      map[string]interface{}
	mu            sync.RWMutex
	shutdownFuncs []func(context.Context) error

	// runMigrations is off for the worker, which never owns the schema
	runMigrations bool
}

// Option customizes a container before Initialize
type Option func(*ServiceContainer)

// WithoutMigrations connects to an already migrated database
func WithoutMigrations() Option {
	return func(sc *ServiceContainer) { sc.runMigrations = false }
}

// NewServiceContainer creates a new dependency injection container
func NewServiceContainer(cfg *config.Config, logger *observability.Logger, opts ...Option) *ServiceContainer {
	sc := &ServiceContainer{
		cfg:           cfg,
		logger:        logger,
		metrics:       observability.NewGenerationMetrics(),
		services:      make(map[string]interface{}),
		runMigrations: true,
	}
	for _, opt := range opts {
		opt(sc)
	}
	return sc
}

// Initialize sets up all services and their dependencies
func (sc *ServiceContainer) Initialize(ctx context.Context) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	sc.dbManager = database.NewManager(sc.logger)
	var (
		db  *sql.DB
		err error
	)
	if sc.runMigrations {
		db, err = sc.dbManager.InitDBWithConfig(sc.cfg.Database)
	} else {
		db, err = sc.dbManager.InitDBWithoutMigrations(sc.cfg.Database)
	}
	if err != nil {
		return contextutils.WrapErrorf(err, "failed to initialize database")
	}
	sc.db = db
	sc.shutdownFuncs = append(sc.shutdownFuncs, func(_ context.Context) error {
		return db.Close()
	})

	if err := sc.initializeServices(ctx); err != nil {
		_ = sc.cleanup(ctx)
		return contextutils.WrapErrorf(err, "failed to initialize services")
	}

	if err := sc.startupServices(ctx); err != nil {
		// Cleanup on failure
		_ = sc.cleanup(ctx)
		return contextutils.WrapErrorf(err, "failed to startup services")
	}

	return nil
}

// GetService retrieves a service by name with type assertion
func (sc *ServiceContainer) GetService(name string) (interface{}, error) {
	sc.mu.RLock()
	defer sc.mu.RUnlock()

	service, exists := sc.services[name]
	if !exists {
		return nil, contextutils.ErrorWithContextf("service %s not found", name)
	}
	return service, nil
}

// GetServiceAs performs type-safe service retrieval
func GetServiceAs[T any](sc *ServiceContainer, name string) (T, error) {
	var zero T
	service, err := sc.GetService(name)
	if err != nil {
		return zero, err
	}

	typed, ok := service.(T)
	if !ok {
		return zero, contextutils.ErrorWithContextf("service %s is not of expected type %T", name, zero)
	}
	return typed, nil
}

// GetUserService returns the user service
func (sc *ServiceContainer) GetUserService() (services.UserServiceInterface, error) {
	return GetServiceAs[services.UserServiceInterface](sc, ServiceUser)
}

// GetAbilityService returns the ability service
func (sc *ServiceContainer) GetAbilityService() (services.AbilityServiceInterface, error) {
	return GetServiceAs[services.AbilityServiceInterface](sc, ServiceAbility)
}

// GetGradingService returns the grading service
func (sc *ServiceContainer) GetGradingService() (services.GradingServiceInterface, error) {
	return GetServiceAs[services.GradingServiceInterface](sc, ServiceGrading)
}

// GetQuizGenerationService returns the generation controller
func (sc *ServiceContainer) GetQuizGenerationService() (services.QuizGenerationServiceInterface, error) {
	return GetServiceAs[services.QuizGenerationServiceInterface](sc, ServiceQuizGeneration)
}

// GetExplanationService returns the free-standing explanation service
func (sc *ServiceContainer) GetExplanationService() (services.ExplanationServiceInterface, error) {
	return GetServiceAs[services.ExplanationServiceInterface](sc, ServiceExplanation)
}

// GetPostHocVerifier returns the post-hoc verifier
func (sc *ServiceContainer) GetPostHocVerifier() (*services.PostHocVerifier, error) {
	return GetServiceAs[*services.PostHocVerifier](sc, ServicePostHocVerifier)
}

// GetWorkerService returns the worker service
func (sc *ServiceContainer) GetWorkerService() (services.WorkerServiceInterface, error) {
	return GetServiceAs[services.WorkerServiceInterface](sc, ServiceWorker)
}

// GetIndexService returns the similarity index service
func (sc *ServiceContainer) GetIndexService() (*services.IndexService, error) {
	return GetServiceAs[*services.IndexService](sc, ServiceIndex)
}

// GetCorpusRepository returns the seed corpus store
func (sc *ServiceContainer) GetCorpusRepository() (*services.CorpusRepository, error) {
	return GetServiceAs[*services.CorpusRepository](sc, ServiceCorpus)
}

// GetQuizRepository returns the quiz store
func (sc *ServiceContainer) GetQuizRepository() (*services.QuizRepository, error) {
	return GetServiceAs[*services.QuizRepository](sc, ServiceQuizzes)
}

// GetDatabase returns the database instance
func (sc *ServiceContainer) GetDatabase() *sql.DB {
	return sc.db
}

// GetConfig returns the configuration
func (sc *ServiceContainer) GetConfig() *config.Config {
	return sc.cfg
}

// GetLogger returns the logger
func (sc *ServiceContainer) GetLogger() *observability.Logger {
	return sc.logger
}

// GetMetrics returns the Prometheus collectors shared by every service
func (sc *ServiceContainer) GetMetrics() *observability.GenerationMetrics {
	return sc.metrics
}

// Shutdown gracefully shuts down all services
func (sc *ServiceContainer) Shutdown(ctx context.Context) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	return sc.cleanup(ctx)
}

// startupServices starts all services that implement the Lifecycle interface
func (sc *ServiceContainer) startupServices(ctx context.Context) error {
	for name, service := range sc.services {
		if lifecycleService, ok := service.(interface{ Startup(context.Context) error }); ok {
			sc.logger.Info(ctx, "Starting service", map[string]interface{}{"service": name})
			if err := lifecycleService.Startup(ctx); err != nil {
				return contextutils.WrapErrorf(err, "failed to startup service %s", name)
			}
			sc.logger.Info(ctx, "Service started successfully", map[string]interface{}{"service": name})
		}
	}
	return nil
}

// cleanup handles shutdown of all services
func (sc *ServiceContainer) cleanup(ctx context.Context) error {
	var errors []error

	for name := range sc.services {
		if lifecycleService, ok := sc.services[name].(interface{ Shutdown(context.Context) error }); ok {
			sc.logger.Info(ctx, "Shutting down service", map[string]interface{}{"service": name})
			if err := lifecycleService.Shutdown(ctx); err != nil {
				sc.logger.Error(ctx, "Failed to shutdown service", err, map[string]interface{}{"service": name})
				errors = append(errors, contextutils.WrapErrorf(err, "service %s shutdown failed", name))
			} else {
				sc.logger.Info(ctx, "Service shutdown successfully", map[string]interface{}{"service": name})
			}
		}
	}

	// Shutdown in reverse order of initialization
	for i := len(sc.shutdownFuncs) - 1; i >= 0; i-- {
		if err := sc.shutdownFuncs[i](ctx); err != nil {
			errors = append(errors, err)
		}
	}
	sc.shutdownFuncs = nil

	if len(errors) > 0 {
		return contextutils.ErrorWithContextf("shutdown errors: %v", errors)
	}
	return nil
}

// initializeServices sets up all service dependencies
func (sc *ServiceContainer) initializeServices(ctx context.Context) error {
	cfg := sc.cfg

	// Stores
	users := services.NewUserRepository(sc.db, sc.logger)
	abilities := services.NewAbilityRepository(sc.db, sc.logger)
	quizzes := services.NewQuizRepository(sc.db, sc.logger)
	attempts := services.NewAttemptRepository(sc.db, sc.logger)
	corpus := services.NewCorpusRepository(sc.db, sc.logger)
	sc.services[ServiceCorpus] = corpus
	sc.services[ServiceQuizzes] = quizzes

	// Oracles
	primary, err := services.NewOracle(ctx, cfg.Oracles.Primary, cfg.Server.MaxAIConcurrent, sc.metrics, sc.logger)
	if err != nil {
		return contextutils.WrapError(err, "failed to build primary oracle")
	}
	if primary == nil {
		return contextutils.WrapError(contextutils.ErrAIConfigInvalid, "a primary oracle provider is required")
	}
	secondary, err := services.NewOracle(ctx, cfg.Oracles.Secondary, cfg.Server.MaxAIConcurrent, sc.metrics, sc.logger)
	if err != nil {
		return contextutils.WrapError(err, "failed to build secondary oracle")
	}
	judge, err := services.NewOracle(ctx, cfg.Oracles.Verification, cfg.Server.MaxAIConcurrent, sc.metrics, sc.logger)
	if err != nil {
		return contextutils.WrapError(err, "failed to build verification oracle")
	}
	if judge == nil {
		sc.logger.Info(ctx, "No verification oracle configured, judging with the primary oracle", nil)
		judge = primary
	}
	if s, ok := primary.(interface{ Shutdown(context.Context) error }); ok {
		sc.shutdownFuncs = append(sc.shutdownFuncs, s.Shutdown)
	}
	var tokens services.TokenCounter
	if tc, ok := primary.(services.TokenCounter); ok {
		tokens = tc
	}

	embedder, err := services.NewOpenAIEmbedder(cfg.Embedder)
	if err != nil {
		return contextutils.WrapError(err, "failed to build embedder")
	}

	templates, err := services.NewPromptTemplateManager()
	if err != nil {
		return contextutils.WrapError(err, "failed to load prompt templates")
	}

	// Similarity index with an optional Redis snapshot
	index := similarity.NewMemoryIndex(0)
	var snapshot services.IndexSnapshot
	if cfg.Redis.Addr != "" {
		rdb := goredis.NewClient(&goredis.Options{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			DialTimeout: cfg.Redis.DialTimeout,
		})
		sc.shutdownFuncs = append(sc.shutdownFuncs, func(_ context.Context) error { return rdb.Close() })
		if err := rdb.Ping(ctx).Err(); err != nil {
			sc.logger.Warn(ctx, "Redis unreachable, similarity index stays in memory", map[string]interface{}{
				"addr":  cfg.Redis.Addr,
				"error": err.Error(),
			})
		} else {
			key := cfg.Redis.SnapshotKey
			if key == "" {
				key = config.DefaultIndexSnapshotKey
			}
			snapshot = similarity.NewRedisSnapshot(rdb, key)
		}
	}

	indexService := services.NewIndexService(embedder, index, snapshot, corpus, quizzes, sc.logger)
	sc.services[ServiceIndex] = indexService
	source, err := indexService.Bootstrap(ctx)
	if err != nil {
		sc.logger.Warn(ctx, "Similarity index bootstrap failed, starting empty", map[string]interface{}{"error": err.Error()})
	} else {
		sc.logger.Info(ctx, "Similarity index ready", map[string]interface{}{"source": string(source), "entries": index.Size()})
	}

	// Domain services
	abilityService := services.NewAbilityService(abilities, quizzes, attempts, users, sc.logger)
	sc.services[ServiceAbility] = abilityService

	userService := services.NewUserServiceWithLogger(users, abilities, cfg.Auth, sc.logger)
	sc.services[ServiceUser] = userService

	verifier := services.NewVerifier(judge, templates, cfg.Verifier.RateLimitBackoff, sc.metrics, sc.logger)
	posthoc := services.NewPostHocVerifier(quizzes, verifier, cfg.Verifier.InterCallDelay, sc.logger)
	sc.services[ServicePostHocVerifier] = posthoc

	sampler := services.NewContextSampler(embedder, index, corpus, sc.logger)
	controller := services.NewQuizController(services.QuizControllerDeps{
		Generator:  services.NewGenerator(primary, tokens, templates, cfg.Generation, sc.logger),
		Secondary:  secondary,
		Sampler:    sampler,
		Gate:       services.NewDedupGate(embedder, index, snapshot, cfg.Dedup, sc.metrics, sc.logger),
		Verifier:   verifier,
		Quizzes:    quizzes,
		Users:      users,
		Abilities:  abilityService,
		Dispatcher: posthoc,
		Metrics:    sc.metrics,
		Logger:     sc.logger,
	}, cfg.Generation, cfg.Dedup)
	sc.services[ServiceQuizGeneration] = controller

	sc.services[ServiceExplanation] = services.NewExplanationService(judge, secondary, sampler, templates, cfg.Generation, sc.logger)

	grading := services.NewGradingService(users, quizzes, attempts, abilityService, verifier, sc.metrics, sc.logger, cfg.Server.MaxHistory)
	sc.services[ServiceGrading] = grading

	sc.services[ServiceWorker] = services.NewWorkerServiceWithLogger(sc.db, sc.logger)
	return nil
}
