package handlers

import (
	"net/http"
	"time"

	"mcqgen/internal/config"
	"mcqgen/internal/middleware"
	"mcqgen/internal/observability"
	"mcqgen/internal/services"
	contextutils "mcqgen/internal/utils"
	"mcqgen/internal/version"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/secure"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// IMPORTANT: When adding new API endpoints, make sure to:
// 1. Add a JSON schema under middleware/schemas for any new request body
// 2. Update the route tests in router_factory_test.go
// 3. Consider if the endpoint should be public or require auth

// NewRouter builds the API server engine with all middleware and routes.
// rateLimiter and metrics may be nil.
func NewRouter(
	cfg *config.Config,
	userService services.UserServiceInterface,
	generator services.QuizGenerationServiceInterface,
	grading services.GradingServiceInterface,
	ability services.AbilityServiceInterface,
	explanations services.ExplanationServiceInterface,
	schemas *middleware.SchemaLoader,
	rateLimiter *middleware.RateLimiter,
	metrics *observability.GenerationMetrics,
	logger *observability.Logger,
) *gin.Engine {
	setGinMode(cfg)

	router := gin.New()
	router.Use(middleware.ErrorRecoveryMiddleware(logger))
	router.Use(requestLogger(logger))

	// Health check endpoint (defined before any middleware)
	router.GET("/health", healthHandler("backend"))
	registerMetrics(router, metrics)

	router.Use(observability.GinMiddleware(cfg.OpenTelemetry.ServiceName))
	router.Use(observability.ErrorSpanMiddleware())

	// Disable automatic redirection for trailing slashes, which is better for APIs
	router.RedirectTrailingSlash = false

	corsConfig := cors.DefaultConfig()
	if len(cfg.Server.CORSOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.Server.CORSOrigins
		corsConfig.AllowCredentials = true
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "X-Requested-With"}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	router.Use(cors.New(corsConfig))

	store := cookie.NewStore([]byte(cfg.Server.SessionSecret))
	sessionOpts := sessions.Options{
		Path:     config.SessionPath,
		MaxAge:   int(config.SessionMaxAge.Seconds()),
		HttpOnly: config.SessionHTTPOnly,
		Secure:   config.SessionSecure,
	}
	if cfg.Server.Debug {
		sessionOpts.SameSite = http.SameSiteDefaultMode
	} else {
		sessionOpts.SameSite = http.SameSiteLaxMode
		sessionOpts.Secure = true
	}
	store.Options(sessionOpts)
	router.Use(sessions.Sessions(config.SessionName, store))

	secureConfig := secure.DefaultConfig()
	secureConfig.SSLRedirect = false
	secureConfig.IsDevelopment = cfg.Server.Debug
	secureConfig.ContentSecurityPolicy = config.DefaultCSP
	router.Use(secure.New(secureConfig))

	if rateLimiter != nil {
		router.Use(rateLimiter.Middleware())
	}

	authHandler := NewAuthHandler(userService, logger)
	quizHandler := NewQuizHandler(generator, grading, cfg, logger)
	progressHandler := NewProgressHandler(grading, ability, logger)
	explanationHandler := NewExplanationHandler(explanations, logger)
	requireAuth := middleware.RequireAuth(userService)
	validate := func(schema string) gin.HandlerFunc {
		return middleware.RequestValidationMiddleware(schemas, schema, logger)
	}

	routeListing := NewRouteListingHandler("backend")

	v1 := router.Group("/v1")
	{
		v1.GET("/version", versionHandler("backend"))
		v1.GET("/routes", routeListing.GetRouteListingJSON)

		auth := v1.Group("/auth")
		{
			auth.POST("/register", validate(middleware.SchemaRegisterRequest), authHandler.Register)
			auth.POST("/login", validate(middleware.SchemaLoginRequest), authHandler.Login)
			auth.POST("/logout", authHandler.Logout)
			auth.GET("/me", requireAuth, authHandler.Me)
		}

		quizzes := v1.Group("/quizzes")
		quizzes.Use(requireAuth)
		{
			quizzes.POST("/adaptive", validate(middleware.SchemaGenerateQuizRequest), quizHandler.GenerateAdaptive)
			quizzes.POST("/standard", validate(middleware.SchemaGenerateQuizRequest), quizHandler.GenerateStandard)
			quizzes.POST("/topic", validate(middleware.SchemaGenerateTopicQuizRequest), quizHandler.GenerateTopic)
			quizzes.GET("/:quiz_id", quizHandler.GetQuiz)
			quizzes.POST("/:quiz_id/submit", validate(middleware.SchemaSubmitQuizRequest), quizHandler.SubmitQuiz)
		}

		mcq := v1.Group("/mcq")
		mcq.Use(requireAuth)
		{
			mcq.POST("/explain_only", validate(middleware.SchemaExplainRequest), explanationHandler.ExplainOnly)
			mcq.POST("/verify_and_explain", validate(middleware.SchemaVerifyExplainRequest), explanationHandler.VerifyAndExplain)
		}

		v1.GET("/leaderboard", requireAuth, progressHandler.Leaderboard)

		users := v1.Group("/users/:user_id")
		users.Use(requireAuth)
		{
			users.GET("/history", progressHandler.History)
			users.GET("/quizzes/:quiz_id/attempts/:n", progressHandler.AttemptResults)
			users.GET("/insights", progressHandler.Insights)
			users.GET("/dashboard", progressHandler.Dashboard)
			users.GET("/engagement", progressHandler.Engagement)
			users.GET("/streak", progressHandler.Streak)
			users.GET("/comparison", progressHandler.Comparison)
			users.GET("/has_previous_quiz", progressHandler.HasPreviousQuiz)
		}
	}

	router.NoRoute(func(c *gin.Context) {
		HandleAppError(c, contextutils.WrapErrorf(contextutils.ErrRecordNotFound, "no route for %s %s", c.Request.Method, c.Request.URL.Path))
	})

	routeListing.CollectRoutes(router)
	return router
}

// NewWorkerRouter builds the admin engine of the verification worker.
// w may be nil when the worker is disabled.
func NewWorkerRouter(
	cfg *config.Config,
	w WorkerControl,
	workerService services.WorkerServiceInterface,
	metrics *observability.GenerationMetrics,
	logger *observability.Logger,
) *gin.Engine {
	setGinMode(cfg)

	router := gin.New()
	router.Use(middleware.ErrorRecoveryMiddleware(logger))
	router.Use(requestLogger(logger))

	router.GET("/health", healthHandler("worker"))
	registerMetrics(router, metrics)

	router.Use(observability.GinMiddleware(cfg.OpenTelemetry.ServiceName))
	router.Use(observability.ErrorSpanMiddleware())
	router.RedirectTrailingSlash = false

	admin := NewWorkerAdminHandlerWithLogger(w, workerService, logger)
	routeListing := NewRouteListingHandler("worker")

	v1 := router.Group("/v1")
	{
		v1.GET("/version", versionHandler("worker"))
		v1.GET("/routes", routeListing.GetRouteListingJSON)

		workerGroup := v1.Group("/worker")
		{
			workerGroup.GET("/details", admin.GetWorkerDetails)
			workerGroup.GET("/status", admin.GetWorkerStatus)
			workerGroup.GET("/logs", admin.GetActivityLogs)
			workerGroup.GET("/health", admin.GetSystemHealth)
			workerGroup.POST("/pause", admin.PauseWorker)
			workerGroup.POST("/resume", admin.ResumeWorker)
			workerGroup.POST("/trigger", admin.TriggerWorkerRun)
			workerGroup.POST("/quizzes/:quiz_id/verify", admin.VerifyQuiz)
		}
	}

	router.NoRoute(func(c *gin.Context) {
		HandleAppError(c, contextutils.WrapErrorf(contextutils.ErrRecordNotFound, "no route for %s %s", c.Request.Method, c.Request.URL.Path))
	})

	routeListing.CollectRoutes(router)
	return router
}

func setGinMode(cfg *config.Config) {
	gin.SetMode(gin.ReleaseMode)
	if cfg.Server.Debug {
		gin.SetMode(gin.DebugMode)
	}
}

func healthHandler(service string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": service})
	}
}

func versionHandler(service string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service":   service,
			"version":   version.Version,
			"commit":    version.Commit,
			"buildTime": version.BuildTime,
		})
	}
}

func registerMetrics(router *gin.Engine, metrics *observability.GenerationMetrics) {
	if metrics == nil {
		return
	}
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))
}

// requestLogger logs one line per request at a level chosen by status code
func requestLogger(logger *observability.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()
		fields := map[string]interface{}{
			"http.method":      c.Request.Method,
			"http.path":        c.Request.URL.Path,
			"http.status_code": statusCode,
			"http.latency_ms":  latency.Milliseconds(),
			"http.client_ip":   c.ClientIP(),
			"http.user_agent":  c.Request.UserAgent(),
		}
		if len(c.Errors) > 0 {
			fields["http.error"] = c.Errors.String()
		}
		if statusCode >= 400 {
			fields["http.response_size"] = c.Writer.Size()
			if statusCode >= 500 {
				fields["http.error_type"] = "server_error"
			} else {
				fields["http.error_type"] = "client_error"
			}
		}

		switch {
		case statusCode >= 500:
			logger.Error(c.Request.Context(), "HTTP request failed", nil, fields)
		case statusCode >= 400:
			logger.Warn(c.Request.Context(), "HTTP request warning", fields)
		default:
			logger.Debug(c.Request.Context(), "HTTP request", fields)
		}
	}
}
