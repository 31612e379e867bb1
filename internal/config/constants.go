package config

import "time"

// Timeout constants
const (
	// HTTP timeouts
	DefaultHTTPTimeout    = 60 * time.Second
	AIRequestTimeout      = 3 * time.Minute
	AIShutdownTimeout     = 30 * time.Second
	WorkerShutdownTimeout = 30 * time.Second
	EmbeddingTimeout      = 30 * time.Second

	// Database timeouts
	DatabaseConnMaxLifetime = 5 * time.Minute

	// Session timeouts
	SessionMaxAge = 7 * 24 * time.Hour // 7 days

	// Token lifetimes
	AccessTokenTTL = 60 * time.Minute

	// Worker timeouts
	WorkerHeartbeatInterval = 30 * time.Second
	WorkerSleepDuration     = 100 * time.Millisecond
)

// Batch and size constants
const (
	// DefaultAIBatchSize is the number of items requested per generation round trip
	DefaultAIBatchSize = 3
	// DefaultMaxAIConcurrent bounds in-flight primary oracle requests
	DefaultMaxAIConcurrent = 4
	// MaxQuizAttempts is how many times one quiz may be submitted
	MaxQuizAttempts = 3
	// AbilityHistorySize is the number of quiz summaries kept per user
	AbilityHistorySize = 10
	// PlannerRecentQuizzes is the number of recent quizzes read by the difficulty planner
	PlannerRecentQuizzes = 3
	// ExplanationMaxTokens caps the completion of an explanation request
	ExplanationMaxTokens = 400
	// LeaderboardSize is the number of learners ranked on the leaderboard
	LeaderboardSize = 10
)

// Session configuration constants
const (
	SessionPath     = "/"
	SessionHTTPOnly = true
	SessionSecure   = false // Set to true in production with HTTPS

	SessionName = "mcqgen-session"
)

// Security configuration constants
const (
	// Content Security Policy
	DefaultCSP = "default-src 'self'; style-src 'self' 'unsafe-inline'; img-src 'self' data:;"
)

// Similarity index constants
const (
	DefaultIndexSnapshotKey = "mcqgen:similarity:entries"
)

// AI service constants
const (
	AIShutdownPollInterval = 100 * time.Millisecond
)
