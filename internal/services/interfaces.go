package services

import (
	"context"

	"mcqgen/internal/models"
)

// QuizGenerationServiceInterface builds and persists quizzes
type QuizGenerationServiceInterface interface {
	GenerateAdaptiveQuiz(ctx context.Context, actorID, ownerID, count int) (*models.Quiz, error)
	GenerateStandardQuiz(ctx context.Context, actorID, ownerID int) (*models.Quiz, error)
	GenerateTopicQuiz(ctx context.Context, actorID, ownerID int, topic string, count int) (*models.Quiz, error)
}

// GradingServiceInterface grades attempts and serves quiz reads
type GradingServiceInterface interface {
	GetQuiz(ctx context.Context, actorID int, quizID string) (*models.Quiz, error)
	SubmitQuiz(ctx context.Context, actorID, ownerID int, quizID string, answers []AnswerSubmission) (*models.Attempt, error)
	History(ctx context.Context, actorID, ownerID int) ([]QuizHistory, error)
	AttemptResults(ctx context.Context, actorID, ownerID int, quizID string, attemptNumber int) (*models.Attempt, error)
}

// AbilityServiceInterface serves progress reads derived from ability records
type AbilityServiceInterface interface {
	Theta(ctx context.Context, ownerID int) (float64, error)
	Dashboard(ctx context.Context, actorID, ownerID int) (*models.AbilityRecord, error)
	Insights(ctx context.Context, actorID, ownerID int) (*Insights, error)
	Engagement(ctx context.Context, actorID, ownerID int) (*Engagement, error)
	Streak(ctx context.Context, actorID, ownerID int) (*Streak, error)
	Leaderboard(ctx context.Context) ([]LeaderboardEntry, error)
	Comparison(ctx context.Context, actorID, ownerID int) (*Comparison, error)
	HasPreviousQuiz(ctx context.Context, ownerID int) (bool, error)
}

// ExplanationServiceInterface answers free-standing items with explanations
type ExplanationServiceInterface interface {
	Explain(ctx context.Context, question string, options models.Options) (*Explanation, error)
	VerifyAndExplain(ctx context.Context, question string, options models.Options, claimed string) (*AnswerCheck, error)
}

// UserServiceInterface handles accounts and access tokens
type UserServiceInterface interface {
	Register(ctx context.Context, req RegisterRequest) (*models.User, error)
	AuthenticateUser(ctx context.Context, username, password string) (*models.User, error)
	GetUserByID(ctx context.Context, id int) (*models.User, error)
	IssueToken(user *models.User) (AccessToken, error)
	ParseToken(token string) (int, error)
}

// QuizVerificationServiceInterface settles answer keys of persisted quizzes
type QuizVerificationServiceInterface interface {
	VerifyQuiz(ctx context.Context, quizID string) (SweepReport, error)
}

var (
	_ QuizGenerationServiceInterface   = (*QuizController)(nil)
	_ GradingServiceInterface          = (*GradingService)(nil)
	_ AbilityServiceInterface          = (*AbilityService)(nil)
	_ ExplanationServiceInterface      = (*ExplanationService)(nil)
	_ UserServiceInterface             = (*UserService)(nil)
	_ QuizVerificationServiceInterface = (*PostHocVerifier)(nil)
)
