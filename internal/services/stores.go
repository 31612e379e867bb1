package services

import (
	"context"

	"mcqgen/internal/models"
)

// QuizStore persists generated quizzes. Items are replaced in place only by
// verification.
type QuizStore interface {
	Insert(ctx context.Context, quiz *models.Quiz) error
	// Get returns ErrRecordNotFound for an unknown id
	Get(ctx context.Context, quizID string) (*models.Quiz, error)
	ReplaceItems(ctx context.Context, quizID string, items []models.Item) error
	// RecentByOwner returns the owner's newest quizzes first
	RecentByOwner(ctx context.Context, ownerID, limit int) ([]models.Quiz, error)
	// SampleItems draws up to n random stored items of one difficulty whose
	// question text is not in exclude
	SampleItems(ctx context.Context, difficulty models.Difficulty, n int, exclude []string) ([]models.Item, error)
	// ListWithUnverified returns ids of quizzes holding at least one unverified item, oldest first
	ListWithUnverified(ctx context.Context, limit int) ([]string, error)
	// AllItems returns every stored item, used to rebuild the similarity index
	AllItems(ctx context.Context) ([]models.Item, error)
}

// AbilityStore persists per-user performance records
type AbilityStore interface {
	Create(ctx context.Context, ownerID int) error
	// Get returns ErrRecordNotFound when the owner has no record
	Get(ctx context.Context, ownerID int) (*models.AbilityRecord, error)
	Replace(ctx context.Context, rec *models.AbilityRecord) error
	// LatestSummaries returns the newest summary of every learner with at least one quiz
	LatestSummaries(ctx context.Context) ([]models.LatestSummary, error)
}

// AttemptStore persists graded submissions
type AttemptStore interface {
	Insert(ctx context.Context, attempt *models.Attempt) error
	CountForQuiz(ctx context.Context, ownerID int, quizID string) (int, error)
	Get(ctx context.Context, ownerID int, quizID string, attemptNumber int) (*models.Attempt, error)
	// ListByOwner returns attempts newest first
	ListByOwner(ctx context.Context, ownerID, limit int) ([]models.Attempt, error)
}

// UserStore persists accounts
type UserStore interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	// GetByID and GetByUsername return ErrRecordNotFound for unknown users
	GetByID(ctx context.Context, id int) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
}

// CorpusStore persists seed items for the context sampler
type CorpusStore interface {
	SeedSource
	InsertMany(ctx context.Context, entries []models.CorpusEntry) (int, error)
	All(ctx context.Context) ([]models.CorpusEntry, error)
}
