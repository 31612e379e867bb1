package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"mcqgen/internal/models"
	"mcqgen/internal/observability"
	contextutils "mcqgen/internal/utils"

	"go.opentelemetry.io/otel/attribute"
)

// AttemptRepository stores graded attempts in PostgreSQL
type AttemptRepository struct {
	db     *sql.DB
	logger *observability.Logger
}

// NewAttemptRepository creates a new attempt repository
func NewAttemptRepository(db *sql.DB, logger *observability.Logger) *AttemptRepository {
	return &AttemptRepository{db: db, logger: logger}
}

const attemptSelectFields = `id, quiz_id, owner_id, attempt_number, submitted_at, responses, summary`

func scanAttempt(scan func(dest ...interface{}) error) (*models.Attempt, error) {
	var a models.Attempt
	var responses, summary []byte
	if err := scan(&a.ID, &a.QuizID, &a.OwnerID, &a.AttemptNumber, &a.SubmittedAt, &responses, &summary); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(responses, &a.Responses); err != nil {
		return nil, contextutils.WrapErrorf(err, "failed to decode responses of attempt %d", a.ID)
	}
	if err := json.Unmarshal(summary, &a.Summary); err != nil {
		return nil, contextutils.WrapErrorf(err, "failed to decode summary of attempt %d", a.ID)
	}
	return &a, nil
}

// Insert stores a graded attempt and sets its id
func (r *AttemptRepository) Insert(ctx context.Context, attempt *models.Attempt) (err error) {
	ctx, span := observability.TraceDatabaseFunction(ctx, "insert_attempt",
		observability.AttributeQuizID(attempt.QuizID),
		observability.AttributeUserID(attempt.OwnerID),
		attribute.Int("attempt.number", attempt.AttemptNumber),
	)
	defer observability.FinishSpan(span, &err)

	responses, err := json.Marshal(attempt.Responses)
	if err != nil {
		return contextutils.WrapError(err, "failed to encode responses")
	}
	summary, err := json.Marshal(attempt.Summary)
	if err != nil {
		return contextutils.WrapError(err, "failed to encode summary")
	}
	err = r.db.QueryRowContext(ctx,
		`INSERT INTO attempts (quiz_id, owner_id, attempt_number, submitted_at, responses, summary) VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		attempt.QuizID, attempt.OwnerID, attempt.AttemptNumber, attempt.SubmittedAt, responses, summary,
	).Scan(&attempt.ID)
	if err != nil {
		if isDuplicateKeyError(err) {
			return contextutils.WrapErrorf(contextutils.ErrConflict, "attempt %d of quiz %s was already submitted", attempt.AttemptNumber, attempt.QuizID)
		}
		return contextutils.WrapError(contextutils.ErrDatabaseQuery, "failed to insert attempt: "+err.Error())
	}
	return nil
}

// CountForQuiz counts the owner's attempts of a quiz
func (r *AttemptRepository) CountForQuiz(ctx context.Context, ownerID int, quizID string) (result0 int, err error) {
	ctx, span := observability.TraceDatabaseFunction(ctx, "count_attempts",
		observability.AttributeQuizID(quizID),
		observability.AttributeUserID(ownerID),
	)
	defer observability.FinishSpan(span, &err)

	var n int
	err = r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM attempts WHERE owner_id = $1 AND quiz_id = $2`, ownerID, quizID,
	).Scan(&n)
	if err != nil {
		return 0, contextutils.WrapError(contextutils.ErrDatabaseQuery, "failed to count attempts: "+err.Error())
	}
	return n, nil
}

// Get loads one numbered attempt
func (r *AttemptRepository) Get(ctx context.Context, ownerID int, quizID string, attemptNumber int) (result0 *models.Attempt, err error) {
	ctx, span := observability.TraceDatabaseFunction(ctx, "get_attempt",
		observability.AttributeQuizID(quizID),
		observability.AttributeUserID(ownerID),
		attribute.Int("attempt.number", attemptNumber),
	)
	defer observability.FinishSpan(span, &err)

	row := r.db.QueryRowContext(ctx,
		`SELECT `+attemptSelectFields+` FROM attempts WHERE owner_id = $1 AND quiz_id = $2 AND attempt_number = $3`,
		ownerID, quizID, attemptNumber,
	)
	a, err := scanAttempt(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, contextutils.WrapErrorf(contextutils.ErrRecordNotFound, "attempt %d of quiz %s not found", attemptNumber, quizID)
	}
	return a, err
}

// ListByOwner returns the owner's attempts, newest first
func (r *AttemptRepository) ListByOwner(ctx context.Context, ownerID, limit int) (result0 []models.Attempt, err error) {
	ctx, span := observability.TraceDatabaseFunction(ctx, "list_attempts", observability.AttributeUserID(ownerID))
	defer observability.FinishSpan(span, &err)

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+attemptSelectFields+` FROM attempts WHERE owner_id = $1 ORDER BY submitted_at DESC, id DESC LIMIT $2`,
		ownerID, limit,
	)
	if err != nil {
		return nil, contextutils.WrapError(contextutils.ErrDatabaseQuery, "failed to list attempts: "+err.Error())
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			r.logger.Warn(ctx, "Failed to close rows", map[string]interface{}{"error": closeErr.Error()})
		}
	}()

	var out []models.Attempt
	for rows.Next() {
		a, err := scanAttempt(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}
