package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"mcqgen/internal/models"
	"mcqgen/internal/observability"
	contextutils "mcqgen/internal/utils"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
)

// QuizRepository stores quizzes in PostgreSQL with items as a JSONB array
type QuizRepository struct {
	db     *sql.DB
	logger *observability.Logger
}

// NewQuizRepository creates a new quiz repository
func NewQuizRepository(db *sql.DB, logger *observability.Logger) *QuizRepository {
	return &QuizRepository{db: db, logger: logger}
}

const quizSelectFields = `id, owner_id, mode, topic, distribution, items, created_at`

func scanQuiz(scan func(dest ...interface{}) error) (*models.Quiz, error) {
	var q models.Quiz
	var dist, items []byte
	if err := scan(&q.ID, &q.OwnerID, &q.Mode, &q.Topic, &dist, &items, &q.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(dist, &q.Distribution); err != nil {
		return nil, contextutils.WrapErrorf(err, "failed to decode distribution of quiz %s", q.ID)
	}
	if err := json.Unmarshal(items, &q.Items); err != nil {
		return nil, contextutils.WrapErrorf(err, "failed to decode items of quiz %s", q.ID)
	}
	return &q, nil
}

// Insert stores a new quiz
func (r *QuizRepository) Insert(ctx context.Context, quiz *models.Quiz) (err error) {
	ctx, span := observability.TraceDatabaseFunction(ctx, "insert_quiz", observability.AttributeQuizID(quiz.ID))
	defer observability.FinishSpan(span, &err)

	dist, err := json.Marshal(quiz.Distribution)
	if err != nil {
		return contextutils.WrapError(err, "failed to encode distribution")
	}
	items, err := json.Marshal(quiz.Items)
	if err != nil {
		return contextutils.WrapError(err, "failed to encode items")
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO quizzes (id, owner_id, mode, topic, distribution, items, has_unverified, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		quiz.ID, quiz.OwnerID, quiz.Mode, quiz.Topic, dist, items, quiz.HasUnverified(), quiz.CreatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return contextutils.WrapErrorf(contextutils.ErrRecordExists, "quiz %s already exists", quiz.ID)
		}
		return contextutils.WrapError(contextutils.ErrDatabaseQuery, "failed to insert quiz: "+err.Error())
	}
	return nil
}

// Get loads one quiz
func (r *QuizRepository) Get(ctx context.Context, quizID string) (result0 *models.Quiz, err error) {
	ctx, span := observability.TraceDatabaseFunction(ctx, "get_quiz", observability.AttributeQuizID(quizID))
	defer observability.FinishSpan(span, &err)

	row := r.db.QueryRowContext(ctx, `SELECT `+quizSelectFields+` FROM quizzes WHERE id = $1`, quizID)
	q, err := scanQuiz(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, contextutils.WrapErrorf(contextutils.ErrRecordNotFound, "quiz %s not found", quizID)
	}
	if err != nil {
		return nil, err
	}
	return q, nil
}

// ReplaceItems overwrites the items of a quiz, keeping the unverified flag in step
func (r *QuizRepository) ReplaceItems(ctx context.Context, quizID string, items []models.Item) (err error) {
	ctx, span := observability.TraceDatabaseFunction(ctx, "replace_quiz_items", observability.AttributeQuizID(quizID))
	defer observability.FinishSpan(span, &err)

	encoded, err := json.Marshal(items)
	if err != nil {
		return contextutils.WrapError(err, "failed to encode items")
	}
	q := models.Quiz{Items: items}
	res, err := r.db.ExecContext(ctx,
		`UPDATE quizzes SET items = $2, has_unverified = $3 WHERE id = $1`,
		quizID, encoded, q.HasUnverified(),
	)
	if err != nil {
		return contextutils.WrapError(contextutils.ErrDatabaseQuery, "failed to update quiz items: "+err.Error())
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return contextutils.WrapErrorf(contextutils.ErrRecordNotFound, "quiz %s not found", quizID)
	}
	return nil
}

// RecentByOwner returns the owner's newest quizzes first
func (r *QuizRepository) RecentByOwner(ctx context.Context, ownerID, limit int) (result0 []models.Quiz, err error) {
	ctx, span := observability.TraceDatabaseFunction(ctx, "recent_quizzes_by_owner",
		observability.AttributeUserID(ownerID),
		attribute.Int("limit", limit),
	)
	defer observability.FinishSpan(span, &err)

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+quizSelectFields+` FROM quizzes WHERE owner_id = $1 ORDER BY created_at DESC LIMIT $2`,
		ownerID, limit,
	)
	if err != nil {
		return nil, contextutils.WrapError(contextutils.ErrDatabaseQuery, "failed to list quizzes: "+err.Error())
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			r.logger.Warn(ctx, "Failed to close rows", map[string]interface{}{"error": closeErr.Error()})
		}
	}()

	var out []models.Quiz
	for rows.Next() {
		q, err := scanQuiz(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *q)
	}
	return out, rows.Err()
}

// SampleItems draws random stored items of one difficulty whose question is
// not excluded
func (r *QuizRepository) SampleItems(ctx context.Context, difficulty models.Difficulty, n int, exclude []string) (result0 []models.Item, err error) {
	ctx, span := observability.TraceDatabaseFunction(ctx, "sample_items",
		observability.AttributeCount(n),
		observability.AttributeDifficulty(difficulty),
	)
	defer observability.FinishSpan(span, &err)

	if n <= 0 {
		return nil, nil
	}
	if exclude == nil {
		exclude = []string{}
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT item FROM (
			SELECT DISTINCT ON (item->>'question') item
			FROM quizzes q, jsonb_array_elements(q.items) AS item
			WHERE item->>'difficulty' = $3 AND NOT (item->>'question' = ANY($2))
			ORDER BY item->>'question'
		) d
		ORDER BY random()
		LIMIT $1`,
		n, pq.Array(exclude), string(difficulty),
	)
	if err != nil {
		return nil, contextutils.WrapError(contextutils.ErrDatabaseQuery, "failed to sample items: "+err.Error())
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			r.logger.Warn(ctx, "Failed to close rows", map[string]interface{}{"error": closeErr.Error()})
		}
	}()

	var out []models.Item
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var it models.Item
		if err := json.Unmarshal(raw, &it); err != nil {
			r.logger.Warn(ctx, "Skipping undecodable stored item", map[string]interface{}{"error": err.Error()})
			continue
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ListWithUnverified returns ids of quizzes holding unverified items, oldest first
func (r *QuizRepository) ListWithUnverified(ctx context.Context, limit int) (result0 []string, err error) {
	ctx, span := observability.TraceDatabaseFunction(ctx, "list_unverified_quizzes", attribute.Int("limit", limit))
	defer observability.FinishSpan(span, &err)

	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM quizzes WHERE has_unverified ORDER BY created_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, contextutils.WrapError(contextutils.ErrDatabaseQuery, "failed to list unverified quizzes: "+err.Error())
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			r.logger.Warn(ctx, "Failed to close rows", map[string]interface{}{"error": closeErr.Error()})
		}
	}()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AllItems returns every stored item in insertion order
func (r *QuizRepository) AllItems(ctx context.Context) (result0 []models.Item, err error) {
	ctx, span := observability.TraceDatabaseFunction(ctx, "all_items")
	defer observability.FinishSpan(span, &err)

	rows, err := r.db.QueryContext(ctx, `SELECT items FROM quizzes ORDER BY created_at ASC`)
	if err != nil {
		return nil, contextutils.WrapError(contextutils.ErrDatabaseQuery, "failed to read items: "+err.Error())
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			r.logger.Warn(ctx, "Failed to close rows", map[string]interface{}{"error": closeErr.Error()})
		}
	}()

	var out []models.Item
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var items []models.Item
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, contextutils.WrapError(err, "failed to decode stored items")
		}
		out = append(out, items...)
	}
	return out, rows.Err()
}
