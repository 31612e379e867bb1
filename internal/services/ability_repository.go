package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"mcqgen/internal/models"
	"mcqgen/internal/observability"
	contextutils "mcqgen/internal/utils"
)

// AbilityRepository stores ability records in PostgreSQL
type AbilityRepository struct {
	db     *sql.DB
	logger *observability.Logger
}

// NewAbilityRepository creates a new ability repository
func NewAbilityRepository(db *sql.DB, logger *observability.Logger) *AbilityRepository {
	return &AbilityRepository{db: db, logger: logger}
}

// Create inserts an empty record; an existing record is left untouched
func (r *AbilityRepository) Create(ctx context.Context, ownerID int) (err error) {
	ctx, span := observability.TraceDatabaseFunction(ctx, "create_ability", observability.AttributeUserID(ownerID))
	defer observability.FinishSpan(span, &err)

	rec := models.NewAbilityRecord(ownerID)
	accuracy, timeSpent, recent, err := encodeAbility(rec)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO abilities (owner_id, total_quizzes, accuracy, time_spent, recent_quizzes, consistency_score, updated_at)
		VALUES ($1, 0, $2, $3, $4, 0, NOW())
		ON CONFLICT (owner_id) DO NOTHING`,
		ownerID, accuracy, timeSpent, recent,
	)
	if err != nil {
		return contextutils.WrapError(contextutils.ErrDatabaseQuery, "failed to create ability record: "+err.Error())
	}
	return nil
}

// Get loads the owner's record
func (r *AbilityRepository) Get(ctx context.Context, ownerID int) (result0 *models.AbilityRecord, err error) {
	ctx, span := observability.TraceDatabaseFunction(ctx, "get_ability", observability.AttributeUserID(ownerID))
	defer observability.FinishSpan(span, &err)

	rec := &models.AbilityRecord{OwnerID: ownerID}
	var accuracy, timeSpent, recent []byte
	var strongest, weakest sql.NullString
	err = r.db.QueryRowContext(ctx, `
		SELECT total_quizzes, accuracy, time_spent, recent_quizzes, strongest_area, weakest_area, consistency_score, updated_at
		FROM abilities WHERE owner_id = $1`, ownerID,
	).Scan(&rec.TotalQuizzes, &accuracy, &timeSpent, &recent, &strongest, &weakest, &rec.ConsistencyScore, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, contextutils.WrapErrorf(contextutils.ErrRecordNotFound, "no ability record for user %d", ownerID)
	}
	if err != nil {
		return nil, contextutils.WrapError(contextutils.ErrDatabaseQuery, "failed to load ability record: "+err.Error())
	}

	if err := json.Unmarshal(accuracy, &rec.Accuracy); err != nil {
		return nil, contextutils.WrapError(err, "failed to decode accuracy")
	}
	if err := json.Unmarshal(timeSpent, &rec.TimeSpent); err != nil {
		return nil, contextutils.WrapError(err, "failed to decode time spent")
	}
	if err := json.Unmarshal(recent, &rec.RecentQuizzes); err != nil {
		return nil, contextutils.WrapError(err, "failed to decode recent quizzes")
	}
	if rec.RecentQuizzes == nil {
		rec.RecentQuizzes = []models.QuizSummary{}
	}
	rec.StrongestArea = difficultyPointer(strongest)
	rec.WeakestArea = difficultyPointer(weakest)
	return rec, nil
}

// Replace writes the whole record, creating it when missing
func (r *AbilityRepository) Replace(ctx context.Context, rec *models.AbilityRecord) (err error) {
	ctx, span := observability.TraceDatabaseFunction(ctx, "replace_ability", observability.AttributeUserID(rec.OwnerID))
	defer observability.FinishSpan(span, &err)

	accuracy, timeSpent, recent, err := encodeAbility(rec)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO abilities (owner_id, total_quizzes, accuracy, time_spent, recent_quizzes, strongest_area, weakest_area, consistency_score, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (owner_id) DO UPDATE SET
			total_quizzes = EXCLUDED.total_quizzes,
			accuracy = EXCLUDED.accuracy,
			time_spent = EXCLUDED.time_spent,
			recent_quizzes = EXCLUDED.recent_quizzes,
			strongest_area = EXCLUDED.strongest_area,
			weakest_area = EXCLUDED.weakest_area,
			consistency_score = EXCLUDED.consistency_score,
			updated_at = EXCLUDED.updated_at`,
		rec.OwnerID, rec.TotalQuizzes, accuracy, timeSpent, recent,
		difficultyNull(rec.StrongestArea), difficultyNull(rec.WeakestArea), rec.ConsistencyScore, rec.UpdatedAt,
	)
	if err != nil {
		return contextutils.WrapError(contextutils.ErrDatabaseQuery, "failed to store ability record: "+err.Error())
	}
	return nil
}

// LatestSummaries reads the last history entry of every learner with one
func (r *AbilityRepository) LatestSummaries(ctx context.Context) (result0 []models.LatestSummary, err error) {
	ctx, span := observability.TraceDatabaseFunction(ctx, "latest_ability_summaries")
	defer observability.FinishSpan(span, &err)

	rows, err := r.db.QueryContext(ctx, `
		SELECT a.owner_id, u.username, a.recent_quizzes->-1
		FROM abilities a JOIN users u ON u.id = a.owner_id
		WHERE jsonb_array_length(a.recent_quizzes) > 0
		ORDER BY a.owner_id`)
	if err != nil {
		return nil, contextutils.WrapError(contextutils.ErrDatabaseQuery, "failed to read latest summaries: "+err.Error())
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			r.logger.Warn(ctx, "Failed to close rows", map[string]interface{}{"error": closeErr.Error()})
		}
	}()

	var out []models.LatestSummary
	for rows.Next() {
		var ls models.LatestSummary
		var raw []byte
		if err := rows.Scan(&ls.OwnerID, &ls.Username, &raw); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &ls.Summary); err != nil {
			return nil, contextutils.WrapErrorf(err, "failed to decode latest summary of user %d", ls.OwnerID)
		}
		out = append(out, ls)
	}
	return out, rows.Err()
}

func encodeAbility(rec *models.AbilityRecord) (accuracy, timeSpent, recent []byte, err error) {
	if accuracy, err = json.Marshal(rec.Accuracy); err != nil {
		return nil, nil, nil, contextutils.WrapError(err, "failed to encode accuracy")
	}
	if timeSpent, err = json.Marshal(rec.TimeSpent); err != nil {
		return nil, nil, nil, contextutils.WrapError(err, "failed to encode time spent")
	}
	summaries := rec.RecentQuizzes
	if summaries == nil {
		summaries = []models.QuizSummary{}
	}
	if recent, err = json.Marshal(summaries); err != nil {
		return nil, nil, nil, contextutils.WrapError(err, "failed to encode recent quizzes")
	}
	return accuracy, timeSpent, recent, nil
}

func difficultyPointer(ns sql.NullString) *models.Difficulty {
	if !ns.Valid {
		return nil
	}
	d := models.Difficulty(ns.String)
	return &d
}

func difficultyNull(d *models.Difficulty) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*d), Valid: true}
}
