package services

import (
	"context"
	"database/sql"
	"errors"

	"mcqgen/internal/models"
	"mcqgen/internal/observability"
	contextutils "mcqgen/internal/utils"

	"go.opentelemetry.io/otel/attribute"
)

// CorpusRepository stores seed items for context sampling in PostgreSQL
type CorpusRepository struct {
	db     *sql.DB
	logger *observability.Logger
}

// NewCorpusRepository creates a new corpus repository
func NewCorpusRepository(db *sql.DB, logger *observability.Logger) *CorpusRepository {
	return &CorpusRepository{db: db, logger: logger}
}

const corpusSelectFields = `id, question, correct_answer, cluster, difficulty`

// RandomEntry draws one uniformly random entry
func (r *CorpusRepository) RandomEntry(ctx context.Context) (result0 *models.CorpusEntry, err error) {
	ctx, span := observability.TraceDatabaseFunction(ctx, "random_corpus_entry")
	defer observability.FinishSpan(span, &err)

	var e models.CorpusEntry
	err = r.db.QueryRowContext(ctx, `SELECT `+corpusSelectFields+` FROM corpus_entries ORDER BY random() LIMIT 1`).
		Scan(&e.ID, &e.Question, &e.CorrectAnswer, &e.Cluster, &e.Difficulty)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, contextutils.WrapError(contextutils.ErrRecordNotFound, "corpus is empty")
	}
	if err != nil {
		return nil, contextutils.WrapError(contextutils.ErrDatabaseQuery, "failed to draw corpus entry: "+err.Error())
	}
	return &e, nil
}

// ByCluster returns the entries of one cluster in id order
func (r *CorpusRepository) ByCluster(ctx context.Context, cluster string) (result0 []models.CorpusEntry, err error) {
	ctx, span := observability.TraceDatabaseFunction(ctx, "corpus_entries_by_cluster", attribute.String("corpus.cluster", cluster))
	defer observability.FinishSpan(span, &err)

	return r.list(ctx, `SELECT `+corpusSelectFields+` FROM corpus_entries WHERE cluster = $1 ORDER BY id`, cluster)
}

// InsertMany stores entries in one transaction, skipping questions already
// present, and returns how many were added.
func (r *CorpusRepository) InsertMany(ctx context.Context, entries []models.CorpusEntry) (result0 int, err error) {
	ctx, span := observability.TraceDatabaseFunction(ctx, "insert_corpus_entries", observability.AttributeCount(len(entries)))
	defer observability.FinishSpan(span, &err)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, contextutils.WrapError(contextutils.ErrDatabaseQuery, "failed to begin transaction: "+err.Error())
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				r.logger.Error(ctx, "Failed to roll back corpus import", rbErr)
			}
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO corpus_entries (question, correct_answer, cluster, difficulty)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (question) DO NOTHING`)
	if err != nil {
		return 0, contextutils.WrapError(contextutils.ErrDatabaseQuery, "failed to prepare corpus insert: "+err.Error())
	}
	defer stmt.Close()

	added := 0
	for _, e := range entries {
		d := e.Difficulty
		if !d.Valid() {
			d = models.DifficultyMedium
		}
		res, err := stmt.ExecContext(ctx, e.Question, e.CorrectAnswer, e.Cluster, d)
		if err != nil {
			return 0, contextutils.WrapError(contextutils.ErrDatabaseQuery, "failed to insert corpus entry: "+err.Error())
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, contextutils.WrapError(contextutils.ErrDatabaseQuery, "failed to commit corpus import: "+err.Error())
	}
	return added, nil
}

// All returns every entry in id order
func (r *CorpusRepository) All(ctx context.Context) (result0 []models.CorpusEntry, err error) {
	ctx, span := observability.TraceDatabaseFunction(ctx, "all_corpus_entries")
	defer observability.FinishSpan(span, &err)

	return r.list(ctx, `SELECT `+corpusSelectFields+` FROM corpus_entries ORDER BY id`)
}

func (r *CorpusRepository) list(ctx context.Context, query string, args ...interface{}) ([]models.CorpusEntry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, contextutils.WrapError(contextutils.ErrDatabaseQuery, "failed to list corpus: "+err.Error())
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			r.logger.Warn(ctx, "Failed to close rows", map[string]interface{}{"error": closeErr.Error()})
		}
	}()

	var out []models.CorpusEntry
	for rows.Next() {
		var e models.CorpusEntry
		if err := rows.Scan(&e.ID, &e.Question, &e.CorrectAnswer, &e.Cluster, &e.Difficulty); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
