package services

import (
	"context"
	"database/sql"
	"errors"

	"mcqgen/internal/models"
	"mcqgen/internal/observability"
	contextutils "mcqgen/internal/utils"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
)

// UserRepository stores accounts in PostgreSQL
type UserRepository struct {
	db     *sql.DB
	logger *observability.Logger
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *sql.DB, logger *observability.Logger) *UserRepository {
	return &UserRepository{db: db, logger: logger}
}

const userSelectFields = `id, username, email, full_name, education_level, password_hash, created_at, updated_at`

func scanUser(row *sql.Row) (*models.User, error) {
	user := &models.User{}
	err := row.Scan(&user.ID, &user.Username, &user.Email, &user.FullName, &user.EducationLevel,
		&user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// Create inserts user and returns it with its id
func (r *UserRepository) Create(ctx context.Context, user *models.User) (result0 *models.User, err error) {
	ctx, span := observability.TraceDatabaseFunction(ctx, "create_user", attribute.String("user.username", user.Username))
	defer observability.FinishSpan(span, &err)

	out := *user
	err = r.db.QueryRowContext(ctx,
		`INSERT INTO users (username, email, full_name, education_level, password_hash, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		user.Username, user.Email, user.FullName, user.EducationLevel, user.PasswordHash, user.CreatedAt, user.UpdatedAt,
	).Scan(&out.ID)
	if err != nil {
		if isDuplicateKeyError(err) {
			return nil, contextutils.ErrRecordExists
		}
		return nil, contextutils.WrapError(contextutils.ErrDatabaseQuery, "failed to insert user: "+err.Error())
	}
	return &out, nil
}

// GetByID retrieves a user by their ID
func (r *UserRepository) GetByID(ctx context.Context, id int) (result0 *models.User, err error) {
	ctx, span := observability.TraceDatabaseFunction(ctx, "get_user_by_id", attribute.Int("user.id", id))
	defer observability.FinishSpan(span, &err)

	user, err := scanUser(r.db.QueryRowContext(ctx, `SELECT `+userSelectFields+` FROM users WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, contextutils.WrapErrorf(contextutils.ErrRecordNotFound, "user %d not found", id)
	}
	if err != nil {
		r.logger.Error(ctx, "Database error retrieving user", err, map[string]interface{}{"user_id": id})
		return nil, contextutils.WrapError(contextutils.ErrDatabaseQuery, err.Error())
	}
	return user, nil
}

// GetByUsername retrieves a user by their username
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (result0 *models.User, err error) {
	ctx, span := observability.TraceDatabaseFunction(ctx, "get_user_by_username", attribute.String("user.username", username))
	defer observability.FinishSpan(span, &err)

	user, err := scanUser(r.db.QueryRowContext(ctx, `SELECT `+userSelectFields+` FROM users WHERE username = $1`, username))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, contextutils.WrapErrorf(contextutils.ErrRecordNotFound, "user %q not found", username)
	}
	if err != nil {
		return nil, contextutils.WrapError(contextutils.ErrDatabaseQuery, err.Error())
	}
	return user, nil
}

// isDuplicateKeyError checks if the error is a duplicate key constraint violation
func isDuplicateKeyError(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// PostgreSQL error code 23505 is for unique constraint violations
		return pqErr.Code == "23505"
	}
	return false
}
