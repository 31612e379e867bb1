package services

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	"mcqgen/internal/config"
	"mcqgen/internal/models"
	"mcqgen/internal/observability"
	contextutils "mcqgen/internal/utils"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength is the shortest accepted password
const MinPasswordLength = 8

// RegisterRequest carries the fields of a new account
type RegisterRequest struct {
	Username       string `json:"username" validate:"required,min=3,max=64"`
	Email          string `json:"email" validate:"required,email"`
	Password       string `json:"password" validate:"required,min=8"`
	FullName       string `json:"full_name"`
	EducationLevel string `json:"education_level"`
}

// TokenClaims is the payload of an access token. The subject is the user id.
type TokenClaims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// AccessToken is an issued bearer token
type AccessToken struct {
	Token     string    `json:"access_token"`
	TokenType string    `json:"token_type"`
	ExpiresAt time.Time `json:"expires_at"`
}

// UserService provides account registration, authentication and access tokens
type UserService struct {
	users     UserStore
	abilities AbilityStore
	cfg       config.AuthConfig
	logger    *observability.Logger
	now       func() time.Time
}

// NewUserServiceWithLogger creates a new UserService instance with logger
func NewUserServiceWithLogger(users UserStore, abilities AbilityStore, cfg config.AuthConfig, logger *observability.Logger) *UserService {
	return &UserService{
		users:     users,
		abilities: abilities,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Register creates an account and its empty ability record
func (s *UserService) Register(ctx context.Context, req RegisterRequest) (result0 *models.User, err error) {
	ctx, span := observability.TraceUserFunction(ctx, "register_user", attribute.String("user.username", req.Username))
	defer observability.FinishSpan(span, &err)

	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	if req.Username == "" {
		return nil, contextutils.WrapError(contextutils.ErrInvalidInput, "username cannot be empty")
	}
	if !contextutils.IsValidEmail(req.Email) {
		return nil, contextutils.WrapError(contextutils.ErrInvalidInput, "invalid email address")
	}
	if len(req.Password) < MinPasswordLength {
		return nil, contextutils.WrapErrorf(contextutils.ErrInvalidInput, "password must be at least %d characters", MinPasswordLength)
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to hash password")
	}

	now := s.now().UTC()
	user, err := s.users.Create(ctx, &models.User{
		Username:       req.Username,
		Email:          req.Email,
		FullName:       nullString(req.FullName),
		EducationLevel: nullString(req.EducationLevel),
		PasswordHash:   string(hashedPassword),
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		if contextutils.IsError(err, contextutils.ErrRecordExists) {
			return nil, contextutils.WrapError(contextutils.ErrRecordExists, "username or email already registered")
		}
		return nil, err
	}

	if err := s.abilities.Create(ctx, user.ID); err != nil {
		// generation and grading tolerate a missing record
		s.logger.Warn(ctx, "Failed to create ability record", map[string]interface{}{
			"user_id": user.ID,
			"error":   err.Error(),
		})
	}

	s.logger.Info(ctx, "User registered", map[string]interface{}{"user_id": user.ID, "username": user.Username})
	return user, nil
}

// AuthenticateUser verifies user credentials and returns the user if valid
func (s *UserService) AuthenticateUser(ctx context.Context, username, password string) (result0 *models.User, err error) {
	ctx, span := observability.TraceUserFunction(ctx, "authenticate_user", attribute.String("user.username", username))
	defer observability.FinishSpan(span, &err)

	user, err := s.users.GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if contextutils.IsError(err, contextutils.ErrRecordNotFound) {
			return nil, contextutils.ErrInvalidCredentials
		}
		return nil, err
	}
	if user.PasswordHash == "" {
		return nil, contextutils.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, contextutils.ErrInvalidCredentials
	}
	return user, nil
}

// GetUserByID retrieves a user by their ID
func (s *UserService) GetUserByID(ctx context.Context, id int) (result0 *models.User, err error) {
	ctx, span := observability.TraceUserFunction(ctx, "get_user_by_id", attribute.Int("user.id", id))
	defer observability.FinishSpan(span, &err)

	return s.users.GetByID(ctx, id)
}

// IssueToken signs an HS256 access token for user
func (s *UserService) IssueToken(user *models.User) (AccessToken, error) {
	if s.cfg.JWTSecret == "" {
		return AccessToken{}, contextutils.WrapError(contextutils.ErrInternalError, "jwt secret is not configured")
	}
	now := s.now()
	expires := now.Add(s.cfg.AccessTokenTTL)
	claims := &TokenClaims{
		Username: user.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.Itoa(user.ID),
			Issuer:    s.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return AccessToken{}, contextutils.WrapError(err, "failed to sign access token")
	}
	return AccessToken{Token: signed, TokenType: "bearer", ExpiresAt: expires}, nil
}

// ParseToken validates a bearer token and returns the user id it was issued for
func (s *UserService) ParseToken(token string) (int, error) {
	if s.cfg.JWTSecret == "" {
		return 0, contextutils.WrapError(contextutils.ErrUnauthorized, "token authentication is disabled")
	}
	claims := &TokenClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(s.cfg.JWTSecret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid {
		return 0, contextutils.WrapError(contextutils.ErrUnauthorized, "invalid or expired token")
	}
	id, err := strconv.Atoi(claims.Subject)
	if err != nil || id <= 0 {
		return 0, contextutils.WrapError(contextutils.ErrUnauthorized, "invalid token subject")
	}
	return id, nil
}

func nullString(s string) sql.NullString {
	s = strings.TrimSpace(s)
	return sql.NullString{String: s, Valid: s != ""}
}
