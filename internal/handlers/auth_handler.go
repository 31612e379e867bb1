package handlers

import (
	"net/http"

	"mcqgen/internal/middleware"
	"mcqgen/internal/models"
	"mcqgen/internal/observability"
	"mcqgen/internal/services"
	contextutils "mcqgen/internal/utils"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

// LoginRequest is the body of POST /v1/auth/login
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// AuthResponse is returned by register and login
type AuthResponse struct {
	User  *models.User         `json:"user"`
	Token services.AccessToken `json:"token"`
}

// AuthHandler handles authentication related HTTP requests
type AuthHandler struct {
	userService services.UserServiceInterface
	logger      *observability.Logger
}

// NewAuthHandler creates a new AuthHandler instance
func NewAuthHandler(userService services.UserServiceInterface, logger *observability.Logger) *AuthHandler {
	return &AuthHandler{userService: userService, logger: logger}
}

// Register creates an account and signs the new user in
func (h *AuthHandler) Register(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "register")
	defer observability.FinishSpan(span, nil)

	var req services.RegisterRequest
	if !bindJSON(c, &req) {
		return
	}
	span.SetAttributes(attribute.String("auth.username", req.Username))

	user, err := h.userService.Register(ctx, req)
	if err != nil {
		HandleAppError(c, err)
		return
	}
	h.signIn(c, user, http.StatusCreated)
}

// Login handles user login requests
func (h *AuthHandler) Login(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "login")
	defer observability.FinishSpan(span, nil)

	var req LoginRequest
	if !bindJSON(c, &req) {
		return
	}
	span.SetAttributes(
		attribute.String("auth.username", req.Username),
		attribute.Bool("auth.password_provided", req.Password != ""),
	)

	user, err := h.userService.AuthenticateUser(ctx, req.Username, req.Password)
	if err != nil {
		h.logger.Warn(ctx, "Authentication failed for user", map[string]interface{}{"username": req.Username, "error": err.Error()})
		HandleAppError(c, contextutils.ErrInvalidCredentials)
		return
	}
	if user == nil {
		HandleAppError(c, contextutils.ErrInvalidCredentials)
		return
	}
	span.SetAttributes(attribute.Int("user.id", user.ID))
	h.signIn(c, user, http.StatusOK)
}

// signIn stores the session and issues an access token for user
func (h *AuthHandler) signIn(c *gin.Context, user *models.User, status int) {
	ctx := c.Request.Context()
	token, err := h.userService.IssueToken(user)
	if err != nil {
		HandleAppError(c, contextutils.WrapError(err, "failed to issue access token"))
		return
	}

	if _, ok := c.Get(sessions.DefaultKey); ok {
		session := sessions.Default(c)
		session.Set(middleware.UserIDKey, user.ID)
		session.Set(middleware.UsernameKey, user.Username)
		if err := session.Save(); err != nil {
			h.logger.Error(ctx, "Failed to save session", err, map[string]interface{}{"user_id": user.ID})
			HandleAppError(c, contextutils.WrapError(err, "failed to create session"))
			return
		}
	}

	c.JSON(status, AuthResponse{User: user, Token: token})
}

// Logout clears the session cookie
func (h *AuthHandler) Logout(c *gin.Context) {
	_, span := observability.TraceHandlerFunction(c.Request.Context(), "logout")
	defer observability.FinishSpan(span, nil)

	session := sessions.Default(c)
	if id, ok := session.Get(middleware.UserIDKey).(int); ok {
		span.SetAttributes(attribute.Int("user.id", id))
	}
	session.Clear()
	if err := session.Save(); err != nil {
		HandleAppError(c, contextutils.WrapError(err, "failed to clear session"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

// Me returns the authenticated user
func (h *AuthHandler) Me(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "me")
	defer observability.FinishSpan(span, nil)

	userID, ok := currentUser(c)
	if !ok {
		return
	}
	user, err := h.userService.GetUserByID(ctx, userID)
	if err != nil {
		HandleAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}
