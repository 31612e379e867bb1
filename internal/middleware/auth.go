// Package middleware provides authentication, validation and error handling middleware for the Gin web framework.
package middleware

import (
	"strings"

	contextutils "mcqgen/internal/utils"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

// Session keys for storing user information
const (
	// UserIDKey is the key used to store user ID in session
	UserIDKey = "user_id"
	// UsernameKey is the key used to store username in session
	UsernameKey = "username"
)

// TokenParser validates a bearer token and returns the user id it carries
type TokenParser interface {
	ParseToken(token string) (int, error)
}

// RequireAuth returns a middleware that requires authentication. A bearer
// token is checked first; without an Authorization header the session is used.
func RequireAuth(tokens TokenParser) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := bearerUser(c, tokens)
		if !ok && c.GetHeader("Authorization") == "" {
			userID, ok = sessionUser(c)
		}
		if !ok {
			HandleAppError(c, contextutils.WrapError(contextutils.ErrUnauthorized, "Authentication required"))
			c.Abort()
			return
		}

		// Store user info in context for handlers to use
		c.Set(UserIDKey, userID)
		c.Request = c.Request.WithContext(contextutils.WithUserID(c.Request.Context(), userID))
		c.Next()
	}
}

func bearerUser(c *gin.Context, tokens TokenParser) (int, bool) {
	header := c.GetHeader("Authorization")
	if tokens == nil || header == "" {
		return 0, false
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
		return 0, false
	}
	id, err := tokens.ParseToken(strings.TrimSpace(token))
	if err != nil {
		return 0, false
	}
	return id, true
}

func sessionUser(c *gin.Context) (int, bool) {
	// sessions.Default panics when the sessions middleware is not installed
	if _, exists := c.Get(sessions.DefaultKey); !exists {
		return 0, false
	}
	session := sessions.Default(c)
	switch v := session.Get(UserIDKey).(type) {
	case int:
		return v, v > 0
	case float64:
		// JSON numbers come back as float64
		return int(v), v > 0
	default:
		return 0, false
	}
}

// GetUserID returns the authenticated user id set by RequireAuth
func GetUserID(c *gin.Context) (int, bool) {
	v, ok := c.Get(UserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(int)
	return id, ok
}
