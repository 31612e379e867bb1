package handlers

import (
	"fmt"
	"strconv"

	"mcqgen/internal/middleware"
	contextutils "mcqgen/internal/utils"

	"github.com/gin-gonic/gin"
)

// HandleAppError sends the structured error response for err
func HandleAppError(c *gin.Context, err error) {
	middleware.HandleAppError(c, err)
}

// HandleValidationError handles input validation errors consistently
func HandleValidationError(c *gin.Context, field string, value interface{}, reason string) {
	HandleAppError(c, contextutils.NewAppError(
		contextutils.ErrorCodeInvalidInput,
		contextutils.SeverityWarn,
		fmt.Sprintf("Invalid %s", field),
		fmt.Sprintf("Value '%v' is invalid: %s", value, reason),
	))
}

// bindJSON decodes the body into dst and runs its validator tags. It writes
// the error response itself and reports whether the handler may continue.
func bindJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		HandleAppError(c, contextutils.NewAppErrorWithCause(
			contextutils.ErrorCodeInvalidInput,
			contextutils.SeverityWarn,
			"Invalid request body",
			err.Error(),
			err,
		))
		return false
	}
	if err := contextutils.ValidateStruct(dst); err != nil {
		HandleAppError(c, err)
		return false
	}
	return true
}

// positiveParam parses a path parameter that must be a positive integer
func positiveParam(c *gin.Context, name string) (int, bool) {
	raw := c.Param(name)
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		HandleValidationError(c, name, raw, "must be a positive integer")
		return 0, false
	}
	return v, true
}

// currentUser returns the authenticated user id or writes a 401
func currentUser(c *gin.Context) (int, bool) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		HandleAppError(c, contextutils.ErrUnauthorized)
		return 0, false
	}
	return userID, true
}
