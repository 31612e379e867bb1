package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	"mcqgen/internal/observability"
	contextutils "mcqgen/internal/utils"

	"github.com/gin-gonic/gin"
)

// ErrorRecoveryMiddleware recovers from handler panics and answers with a
// structured 500. Panics are logged with their stack trace.
func ErrorRecoveryMiddleware(logger *observability.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				stackTrace := string(debug.Stack())

				var panicErr error
				if e, ok := rec.(error); ok {
					panicErr = e
				} else {
					panicErr = fmt.Errorf("panic: %v", rec)
				}

				if logger != nil {
					logger.Error(c.Request.Context(), "Panic recovered", panicErr, map[string]interface{}{
						"method":      c.Request.Method,
						"path":        c.Request.URL.Path,
						"stack_trace": stackTrace,
					})
				}

				appErr := contextutils.NewAppErrorWithCause(
					contextutils.ErrorCodeInternalError,
					contextutils.SeverityFatal,
					"Internal server error",
					"A panic occurred while processing the request",
					panicErr,
				)
				if gin.Mode() == gin.DebugMode {
					appErr.Details = fmt.Sprintf("%s\nStack trace: %s", appErr.Details, stackTrace)
				}

				HandleAppError(c, appErr)
				c.Abort()
			}
		}()

		c.Next()
	}
}

// HandleAppError sends the response for err. The first AppError in the chain
// decides the status code; anything else is an internal error.
func HandleAppError(c *gin.Context, err error) {
	var appErr *contextutils.AppError
	if errors.As(err, &appErr) {
		StandardizeAppError(c, appErr, err)
		return
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		StandardizeAppError(c, contextutils.ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		StandardizeAppError(c, contextutils.NewAppError(contextutils.ErrorCodeTimeout, contextutils.SeverityWarn, "Request cancelled", ""), err)
	default:
		StandardizeHTTPError(c, "Internal server error", err.Error())
	}
}

// StandardizeAppError writes appErr as JSON. When outer is a wrapping error
// its text is reported as the details.
func StandardizeAppError(c *gin.Context, appErr *contextutils.AppError, outer error) {
	statusCode := mapErrorCodeToHTTPStatus(appErr.Code)

	errorJSON := appErr.ToJSON()
	if outer != nil && outer != error(appErr) {
		if _, set := errorJSON["details"]; !set {
			errorJSON["details"] = outer.Error()
		}
	}
	errorJSON["retryable"] = contextutils.IsRetryable(appErr)

	c.JSON(statusCode, errorJSON)
}

// StandardizeHTTPError creates a consistent internal error response
func StandardizeHTTPError(c *gin.Context, message, details string) {
	appErr := contextutils.NewAppError(
		contextutils.ErrorCodeInternalError,
		contextutils.SeverityError,
		message,
		details,
	)
	StandardizeAppError(c, appErr, nil)
}

// ServiceUnavailable sends a 503 Service Unavailable error with a standardized payload
func ServiceUnavailable(c *gin.Context, msg string) {
	appErr := contextutils.NewAppError(
		contextutils.ErrorCodeServiceUnavailable,
		contextutils.SeverityError,
		msg,
		"",
	)
	StandardizeAppError(c, appErr, nil)
}

// StatusForError returns the HTTP status HandleAppError would use for err
func StatusForError(err error) int {
	return mapErrorCodeToHTTPStatus(contextutils.GetErrorCode(err))
}

func mapErrorCodeToHTTPStatus(code contextutils.ErrorCode) int {
	switch code {
	// 4xx Client Errors
	case contextutils.ErrorCodeInvalidInput, contextutils.ErrorCodeValidationFailed,
		contextutils.ErrorCodeMaxAttemptsReached:
		return http.StatusBadRequest

	case contextutils.ErrorCodeUnauthorized, contextutils.ErrorCodeInvalidCredentials:
		return http.StatusUnauthorized

	case contextutils.ErrorCodeForbidden:
		return http.StatusForbidden

	case contextutils.ErrorCodeRecordNotFound:
		return http.StatusNotFound

	case contextutils.ErrorCodeRecordExists, contextutils.ErrorCodeConflict:
		return http.StatusConflict

	case contextutils.ErrorCodeRateLimit:
		return http.StatusTooManyRequests

	case contextutils.ErrorCodeTimeout:
		return http.StatusRequestTimeout

	// 5xx Server Errors
	case contextutils.ErrorCodeServiceUnavailable, contextutils.ErrorCodeDatabaseConnection,
		contextutils.ErrorCodeAIProviderUnavailable, contextutils.ErrorCodeNoQuestionsAvailable:
		return http.StatusServiceUnavailable

	case contextutils.ErrorCodeDatabaseQuery, contextutils.ErrorCodeInternalError,
		contextutils.ErrorCodeAIRequestFailed, contextutils.ErrorCodeAIResponseInvalid,
		contextutils.ErrorCodeAIConfigInvalid, contextutils.ErrorCodePromptTooLong:
		return http.StatusInternalServerError

	default:
		return http.StatusInternalServerError
	}
}
