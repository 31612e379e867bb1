package observability

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	contextutils "mcqgen/internal/utils"
)

// GinMiddleware creates OpenTelemetry middleware for Gin HTTP requests
func GinMiddleware(serviceName string) gin.HandlerFunc {
	return otelgin.Middleware(serviceName)
}

// ErrorSpanMiddleware annotates the request span with AppError details for
// responses with status >= 400. It must run after GinMiddleware.
func ErrorSpanMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		statusCode := c.Writer.Status()
		if statusCode < 400 {
			return
		}
		span := trace.SpanFromContext(c.Request.Context())
		if !span.IsRecording() {
			return
		}

		errorMsg := "client error"
		if statusCode >= 500 {
			errorMsg = "server error"
		}
		severity := determineErrorSeverity(statusCode, c.Errors)

		var appErr *contextutils.AppError
		for _, ginErr := range c.Errors {
			if errors.As(ginErr.Err, &appErr) {
				errorMsg = appErr.Message
				span.SetAttributes(
					attribute.String("error.code", string(appErr.Code)),
					attribute.Bool("error.retryable", contextutils.IsRetryable(appErr)),
				)
				break
			}
			errorMsg = ginErr.Error()
		}

		span.RecordError(errors.New(errorMsg))
		span.SetStatus(codes.Error, errorMsg)
		span.SetAttributes(
			attribute.Int("http.status_code", statusCode),
			attribute.String("error.handler", c.HandlerName()),
			attribute.String("error.severity", severity),
		)
		if userID := contextutils.GetUserIDFromContext(c.Request.Context()); userID != 0 {
			span.SetAttributes(attribute.Int("error.user_id", userID))
		}
	}
}

// determineErrorSeverity prefers the AppError severity and falls back to the status code
func determineErrorSeverity(statusCode int, ginErrors []*gin.Error) string {
	var appErr *contextutils.AppError
	for _, err := range ginErrors {
		if errors.As(err.Err, &appErr) {
			return string(appErr.Severity)
		}
	}

	switch {
	case statusCode >= 500:
		return string(contextutils.SeverityError)
	case statusCode >= 400:
		return string(contextutils.SeverityWarn)
	default:
		return string(contextutils.SeverityInfo)
	}
}
