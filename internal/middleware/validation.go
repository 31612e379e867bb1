package middleware

import (
	"bytes"
	"io"

	"mcqgen/internal/observability"
	contextutils "mcqgen/internal/utils"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

// maxValidatedBody caps how much of a request body is read for validation
const maxValidatedBody = 1 << 20

// RequestValidationMiddleware validates the JSON body against schemaName and
// restores it for the handler. Invalid bodies are answered with 400.
func RequestValidationMiddleware(loader *SchemaLoader, schemaName string, logger *observability.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "request_validation",
			attribute.String("schema.name", schemaName),
		)
		defer span.End()

		var body []byte
		if c.Request.Body != nil {
			var err error
			body, err = io.ReadAll(io.LimitReader(c.Request.Body, maxValidatedBody))
			if err != nil {
				HandleAppError(c, contextutils.WrapError(contextutils.ErrInvalidInput, "failed to read request body"))
				c.Abort()
				return
			}
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		if len(bytes.TrimSpace(body)) == 0 {
			body = []byte("{}")
		}
		if err := loader.ValidateJSON(body, schemaName); err != nil {
			span.SetAttributes(attribute.Bool("validation.passed", false))
			if logger != nil {
				logger.Warn(ctx, "Request validation failed", map[string]interface{}{
					"method": c.Request.Method,
					"path":   c.Request.URL.Path,
					"schema": schemaName,
					"error":  err.Error(),
				})
			}
			HandleAppError(c, err)
			c.Abort()
			return
		}

		span.SetAttributes(attribute.Bool("validation.passed", true))
		c.Next()
	}
}
