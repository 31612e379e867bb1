// Package contextutils provides the structured error type and context helpers
// shared by the generation service, its stores and its HTTP surface.
package contextutils

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorCode is a stable, machine readable error identifier returned to API clients
type ErrorCode string

const (
	// Storage

	// ErrorCodeDatabaseConnection indicates the database could not be reached
	ErrorCodeDatabaseConnection ErrorCode = "DATABASE_CONNECTION_ERROR"
	// ErrorCodeDatabaseQuery indicates a failed query or scan
	ErrorCodeDatabaseQuery ErrorCode = "DATABASE_QUERY_ERROR"
	// ErrorCodeRecordNotFound indicates that a requested record does not exist
	ErrorCodeRecordNotFound ErrorCode = "RECORD_NOT_FOUND"
	// ErrorCodeRecordExists indicates a unique constraint violation
	ErrorCodeRecordExists ErrorCode = "RECORD_ALREADY_EXISTS"

	// Input

	// ErrorCodeInvalidInput indicates that the provided input is invalid
	ErrorCodeInvalidInput ErrorCode = "INVALID_INPUT"
	// ErrorCodeValidationFailed indicates a schema or struct validation failure
	ErrorCodeValidationFailed ErrorCode = "VALIDATION_FAILED"

	// Identity

	// ErrorCodeUnauthorized indicates missing or invalid credentials
	ErrorCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	// ErrorCodeForbidden indicates the caller may not act on the resource
	ErrorCodeForbidden ErrorCode = "FORBIDDEN"
	// ErrorCodeInvalidCredentials indicates a failed login
	ErrorCodeInvalidCredentials ErrorCode = "INVALID_CREDENTIALS"

	// Service

	// ErrorCodeServiceUnavailable indicates a dependency is temporarily unavailable
	ErrorCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	// ErrorCodeTimeout indicates that a request has timed out
	ErrorCodeTimeout ErrorCode = "REQUEST_TIMEOUT"
	// ErrorCodeRateLimit indicates that a rate limit has been exceeded
	ErrorCodeRateLimit ErrorCode = "RATE_LIMIT_EXCEEDED"
	// ErrorCodeInternalError indicates an internal server error
	ErrorCodeInternalError ErrorCode = "INTERNAL_SERVER_ERROR"
	// ErrorCodeConflict indicates that an operation conflicts with the current state
	ErrorCodeConflict ErrorCode = "CONFLICT"

	// Quiz

	// ErrorCodeNoQuestionsAvailable indicates that no stored items could be sampled
	ErrorCodeNoQuestionsAvailable ErrorCode = "NO_QUESTIONS_AVAILABLE"
	// ErrorCodeMaxAttemptsReached indicates the quiz was already submitted the maximum number of times
	ErrorCodeMaxAttemptsReached ErrorCode = "MAX_ATTEMPTS_REACHED"

	// Oracles

	// ErrorCodeAIProviderUnavailable indicates the oracle endpoint could not be reached
	ErrorCodeAIProviderUnavailable ErrorCode = "AI_PROVIDER_UNAVAILABLE"
	// ErrorCodeAIRequestFailed indicates a non-success oracle response
	ErrorCodeAIRequestFailed ErrorCode = "AI_REQUEST_FAILED"
	// ErrorCodeAIResponseInvalid indicates an oracle response without usable content
	ErrorCodeAIResponseInvalid ErrorCode = "AI_RESPONSE_INVALID"
	// ErrorCodeAIConfigInvalid indicates an oracle is not configured
	ErrorCodeAIConfigInvalid ErrorCode = "AI_CONFIG_INVALID"
	// ErrorCodePromptTooLong indicates the prompt leaves no room for completion tokens
	ErrorCodePromptTooLong ErrorCode = "PROMPT_TOO_LONG"
)

// SeverityLevel represents the severity of an error for logging and monitoring
type SeverityLevel string

const (
	// SeverityDebug indicates debug-level errors
	SeverityDebug SeverityLevel = "debug"
	// SeverityInfo indicates informational errors
	SeverityInfo SeverityLevel = "info"
	// SeverityWarn indicates warning-level errors
	SeverityWarn SeverityLevel = "warn"
	// SeverityError indicates error-level issues
	SeverityError SeverityLevel = "error"
	// SeverityFatal indicates errors that require immediate attention
	SeverityFatal SeverityLevel = "fatal"
)

// AppError represents a structured error with code, severity, and context
type AppError struct {
	Code     ErrorCode
	Severity SeverityLevel
	Message  string
	Details  string
	Cause    error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s - %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is reports whether target carries the same code, so errors.Is works against the sentinels
func (e *AppError) Is(target error) bool {
	if appErr, ok := target.(*AppError); ok {
		return e.Code == appErr.Code
	}
	return false
}

var (
	ErrDatabaseConnection = &AppError{
		Code:     ErrorCodeDatabaseConnection,
		Severity: SeverityError,
		Message:  "Database connection failed",
	}

	ErrDatabaseQuery = &AppError{
		Code:     ErrorCodeDatabaseQuery,
		Severity: SeverityError,
		Message:  "Database query failed",
	}

	ErrRecordNotFound = &AppError{
		Code:     ErrorCodeRecordNotFound,
		Severity: SeverityInfo,
		Message:  "Record not found",
	}

	ErrRecordExists = &AppError{
		Code:     ErrorCodeRecordExists,
		Severity: SeverityInfo,
		Message:  "Record already exists",
	}

	ErrInvalidInput = &AppError{
		Code:     ErrorCodeInvalidInput,
		Severity: SeverityWarn,
		Message:  "Invalid input",
	}

	ErrValidationFailed = &AppError{
		Code:     ErrorCodeValidationFailed,
		Severity: SeverityWarn,
		Message:  "Validation failed",
	}

	ErrUnauthorized = &AppError{
		Code:     ErrorCodeUnauthorized,
		Severity: SeverityWarn,
		Message:  "Unauthorized",
	}

	ErrForbidden = &AppError{
		Code:     ErrorCodeForbidden,
		Severity: SeverityWarn,
		Message:  "Forbidden",
	}

	ErrInvalidCredentials = &AppError{
		Code:     ErrorCodeInvalidCredentials,
		Severity: SeverityWarn,
		Message:  "Invalid credentials",
	}

	ErrServiceUnavailable = &AppError{
		Code:     ErrorCodeServiceUnavailable,
		Severity: SeverityError,
		Message:  "Service unavailable",
	}

	ErrTimeout = &AppError{
		Code:     ErrorCodeTimeout,
		Severity: SeverityWarn,
		Message:  "Request timeout",
	}

	ErrRateLimit = &AppError{
		Code:     ErrorCodeRateLimit,
		Severity: SeverityWarn,
		Message:  "Rate limit exceeded",
	}

	ErrInternalError = &AppError{
		Code:     ErrorCodeInternalError,
		Severity: SeverityError,
		Message:  "Internal server error",
	}

	ErrConflict = &AppError{
		Code:     ErrorCodeConflict,
		Severity: SeverityWarn,
		Message:  "Operation conflicts with current state",
	}

	ErrNoQuestionsAvailable = &AppError{
		Code:     ErrorCodeNoQuestionsAvailable,
		Severity: SeverityInfo,
		Message:  "No stored questions available",
	}

	ErrMaxAttemptsReached = &AppError{
		Code:     ErrorCodeMaxAttemptsReached,
		Severity: SeverityInfo,
		Message:  "Maximum number of attempts reached",
	}

	ErrAIProviderUnavailable = &AppError{
		Code:     ErrorCodeAIProviderUnavailable,
		Severity: SeverityError,
		Message:  "AI provider unavailable",
	}

	ErrAIRequestFailed = &AppError{
		Code:     ErrorCodeAIRequestFailed,
		Severity: SeverityError,
		Message:  "AI request failed",
	}

	ErrAIResponseInvalid = &AppError{
		Code:     ErrorCodeAIResponseInvalid,
		Severity: SeverityError,
		Message:  "AI response invalid",
	}

	ErrAIConfigInvalid = &AppError{
		Code:     ErrorCodeAIConfigInvalid,
		Severity: SeverityError,
		Message:  "AI configuration invalid",
	}

	ErrPromptTooLong = &AppError{
		Code:     ErrorCodePromptTooLong,
		Severity: SeverityWarn,
		Message:  "Prompt exceeds the context window",
	}
)

// NewAppError creates a new AppError with the specified code, severity, message and details
func NewAppError(code ErrorCode, severity SeverityLevel, message, details string) *AppError {
	return &AppError{
		Code:     code,
		Severity: severity,
		Message:  message,
		Details:  details,
	}
}

// NewAppErrorWithCause creates a new AppError with an underlying cause
func NewAppErrorWithCause(code ErrorCode, severity SeverityLevel, message, details string, cause error) *AppError {
	return &AppError{
		Code:     code,
		Severity: severity,
		Message:  message,
		Details:  details,
		Cause:    cause,
	}
}

// WrapError wraps an error with additional context, keeping the code of an AppError cause
func WrapError(err error, context string) error {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{
			Code:     appErr.Code,
			Severity: appErr.Severity,
			Message:  context,
			Details:  err.Error(),
			Cause:    err,
		}
	}

	return &AppError{
		Code:     ErrorCodeInternalError,
		Severity: SeverityError,
		Message:  context,
		Details:  err.Error(),
		Cause:    err,
	}
}

// WrapErrorf wraps an error with formatted context. When format contains %w the
// formatted error becomes the cause so errors.Is still sees every wrapped value.
func WrapErrorf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}

	var cause error = err
	message := fmt.Sprintf(strings.ReplaceAll(format, "%w", "%v"), args...)
	if strings.Contains(format, "%w") {
		cause = fmt.Errorf(format, args...)
		message = cause.Error()
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{
			Code:     appErr.Code,
			Severity: appErr.Severity,
			Message:  message,
			Details:  appErr.Error(),
			Cause:    cause,
		}
	}

	return &AppError{
		Code:     ErrorCodeInternalError,
		Severity: SeverityError,
		Message:  message,
		Details:  err.Error(),
		Cause:    cause,
	}
}

// ErrorWithContextf creates a new internal error with a formatted message
func ErrorWithContextf(format string, args ...interface{}) error {
	return &AppError{
		Code:     ErrorCodeInternalError,
		Severity: SeverityError,
		Message:  fmt.Sprintf(format, args...),
	}
}

// IsError checks whether any error in the chain carries the target's code
func IsError(err error, target *AppError) bool {
	return errors.Is(err, target)
}

// AsError finds the first AppError in the chain
func AsError(err error, target **AppError) bool {
	return errors.As(err, target)
}

// GetErrorCode returns the error code of the outermost AppError, or INTERNAL_SERVER_ERROR
func GetErrorCode(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrorCodeInternalError
}

// GetErrorSeverity returns the severity of the outermost AppError, or error
func GetErrorSeverity(err error) SeverityLevel {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Severity
	}
	return SeverityError
}

// IsRetryable reports whether an error is likely transient
func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case ErrorCodeTimeout, ErrorCodeServiceUnavailable, ErrorCodeDatabaseConnection,
			ErrorCodeRateLimit, ErrorCodeAIProviderUnavailable:
			return appErr.Severity != SeverityFatal
		}
	}
	return false
}

// ToJSON converts an AppError to a JSON-serializable structure for API responses
func (e *AppError) ToJSON() map[string]interface{} {
	result := map[string]interface{}{
		"code":     string(e.Code),
		"message":  e.Message,
		"severity": string(e.Severity),
		"error":    e.Message,
	}

	if e.Details != "" {
		result["details"] = e.Details
	}

	result["retryable"] = IsRetryable(e)

	if e.Cause != nil {
		switch e.Severity {
		case SeverityError, SeverityFatal:
			result["cause"] = e.Cause.Error()
		}
	}

	return result
}

// ContextKey represents a context key type for passing values through context
type ContextKey string

const (
	// UserIDKey carries the authenticated user id
	UserIDKey ContextKey = "userID"
	// RequestIDKey carries the inbound request id used in log correlation
	RequestIDKey ContextKey = "requestID"
)

// GetUserIDFromContext extracts the user ID from context, returning 0 if not found
func GetUserIDFromContext(ctx context.Context) int {
	if userID, ok := ctx.Value(UserIDKey).(int); ok {
		return userID
	}
	return 0
}

// WithUserID returns a new context with the user ID set
func WithUserID(ctx context.Context, userID int) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// GetRequestIDFromContext extracts the request id, returning "" if not set
func GetRequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

// WithRequestID returns a new context carrying the request id
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}
