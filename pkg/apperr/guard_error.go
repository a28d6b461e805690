package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"phishguard/core/domain"
)

// Error codes
const (
	// Auth errors
	CodeUnauthorized = "UNAUTHORIZED"
	CodeInvalidToken = "INVALID_TOKEN"
	CodeTokenExpired = "TOKEN_EXPIRED"
	CodeForbidden    = "FORBIDDEN"

	// Validation errors
	CodeValidationFailed = "VALIDATION_FAILED"
	CodeBadRequest       = "BAD_REQUEST"
	CodeInvalidInput     = "INVALID_INPUT"
	CodeMissingField     = "MISSING_FIELD"
	CodeInvalidIdentity  = "INVALID_IDENTITY"

	// Resource errors
	CodeNotFound = "NOT_FOUND"
	CodeConflict = "CONFLICT"

	// Scoring service errors
	CodeServiceUnreachable = "SERVICE_UNREACHABLE"
	CodeServiceError       = "SERVICE_ERROR"
	CodeInvalidResponse    = "INVALID_RESPONSE"

	// Internal errors
	CodeDatabaseError      = "DATABASE_ERROR"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeInternalError      = "INTERNAL_ERROR"
	CodeTimeout            = "TIMEOUT"
)

// AppError represents a structured application error
type AppError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Status  int            `json:"-"`
	Details map[string]any `json:"details,omitempty"`
	Err     error          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

// Constructor functions
func New(code, message string, status int) *AppError {
	return &AppError{Code: code, Message: message, Status: status}
}

func Wrap(err error, code, message string, status int) *AppError {
	return &AppError{Code: code, Message: message, Status: status, Err: err}
}

// Auth errors
func Unauthorized(message string) *AppError {
	if message == "" {
		message = "unauthorized"
	}
	return New(CodeUnauthorized, message, http.StatusUnauthorized)
}

func InvalidToken(message string) *AppError {
	return New(CodeInvalidToken, message, http.StatusUnauthorized)
}

func TokenExpired() *AppError {
	return New(CodeTokenExpired, "token expired", http.StatusUnauthorized)
}

// Validation errors
func BadRequest(message string) *AppError {
	return New(CodeBadRequest, message, http.StatusBadRequest)
}

func InvalidInput(field, reason string) *AppError {
	return &AppError{
		Code:    CodeInvalidInput,
		Message: fmt.Sprintf("invalid input for '%s': %s", field, reason),
		Status:  http.StatusBadRequest,
		Details: map[string]any{"field": field},
	}
}

func MissingField(field string) *AppError {
	return &AppError{
		Code:    CodeMissingField,
		Message: fmt.Sprintf("missing required field: %s", field),
		Status:  http.StatusBadRequest,
		Details: map[string]any{"field": field},
	}
}

// InvalidIdentity reports content from which no identity can be derived.
func InvalidIdentity(err error) *AppError {
	return Wrap(err, CodeInvalidIdentity, "cannot derive content identity", http.StatusBadRequest)
}

// Resource errors
func NotFound(resource string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

func Conflict(message string) *AppError {
	return New(CodeConflict, message, http.StatusConflict)
}

// FromScoringError maps a scoring failure onto an API error.
func FromScoringError(err error) *AppError {
	var se *domain.ScoringError
	if !errors.As(err, &se) {
		return InternalWithError(err)
	}
	return FromFailureKind(se.Kind).WithError(err)
}

// FromFailureKind maps a recorded failure kind onto an API error.
func FromFailureKind(kind domain.FailureKind) *AppError {
	switch kind {
	case domain.FailureServiceError:
		return New(CodeServiceError, "scoring service returned an error", http.StatusBadGateway)
	case domain.FailureInvalidResponse:
		return New(CodeInvalidResponse, "scoring service returned an invalid response", http.StatusBadGateway)
	default:
		return New(CodeServiceUnreachable, "scoring service is unreachable", http.StatusServiceUnavailable)
	}
}

// Internal errors
func DatabaseError(operation string, err error) *AppError {
	return Wrap(err, CodeDatabaseError, fmt.Sprintf("database error: %s", operation), http.StatusInternalServerError)
}

func ServiceUnavailable(message string) *AppError {
	return New(CodeServiceUnavailable, message, http.StatusServiceUnavailable)
}

func Internal(message string) *AppError {
	if message == "" {
		message = "internal server error"
	}
	return New(CodeInternalError, message, http.StatusInternalServerError)
}

func InternalWithError(err error) *AppError {
	return Wrap(err, CodeInternalError, "internal server error", http.StatusInternalServerError)
}

func Timeout(operation string) *AppError {
	return New(CodeTimeout, fmt.Sprintf("operation timed out: %s", operation), http.StatusGatewayTimeout)
}

// Helper functions
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return InternalWithError(err)
}

func GetHTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}
