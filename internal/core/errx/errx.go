package errx

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel kinds for the conversational loop. Collaborator boundaries
// return one of these (wrapped) instead of letting backend errors cross
// component boundaries unclassified.
var (
	// ErrInvalidInput marks a malformed request. Never retried, surfaced
	// immediately to the caller.
	ErrInvalidInput = errors.New("invalid input")
	// ErrStorageUnavailable marks an unreachable turn store. Degrades to
	// answering without history or without persistence.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrRetrievalFailed marks a knowledge-search failure. Never surfaced;
	// the turn proceeds with empty context.
	ErrRetrievalFailed = errors.New("retrieval failed")
	// ErrGenerationFailed marks a model failure after the bounded retry.
	ErrGenerationFailed = errors.New("generation failed")
	// ErrSessionNotFound marks history/clear requests for unknown sessions.
	ErrSessionNotFound = errors.New("session not found")
)

const (
	// SystemErrorMessage is a user-facing fallback when internal errors occur.
	SystemErrorMessage = "internal server error"
	// RedisErrorMessage describes Redis related failures.
	RedisErrorMessage = "redis operation failed"
	// RedisNotFoundMessage describes missing Redis keys.
	RedisNotFoundMessage = "redis key not found"
	// PostgresErrorMessage describes PostgreSQL related failures.
	PostgresErrorMessage = "postgres operation failed"
)

// AppError wraps an underlying error with an HTTP status and safe message.
type AppError struct {
	Err     error
	Status  int
	Message string
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError with the provided information.
func New(err error, status int, message string) *AppError {
	return &AppError{
		Err:     err,
		Status:  status,
		Message: message,
	}
}

// Invalid wraps ErrInvalidInput with a caller-facing reason.
func Invalid(reason string) *AppError {
	return New(ErrInvalidInput, http.StatusBadRequest, reason)
}

// NotFound wraps ErrSessionNotFound for the given session.
func NotFound(sessionID string) *AppError {
	return New(ErrSessionNotFound, http.StatusNotFound, fmt.Sprintf("session %q not found", sessionID))
}

// Is reports whether the target matches the underlying error or the AppError itself.
func (e *AppError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// As allows casting to AppError or the wrapped error in a chain.
func (e *AppError) As(target any) bool {
	if errors.As(e.Err, target) {
		return true
	}
	if t, ok := target.(**AppError); ok {
		*t = e
		return true
	}
	return false
}

// Status extracts the HTTP status carried by err, defaulting to 500.
func Status(err error) int {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Status
	}
	return http.StatusInternalServerError
}
