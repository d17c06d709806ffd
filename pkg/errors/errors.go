package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrContentNotFound       = errors.New("content not found")
	ErrInvalidInput          = errors.New("invalid input")
	ErrRuleConfig            = errors.New("rule configuration error")
	ErrProviderNotConfigured = errors.New("ai provider not configured")
	ErrPersistence           = errors.New("persistence failure")
)

// AppError wraps a sentinel with context. The sentinel drives HTTP status
// mapping; the message carries the specifics.
type AppError struct {
	Err     error
	Message string
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, message string) *AppError {
	return &AppError{
		Err:     sentinel,
		Message: message,
	}
}

func Newf(sentinel error, format string, args ...any) *AppError {
	return &AppError{
		Err:     sentinel,
		Message: fmt.Sprintf(format, args...),
	}
}

func HTTPStatusCode(err error) int {
	switch {
	case errors.Is(err, ErrContentNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrRuleConfig):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
