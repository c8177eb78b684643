package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the engine.
type ErrorCode string

const (
	// ErrNotFound: conversation, rule, squad, or member does not exist.
	ErrNotFound ErrorCode = "NOT_FOUND"
	// ErrInvalidState: the requested operation is illegal in the
	// conversation's current state (e.g. re-acknowledging).
	ErrInvalidState ErrorCode = "INVALID_STATE"
	// ErrNoResponder: the resolver found nothing at level 0; the
	// conversation was never created.
	ErrNoResponder ErrorCode = "NO_RESPONDER"
	// ErrPermissionDenied: the caller is not allowed to perform the
	// operation (e.g. cant-help from a non-current responder).
	ErrPermissionDenied ErrorCode = "PERMISSION_DENIED"
	// ErrStaleState: a concurrent writer won the race on this conversation
	// row; the caller observed stale state and must re-read.
	ErrStaleState ErrorCode = "STALE_STATE"
	// ErrInternal: unexpected persistence or messaging failure.
	ErrInternal ErrorCode = "INTERNAL_ERROR"
)

// Error represents a structured error with code, message, and optional cause.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf creates a new Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// GetErrorCode extracts the error code from an error, unwrapping as needed.
// Returns "" for plain errors.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given code anywhere in its chain.
func IsCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}
