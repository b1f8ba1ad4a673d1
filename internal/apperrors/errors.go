// Package apperrors defines the error taxonomy shared by the relay hub,
// the message store and the HTTP/WebSocket transports.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind groups errors by how a caller is expected to react to them.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindUnauthorized Kind = "unauthorized"
	KindAuth         Kind = "auth"
	KindStorage      Kind = "storage"
	KindInternal     Kind = "internal"
)

const (
	CodeValidation   = 40001
	CodeUnauthorized = 40301
	CodeAuth         = 40101
	CodeStorage      = 50002
	CodeInternal     = 50001
)

// AppError is an error with a stable code, a kind and a message that is
// safe to show to the client. Err holds the underlying cause, if any.
type AppError struct {
	Code    int
	Kind    Kind
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches any AppError carrying the same code, so that
// errors.Is(err, ErrValidation) works for every validation failure.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// New creates a new AppError.
func New(code int, kind Kind, message string) *AppError {
	return &AppError{Code: code, Kind: kind, Message: message}
}

// Wrap returns a copy of e with err attached as the cause.
func (e *AppError) Wrap(err error) *AppError {
	return &AppError{Code: e.Code, Kind: e.Kind, Message: e.Message, Err: err}
}

// WithMessage returns a copy of e with a more specific message.
func (e *AppError) WithMessage(message string) *AppError {
	return &AppError{Code: e.Code, Kind: e.Kind, Message: message, Err: e.Err}
}

var (
	ErrValidation   = New(CodeValidation, KindValidation, "validation failed")
	ErrUnauthorized = New(CodeUnauthorized, KindUnauthorized, "session has not announced an identity")
	ErrAuth         = New(CodeAuth, KindAuth, "identity could not be resolved")
	ErrStorage      = New(CodeStorage, KindStorage, "message store unavailable")
	ErrInternal     = New(CodeInternal, KindInternal, "internal error")
)

// Validation builds a validation error with a specific message.
func Validation(format string, args ...any) *AppError {
	return ErrValidation.WithMessage(fmt.Sprintf(format, args...))
}

// Storage wraps a persistence failure.
func Storage(err error) *AppError {
	return ErrStorage.Wrap(err)
}

// Auth wraps an identity resolution failure.
func Auth(err error) *AppError {
	return ErrAuth.Wrap(err)
}

// KindOf returns the kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// GetCode returns the code of err, or CodeInternal for foreign errors.
func GetCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

// GetMessage returns the client-facing message of err.
func GetMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return ErrInternal.Message
}

// HTTPStatus maps err onto a response status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindUnauthorized:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
