// Package errors provides coded application errors shared across the service.
// Handlers map codes to HTTP status codes; repositories and services only
// deal in codes.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode identifies the class of an application error.
type ErrorCode string

const (
	ErrCodeInvalidInput ErrorCode = "invalid_input"
	ErrCodeNotFound     ErrorCode = "not_found"
	ErrCodeConflict     ErrorCode = "conflict"
	ErrCodeUnauthorized ErrorCode = "unauthorized"
	ErrCodeInternal     ErrorCode = "internal"
)

// Error is an application error with a machine-readable code.
type Error struct {
	Code    ErrorCode
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates an application error with the given code and message.
func New(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap annotates an underlying error with a code and message.
func Wrap(err error, code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message, cause: err}
}

// NotFound reports that a named resource does not exist.
func NotFound(resource, id string) *Error {
	return &Error{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s '%s' not found", resource, id),
	}
}

// InvalidInput reports a validation failure on a specific field.
func InvalidInput(field, message string) *Error {
	return &Error{
		Code:    ErrCodeInvalidInput,
		Message: fmt.Sprintf("%s: %s", field, message),
	}
}

// CodeOf extracts the ErrorCode from err, walking the wrap chain.
// Unrecognized errors report ErrCodeInternal.
func CodeOf(err error) ErrorCode {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// MessageOf returns the application message for err, or the raw error text
// when err carries no code.
func MessageOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}

// HTTPStatus maps an error to the HTTP status code handlers should return.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case ErrCodeInvalidInput:
		return http.StatusBadRequest
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeConflict:
		return http.StatusConflict
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
