// Package errors provides structured errors that carry a category, a
// client-facing message and optional context fields, and map to HTTP status codes.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType is the category of an error, used for logging level, metrics and status mapping.
type ErrorType string

const (
	// TypeValidation indicates malformed or missing input (HTTP 400).
	TypeValidation ErrorType = "validation"
	// TypeUnauthorized indicates a missing or invalid login session (HTTP 401).
	TypeUnauthorized ErrorType = "unauthorized"
	// TypeNotFound indicates an unknown session, item, note or media key (HTTP 404).
	TypeNotFound ErrorType = "not_found"
	// TypeConflict indicates a state conflict, e.g. a password that is already set (HTTP 409).
	TypeConflict ErrorType = "conflict"
	// TypePayloadTooLarge indicates an upload over the configured byte limit (HTTP 413).
	TypePayloadTooLarge ErrorType = "payload_too_large"
	// TypeInternal indicates a storage or other server-side failure (HTTP 500).
	TypeInternal ErrorType = "internal"
	// TypeExternal indicates a failing dependency such as Redis (HTTP 502).
	TypeExternal ErrorType = "external"
)

// Error is a structured error with type, message and context.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]any
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatus returns the status code for the error type.
func (e *Error) HTTPStatus() int {
	switch e.Type {
	case TypeValidation:
		return http.StatusBadRequest
	case TypeUnauthorized:
		return http.StatusUnauthorized
	case TypeNotFound:
		return http.StatusNotFound
	case TypeConflict:
		return http.StatusConflict
	case TypePayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case TypeExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func newError(t ErrorType, message string, cause error) *Error {
	return &Error{
		Type:    t,
		Message: message,
		Cause:   cause,
		Context: make(map[string]any),
	}
}

func ValidationError(message string) *Error {
	return newError(TypeValidation, message, nil)
}

func UnauthorizedError(message string) *Error {
	return newError(TypeUnauthorized, message, nil)
}

func NotFoundError(message string) *Error {
	return newError(TypeNotFound, message, nil)
}

func ConflictError(message string) *Error {
	return newError(TypeConflict, message, nil)
}

func PayloadTooLargeError(message string) *Error {
	return newError(TypePayloadTooLarge, message, nil)
}

// InternalError wraps a storage or server-side failure. The message is what the client sees;
// the cause is only logged.
func InternalError(message string, cause error) *Error {
	return newError(TypeInternal, message, cause)
}

func ExternalError(message string, cause error) *Error {
	return newError(TypeExternal, message, cause)
}

// WithField adds a context field (chainable).
func (e *Error) WithField(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// ErrorResponse is the JSON body sent to clients.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Type    ErrorType      `json:"type"`
	Context map[string]any `json:"context,omitempty"`
}

func (e *Error) ToResponse() ErrorResponse {
	return ErrorResponse{
		Error:   e.Message,
		Type:    e.Type,
		Context: e.Context,
	}
}

// AsStructuredError returns err as *Error, wrapping anything unstructured as an internal error.
func AsStructuredError(err error) *Error {
	if err == nil {
		return nil
	}

	var structuredErr *Error
	if errors.As(err, &structuredErr) {
		return structuredErr
	}

	return InternalError("internal server error", err)
}

// FromStatus builds a structured error for a plain HTTP status, as produced by
// framework middleware (body limit, rate limiter, CSRF).
func FromStatus(code int, message string) *Error {
	var t ErrorType
	switch code {
	case http.StatusBadRequest:
		t = TypeValidation
	case http.StatusUnauthorized, http.StatusForbidden:
		t = TypeUnauthorized
	case http.StatusNotFound:
		t = TypeNotFound
	case http.StatusConflict:
		t = TypeConflict
	case http.StatusRequestEntityTooLarge:
		t = TypePayloadTooLarge
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		t = TypeExternal
	default:
		t = TypeInternal
	}
	return newError(t, message, nil)
}
