package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructors_StatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    *Error
		typ    ErrorType
		status int
	}{
		{"validation", ValidationError("name is required"), TypeValidation, http.StatusBadRequest},
		{"unauthorized", UnauthorizedError("login required"), TypeUnauthorized, http.StatusUnauthorized},
		{"not found", NotFoundError("session not found"), TypeNotFound, http.StatusNotFound},
		{"conflict", ConflictError("password already set"), TypeConflict, http.StatusConflict},
		{"payload too large", PayloadTooLargeError("upload too large"), TypePayloadTooLarge, http.StatusRequestEntityTooLarge},
		{"internal", InternalError("failed to add item", nil), TypeInternal, http.StatusInternalServerError},
		{"external", ExternalError("redis unavailable", nil), TypeExternal, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.typ, tt.err.Type)
			assert.Equal(t, tt.status, tt.err.HTTPStatus())
			assert.NotNil(t, tt.err.Context)
			assert.Contains(t, tt.err.Error(), string(tt.typ))
		})
	}
}

func TestInternalError_CauseInMessage(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := InternalError("failed to delete item", cause)

	assert.Equal(t, cause, err.Cause)
	assert.Contains(t, err.Error(), "failed to delete item")
	assert.Contains(t, err.Error(), "connection refused")
	assert.ErrorIs(t, err, cause)
}

func TestInternalError_WithoutCause(t *testing.T) {
	err := InternalError("something went wrong", nil)
	assert.NotContains(t, err.Error(), "<nil>")
}

func TestWithField_Chaining(t *testing.T) {
	err := NotFoundError("item not found").
		WithField("session_id", "s-1").
		WithField("item_id", "i-1")

	assert.Equal(t, "s-1", err.Context["session_id"])
	assert.Equal(t, "i-1", err.Context["item_id"])
}

func TestWithField_NilContext(t *testing.T) {
	err := &Error{Type: TypeValidation, Message: "bad"}
	err.WithField("field", "name")
	assert.Equal(t, "name", err.Context["field"])
}

func TestToResponse(t *testing.T) {
	err := ValidationError("invalid priority").WithField("priority", "urgent")

	resp := err.ToResponse()
	assert.Equal(t, "invalid priority", resp.Error)
	assert.Equal(t, TypeValidation, resp.Type)
	assert.Equal(t, "urgent", resp.Context["priority"])
}

func TestAsStructuredError(t *testing.T) {
	t.Run("nil", func(t *testing.T) {
		assert.Nil(t, AsStructuredError(nil))
	})

	t.Run("already structured", func(t *testing.T) {
		original := NotFoundError("note not found")
		assert.Same(t, original, AsStructuredError(original))
	})

	t.Run("wrapped structured", func(t *testing.T) {
		original := ConflictError("already set")
		wrapped := fmt.Errorf("setup: %w", original)
		assert.Same(t, original, AsStructuredError(wrapped))
	})

	t.Run("plain error becomes internal", func(t *testing.T) {
		plain := errors.New("disk full")
		got := AsStructuredError(plain)
		require.NotNil(t, got)
		assert.Equal(t, TypeInternal, got.Type)
		assert.Equal(t, "internal server error", got.Message)
		assert.ErrorIs(t, got, plain)
	})
}

func TestFromStatus(t *testing.T) {
	tests := []struct {
		code int
		want ErrorType
	}{
		{http.StatusBadRequest, TypeValidation},
		{http.StatusUnauthorized, TypeUnauthorized},
		{http.StatusForbidden, TypeUnauthorized},
		{http.StatusNotFound, TypeNotFound},
		{http.StatusConflict, TypeConflict},
		{http.StatusRequestEntityTooLarge, TypePayloadTooLarge},
		{http.StatusServiceUnavailable, TypeExternal},
		{http.StatusTeapot, TypeInternal},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, FromStatus(tt.code, "msg").Type)
		})
	}
}
