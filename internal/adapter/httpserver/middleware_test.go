package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/JannisRoesner/PICARD-sub000/internal/adapter/metrics"
	"github.com/JannisRoesner/PICARD-sub000/internal/platform/correlation"
	apperrors "github.com/JannisRoesner/PICARD-sub000/internal/platform/errors"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func callHandler(h echo.HandlerFunc, c echo.Context) error {
	return ErrorHandlingMiddleware(nil)(h)(c)
}

func newContext() (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestErrorHandlingMiddleware_RendersStructuredErrors(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantStatus  int
		wantType    apperrors.ErrorType
		wantMessage string
		wantContext map[string]any
	}{
		{
			name:        "negative duration",
			err:         apperrors.ValidationError("dauer must not be negative"),
			wantStatus:  http.StatusBadRequest,
			wantType:    apperrors.TypeValidation,
			wantMessage: "dauer must not be negative",
		},
		{
			name:        "not logged in",
			err:         apperrors.UnauthorizedError("login required"),
			wantStatus:  http.StatusUnauthorized,
			wantType:    apperrors.TypeUnauthorized,
			wantMessage: "login required",
		},
		{
			name: "unknown item with context",
			err: apperrors.NotFoundError("item not found").
				WithField("session_id", "9c0d7f39").
				WithField("item_id", "4b1f6a4e"),
			wantStatus:  http.StatusNotFound,
			wantType:    apperrors.TypeNotFound,
			wantMessage: "item not found",
			wantContext: map[string]any{"session_id": "9c0d7f39", "item_id": "4b1f6a4e"},
		},
		{
			name:        "password already set",
			err:         errors.Join(apperrors.ConflictError("password already set up")),
			wantStatus:  http.StatusConflict,
			wantType:    apperrors.TypeConflict,
			wantMessage: "password already set up",
		},
		{
			name:        "oversized media upload",
			err:         apperrors.PayloadTooLargeError("upload exceeds limit"),
			wantStatus:  http.StatusRequestEntityTooLarge,
			wantType:    apperrors.TypePayloadTooLarge,
			wantMessage: "upload exceeds limit",
		},
		{
			name:        "store failure hides cause",
			err:         apperrors.InternalError("failed to reorder items", errors.New("deadlock detected")),
			wantStatus:  http.StatusInternalServerError,
			wantType:    apperrors.TypeInternal,
			wantMessage: "failed to reorder items",
		},
		{
			name:        "redis failure",
			err:         apperrors.ExternalError("event relay unavailable", errors.New("i/o timeout")),
			wantStatus:  http.StatusBadGateway,
			wantType:    apperrors.TypeExternal,
			wantMessage: "event relay unavailable",
		},
		{
			name:        "plain error",
			err:         errors.New("pq: relation missing"),
			wantStatus:  http.StatusInternalServerError,
			wantType:    apperrors.TypeInternal,
			wantMessage: "internal server error",
		},
		{
			name:       "echo body limit",
			err:        echo.ErrStatusRequestEntityTooLarge,
			wantStatus: http.StatusRequestEntityTooLarge,
			wantType:   apperrors.TypePayloadTooLarge,
		},
		{
			name:       "echo unsupported media type",
			err:        echo.ErrUnsupportedMediaType,
			wantStatus: http.StatusUnsupportedMediaType,
			wantType:   apperrors.TypeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, rec := newContext()

			err := callHandler(func(echo.Context) error { return tt.err }, c)

			require.NoError(t, err, "the middleware renders the error itself")
			assert.Equal(t, tt.wantStatus, rec.Code)
			var resp apperrors.ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantType, resp.Type)
			if tt.wantMessage != "" {
				assert.Equal(t, tt.wantMessage, resp.Error)
			}
			assert.Equal(t, tt.wantContext, resp.Context)
			assert.NotContains(t, rec.Body.String(), "deadlock")
			assert.NotContains(t, rec.Body.String(), "pq:")
		})
	}
}

func TestErrorHandlingMiddleware_PassesSuccess(t *testing.T) {
	c, rec := newContext()

	err := callHandler(func(c echo.Context) error { return c.NoContent(http.StatusNoContent) }, c)

	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestErrorHandlingMiddleware_CountsByType(t *testing.T) {
	m := metrics.NewHTTPMetrics(prometheus.NewRegistry())

	for _, err := range []error{
		apperrors.NotFoundError("note not found"),
		apperrors.NotFoundError("session not found"),
		apperrors.ValidationError("name required"),
	} {
		c, _ := newContext()
		require.NoError(t, ErrorHandlingMiddleware(m)(func(echo.Context) error { return err })(c))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Errors.WithLabelValues(string(apperrors.TypeNotFound))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Errors.WithLabelValues(string(apperrors.TypeValidation))))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Errors.WithLabelValues(string(apperrors.TypeInternal))))
}

func TestMiddlewareLeavesCommittedResponse(t *testing.T) {
	c, rec := newContext()

	err := callHandler(func(c echo.Context) error {
		if err := c.String(http.StatusOK, "partial"); err != nil {
			return err
		}
		return errors.New("stream broke")
	}, c)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "partial", rec.Body.String())
}

func TestCorrelationMiddleware(t *testing.T) {
	t.Run("adopts valid inbound id", func(t *testing.T) {
		c, rec := newContext()
		inbound := correlation.NewID()
		c.Request().Header.Set(correlation.Header, inbound)

		var seen string
		err := correlationMiddleware(func(c echo.Context) error {
			seen, _ = correlation.ID(c.Request().Context())
			return nil
		})(c)
		require.NoError(t, err)

		assert.Equal(t, inbound, seen)
		assert.Equal(t, inbound, rec.Header().Get(correlation.Header))
	})

	t.Run("mints id when header is missing", func(t *testing.T) {
		c, rec := newContext()

		var seen string
		err := correlationMiddleware(func(c echo.Context) error {
			seen, _ = correlation.ID(c.Request().Context())
			return nil
		})(c)
		require.NoError(t, err)

		assert.NotEmpty(t, seen)
		assert.Equal(t, seen, rec.Header().Get(correlation.Header))
	})
}

func TestWrapHTTPError(t *testing.T) {
	tests := []struct {
		name       string
		httpErr    *echo.HTTPError
		wantType   apperrors.ErrorType
		wantStatus int
	}{
		{
			name:       "bad_request",
			httpErr:    echo.NewHTTPError(http.StatusBadRequest, "bad request"),
			wantType:   apperrors.TypeValidation,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "forbidden_csrf",
			httpErr:    echo.NewHTTPError(http.StatusForbidden, "invalid csrf token"),
			wantType:   apperrors.TypeUnauthorized,
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "not_found",
			httpErr:    echo.NewHTTPError(http.StatusNotFound, "not found"),
			wantType:   apperrors.TypeNotFound,
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "conflict",
			httpErr:    echo.NewHTTPError(http.StatusConflict, "conflict"),
			wantType:   apperrors.TypeConflict,
			wantStatus: http.StatusConflict,
		},
		{
			name:       "too_large",
			httpErr:    echo.NewHTTPError(http.StatusRequestEntityTooLarge),
			wantType:   apperrors.TypePayloadTooLarge,
			wantStatus: http.StatusRequestEntityTooLarge,
		},
		{
			name:       "service_unavailable",
			httpErr:    echo.NewHTTPError(http.StatusServiceUnavailable, "unavailable"),
			wantType:   apperrors.TypeExternal,
			wantStatus: http.StatusBadGateway,
		},
		{
			name:       "internal_server_error",
			httpErr:    echo.NewHTTPError(http.StatusInternalServerError, "internal error"),
			wantType:   apperrors.TypeInternal,
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := WrapHTTPError(tt.httpErr)

			assert.Equal(t, tt.wantType, err.Type)
			assert.Equal(t, tt.wantStatus, err.HTTPStatus())
		})
	}
}

func TestWrapHTTPErrorWithInternalCause(t *testing.T) {
	cause := errors.New("underlying cause")
	httpErr := echo.NewHTTPError(http.StatusInternalServerError, "wrapped")
	httpErr.Internal = cause

	err := WrapHTTPError(httpErr)

	assert.Equal(t, apperrors.TypeInternal, err.Type)
	assert.Equal(t, cause, err.Cause)
}

func TestWrapHTTPErrorWithNonStringMessage(t *testing.T) {
	httpErr := echo.NewHTTPError(http.StatusBadRequest, 12345)

	err := WrapHTTPError(httpErr)

	assert.Equal(t, "Bad Request", err.Message)
	assert.Equal(t, apperrors.TypeValidation, err.Type)
}

func TestWrapHTTPErrorWithNilMessage(t *testing.T) {
	httpErr := &echo.HTTPError{
		Code:    http.StatusRequestEntityTooLarge,
		Message: nil,
	}

	err := WrapHTTPError(httpErr)

	assert.Equal(t, "Request Entity Too Large", err.Message)
	assert.Equal(t, apperrors.TypePayloadTooLarge, err.Type)
}
