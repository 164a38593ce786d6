package httpserver

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/JannisRoesner/PICARD-sub000/internal/adapter/metrics"
	"github.com/JannisRoesner/PICARD-sub000/internal/platform/correlation"
	apperrors "github.com/JannisRoesner/PICARD-sub000/internal/platform/errors"
	"github.com/labstack/echo/v4"
)

// correlationMiddleware adopts a well-formed inbound X-Correlation-ID or mints
// one, stores it in the request context and echoes it back.
func correlationMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := correlation.FromHeader(c.Request().Header.Get(correlation.Header))
		ctx := correlation.WithID(c.Request().Context(), id)
		c.SetRequest(c.Request().WithContext(ctx))
		c.Response().Header().Set(correlation.Header, id)
		return next(c)
	}
}

// ErrorHandlingMiddleware renders every returned error as a structured JSON
// response and logs it once. Framework errors (*echo.HTTPError from body limit,
// binding, CSRF or routing) keep their status code. m may be nil.
func ErrorHandlingMiddleware(m *metrics.HTTPMetrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			if err == nil {
				return nil
			}
			if c.Response().Committed {
				slog.ErrorContext(c.Request().Context(), "Error after response was committed",
					"path", c.Request().URL.Path, "error", err)
				return nil
			}

			structuredErr, status := structure(err)
			logError(c, structuredErr, status)
			if m != nil {
				m.Errors.WithLabelValues(string(structuredErr.Type)).Inc()
			}

			if err := c.JSON(status, structuredErr.ToResponse()); err != nil {
				return fmt.Errorf("failed to write error response: %w", err)
			}
			return nil
		}
	}
}

func structure(err error) (*apperrors.Error, int) {
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		structured := WrapHTTPError(httpErr)
		return structured, httpErr.Code
	}

	structured := apperrors.AsStructuredError(err)
	return structured, structured.HTTPStatus()
}

func logError(c echo.Context, err *apperrors.Error, status int) {
	ctx := c.Request().Context()
	attrs := []any{
		"error_type", err.Type,
		"message", err.Message,
		"path", c.Request().URL.Path,
		"method", c.Request().Method,
		"status", status,
	}

	for k, v := range err.Context {
		attrs = append(attrs, k, v)
	}

	switch err.Type {
	case apperrors.TypeValidation, apperrors.TypeNotFound, apperrors.TypeUnauthorized, apperrors.TypePayloadTooLarge:
		slog.InfoContext(ctx, "Request rejected", attrs...)
	case apperrors.TypeConflict:
		slog.WarnContext(ctx, "Conflict", attrs...)
	case apperrors.TypeInternal:
		if err.Cause != nil {
			attrs = append(attrs, "cause", err.Cause)
		}
		slog.ErrorContext(ctx, "Internal error", attrs...)
	case apperrors.TypeExternal:
		if err.Cause != nil {
			attrs = append(attrs, "cause", err.Cause)
		}
		slog.ErrorContext(ctx, "External service error", attrs...)
	default:
		slog.ErrorContext(ctx, "Unknown error type", attrs...)
	}
}

// WrapHTTPError converts a framework error into the structured taxonomy.
func WrapHTTPError(httpErr *echo.HTTPError) *apperrors.Error {
	message := http.StatusText(httpErr.Code)
	if msg, ok := httpErr.Message.(string); ok && msg != "" {
		message = msg
	}

	err := apperrors.FromStatus(httpErr.Code, message)
	if httpErr.Internal != nil {
		err.Cause = httpErr.Internal
	}
	return err
}
