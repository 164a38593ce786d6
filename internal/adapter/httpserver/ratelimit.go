package httpserver

import (
	"log/slog"
	"net/http"
	"time"

	apperrors "github.com/JannisRoesner/PICARD-sub000/internal/platform/errors"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

const (
	rateLimiterExpiry = 5 * time.Minute

	// Password attempts per client IP.
	loginRatePerSecond = 0.2
	loginBurst         = 5
)

func newRateLimiter(ratePerSecond float64, burst int) echo.MiddlewareFunc {
	store := middleware.NewRateLimiterMemoryStoreWithConfig(
		middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(ratePerSecond),
			Burst:     burst,
			ExpiresIn: rateLimiterExpiry,
		},
	)
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		Store: store,
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			slog.WarnContext(c.Request().Context(), "Rate limit exceeded", "ip", identifier, "path", c.Path())
			return c.JSON(http.StatusTooManyRequests, apperrors.ErrorResponse{
				Error: "too many attempts, try again later",
				Type:  apperrors.TypeValidation,
			})
		},
	})
}
