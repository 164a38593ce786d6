package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/JannisRoesner/PICARD-sub000/internal/platform/version"
	"github.com/labstack/echo/v4"
)

const (
	startupProbeTimeout   = 2 * time.Second
	readinessProbeTimeout = 5 * time.Second
)

// HealthCheck is one dependency probed by /health/startup and /health/ready.
type HealthCheck struct {
	Name string
	// Optional checks are reported but never fail the probe.
	Optional bool
	Check    func(ctx context.Context) error
}

type probeResponse struct {
	Status      string            `json:"status"`
	FailedCheck string            `json:"failed_check,omitempty"`
	Checks      map[string]string `json:"checks,omitempty"`
}

type livenessResponse struct {
	Status string  `json:"status"`
	Uptime float64 `json:"uptime"`
}

func (s *Server) registerHealthRoutes() {
	s.echo.GET("/health/startup", s.probe(startupProbeTimeout))
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.probe(readinessProbeTimeout))
	s.echo.GET("/version", s.handleVersion)
}

func (s *Server) handleLiveness(c echo.Context) error {
	resp := livenessResponse{Status: "ok", Uptime: time.Since(s.startTime).Seconds()}
	if err := c.JSON(http.StatusOK, resp); err != nil {
		return fmt.Errorf("failed to write liveness response: %w", err)
	}
	return nil
}

// probe returns a handler that runs every health check within timeout. It
// answers 503 naming the first required check that failed.
func (s *Server) probe(timeout time.Duration) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
		defer cancel()

		resp, status := s.checkHealth(ctx)
		if err := c.JSON(status, resp); err != nil {
			return fmt.Errorf("failed to write probe response: %w", err)
		}
		return nil
	}
}

func (s *Server) checkHealth(ctx context.Context) (probeResponse, int) {
	resp := probeResponse{Status: "ready"}
	if len(s.healthChecks) > 0 {
		resp.Checks = make(map[string]string, len(s.healthChecks))
	}

	for _, hc := range s.healthChecks {
		err := hc.Check(ctx)
		if err == nil {
			resp.Checks[hc.Name] = "ok"
			continue
		}
		resp.Checks[hc.Name] = err.Error()
		if !hc.Optional && resp.FailedCheck == "" {
			resp.Status = "unhealthy"
			resp.FailedCheck = hc.Name
		}
	}

	if resp.FailedCheck != "" {
		return resp, http.StatusServiceUnavailable
	}
	return resp, http.StatusOK
}

func (s *Server) handleVersion(c echo.Context) error {
	if err := c.JSON(http.StatusOK, version.Get()); err != nil {
		return fmt.Errorf("failed to write version response: %w", err)
	}
	return nil
}
