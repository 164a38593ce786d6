package metrics

import (
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
)

// API calls are small JSON reads and writes; uploads of stage media sit at the top.
var httpBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 10}

// HTTPMetrics tracks the REST API. Routes are echo path templates, so
// /api/session/:id is one series regardless of the session.
type HTTPMetrics struct {
	Requests *prometheus.CounterVec
	Duration *prometheus.HistogramVec
	InFlight prometheus.Gauge
	Errors   *prometheus.CounterVec
}

func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	m := &HTTPMetrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "API requests, by method, route and status class.",
		}, []string{"method", "route", "status"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help: "API request latency, by method and route.", Buckets: httpBuckets,
		}, []string{"method", "route"}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "http", Name: "in_flight_requests",
			Help: "API requests currently being served.",
		}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "errors_total",
			Help: "Structured error responses, by error type.",
		}, []string{"type"}),
	}
	reg.MustRegister(m.Requests, m.Duration, m.InFlight, m.Errors)
	return m
}

// Middleware records every API request. The metrics endpoint, health probes
// and the websocket upgrade are not counted.
func (m *HTTPMetrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			route := c.Path()
			if !countedRoute(route) {
				return next(c)
			}
			if route == "" {
				route = "unmatched"
			}

			m.InFlight.Inc()
			defer m.InFlight.Dec()
			start := time.Now()

			// The error handler writes the response, so run it here to see
			// the final status.
			if err := next(c); err != nil {
				c.Error(err)
			}

			method := c.Request().Method
			m.Duration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			m.Requests.WithLabelValues(method, route, statusClass(c.Response().Status)).Inc()
			return nil
		}
	}
}

// statusClass maps 404 to "4xx".
func statusClass(code int) string {
	return strconv.Itoa(code/100) + "xx"
}

func countedRoute(route string) bool {
	switch {
	case route == "/metrics", route == "/ws":
		return false
	case strings.HasPrefix(route, "/health/"):
		return false
	}
	return true
}
