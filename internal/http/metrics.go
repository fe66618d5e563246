package http

import (
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalHTTPMetrics *HTTPMetrics
	httpMetricsOnce   sync.Once
)

// HTTPMetrics holds Prometheus metrics for the API.
type HTTPMetrics struct {
	RequestsTotal  *prometheus.CounterVec
	RequestDur     *prometheus.HistogramVec
	ResponseSize   *prometheus.HistogramVec
	ActiveRequests prometheus.Gauge
}

// NewHTTPMetrics registers HTTP metrics once per process.
//
// Metrics:
//   - buildbuddy_http_requests_total{method,endpoint,status}
//   - buildbuddy_http_request_duration_seconds{method,endpoint,status}
//   - buildbuddy_http_response_size_bytes{method,endpoint,status}
//   - buildbuddy_http_active_requests
func NewHTTPMetrics() *HTTPMetrics {
	httpMetricsOnce.Do(func() {
		labels := []string{"method", "endpoint", "status"}
		globalHTTPMetrics = &HTTPMetrics{
			RequestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "buildbuddy_http_requests_total",
					Help: "Total HTTP requests by method, route and status code",
				},
				labels,
			),
			RequestDur: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name: "buildbuddy_http_request_duration_seconds",
					Help: "HTTP request duration in seconds",
					// Pipeline runs take tens of seconds.
					Buckets: []float64{0.005, 0.025, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
				},
				labels,
			),
			ResponseSize: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "buildbuddy_http_response_size_bytes",
					Help:    "HTTP response body size in bytes",
					Buckets: prometheus.ExponentialBuckets(100, 4, 8),
				},
				labels,
			),
			ActiveRequests: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "buildbuddy_http_active_requests",
					Help: "Number of in-flight HTTP requests",
				},
			),
		}
	})
	return globalHTTPMetrics
}

// MetricsMiddleware returns an Echo middleware that records HTTP metrics.
func (m *HTTPMetrics) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			m.ActiveRequests.Inc()
			defer m.ActiveRequests.Dec()

			err := next(c)
			if err != nil {
				// Let the error handler write the response so the status is final.
				c.Error(err)
			}

			labels := prometheus.Labels{
				"method":   c.Request().Method,
				"endpoint": normalizePath(c.Path()),
				"status":   strconv.Itoa(c.Response().Status),
			}
			m.RequestsTotal.With(labels).Inc()
			m.RequestDur.With(labels).Observe(time.Since(start).Seconds())
			m.ResponseSize.With(labels).Observe(float64(c.Response().Size))
			return nil
		}
	}
}

// normalizePath uses the route template so labels stay bounded. Unmatched
// requests share one label.
func normalizePath(path string) string {
	if path == "" {
		return "unmatched"
	}
	return path
}
