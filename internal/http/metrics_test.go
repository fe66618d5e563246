package http

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHTTPMetrics_Singleton(t *testing.T) {
	assert.Same(t, NewHTTPMetrics(), NewHTTPMetrics())
}

func TestHTTPMetrics_MetricsMiddleware(t *testing.T) {
	m := NewHTTPMetrics()

	e := echo.New()
	e.Use(m.MetricsMiddleware())
	e.GET("/metrics-test/:id", func(c echo.Context) error {
		return c.String(http.StatusOK, "hello")
	})
	e.POST("/metrics-test/fail", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusTeapot, "nope")
	})

	ok := prometheus.Labels{"method": http.MethodGet, "endpoint": "/metrics-test/:id", "status": "200"}
	failed := prometheus.Labels{"method": http.MethodPost, "endpoint": "/metrics-test/fail", "status": "418"}
	before := testutil.ToFloat64(m.RequestsTotal.With(ok))
	beforeFailed := testutil.ToFloat64(m.RequestsTotal.With(failed))

	for _, id := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics-test/"+id, nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/metrics-test/fail", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code, "error status is written before it is recorded")

	assert.Equal(t, before+2, testutil.ToFloat64(m.RequestsTotal.With(ok)))
	assert.Equal(t, beforeFailed+1, testutil.ToFloat64(m.RequestsTotal.With(failed)))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.ActiveRequests))
}

func TestMetricsEndpoint(t *testing.T) {
	s := setupTestServer(t, Deps{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "buildbuddy_http_requests_total"))
}

func TestNormalizePath(t *testing.T) {
	assert.Equal(t, "unmatched", normalizePath(""))
	assert.Equal(t, "/api/v1/build-pc", normalizePath("/api/v1/build-pc"))
}
