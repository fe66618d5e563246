package llm

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricsOnce     sync.Once
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
)

func initMetrics() {
	metricsOnce.Do(func() {
		requestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "buildbuddy_llm_requests_total",
				Help: "Total number of model requests by provider and result",
			},
			[]string{"provider", "result"},
		)
		requestDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "buildbuddy_llm_request_duration_seconds",
				Help:    "Duration of model requests in seconds",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 45},
			},
			[]string{"provider"},
		)
	})
}

type instrumented struct {
	provider string
	next     Generator
}

// Instrument records request counts and latency for next.
func Instrument(provider string, next Generator) Generator {
	initMetrics()
	return &instrumented{provider: provider, next: next}
}

func (i *instrumented) Generate(ctx context.Context, req Request) (string, error) {
	start := time.Now()
	text, err := i.next.Generate(ctx, req)
	requestDuration.WithLabelValues(i.provider).Observe(time.Since(start).Seconds())
	requestsTotal.WithLabelValues(i.provider, resultLabel(err)).Inc()
	return text, err
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	var te *TransportError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, ErrEmptyResponse):
		return "empty"
	case errors.As(err, &te) && te.StatusCode != 0:
		return strconv.Itoa(te.StatusCode)
	}
	return "error"
}
