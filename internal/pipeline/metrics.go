package pipeline

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for the pipeline.
type Metrics struct {
	RunsTotal         *prometheus.CounterVec
	StageTotal        *prometheus.CounterVec
	StageDuration     *prometheus.HistogramVec
	DegradationsTotal *prometheus.CounterVec
	ModelRetriesTotal *prometheus.CounterVec
	DroppedChanges    prometheus.Counter
	RedactionsTotal   *prometheus.CounterVec
}

// NewMetrics registers pipeline metrics once per process.
//
// Metrics:
//   - buildbuddy_pipeline_runs_total{outcome} - complete, degraded, failed, canceled
//   - buildbuddy_pipeline_stage_total{stage,status} - stage outcomes
//   - buildbuddy_pipeline_stage_duration_seconds{stage} - stage latency
//   - buildbuddy_pipeline_degradations_total{stage} - non-fatal stage failures
//   - buildbuddy_pipeline_model_retries_total{stage,kind} - transport retries and repair prompts
//   - buildbuddy_pipeline_dropped_changes_total - Improve changes referencing unknown categories
//   - buildbuddy_pipeline_query_redactions_total{rule} - credentials removed from queries
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			RunsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "buildbuddy_pipeline_runs_total",
					Help: "Total number of pipeline runs by outcome",
				},
				[]string{"outcome"},
			),
			StageTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "buildbuddy_pipeline_stage_total",
					Help: "Total number of stage executions by final status",
				},
				[]string{"stage", "status"},
			),
			StageDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "buildbuddy_pipeline_stage_duration_seconds",
					Help:    "Duration of stage execution in seconds",
					Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 45, 90},
				},
				[]string{"stage"},
			),
			DegradationsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "buildbuddy_pipeline_degradations_total",
					Help: "Total number of non-fatal stage failures",
				},
				[]string{"stage"},
			),
			ModelRetriesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "buildbuddy_pipeline_model_retries_total",
					Help: "Total number of repeated model calls",
				},
				[]string{"stage", "kind"},
			),
			DroppedChanges: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "buildbuddy_pipeline_dropped_changes_total",
					Help: "Total number of Improve changes dropped for referencing unknown categories",
				},
			),
			RedactionsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "buildbuddy_pipeline_query_redactions_total",
					Help: "Total number of credentials redacted from queries by rule",
				},
				[]string{"rule"},
			),
		}
	})
	return globalMetrics
}
