package monitor

import (
	"sort"
	"time"
)

const (
	metricRuns          = "buildbuddy_pipeline_runs_total"
	metricStageSum      = "buildbuddy_pipeline_stage_duration_seconds_sum"
	metricStageCount    = "buildbuddy_pipeline_stage_duration_seconds_count"
	metricDegradations  = "buildbuddy_pipeline_degradations_total"
	metricDropped       = "buildbuddy_pipeline_dropped_changes_total"
	metricModelRequests = "buildbuddy_llm_requests_total"
	metricHTTPRequests  = "buildbuddy_http_requests_total"
	metricHTTPActive    = "buildbuddy_http_active_requests"
)

// StageLatency is the mean duration of one stage.
type StageLatency struct {
	Stage   string
	Seconds float64
}

// MetricsSnapshot is what the dashboard renders for one refresh.
type MetricsSnapshot struct {
	// Rates are per minute over the last scrape interval.
	RunRate   float64
	ModelRate float64
	HTTPRate  float64

	// Totals are cumulative since the server started.
	RunsComplete   float64
	RunsDegraded   float64
	RunsFailed     float64
	RunsCanceled   float64
	Degradations   float64
	DroppedChanges float64

	// ModelErrorRatio is the share of model calls that did not return "ok".
	ModelErrorRatio float64
	ActiveRequests  float64
	Stages          []StageLatency

	// Historical data for sparklines (last N points)
	RunRateHistory  []float64
	HTTPRateHistory []float64

	RunRatePeak float64
}

// TotalRuns is the number of finished runs of any outcome.
func (s MetricsSnapshot) TotalRuns() float64 {
	return s.RunsComplete + s.RunsDegraded + s.RunsFailed + s.RunsCanceled
}

// SuccessRatio is the share of runs that produced a build, degraded or not.
func (s MetricsSnapshot) SuccessRatio() float64 {
	total := s.TotalRuns()
	if total == 0 {
		return 0
	}
	return (s.RunsComplete + s.RunsDegraded) / total
}

// Summarize derives a snapshot from the current scrape. Rates need a
// previous scrape and are zero without one. Stage latency covers the
// interval when stages ran in it, and the whole process lifetime otherwise.
func Summarize(prev, cur Exposition, elapsed time.Duration) MetricsSnapshot {
	s := MetricsSnapshot{
		RunsComplete:   cur.Sum(metricRuns, map[string]string{"outcome": "complete"}),
		RunsDegraded:   cur.Sum(metricRuns, map[string]string{"outcome": "degraded"}),
		RunsFailed:     cur.Sum(metricRuns, map[string]string{"outcome": "failed"}),
		RunsCanceled:   cur.Sum(metricRuns, map[string]string{"outcome": "canceled"}),
		Degradations:   cur.Sum(metricDegradations, nil),
		DroppedChanges: cur.Sum(metricDropped, nil),
		ActiveRequests: cur.Sum(metricHTTPActive, nil),
	}

	modelTotal := cur.Sum(metricModelRequests, nil)
	if modelTotal > 0 {
		ok := cur.Sum(metricModelRequests, map[string]string{"result": "ok"})
		s.ModelErrorRatio = (modelTotal - ok) / modelTotal
	}

	if prev != nil && elapsed > 0 {
		minutes := elapsed.Minutes()
		s.RunRate = delta(prev, cur, metricRuns, nil) / minutes
		s.ModelRate = delta(prev, cur, metricModelRequests, nil) / minutes
		s.HTTPRate = delta(prev, cur, metricHTTPRequests, nil) / minutes
	}

	stages := cur.LabelValues(metricStageCount, "stage")
	sort.Slice(stages, func(i, j int) bool { return stageOrder(stages[i]) < stageOrder(stages[j]) })
	for _, stage := range stages {
		match := map[string]string{"stage": stage}
		count := cur.Sum(metricStageCount, match)
		sum := cur.Sum(metricStageSum, match)
		if prev != nil {
			if dc := delta(prev, cur, metricStageCount, match); dc > 0 {
				count = dc
				sum = delta(prev, cur, metricStageSum, match)
			}
		}
		if count == 0 {
			continue
		}
		s.Stages = append(s.Stages, StageLatency{Stage: stage, Seconds: sum / count})
	}
	return s
}

// delta is the counter increase between scrapes. A decrease means the server
// restarted, so the current value is the increase.
func delta(prev, cur Exposition, name string, match map[string]string) float64 {
	c := cur.Sum(name, match)
	p := prev.Sum(name, match)
	if c < p {
		return c
	}
	return c - p
}

func stageOrder(stage string) int {
	switch stage {
	case "build":
		return 0
	case "critique":
		return 1
	case "improve":
		return 2
	case "visualize":
		return 3
	}
	return 4
}
