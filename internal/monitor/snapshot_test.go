package monitor

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, s string) Exposition {
	t.Helper()
	exp, err := ParseExposition(strings.NewReader(s))
	require.NoError(t, err)
	return exp
}

func TestSummarize_FirstScrape(t *testing.T) {
	cur := mustParse(t, `
buildbuddy_pipeline_runs_total{outcome="complete"} 6
buildbuddy_pipeline_runs_total{outcome="degraded"} 2
buildbuddy_pipeline_runs_total{outcome="failed"} 2
buildbuddy_pipeline_stage_duration_seconds_sum{stage="visualize"} 9
buildbuddy_pipeline_stage_duration_seconds_count{stage="visualize"} 3
buildbuddy_pipeline_stage_duration_seconds_sum{stage="build"} 40
buildbuddy_pipeline_stage_duration_seconds_count{stage="build"} 10
buildbuddy_llm_requests_total{provider="gemini",result="ok"} 30
buildbuddy_llm_requests_total{provider="gemini",result="429"} 10
buildbuddy_pipeline_degradations_total{stage="critique"} 2
`)
	s := Summarize(nil, cur, 0)

	assert.Equal(t, 10.0, s.TotalRuns())
	assert.InDelta(t, 0.8, s.SuccessRatio(), 1e-9)
	assert.InDelta(t, 0.25, s.ModelErrorRatio, 1e-9)
	assert.Equal(t, 2.0, s.Degradations)
	assert.Zero(t, s.RunRate, "rates need two scrapes")
	assert.Equal(t, []StageLatency{{Stage: "build", Seconds: 4}, {Stage: "visualize", Seconds: 3}}, s.Stages)
}

func TestSummarize_Rates(t *testing.T) {
	prev := mustParse(t, `
buildbuddy_pipeline_runs_total{outcome="complete"} 10
buildbuddy_http_requests_total{method="POST",endpoint="/api/v1/build-pc",status="200"} 10
buildbuddy_pipeline_stage_duration_seconds_sum{stage="build"} 40
buildbuddy_pipeline_stage_duration_seconds_count{stage="build"} 10
buildbuddy_pipeline_stage_duration_seconds_sum{stage="critique"} 20
buildbuddy_pipeline_stage_duration_seconds_count{stage="critique"} 10
`)
	cur := mustParse(t, `
buildbuddy_pipeline_runs_total{outcome="complete"} 14
buildbuddy_http_requests_total{method="POST",endpoint="/api/v1/build-pc",status="200"} 16
buildbuddy_pipeline_stage_duration_seconds_sum{stage="build"} 60
buildbuddy_pipeline_stage_duration_seconds_count{stage="build"} 12
buildbuddy_pipeline_stage_duration_seconds_sum{stage="critique"} 20
buildbuddy_pipeline_stage_duration_seconds_count{stage="critique"} 10
`)
	s := Summarize(prev, cur, 30*time.Second)

	assert.InDelta(t, 8.0, s.RunRate, 1e-9)
	assert.InDelta(t, 12.0, s.HTTPRate, 1e-9)
	require.Len(t, s.Stages, 2)
	assert.Equal(t, StageLatency{Stage: "build", Seconds: 10}, s.Stages[0], "interval latency when the stage ran")
	assert.Equal(t, StageLatency{Stage: "critique", Seconds: 2}, s.Stages[1], "lifetime latency otherwise")
}

func TestSummarize_ServerRestart(t *testing.T) {
	prev := mustParse(t, `buildbuddy_pipeline_runs_total{outcome="complete"} 50`)
	cur := mustParse(t, `buildbuddy_pipeline_runs_total{outcome="complete"} 3`)

	s := Summarize(prev, cur, time.Minute)
	assert.InDelta(t, 3.0, s.RunRate, 1e-9)
}

func TestSummarize_Empty(t *testing.T) {
	s := Summarize(nil, Exposition{}, 0)
	assert.Zero(t, s.TotalRuns())
	assert.Zero(t, s.SuccessRatio())
	assert.Zero(t, s.ModelErrorRatio)
	assert.Empty(t, s.Stages)
}
