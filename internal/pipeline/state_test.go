package pipeline

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_Transitions(t *testing.T) {
	var got []Progress
	tr := NewTracker("run-1", func(p Progress) { got = append(got, p) }, nil)

	for _, s := range AllStages() {
		assert.Equal(t, StatusPending, tr.Status(s))
	}

	require.NoError(t, tr.Start(StageBuild))
	assert.Equal(t, StatusRunning, tr.Status(StageBuild))
	require.NoError(t, tr.Complete(StageBuild, ""))
	require.NoError(t, tr.Start(StageCritique))
	require.NoError(t, tr.Fail(StageCritique, errors.New("timeout")))

	require.Len(t, got, 4)
	assert.Equal(t, "run-1", got[0].RunID)
	assert.Equal(t, StatusRunning, got[0].Status)
	assert.Equal(t, 0, got[0].Percentage)
	assert.Equal(t, "Completed build", got[1].Message)
	assert.Equal(t, 25, got[1].Percentage)
	assert.Equal(t, StatusFailed, got[3].Status)
	assert.Contains(t, got[3].Message, "timeout")
	assert.Equal(t, 50, got[3].Percentage)

	snap := tr.Snapshot()
	require.Len(t, snap, 4)
	assert.Equal(t, StageBuild, snap[0].Stage)
	assert.Equal(t, "timeout", snap[1].Error)
	assert.Equal(t, StatusPending, snap[2].Status)
}

func TestTracker_RejectsIllegalTransitions(t *testing.T) {
	tr := NewTracker("run-2")

	assert.Error(t, tr.Complete(StageBuild, ""), "pending -> complete")
	assert.Error(t, tr.Fail(StageBuild, nil), "pending -> failed")

	require.NoError(t, tr.Start(StageBuild))
	assert.Error(t, tr.Start(StageBuild), "running -> running")
	require.NoError(t, tr.Complete(StageBuild, "done"))
	assert.Error(t, tr.Fail(StageBuild, nil), "complete -> failed")
	assert.Error(t, tr.Start(StageBuild), "complete -> running")

	assert.Error(t, tr.Start(Stage("summarize")))
	assert.Equal(t, Status(""), tr.Status(Stage("summarize")))
}

func TestExtractBudget(t *testing.T) {
	tests := []struct {
		query string
		want  string
		ok    bool
	}{
		{"Build me a $1200 gaming PC", "1200", true},
		{"budget is $ 1,500 for streaming", "1500", true},
		{"around 900 dollars for office work", "900", true},
		{"my budget: 750", "750", true},
		{"1440p gaming rig for 1000 USD", "1000", true},
		{"a 1440p 144hz gaming PC", "", false},
		{"cheapest possible build", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got, ok := ExtractBudget(tt.query)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got.String())
			}
		})
	}
}

func TestParseCategory(t *testing.T) {
	tests := map[string]Category{
		"CPU":           CategoryCPU,
		"graphics-card": CategoryGPU,
		"Video Card":    CategoryGPU,
		"power_supply":  CategoryPSU,
		"  memory ":     CategoryRAM,
		"CPU Cooler":    CategoryCooler,
		"NVMe":          CategoryStorage,
	}
	for in, want := range tests {
		got, err := ParseCategory(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseCategory("Sound Card")
	assert.Error(t, err)
}
