package pipeline

import (
	"fmt"
	"sync"
	"time"
)

// Progress reports one stage transition during a run.
type Progress struct {
	RunID      string    `json:"run_id"`
	Stage      Stage     `json:"stage"`
	Status     Status    `json:"status"`
	Message    string    `json:"message,omitempty"`
	Percentage int       `json:"percentage"`
	Timestamp  time.Time `json:"timestamp"`
}

// ProgressFunc receives progress updates. It is called synchronously from the
// run's goroutine and must not block for long.
type ProgressFunc func(Progress)

// StageStatus is a point-in-time view of one stage.
type StageStatus struct {
	Stage     Stage     `json:"stage"`
	Status    Status    `json:"status"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Tracker accumulates per-stage status for one run and enforces
// pending → running → complete|failed.
type Tracker struct {
	runID     string
	callbacks []ProgressFunc

	mu     sync.Mutex
	stages map[Stage]*StageStatus
}

// NewTracker creates a tracker with every stage pending. Nil callbacks are
// ignored.
func NewTracker(runID string, callbacks ...ProgressFunc) *Tracker {
	t := &Tracker{runID: runID, stages: make(map[Stage]*StageStatus)}
	for _, cb := range callbacks {
		if cb != nil {
			t.callbacks = append(t.callbacks, cb)
		}
	}
	now := time.Now()
	for _, s := range AllStages() {
		t.stages[s] = &StageStatus{Stage: s, Status: StatusPending, UpdatedAt: now}
	}
	return t
}

// RunID returns the run this tracker belongs to.
func (t *Tracker) RunID() string { return t.runID }

// Start moves stage from pending to running.
func (t *Tracker) Start(stage Stage) error {
	return t.transition(stage, StatusRunning, fmt.Sprintf("Starting %s", stage), "")
}

// Complete moves stage from running to complete.
func (t *Tracker) Complete(stage Stage, message string) error {
	if message == "" {
		message = fmt.Sprintf("Completed %s", stage)
	}
	return t.transition(stage, StatusComplete, message, "")
}

// Fail moves stage from running to failed.
func (t *Tracker) Fail(stage Stage, cause error) error {
	msg := fmt.Sprintf("%s failed", stage)
	errText := ""
	if cause != nil {
		errText = cause.Error()
		msg = fmt.Sprintf("%s failed: %v", stage, cause)
	}
	return t.transition(stage, StatusFailed, msg, errText)
}

func legalTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusRunning
	case StatusRunning:
		return to == StatusComplete || to == StatusFailed
	}
	return false
}

func (t *Tracker) transition(stage Stage, to Status, message, errText string) error {
	t.mu.Lock()
	st, ok := t.stages[stage]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("unknown stage %q", stage)
	}
	if !legalTransition(st.Status, to) {
		from := st.Status
		t.mu.Unlock()
		return fmt.Errorf("illegal transition for %s: %s -> %s", stage, from, to)
	}
	st.Status = to
	st.Error = errText
	st.UpdatedAt = time.Now()
	p := Progress{
		RunID:      t.runID,
		Stage:      stage,
		Status:     to,
		Message:    message,
		Percentage: t.percentageLocked(),
		Timestamp:  st.UpdatedAt,
	}
	t.mu.Unlock()

	for _, cb := range t.callbacks {
		cb(p)
	}
	return nil
}

func (t *Tracker) percentageLocked() int {
	done := 0
	for _, st := range t.stages {
		if st.Status == StatusComplete || st.Status == StatusFailed {
			done++
		}
	}
	return done * 100 / len(t.stages)
}

// Status returns the current status of stage.
func (t *Tracker) Status(stage Stage) Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.stages[stage]; ok {
		return st.Status
	}
	return ""
}

// Snapshot returns every stage's status in execution order.
func (t *Tracker) Snapshot() []StageStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]StageStatus, 0, len(t.stages))
	for _, s := range AllStages() {
		out = append(out, *t.stages[s])
	}
	return out
}
