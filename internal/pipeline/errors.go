package pipeline

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/fyrsmithlabs/buildbuddy/internal/llm"
)

// ErrEmptyQuery is returned when RunPipeline receives a blank query.
var ErrEmptyQuery = errors.New("query cannot be empty")

// TransportError is a backend call that failed or timed out.
type TransportError = llm.TransportError

// maxRawDiagnostic bounds how much model text a MalformedOutputError keeps.
const maxRawDiagnostic = 2048

// MalformedOutputError reports model text that could not be decoded or did
// not satisfy the stage's mandatory fields.
type MalformedOutputError struct {
	Stage  Stage
	Reason string
	// Raw is the offending model text, truncated to 2 KiB.
	Raw string
}

func newMalformed(stage Stage, raw, format string, args ...any) *MalformedOutputError {
	if len(raw) > maxRawDiagnostic {
		cut := maxRawDiagnostic
		for cut > 0 && !utf8.RuneStart(raw[cut]) {
			cut--
		}
		raw = raw[:cut]
	}
	return &MalformedOutputError{Stage: stage, Reason: fmt.Sprintf(format, args...), Raw: raw}
}

func (e *MalformedOutputError) Error() string {
	return fmt.Sprintf("%s: malformed model output: %s", e.Stage, e.Reason)
}

// InvalidReferenceError reports a Change or Concern naming a part category
// that the build does not contain. It is dropped, never fatal.
type InvalidReferenceError struct {
	Stage    Stage
	Category string
	Ref      string
}

func (e *InvalidReferenceError) Error() string {
	if e.Category == "" {
		return fmt.Sprintf("%s: %q does not match any part in the build", e.Stage, e.Ref)
	}
	return fmt.Sprintf("%s: %q references category %q which is not in the build", e.Stage, e.Ref, e.Category)
}

// StageFailedError wraps the cause of a stage failure. For StageBuild it is
// terminal for the pipeline.
type StageFailedError struct {
	Stage Stage
	Err   error
}

func (e *StageFailedError) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageFailedError) Unwrap() error { return e.Err }

// IsTransport reports whether err is a backend transport failure or timeout.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te) || errors.Is(err, context.DeadlineExceeded)
}

// IsRetryable reports whether repeating the identical call could succeed:
// a timeout, or a transport error its backend marks as transient.
func IsRetryable(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Retryable()
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// IsMalformed reports whether err is a *MalformedOutputError.
func IsMalformed(err error) bool {
	var me *MalformedOutputError
	return errors.As(err, &me)
}

// IsStageFailed reports whether err is a StageFailedError for stage.
func IsStageFailed(err error, stage Stage) bool {
	var sf *StageFailedError
	return errors.As(err, &sf) && sf.Stage == stage
}
