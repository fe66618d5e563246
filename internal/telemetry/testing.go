package telemetry

import (
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// TestTelemetry is an enabled Telemetry whose spans stay in memory. It never
// installs a global provider, so parallel tests do not interfere.
type TestTelemetry struct {
	*Telemetry
	recorder *tracetest.SpanRecorder
}

// NewTestTelemetry returns a recording Telemetry.
func NewTestTelemetry() *TestTelemetry {
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	rec := tracetest.NewSpanRecorder()
	tel := &Telemetry{
		config:         cfg,
		tracerProvider: sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)),
	}
	tel.healthy.Store(true)
	return &TestTelemetry{Telemetry: tel, recorder: rec}
}

// Spans returns ended spans in the order they ended.
func (t *TestTelemetry) Spans() []sdktrace.ReadOnlySpan {
	return t.recorder.Ended()
}

// Names returns the names of ended spans in end order. A pipeline run ends
// its stage spans before the run span.
func (t *TestTelemetry) Names() []string {
	spans := t.Spans()
	names := make([]string, len(spans))
	for i, s := range spans {
		names[i] = s.Name()
	}
	return names
}

// Span returns the last ended span called name, or nil.
func (t *TestTelemetry) Span(name string) sdktrace.ReadOnlySpan {
	spans := t.Spans()
	for i := len(spans) - 1; i >= 0; i-- {
		if spans[i].Name() == name {
			return spans[i]
		}
	}
	return nil
}

// AssertSpan fails tb unless a span called name ended carrying every
// attribute in want.
func (t *TestTelemetry) AssertSpan(tb testing.TB, name string, want ...attribute.KeyValue) {
	tb.Helper()
	span := t.Span(name)
	if span == nil {
		tb.Errorf("span %q not recorded; have %v", name, t.Names())
		return
	}
	got := make(map[attribute.Key]attribute.Value, len(span.Attributes()))
	for _, kv := range span.Attributes() {
		got[kv.Key] = kv.Value
	}
	for _, kv := range want {
		v, ok := got[kv.Key]
		switch {
		case !ok:
			tb.Errorf("span %q has no attribute %q", name, kv.Key)
		case v.Type() != kv.Value.Type() || v.Emit() != kv.Value.Emit():
			tb.Errorf("span %q attribute %q = %s, want %s", name, kv.Key, v.Emit(), kv.Value.Emit())
		}
	}
}

// AssertStatus fails tb unless the span called name ended with code.
func (t *TestTelemetry) AssertStatus(tb testing.TB, name string, code codes.Code) {
	tb.Helper()
	span := t.Span(name)
	if span == nil {
		tb.Errorf("span %q not recorded; have %v", name, t.Names())
		return
	}
	if got := span.Status().Code; got != code {
		tb.Errorf("span %q status = %v, want %v", name, got, code)
	}
}
