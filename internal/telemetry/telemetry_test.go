package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/fyrsmithlabs/buildbuddy/internal/logging"
)

func TestNew_Disabled(t *testing.T) {
	tel, err := New(context.Background(), NewDefaultConfig(), nil)
	require.NoError(t, err)
	require.NotNil(t, tel)

	assert.NotNil(t, tel.Tracer("test"))
	assert.False(t, tel.IsEnabled())
	assert.Equal(t, HealthStatus{Healthy: true}, tel.Health())
	assert.NoError(t, tel.ForceFlush(context.Background()))
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := &Config{Enabled: true}
	tel, err := New(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.Nil(t, tel)
	assert.Contains(t, err.Error(), "invalid telemetry config")
}

func TestNew_EnabledExportsSpans(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	exporter := tracetest.NewInMemoryExporter()
	log := logging.NewTestLogger()

	tel, err := New(context.Background(), cfg, log.Logger, WithTraceExporter(exporter))
	require.NoError(t, err)
	assert.True(t, tel.IsEnabled())
	log.AssertField(t, "tracing enabled", "protocol", protocolGRPC)

	_, span := tel.Tracer("test").Start(context.Background(), "pipeline.run")
	span.End()
	require.NoError(t, tel.ForceFlush(context.Background()))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "pipeline.run", spans[0].Name)

	require.NoError(t, tel.Shutdown(context.Background()))
	assert.False(t, tel.Health().Healthy)
	assert.False(t, tel.IsEnabled())
}

func TestTelemetry_NilSafe(t *testing.T) {
	var tel *Telemetry

	assert.NotPanics(t, func() {
		_ = tel.Tracer("test")
		_ = tel.IsEnabled()
		_ = tel.Shutdown(context.Background())
		_ = tel.ForceFlush(context.Background())
	})
	assert.Equal(t, HealthStatus{Healthy: false, Degraded: true}, tel.Health())
}

func TestTestTelemetry_SpanRecording(t *testing.T) {
	tt := NewTestTelemetry()

	tracer := tt.Tracer("test")
	_, span := tracer.Start(context.Background(), "pipeline.stage.build")
	span.SetAttributes(
		attribute.Int("stage.attempts", 2),
		attribute.Bool("stage.mocked", false),
	)
	span.SetStatus(codes.Error, "unparseable")
	span.End()
	_, run := tracer.Start(context.Background(), "pipeline.run")
	run.End()

	assert.Equal(t, []string{"pipeline.stage.build", "pipeline.run"}, tt.Names())
	tt.AssertSpan(t, "pipeline.stage.build",
		attribute.Int("stage.attempts", 2),
		attribute.Bool("stage.mocked", false),
	)
	tt.AssertStatus(t, "pipeline.stage.build", codes.Error)
	tt.AssertStatus(t, "pipeline.run", codes.Unset)
	assert.Nil(t, tt.Span("missing"))
	assert.True(t, tt.IsEnabled())
}
