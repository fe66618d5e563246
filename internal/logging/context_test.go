package logging

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func TestWithRequestID_RejectsUnsafeIDs(t *testing.T) {
	ctx := context.Background()

	assert.Equal(t, "", RequestIDFromContext(WithRequestID(ctx, "")))
	assert.Equal(t, "", RequestIDFromContext(WithRequestID(ctx, "a b")))
	assert.Equal(t, "", RequestIDFromContext(WithRequestID(ctx, "x\ninjected")))
	assert.Equal(t, "", RequestIDFromContext(WithRequestID(ctx, strings.Repeat("a", maxIDLen+1))))
	assert.Equal(t, "abc-123_X", RequestIDFromContext(WithRequestID(ctx, "abc-123_X")))
}

func TestWithRunID(t *testing.T) {
	ctx := WithRunID(context.Background(), "6f1c2b1e-1111-4a4a-9b9b-000000000000")
	assert.Equal(t, "6f1c2b1e-1111-4a4a-9b9b-000000000000", RunIDFromContext(ctx))
}

func TestContextFields_Empty(t *testing.T) {
	assert.Empty(t, ContextFields(context.Background()))
}

func TestFromContext(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))

	tl := NewTestLogger()
	ctx := WithLogger(context.Background(), tl.Logger)
	ctx = WithStage(ctx, "critique")
	FromContext(ctx).Info(ctx, "from context")

	tl.AssertLogged(t, zapcore.InfoLevel, "from context")
	tl.AssertField(t, "from context", "stage", "critique")
	tl.AssertNotLogged(t, zapcore.ErrorLevel, "from context")
}
