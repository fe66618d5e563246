package logging

import (
	"fmt"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestLogger is a Logger that keeps every entry in memory so tests can
// assert on stage failures, retries and degradations.
type TestLogger struct {
	*Logger
	logs *observer.ObservedLogs
}

// NewTestLogger records entries at debug level and above. Sampling and
// redaction are not applied.
func NewTestLogger() *TestLogger {
	core, logs := observer.New(zapcore.DebugLevel)
	return &TestLogger{
		Logger: &Logger{zap: zap.New(core), config: NewDefaultConfig()},
		logs:   logs,
	}
}

// Entries returns the entries at level whose message contains msg.
func (t *TestLogger) Entries(level zapcore.Level, msg string) []observer.LoggedEntry {
	return t.logs.FilterLevelExact(level).FilterMessageSnippet(msg).All()
}

// AssertLogged fails tb unless an entry at level contains msg.
func (t *TestLogger) AssertLogged(tb testing.TB, level zapcore.Level, msg string) {
	tb.Helper()
	if len(t.Entries(level, msg)) == 0 {
		tb.Errorf("no %s entry containing %q; recorded:\n%s", level, msg, t.dump())
	}
}

// AssertNotLogged fails tb if any entry at level contains msg.
func (t *TestLogger) AssertNotLogged(tb testing.TB, level zapcore.Level, msg string) {
	tb.Helper()
	if n := len(t.Entries(level, msg)); n > 0 {
		tb.Errorf("found %d unexpected %s entries containing %q", n, level, msg)
	}
}

// AssertField fails tb unless an entry containing msg carries key=want.
func (t *TestLogger) AssertField(tb testing.TB, msg, key string, want any) {
	tb.Helper()
	for _, e := range t.logs.FilterMessageSnippet(msg).All() {
		if got, ok := e.ContextMap()[key]; ok && fmt.Sprint(got) == fmt.Sprint(want) {
			return
		}
	}
	tb.Errorf("no entry containing %q with %s=%v; recorded:\n%s", msg, key, want, t.dump())
}

func (t *TestLogger) dump() string {
	var out string
	for _, e := range t.logs.All() {
		out += fmt.Sprintf("  %s %s %v\n", e.Level, e.Message, e.ContextMap())
	}
	return out
}
