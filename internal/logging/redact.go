package logging

import (
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/buildbuddy/internal/config"
	"github.com/fyrsmithlabs/buildbuddy/internal/secrets"
)

const redactedValue = "[REDACTED]"

// Secret logs only the length of a configured credential.
func Secret(key string, val config.Secret) zap.Field {
	return zap.String(key, "[REDACTED:"+strconv.Itoa(len(val.Value()))+"]")
}

// Truncated logs at most max bytes of val, noting the original length.
// Model output is logged this way on extraction failures.
func Truncated(key, val string, max int) zap.Field {
	if len(val) <= max {
		return zap.String(key, val)
	}
	return zap.String(key, val[:max]+"...(truncated "+strconv.Itoa(len(val))+" bytes)")
}

// RedactingEncoder drops values of sensitive keys and runs every string
// value and message through the credential scrubber shared with query
// scrubbing.
type RedactingEncoder struct {
	zapcore.Encoder
	keys     map[string]bool
	scrubber *secrets.Scrubber
}

// NewRedactingEncoder wraps base. Extra patterns from cfg are added to the
// built-in credential rules.
func NewRedactingEncoder(base zapcore.Encoder, cfg RedactionConfig) (*RedactingEncoder, error) {
	if !cfg.Enabled {
		return &RedactingEncoder{Encoder: base}, nil
	}
	scrubber, err := newScrubber(cfg.Patterns)
	if err != nil {
		return nil, err
	}
	keys := make(map[string]bool, len(cfg.Fields))
	for _, f := range cfg.Fields {
		keys[strings.ToLower(f)] = true
	}
	return &RedactingEncoder{Encoder: base, keys: keys, scrubber: scrubber}, nil
}

func newScrubber(patterns []string) (*secrets.Scrubber, error) {
	rules := secrets.DefaultRules()
	for i, p := range patterns {
		rules = append(rules, secrets.Rule{ID: "log-pattern-" + strconv.Itoa(i), Pattern: p})
	}
	s, err := secrets.New(rules, secrets.WithReplacement(redactedValue))
	if err != nil {
		return nil, fmt.Errorf("invalid redaction pattern: %w", err)
	}
	return s, nil
}

func (e *RedactingEncoder) sensitive(key string) bool {
	return e.keys[strings.ToLower(key)]
}

func (e *RedactingEncoder) clean(val string) string {
	if e.scrubber == nil {
		return val
	}
	return e.scrubber.Scrub(val).Text
}

func (e *RedactingEncoder) AddString(key, val string) {
	if e.sensitive(key) {
		val = redactedValue
	}
	e.Encoder.AddString(key, e.clean(val))
}

func (e *RedactingEncoder) AddByteString(key string, val []byte) {
	if e.sensitive(key) {
		e.Encoder.AddString(key, redactedValue)
		return
	}
	e.Encoder.AddString(key, e.clean(string(val)))
}

func (e *RedactingEncoder) AddReflected(key string, val any) error {
	if e.sensitive(key) {
		e.Encoder.AddString(key, redactedValue)
		return nil
	}
	return e.Encoder.AddReflected(key, val)
}

func (e *RedactingEncoder) AddObject(key string, obj zapcore.ObjectMarshaler) error {
	if e.sensitive(key) {
		e.Encoder.AddString(key, redactedValue)
		return nil
	}
	return e.Encoder.AddObject(key, obj)
}

func (e *RedactingEncoder) Clone() zapcore.Encoder {
	return &RedactingEncoder{Encoder: e.Encoder.Clone(), keys: e.keys, scrubber: e.scrubber}
}

// EncodeEntry applies redaction to per-entry fields, which the base encoder
// would otherwise write without calling the Add methods above.
func (e *RedactingEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	enc := e.Clone().(*RedactingEncoder)
	for _, f := range fields {
		f.AddTo(enc)
	}
	ent.Message = e.clean(ent.Message)
	return enc.Encoder.EncodeEntry(ent, nil)
}
