package logging

import (
	"go.uber.org/zap/zapcore"
)

// sampleCeiling is the highest sampled level. Stage failures, degradations
// and redactions are logged at warn and always kept.
const sampleCeiling = zapcore.InfoLevel

// newSampledCore thins debug and info entries per cfg and passes warn and
// above through untouched.
func newSampledCore(core zapcore.Core, cfg SamplingConfig) zapcore.Core {
	if !cfg.Enabled {
		return core
	}
	chatter := &levelBand{Core: core, lo: zapcore.DebugLevel, hi: sampleCeiling}
	kept := &levelBand{Core: core, lo: sampleCeiling + 1, hi: zapcore.FatalLevel}
	return zapcore.NewTee(kept, zapcore.NewSamplerWithOptions(chatter, cfg.Tick, cfg.Initial, cfg.Thereafter))
}

// levelBand restricts a core to levels in [lo, hi].
type levelBand struct {
	zapcore.Core
	lo, hi zapcore.Level
}

func (b *levelBand) Enabled(lvl zapcore.Level) bool {
	return lvl >= b.lo && lvl <= b.hi && b.Core.Enabled(lvl)
}

func (b *levelBand) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !b.Enabled(e.Level) {
		return ce
	}
	return b.Core.Check(e, ce)
}

func (b *levelBand) With(fields []zapcore.Field) zapcore.Core {
	return &levelBand{Core: b.Core.With(fields), lo: b.lo, hi: b.hi}
}
