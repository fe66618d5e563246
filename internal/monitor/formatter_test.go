package monitor

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatRates(t *testing.T) {
	assert.Equal(t, "45.7 req/min", FormatRate(45.7))
	assert.Equal(t, "0.0 req/min", FormatRate(0))
	assert.Equal(t, "n/a", FormatRate(math.NaN()))
	assert.Equal(t, "2.5 runs/min", FormatRunRate(2.5))
	assert.Equal(t, "n/a", FormatRunRate(math.Inf(1)))
}

func TestFormatLatency(t *testing.T) {
	tests := []struct {
		seconds float64
		want    string
	}{
		{0, "0ms"},
		{0.0123, "12ms"},
		{0.9994, "999ms"},
		{1.234, "1.2s"},
		{18.75, "18.8s"},
		{59.9, "59.9s"},
		{65.4, "1m5s"},
		{180, "3m0s"},
		{-1, "n/a"},
		{math.NaN(), "n/a"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatLatency(tt.seconds), "seconds=%v", tt.seconds)
	}
}

func TestFormatPercentage(t *testing.T) {
	assert.Equal(t, "98.5%", FormatPercentage(0.985))
	assert.Equal(t, "100.0%", FormatPercentage(1))
	assert.Equal(t, "0.0%", FormatPercentage(0.0003))
	assert.Equal(t, "n/a", FormatPercentage(math.NaN()))
}

func TestFormatCount(t *testing.T) {
	tests := map[float64]string{
		0:       "0",
		42:      "42",
		999:     "999",
		1200:    "1,200",
		1234567: "1,234,567",
		-4500:   "-4,500",
		2.6:     "3",
	}
	for in, want := range tests {
		assert.Equal(t, want, FormatCount(in), "in=%v", in)
	}
	assert.Equal(t, "n/a", FormatCount(math.Inf(-1)))
}
