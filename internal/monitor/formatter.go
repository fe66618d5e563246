package monitor

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// notAvailable is shown for values a scrape could not determine, such as a
// rate before the second scrape or a latency with no observations.
const notAvailable = "n/a"

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// FormatRate formats model or HTTP requests per minute.
func FormatRate(rate float64) string {
	if !finite(rate) {
		return notAvailable
	}
	return fmt.Sprintf("%.1f req/min", rate)
}

// FormatRunRate formats pipeline runs per minute.
func FormatRunRate(rate float64) string {
	if !finite(rate) {
		return notAvailable
	}
	return fmt.Sprintf("%.1f runs/min", rate)
}

// FormatLatency formats a stage latency. Model stages take seconds to
// minutes, so sub-second values keep millisecond precision and anything
// past a minute is shown as minutes and seconds.
func FormatLatency(seconds float64) string {
	switch {
	case !finite(seconds) || seconds < 0:
		return notAvailable
	case seconds < 1:
		return fmt.Sprintf("%.0fms", seconds*1000)
	case seconds < 60:
		return fmt.Sprintf("%.1fs", seconds)
	}
	return time.Duration(seconds * float64(time.Second)).Round(time.Second).String()
}

// FormatPercentage formats a ratio in [0, 1].
func FormatPercentage(ratio float64) string {
	if !finite(ratio) {
		return notAvailable
	}
	return fmt.Sprintf("%.1f%%", ratio*100)
}

// FormatCount formats a cumulative counter with thousands separators.
func FormatCount(v float64) string {
	if !finite(v) {
		return notAvailable
	}
	s := strconv.FormatInt(int64(math.Round(v)), 10)
	neg := s[0] == '-'
	if neg {
		s = s[1:]
	}
	for i := len(s) - 3; i > 0; i -= 3 {
		s = s[:i] + "," + s[i:]
	}
	if neg {
		s = "-" + s
	}
	return s
}
