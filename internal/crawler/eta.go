package crawler

import (
	"fmt"
	"strings"
	"time"
)

var etaUnits = []struct {
	label   string
	seconds int64
}{
	{"Y", 12 * 30 * 24 * 60 * 60},
	{"M", 30 * 24 * 60 * 60},
	{"D", 24 * 60 * 60},
	{"h", 60 * 60},
	{"m", 60},
	{"s", 1},
}

// FormatRemainingTime renders d as "05D:03h:00m:12s"-style text, skipping
// units that are zero. Months are 30 days and years 12 such months.
func FormatRemainingTime(d time.Duration) string {
	remaining := int64(d / time.Second)
	var parts []string
	for _, unit := range etaUnits {
		n := remaining / unit.seconds
		if n < 1 {
			continue
		}
		parts = append(parts, fmt.Sprintf("%02d%s", n, unit.label))
		remaining -= n * unit.seconds
	}
	if len(parts) == 0 {
		return "Undefined"
	}
	return strings.Join(parts, ":")
}

// RemainingTimeEstimate extrapolates the time left from the average rate
// observed so far.
func RemainingTimeEstimate(elapsed time.Duration, done, total int) string {
	if done <= 0 || elapsed <= 0 {
		return "Undefined. No chunk was complete yet."
	}
	perItem := elapsed / time.Duration(done)
	left := total - done
	if left < 0 {
		left = 0
	}
	return FormatRemainingTime(perItem * time.Duration(left))
}
