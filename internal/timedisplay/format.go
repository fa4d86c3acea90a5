// Package timedisplay drives the once-per-second elapsed and remaining time readouts.
package timedisplay

import (
	"fmt"
	"time"
)

// FormatElapsed renders d as zero-padded "MM:SS".
func FormatElapsed(d time.Duration) string {
	total := wholeSeconds(d)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

// FormatRemaining renders d as "M:SS"; negative durations render as 0:00.
func FormatRemaining(d time.Duration) string {
	total := wholeSeconds(d)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

func wholeSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(d / time.Second)
}
