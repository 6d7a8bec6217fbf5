// Package timefmt formats elapsed times and leaderboard gaps. The output is
// part of the classification payload, so identical inputs must always render
// identical strings.
package timefmt

import (
	"fmt"
	"time"
)

// Elapsed renders a duration as MM:SS.mmm, growing to H:MM:SS.mmm past one
// hour. Negative durations render as zero; readings are validated upstream.
func Elapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	ms := d.Milliseconds()
	h := ms / 3_600_000
	m := (ms % 3_600_000) / 60_000
	s := (ms % 60_000) / 1_000
	frac := ms % 1_000
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d.%03d", h, m, s, frac)
	}
	return fmt.Sprintf("%02d:%02d.%03d", m, s, frac)
}

// Gap renders a time gap to the rider ahead or the leader.
func Gap(d time.Duration) string {
	return "+" + Elapsed(d)
}

// LapsDown renders the gap for a rider trailing by whole laps.
func LapsDown(n int) string {
	if n == 1 {
		return "+1 lap"
	}
	return fmt.Sprintf("+%d laps", n)
}
