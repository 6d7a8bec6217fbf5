package timefmt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestElapsed(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "00:00.000"},
		{987 * time.Millisecond, "00:00.987"},
		{62*time.Second + 5*time.Millisecond, "01:02.005"},
		{59*time.Minute + 59*time.Second + 999*time.Millisecond, "59:59.999"},
		{time.Hour, "1:00:00.000"},
		{3*time.Hour + 4*time.Minute + 5*time.Second + 60*time.Millisecond, "3:04:05.060"},
		{-time.Second, "00:00.000"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Elapsed(tt.d), "duration %v", tt.d)
	}
}

func TestGapAndLapsDown(t *testing.T) {
	assert.Equal(t, "+00:01.500", Gap(1500*time.Millisecond))
	assert.Equal(t, "+1 lap", LapsDown(1))
	assert.Equal(t, "+3 laps", LapsDown(3))
}
