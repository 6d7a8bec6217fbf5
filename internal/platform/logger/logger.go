package logger

import (
	"log/slog"
	"os"
)

// New returns the process-wide structured logger. JSON output so the timing
// crew's log pipeline can filter on stage_id/bike attributes.
func New(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
}
