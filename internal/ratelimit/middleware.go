package ratelimit

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"crono/internal/transport/http/shared"
	"crono/pkg/requestcontext"
)

// Middleware throttles collector submissions per authenticated device. It
// runs after device auth, so the key is always a real device ID. A zero or
// negative limit disables throttling, which keeps local test setups simple.
type Middleware struct {
	limiter  *Limiter
	logger   *slog.Logger
	disabled bool
}

// NewMiddleware builds the per-device throttle.
func NewMiddleware(limit int, window time.Duration, logger *slog.Logger) *Middleware {
	m := &Middleware{logger: logger}
	if limit <= 0 {
		m.disabled = true
		logger.Info("ingest rate limiting disabled")
		return m
	}
	m.limiter = NewLimiter(limit, window)
	return m
}

// PerDevice is the chi middleware applied to the collector route group.
func (m *Middleware) PerDevice(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.disabled {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		deviceID := requestcontext.DeviceID(ctx)

		result := m.limiter.Allow(ctx, deviceID.String())
		writeLimitHeaders(w, result)

		if !result.Allowed {
			m.logger.Warn("device rate limited",
				"device_id", deviceID.String(),
				"retry_after", result.RetryAfter,
			)
			w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
			shared.WriteJSON(w, http.StatusTooManyRequests, map[string]any{
				"error":       "rate_limit_exceeded",
				"message":     "too many submissions from this device",
				"retry_after": result.RetryAfter,
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeLimitHeaders(w http.ResponseWriter, result Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}
