// Package ratelimit protects the collector ingestion surface from runaway
// devices. A misconfigured decoder can replay its whole buffer in a tight
// loop; the per-device sliding window absorbs normal bursts while capping
// sustained flood.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"crono/pkg/requestcontext"
)

// Result reports the outcome of one limit check.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter int // seconds
}

// Limiter applies a sliding window per key. Timestamps older than the
// window are discarded on every check, so a burst at a window boundary
// cannot double the effective rate.
type Limiter struct {
	limit  int
	window time.Duration

	mu      sync.Mutex
	entries map[string][]time.Time
}

// NewLimiter creates a limiter allowing limit requests per key per window.
func NewLimiter(limit int, window time.Duration) *Limiter {
	return &Limiter{
		limit:   limit,
		window:  window,
		entries: make(map[string][]time.Time),
	}
}

// Allow records one request against key and reports whether it fits the
// window. The request time comes from the context so tests control it.
func (l *Limiter) Allow(ctx context.Context, key string) Result {
	now := requestcontext.Now(ctx)

	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.entries[key][:0]
	for _, ts := range l.entries[key] {
		if now.Sub(ts) < l.window {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= l.limit {
		l.entries[key] = kept
		oldest := kept[0]
		resetAt := oldest.Add(l.window)
		retry := int(resetAt.Sub(now)/time.Second) + 1
		if retry < 1 {
			retry = 1
		}
		return Result{
			Allowed:    false,
			Limit:      l.limit,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: retry,
		}
	}

	kept = append(kept, now)
	l.entries[key] = kept
	return Result{
		Allowed:   true,
		Limit:     l.limit,
		Remaining: l.limit - len(kept),
		ResetAt:   now.Add(l.window),
	}
}

// Reset drops all recorded requests for key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, key)
}
