package ratelimit

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "crono/pkg/domain"
	"crono/pkg/requestcontext"
)

func at(base time.Time, offset time.Duration) context.Context {
	return requestcontext.WithTime(context.Background(), base.Add(offset))
}

func TestLimiterAllowsWithinWindow(t *testing.T) {
	l := NewLimiter(3, time.Minute)
	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	for i := range 3 {
		result := l.Allow(at(base, time.Duration(i)*time.Second), "device-a")
		assert.True(t, result.Allowed)
		assert.Equal(t, 3, result.Limit)
		assert.Equal(t, 2-i, result.Remaining)
	}

	result := l.Allow(at(base, 3*time.Second), "device-a")
	assert.False(t, result.Allowed)
	assert.Equal(t, 0, result.Remaining)
	assert.Positive(t, result.RetryAfter)
}

func TestLimiterSlidesWindow(t *testing.T) {
	l := NewLimiter(2, time.Minute)
	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	assert.True(t, l.Allow(at(base, 0), "device-a").Allowed)
	assert.True(t, l.Allow(at(base, 30*time.Second), "device-a").Allowed)
	assert.False(t, l.Allow(at(base, 45*time.Second), "device-a").Allowed)

	// The first request ages out of the window; capacity frees up.
	assert.True(t, l.Allow(at(base, 61*time.Second), "device-a").Allowed)
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	l := NewLimiter(1, time.Minute)
	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	assert.True(t, l.Allow(at(base, 0), "device-a").Allowed)
	assert.False(t, l.Allow(at(base, time.Second), "device-a").Allowed)
	assert.True(t, l.Allow(at(base, time.Second), "device-b").Allowed)
}

func TestLimiterReset(t *testing.T) {
	l := NewLimiter(1, time.Minute)
	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	assert.True(t, l.Allow(at(base, 0), "device-a").Allowed)
	assert.False(t, l.Allow(at(base, time.Second), "device-a").Allowed)

	l.Reset("device-a")
	assert.True(t, l.Allow(at(base, 2*time.Second), "device-a").Allowed)
}

func TestMiddlewareThrottlesPerDevice(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := NewMiddleware(2, time.Minute, logger)

	handler := m.PerDevice(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	deviceID := id.DeviceID(uuid.New())
	do := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/readings", nil)
		req = req.WithContext(requestcontext.WithDeviceID(req.Context(), deviceID))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, do().Code)
	assert.Equal(t, http.StatusOK, do().Code)

	rec := do()
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
}

func TestMiddlewareDisabledByZeroLimit(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := NewMiddleware(0, time.Minute, logger)

	handler := m.PerDevice(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for range 50 {
		req := httptest.NewRequest(http.MethodPost, "/readings", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}
