// Package requestcontext provides HTTP-independent context accessors for
// request-scoped values. Middleware sets them, services read them; keeping
// the package free of net/http lets the engine and workers consume the same
// accessors.
//
// Usage in services (read values):
//
//	deviceID := requestcontext.DeviceID(ctx)
//	now := requestcontext.Now(ctx)
//
// Usage in tests (inject values):
//
//	ctx = requestcontext.WithTime(ctx, fixedTime)
package requestcontext

import (
	"context"
	"time"

	id "crono/pkg/domain"
)

// Context key types (unexported for encapsulation).
type (
	deviceIDKey     struct{}
	collectorAppKey struct{}
	requestIDKey    struct{}
	requestTimeKey  struct{}
)

// Exported context keys for tests that need context.WithValue directly.
var (
	ContextKeyDeviceID     = deviceIDKey{}
	ContextKeyCollectorApp = collectorAppKey{}
	ContextKeyRequestID    = requestIDKey{}
	ContextKeyRequestTime  = requestTimeKey{}
)

// DeviceID retrieves the authenticated collector device ID from the context.
// Returns the zero value (nil UUID) if not set.
func DeviceID(ctx context.Context) id.DeviceID {
	if deviceID, ok := ctx.Value(ContextKeyDeviceID).(id.DeviceID); ok {
		return deviceID
	}
	return id.DeviceID{}
}

// WithDeviceID injects a device ID into the context. Useful for service unit
// tests that don't run the full HTTP middleware chain.
func WithDeviceID(ctx context.Context, deviceID id.DeviceID) context.Context {
	return context.WithValue(ctx, ContextKeyDeviceID, deviceID)
}

// CollectorApp retrieves the collector app name/version parsed from the
// User-Agent header, for diagnostics only.
func CollectorApp(ctx context.Context) string {
	if app, ok := ctx.Value(ContextKeyCollectorApp).(string); ok {
		return app
	}
	return ""
}

// WithCollectorApp injects the collector app description into a context.
func WithCollectorApp(ctx context.Context, app string) context.Context {
	return context.WithValue(ctx, ContextKeyCollectorApp, app)
}

// RequestID retrieves the request ID from the context.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return reqID
	}
	return ""
}

// WithRequestID injects a request ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// Now retrieves the request-scoped time from context. Falls back to
// time.Now() if not set (workers, CLI, tests that don't care).
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context. Useful for:
//   - Service unit tests that don't run the full HTTP middleware chain
//   - Workers that need consistent time within a batch operation
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}
