package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/mssola/useragent"

	id "crono/pkg/domain"
	"crono/pkg/requestcontext"
)

// DeviceAuthenticator verifies a collector's API key and resolves its device
// ID. Implemented by the device registry service.
type DeviceAuthenticator interface {
	Authenticate(ctx context.Context, deviceID id.DeviceID, key string) error
}

const (
	headerDeviceID  = "X-Device-ID"
	headerDeviceKey = "X-Device-Key"
)

// DeviceAuth authenticates collector submissions. The device identifies
// itself with X-Device-ID/X-Device-Key; on success the device ID and the
// parsed collector app (from User-Agent, diagnostics only) land in context.
func DeviceAuth(auth DeviceAuthenticator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			deviceID, err := id.ParseDeviceID(r.Header.Get(headerDeviceID))
			if err != nil {
				writeUnauthorized(w, "device id required")
				return
			}
			if err := auth.Authenticate(ctx, deviceID, r.Header.Get(headerDeviceKey)); err != nil {
				logger.WarnContext(ctx, "device auth failed",
					"request_id", requestcontext.RequestID(ctx),
					"device_id", deviceID.String(),
				)
				writeUnauthorized(w, "invalid device credentials")
				return
			}

			ctx = requestcontext.WithDeviceID(ctx, deviceID)
			if app := collectorApp(r.UserAgent()); app != "" {
				ctx = requestcontext.WithCollectorApp(ctx, app)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// collectorApp condenses the collector's User-Agent into "name/version
// (os)". Handheld collectors report their app build here, which is the first
// thing support asks for when a device misbehaves.
func collectorApp(ua string) string {
	if ua == "" {
		return ""
	}
	parsed := useragent.New(ua)
	name, version := parsed.Browser()
	if name == "" {
		return ua
	}
	if os := parsed.OS(); os != "" {
		return fmt.Sprintf("%s/%s (%s)", name, version, os)
	}
	return fmt.Sprintf("%s/%s", name, version)
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	fmt.Fprintf(w, `{"error":"unauthorized","error_description":%q}`, msg)
}
