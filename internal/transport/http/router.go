// Package http assembles the API surface: collector endpoints behind device
// authentication, operator endpoints behind the admin token, and the public
// classification read side.
package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	classifyhandler "crono/internal/classify/handler"
	devicehandler "crono/internal/device/handler"
	ingesthandler "crono/internal/ingest/handler"
	"crono/internal/platform/middleware"
	racecontrolhandler "crono/internal/racecontrol/handler"
	"crono/internal/ratelimit"
)

const requestTimeout = 15 * time.Second

// Deps carries the wired handlers and cross-cutting dependencies.
type Deps struct {
	Ingest      *ingesthandler.Handler
	Classify    *classifyhandler.Handler
	RaceControl *racecontrolhandler.Handler
	Devices     *devicehandler.Handler

	DeviceAuth middleware.DeviceAuthenticator
	RateLimit  *ratelimit.Middleware
	AdminToken string
	Logger     *slog.Logger
}

// NewRouter builds the chi router with the full middleware chain.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestTime)
	r.Use(middleware.Logger(deps.Logger))
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// Public read side.
	deps.Classify.Register(r)

	// Collector submissions. Throttling runs after auth so the window is
	// keyed by a verified device identity, not a spoofable header.
	r.Group(func(r chi.Router) {
		r.Use(middleware.ContentTypeJSON)
		r.Use(middleware.DeviceAuth(deps.DeviceAuth, deps.Logger))
		if deps.RateLimit != nil {
			r.Use(deps.RateLimit.PerDevice)
		}
		deps.Ingest.RegisterCollector(r)
	})

	// Operator surface.
	r.Group(func(r chi.Router) {
		r.Use(middleware.ContentTypeJSON)
		r.Use(middleware.RequireAdminToken(deps.AdminToken, deps.Logger))
		deps.Ingest.RegisterAdmin(r)
		deps.RaceControl.Register(r)
		deps.Devices.Register(r)
	})

	return r
}
