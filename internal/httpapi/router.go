// Package httpapi exposes the engine's login and session operations over
// HTTP. Every route sits behind the gateway middleware.
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/travelmate/authgate"
	"github.com/travelmate/authgate/gateway"
	"github.com/travelmate/authgate/internal/httpx"
)

// RouterConfig holds what the router needs.
type RouterConfig struct {
	Engine *authgate.Engine
	Logger *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
	// Protected is mounted behind RequireAuthenticated under /api. Optional.
	Protected http.Handler
	// Metrics is served on GET /metrics outside the gateway. Optional.
	Metrics http.Handler
}

// NewRouter returns the HTTP handler for the auth API.
func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = cfg.Engine.Logger()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	gw := gateway.New(cfg.Engine, gateway.WithLogger(cfg.Logger), gateway.WithClock(cfg.Now))
	h := &handler{engine: cfg.Engine, logger: cfg.Logger, now: cfg.Now}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(gw.Middleware)

		r.Post("/api/users/login", h.login)
		r.Post("/api/users/refresh", h.refresh)
		r.Post("/api/users/logout", h.logout)

		r.Group(func(r chi.Router) {
			r.Use(gw.RequireAuthenticated)
			r.Get("/api/users/me", h.me)
			r.Get("/api/users/sessions", h.sessions)
			r.Delete("/api/users/sessions/{deviceID}", h.logoutDevice)
			r.Post("/api/users/logout-all", h.logoutAll)
			if cfg.Protected != nil {
				r.Mount("/api", cfg.Protected)
			}
		})
	})
	return r
}
