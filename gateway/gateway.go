package gateway

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/travelmate/authgate"
	"github.com/travelmate/authgate/internal/httpx"
	"github.com/travelmate/authgate/quota"
)

// Gateway wraps HTTP handlers with quota enforcement and identity resolution.
type Gateway struct {
	engine *authgate.Engine
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the logger. The engine logger is used by default.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithClock sets the clock used for response timestamps.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) {
		if now != nil {
			g.now = now
		}
	}
}

// New returns a gateway over engine.
func New(engine *authgate.Engine, opts ...Option) *Gateway {
	g := &Gateway{engine: engine, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = engine.Logger()
	}
	return g
}

// Middleware enforces quotas and attaches an Identity to every request that
// gets through.
func (g *Gateway) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ip := ClientIP(r)

		checks := make([]quota.Check, 0, 2)
		if scope, ok := g.engine.EndpointScope(r.URL.Path); ok {
			checks = append(checks, quota.Check{Scope: scope, Identity: ip, Cost: 1})
		}
		checks = append(checks, quota.Check{Scope: authgate.ScopeIP, Identity: ip, Cost: 1})
		if err := g.engine.ConsumeQuotaAll(ctx, checks...); err != nil {
			g.reject(w, r, ip, err)
			return
		}

		token, present := bearerToken(r.Header.Get("Authorization"))
		var id *authgate.Identity
		if present && token == "" {
			id = &authgate.Identity{Status: authgate.StatusMalformed}
		} else {
			id = g.engine.Identify(token)
		}

		if id.Authenticated() {
			if err := g.engine.ConsumeQuota(ctx, authgate.ScopePrincipal, id.PrincipalID); err != nil {
				g.reject(w, r, ip, err)
				return
			}
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, id)))
	})
}

func (g *Gateway) reject(w http.ResponseWriter, r *http.Request, ip string, err error) {
	if authgate.KindOf(err) == authgate.KindRateLimitExceeded {
		g.logger.LogAttrs(r.Context(), slog.LevelWarn, "request throttled",
			slog.String("ip", ip),
			slog.String("path", r.URL.Path),
		)
	}
	httpx.EngineError(w, err, g.now())
}

// RequireAuthenticated rejects requests whose identity is not authenticated.
// Expired tokens get TOKEN_EXPIRED so clients know to refresh; anything else
// gets MALFORMED_TOKEN or UNAUTHENTICATED.
func (g *Gateway) RequireAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := IdentityFromContext(r.Context())
		switch {
		case id.Authenticated():
			next.ServeHTTP(w, r)
		case id != nil && id.Status == authgate.StatusExpired:
			httpx.EngineError(w, authgate.ErrExpiredCredential, g.now())
		case id != nil && id.Status == authgate.StatusMalformed:
			httpx.EngineError(w, authgate.ErrMalformedCredential, g.now())
		default:
			httpx.Error(w, http.StatusUnauthorized, "UNAUTHENTICATED", "authentication required", g.now())
		}
	})
}
