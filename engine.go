package authgate

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/travelmate/authgate/attempt"
	"github.com/travelmate/authgate/internal/dispatch"
	"github.com/travelmate/authgate/jwt"
	"github.com/travelmate/authgate/quota"
	"github.com/travelmate/authgate/session"
)

// Engine is the entry point for login, session and request-quota operations.
// It is safe for concurrent use. Build one with [New].
type Engine struct {
	config Config
	logger *slog.Logger
	now    func() time.Time

	limiter   *quota.Limiter
	endpoints endpointTable
	guard     *attempt.Guard
	lockout   *attempt.Lockout
	sessions  *session.Store
	tokens    *jwt.Manager

	principals   PrincipalProvider
	passwords    PasswordVerifier
	secondFactor SecondFactorVerifier
	notifier     Notifier
	locator      LocationResolver

	metrics *Metrics
	audit   *dispatch.Dispatcher[AuditEvent]
	alerts  *dispatch.Dispatcher[AnomalyAlert]
}

// Close drains the audit and notification queues.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.alerts.Close()
	e.audit.Close()
}

// Config returns a copy of the effective configuration.
func (e *Engine) Config() Config {
	return e.config
}

// Metrics returns the engine counters.
func (e *Engine) Metrics() *Metrics {
	return e.metrics
}

// MetricsSnapshot copies the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	return e.metrics.Snapshot()
}

// AuditDropped returns the number of audit events dropped on a full buffer.
func (e *Engine) AuditDropped() uint64 {
	return e.audit.Dropped()
}

// Logger returns the engine logger.
func (e *Engine) Logger() *slog.Logger {
	return e.logger
}

// EndpointScope returns the quota scope of the longest configured endpoint
// prefix matching path.
func (e *Engine) EndpointScope(path string) (string, bool) {
	return e.endpoints.match(path)
}

// ConsumeQuota charges one token from (scope, identity).
func (e *Engine) ConsumeQuota(ctx context.Context, scope, identity string) error {
	return e.ConsumeQuotaAll(ctx, quota.Check{Scope: scope, Identity: identity, Cost: 1})
}

// ConsumeQuotaAll charges each check in order and stops at the first denial,
// returning ErrRateLimitExceeded. Later scopes are not charged.
func (e *Engine) ConsumeQuotaAll(ctx context.Context, checks ...quota.Check) error {
	cctx, cancel := e.bounded(ctx)
	defer cancel()

	denied, err := e.limiter.TryConsumeAll(cctx, checks...)
	if err != nil {
		return e.fail(ctx, "quota", err)
	}
	if denied != nil {
		e.metrics.Inc(MetricRateLimitHit)
		e.logger.LogAttrs(ctx, slog.LevelDebug, "rate limit exceeded",
			slog.String("scope", denied.Scope),
			slog.String("identity", denied.Identity),
		)
		return newError(KindRateLimitExceeded)
	}
	return nil
}

// ValidateAccess verifies an access token by signature and expiry only.
// It returns ErrExpiredCredential or ErrMalformedCredential on failure.
func (e *Engine) ValidateAccess(token string) (*jwt.AccessClaims, error) {
	claims, err := e.tokens.ParseAccess(token)
	switch {
	case err == nil:
		e.metrics.Inc(MetricAccessValid)
		return claims, nil
	case errors.Is(err, jwt.ErrExpired):
		e.metrics.Inc(MetricAccessExpired)
		return nil, newError(KindExpiredCredential)
	default:
		e.metrics.Inc(MetricAccessMalformed)
		return nil, newError(KindMalformedCredential)
	}
}

// Identify turns a bearer token into an Identity. An empty token yields an
// anonymous identity; a rejected one records why.
func (e *Engine) Identify(token string) *Identity {
	if token == "" {
		return &Identity{Status: StatusAnonymous}
	}
	claims, err := e.ValidateAccess(token)
	if err != nil {
		if KindOf(err) == KindExpiredCredential {
			return &Identity{Status: StatusExpired}
		}
		return &Identity{Status: StatusMalformed}
	}
	id := &Identity{
		PrincipalID: claims.PrincipalID(),
		Email:       claims.Email,
		Name:        claims.Name,
		Status:      StatusAuthenticated,
	}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}
	return id
}

// bounded derives the context for one collaborator call.
func (e *Engine) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.config.CollaboratorTimeout)
}

// fail logs an infrastructure error and hides it behind ErrInternal.
func (e *Engine) fail(ctx context.Context, op string, err error) error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	e.logger.LogAttrs(ctx, slog.LevelError, "collaborator failure",
		slog.String("op", op),
		slog.String("error", err.Error()),
		slog.Bool("timeout", errors.Is(err, context.DeadlineExceeded)),
	)
	return internalError(err)
}

func (e *Engine) emit(ctx context.Context, ev AuditEvent) {
	if e.audit == nil {
		return
	}
	ev.ID = uuid.NewString()
	if ev.Timestamp.IsZero() {
		ev.Timestamp = e.now()
	}
	e.audit.Submit(ctx, ev)
}
