package authgate

import (
	"context"
	"errors"
	"log/slog"

	"github.com/travelmate/authgate/session"
)

// Refresh mints a new access token from a refresh secret. The secret is not
// rotated. Unknown, revoked and expired secrets all yield ErrSessionInvalid,
// and keep doing so on repeated calls.
func (e *Engine) Refresh(ctx context.Context, secret string) (*RefreshResult, error) {
	cctx, cancel := e.bounded(ctx)
	defer cancel()

	access, sess, err := e.sessions.Refresh(cctx, secret)
	if errors.Is(err, session.ErrInvalid) {
		e.metrics.Inc(MetricRefreshFailure)
		e.emit(ctx, AuditEvent{EventType: AuditRefresh, Error: ErrSessionInvalid.Code})
		return nil, newError(KindSessionInvalid)
	}
	if err != nil {
		e.metrics.Inc(MetricRefreshFailure)
		return nil, e.fail(ctx, "session.refresh", err)
	}

	e.metrics.Inc(MetricRefreshSuccess)
	e.emit(ctx, AuditEvent{EventType: AuditRefresh, PrincipalID: sess.PrincipalID, SessionID: sess.ID, DeviceID: sess.DeviceID, Success: true})
	return &RefreshResult{
		AccessToken:     access,
		AccessExpiresAt: e.now().Add(e.tokens.TTL()),
		Session:         sess,
	}, nil
}

// Logout revokes the session behind secret. An unknown secret is not an
// error, so logout is idempotent.
func (e *Engine) Logout(ctx context.Context, secret string) error {
	cctx, cancel := e.bounded(ctx)
	defer cancel()

	sess, err := e.sessions.Lookup(cctx, secret)
	if errors.Is(err, session.ErrInvalid) {
		return nil
	}
	if err != nil {
		return e.fail(ctx, "session.lookup", err)
	}
	if err := e.sessions.Revoke(cctx, secret); err != nil {
		return e.fail(ctx, "session.revoke", err)
	}
	e.metrics.Inc(MetricSessionRevoked)
	e.emit(ctx, AuditEvent{EventType: AuditLogout, PrincipalID: sess.PrincipalID, SessionID: sess.ID, DeviceID: sess.DeviceID, Success: true})
	return nil
}

// LogoutDevice revokes every session of principalID bound to deviceID.
func (e *Engine) LogoutDevice(ctx context.Context, principalID, deviceID string) (int, error) {
	cctx, cancel := e.bounded(ctx)
	defer cancel()

	n, err := e.sessions.RevokeDevice(cctx, principalID, deviceID)
	if err != nil {
		return 0, e.fail(ctx, "session.revoke_device", err)
	}
	e.metrics.Add(MetricSessionRevoked, n)
	e.emit(ctx, AuditEvent{
		EventType:   AuditLogoutDevice,
		PrincipalID: principalID,
		DeviceID:    deviceID,
		Success:     true,
	})
	return n, nil
}

// LogoutAll revokes every session of principalID.
func (e *Engine) LogoutAll(ctx context.Context, principalID string) (int, error) {
	cctx, cancel := e.bounded(ctx)
	defer cancel()

	n, err := e.sessions.RevokeAll(cctx, principalID)
	if err != nil {
		return 0, e.fail(ctx, "session.revoke_all", err)
	}
	e.metrics.Add(MetricSessionRevoked, n)
	e.emit(ctx, AuditEvent{EventType: AuditLogoutAll, PrincipalID: principalID, Success: true})
	e.logger.LogAttrs(ctx, slog.LevelInfo, "all sessions revoked",
		slog.String("principal_id", principalID),
		slog.Int("count", n),
	)
	return n, nil
}

// Sessions lists the principal's active sessions, oldest first.
func (e *Engine) Sessions(ctx context.Context, principalID string) ([]*session.Session, error) {
	cctx, cancel := e.bounded(ctx)
	defer cancel()

	list, err := e.sessions.ActiveSessions(cctx, principalID)
	if err != nil {
		return nil, e.fail(ctx, "session.list", err)
	}
	return list, nil
}

// mintAccess backs session refresh. Display attributes are reloaded so the
// new token reflects the current profile.
func (e *Engine) mintAccess(ctx context.Context, principalID string) (string, error) {
	p, err := e.principals.FindByID(ctx, principalID)
	if errors.Is(err, ErrPrincipalNotFound) {
		return "", session.ErrInvalid
	}
	if err != nil {
		return "", err
	}
	token, _, err := e.tokens.CreateAccess(p.ID, p.Email, p.Name)
	return token, err
}
