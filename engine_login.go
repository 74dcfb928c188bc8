package authgate

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/travelmate/authgate/attempt"
	"github.com/travelmate/authgate/session"
)

// Login authenticates a credential/password pair and, on success, issues a
// refresh session and an access token.
//
// Order of checks: the (credential, IP) attempt throttle, principal lookup,
// account lock, password, second factor. Throttle and lock are reserved
// before the password is compared, so concurrent guesses are bounded by
// MaxAttempts and the lockout threshold. Unknown credentials are reported as
// ErrInvalidCredential and count as failures. A principal with two-factor
// enabled who sends no code gets a result with RequiresSecondFactor set and
// no tokens; nothing is recorded in that case.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	start := e.now()
	defer func() { e.metrics.Observe(MetricLoginLatency, e.now().Sub(start)) }()

	cred := attempt.NormalizeCredential(req.Credential)
	if cred == "" || req.Password == "" {
		e.metrics.Inc(MetricLoginFailure)
		return nil, newError(KindInvalidCredential)
	}

	cctx, cancel := e.bounded(ctx)
	left, allowed, err := e.guard.Reserve(cctx, cred, req.OriginIP)
	cancel()
	if err != nil {
		return nil, e.fail(ctx, "attempt.reserve", err)
	}
	if !allowed {
		e.metrics.Inc(MetricLoginTooManyAttempts)
		e.emit(ctx, AuditEvent{EventType: AuditLoginBlocked, IP: req.OriginIP, Error: ErrTooManyAttempts.Code})
		return nil, newError(KindTooManyAttempts)
	}
	held := &heldAttempt{cred: cred, ip: req.OriginIP, guard: true}
	defer e.release(ctx, held)

	cctx, cancel = e.bounded(ctx)
	principal, err := e.principals.FindByCredential(cctx, cred)
	cancel()
	if errors.Is(err, ErrPrincipalNotFound) {
		held.guard = false
		return nil, e.loginFailed(ctx, "", req.OriginIP, left, time.Time{})
	}
	if err != nil {
		return nil, e.fail(ctx, "principal.find", err)
	}

	cctx, cancel = e.bounded(ctx)
	lockedUntil, err := e.lockout.Reserve(cctx, principal.ID)
	cancel()
	var locked *attempt.LockedError
	if errors.As(err, &locked) {
		e.metrics.Inc(MetricLoginLocked)
		e.emit(ctx, AuditEvent{EventType: AuditLoginBlocked, PrincipalID: principal.ID, IP: req.OriginIP, Error: ErrAccountLocked.Code})
		return nil, lockedError(locked.Remaining)
	}
	if err != nil {
		return nil, e.fail(ctx, "lockout.reserve", err)
	}
	held.principalID = principal.ID

	ok, err := e.passwords.Verify(req.Password, principal.PasswordHash)
	if err != nil {
		e.logger.LogAttrs(ctx, slog.LevelWarn, "password hash rejected",
			slog.String("principal_id", principal.ID),
			slog.String("error", err.Error()),
		)
		ok = false
	}
	if !ok {
		held.guard, held.principalID = false, ""
		return nil, e.loginFailed(ctx, principal.ID, req.OriginIP, left, lockedUntil)
	}

	if principal.TwoFactorEnabled {
		if req.TOTPCode == "" {
			e.metrics.Inc(MetricLoginSecondFactorRequired)
			e.emit(ctx, AuditEvent{EventType: AuditSecondFactorRequired, PrincipalID: principal.ID, IP: req.OriginIP})
			return &LoginResult{RequiresSecondFactor: true, PrincipalID: principal.ID}, nil
		}
		valid, err := e.secondFactor.Verify(principal.TOTPSecret, req.TOTPCode)
		if err != nil || !valid {
			// Second-factor failures count toward the attempt throttle only;
			// the lockout reservation is released on return.
			held.guard = false
			return nil, e.loginFailed(ctx, principal.ID, req.OriginIP, left, time.Time{})
		}
	}

	cctx, cancel = e.bounded(ctx)
	err = e.lockout.Reset(cctx, principal.ID)
	cancel()
	if err != nil {
		return nil, e.fail(ctx, "lockout.reset", err)
	}
	held.principalID = ""

	newOrigin := e.checkOrigin(ctx, principal, req)

	cctx, cancel = e.bounded(ctx)
	_, err = e.guard.CheckAndRecord(cctx, cred, req.OriginIP, true)
	cancel()
	if err != nil {
		return nil, e.fail(ctx, "attempt.clear", err)
	}
	held.guard = false

	cctx, cancel = e.bounded(ctx)
	issued, err := e.sessions.Issue(cctx, session.IssueRequest{
		PrincipalID: principal.ID,
		DeviceID:    req.DeviceID,
		DeviceLabel: req.DeviceLabel,
		OriginIP:    req.OriginIP,
		UserAgent:   req.UserAgent,
	})
	cancel()
	if err != nil {
		return nil, e.fail(ctx, "session.issue", err)
	}
	e.metrics.Inc(MetricSessionCreated)
	e.emit(ctx, AuditEvent{
		EventType:   AuditSessionIssued,
		PrincipalID: principal.ID,
		SessionID:   issued.Session.ID,
		DeviceID:    issued.Session.DeviceID,
		IP:          req.OriginIP,
		Success:     true,
	})
	for _, ev := range issued.Evicted {
		e.metrics.Inc(MetricSessionEvicted)
		e.logger.LogAttrs(ctx, slog.LevelInfo, "session evicted by device cap",
			slog.String("principal_id", principal.ID),
			slog.String("session_id", ev.ID),
			slog.String("device_id", ev.DeviceID),
		)
		e.emit(ctx, AuditEvent{EventType: AuditSessionEvicted, PrincipalID: principal.ID, SessionID: ev.ID, DeviceID: ev.DeviceID})
	}

	access, exp, err := e.tokens.CreateAccess(principal.ID, principal.Email, principal.Name)
	if err != nil {
		return nil, e.fail(ctx, "jwt.create", err)
	}

	e.metrics.Inc(MetricLoginSuccess)
	e.emit(ctx, AuditEvent{EventType: AuditLoginSuccess, PrincipalID: principal.ID, SessionID: issued.Session.ID, IP: req.OriginIP, Success: true})
	e.logger.LogAttrs(ctx, slog.LevelInfo, "login succeeded",
		slog.String("principal_id", principal.ID),
		slog.String("ip", req.OriginIP),
		slog.String("device_id", req.DeviceID),
	)

	return &LoginResult{
		PrincipalID:     principal.ID,
		AccessToken:     access,
		AccessExpiresAt: exp,
		RefreshToken:    issued.Secret,
		Session:         issued.Session,
		NewOrigin:       newOrigin,
	}, nil
}

// heldAttempt tracks the reservations a Login still holds. Whatever is held
// when Login returns is handed back, since that attempt must not count.
type heldAttempt struct {
	cred, ip    string
	guard       bool
	principalID string
}

func (e *Engine) release(ctx context.Context, h *heldAttempt) {
	ctx = context.WithoutCancel(ctx)
	if h.principalID != "" {
		cctx, cancel := e.bounded(ctx)
		err := e.lockout.Release(cctx, h.principalID)
		cancel()
		if err != nil {
			e.logger.LogAttrs(ctx, slog.LevelWarn, "lockout release failed",
				slog.String("principal_id", h.principalID),
				slog.String("error", err.Error()),
			)
		}
	}
	if h.guard {
		cctx, cancel := e.bounded(ctx)
		err := e.guard.Release(cctx, h.cred, h.ip)
		cancel()
		if err != nil {
			e.logger.LogAttrs(ctx, slog.LevelWarn, "attempt release failed",
				slog.String("ip", h.ip),
				slog.String("error", err.Error()),
			)
		}
	}
}

// loginFailed reports a failure whose reservations stand. left is the number
// of attempts the throttle still allows; lockedUntil is set when this failure
// locked the account, which takes precedence.
func (e *Engine) loginFailed(ctx context.Context, principalID, ip string, left int, lockedUntil time.Time) error {
	e.metrics.Inc(MetricLoginFailure)

	switch {
	case !lockedUntil.IsZero():
		remaining := lockedUntil.Sub(e.now())
		e.metrics.Inc(MetricLoginLocked)
		e.emit(ctx, AuditEvent{EventType: AuditAccountLocked, PrincipalID: principalID, IP: ip, Error: ErrAccountLocked.Code})
		e.logger.LogAttrs(ctx, slog.LevelWarn, "account locked",
			slog.String("principal_id", principalID),
			slog.String("ip", ip),
			slog.Duration("duration", remaining),
		)
		return lockedError(remaining)
	case left <= 0:
		e.metrics.Inc(MetricLoginTooManyAttempts)
		e.emit(ctx, AuditEvent{EventType: AuditLoginFailure, PrincipalID: principalID, IP: ip, Error: ErrTooManyAttempts.Code})
		return newError(KindTooManyAttempts)
	default:
		e.emit(ctx, AuditEvent{EventType: AuditLoginFailure, PrincipalID: principalID, IP: ip, Error: ErrInvalidCredential.Code})
		return newError(KindInvalidCredential)
	}
}

// checkOrigin runs anomaly detection. It never fails the login.
func (e *Engine) checkOrigin(ctx context.Context, p *Principal, req LoginRequest) bool {
	cctx, cancel := e.bounded(ctx)
	isNew, err := e.guard.DetectAnomalousOrigin(cctx, p.ID, req.OriginIP)
	cancel()
	if err != nil {
		e.logger.LogAttrs(ctx, slog.LevelWarn, "origin check failed",
			slog.String("principal_id", p.ID),
			slog.String("error", err.Error()),
		)
		return false
	}
	if !isNew {
		return false
	}

	e.metrics.Inc(MetricAnomalousOrigin)
	e.emit(ctx, AuditEvent{EventType: AuditAnomalousOrigin, PrincipalID: p.ID, IP: req.OriginIP})
	e.logger.LogAttrs(ctx, slog.LevelWarn, "login from new origin",
		slog.String("principal_id", p.ID),
		slog.String("ip", req.OriginIP),
	)
	e.alerts.Submit(ctx, AnomalyAlert{
		PrincipalID: p.ID,
		Email:       p.Email,
		Name:        p.Name,
		OriginIP:    req.OriginIP,
		UserAgent:   req.UserAgent,
		At:          e.now(),
	})
	return true
}
