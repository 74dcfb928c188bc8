package attempt

import (
	"context"
	"time"
)

// LockoutConfig controls account lockout.
type LockoutConfig struct {
	Enabled   bool
	Threshold int
	Duration  time.Duration
}

// DefaultLockoutConfig locks an account for 30 minutes after 5 failures.
func DefaultLockoutConfig() LockoutConfig {
	return LockoutConfig{Enabled: true, Threshold: 5, Duration: 30 * time.Minute}
}

// LockoutState is the per-principal failure count and lock expiry.
type LockoutState struct {
	FailedAttempts int
	LockedUntil    time.Time
	LastFailure    time.Time
}

// Locked reports whether the state is locked at now.
func (s LockoutState) Locked(now time.Time) bool {
	return !s.LockedUntil.IsZero() && now.Before(s.LockedUntil)
}

// Stale reports whether s holds nothing that still matters at now: a lock
// that has run out, or an unlocked count whose last failure is idle longer
// than idle.
func (s LockoutState) Stale(now time.Time, idle time.Duration) bool {
	if !s.LockedUntil.IsZero() {
		return !now.Before(s.LockedUntil)
	}
	return !s.LastFailure.IsZero() && now.Sub(s.LastFailure) >= idle
}

// Next applies one failure to s at now. A stale state restarts the count, so
// failures spaced further apart than lockFor never add up to a lock.
func (s LockoutState) Next(threshold int, lockFor time.Duration, now time.Time) LockoutState {
	if s.Stale(now, lockFor) {
		s = LockoutState{}
	}
	s.FailedAttempts++
	s.LastFailure = now
	if s.FailedAttempts >= threshold {
		s.LockedUntil = now.Add(lockFor)
	}
	return s
}

// Reserve is Next for an attempt whose outcome is not known yet. It refuses,
// and returns s unchanged, while s is locked at now.
func (s LockoutState) Reserve(threshold int, lockFor time.Duration, now time.Time) (LockoutState, bool) {
	if s.Locked(now) {
		return s, false
	}
	return s.Next(threshold, lockFor, now), true
}

// Release hands back one reserved failure. The lock goes when the count drops
// below threshold.
func (s LockoutState) Release(threshold int) LockoutState {
	if s.FailedAttempts > 0 {
		s.FailedAttempts--
	}
	if s.FailedAttempts < threshold {
		s.LockedUntil = time.Time{}
	}
	return s
}

// LockoutStore persists lockout state. Every method that changes state must
// be atomic per principal.
type LockoutStore interface {
	Lockout(ctx context.Context, principalID string) (LockoutState, error)
	// RecordLockoutFailure stores LockoutState.Next applied to the current state.
	RecordLockoutFailure(ctx context.Context, principalID string, threshold int, lockFor time.Duration, now time.Time) (LockoutState, error)
	// ReserveLockout stores LockoutState.Reserve applied to the current state.
	ReserveLockout(ctx context.Context, principalID string, threshold int, lockFor time.Duration, now time.Time) (LockoutState, bool, error)
	// ReleaseLockout stores LockoutState.Release applied to the current state.
	ReleaseLockout(ctx context.Context, principalID string, threshold int) error
	ResetLockout(ctx context.Context, principalID string) error
	// UnlockExpired deletes every state that is Stale at now under idle.
	UnlockExpired(ctx context.Context, now time.Time, idle time.Duration) (int, error)
}

// Lockout enforces per-principal account locks.
type Lockout struct {
	store  LockoutStore
	config LockoutConfig
	now    func() time.Time
}

// NewLockout creates a lockout enforcer.
func NewLockout(store LockoutStore, cfg LockoutConfig, now func() time.Time) *Lockout {
	if now == nil {
		now = time.Now
	}
	return &Lockout{store: store, config: cfg, now: now}
}

// Check returns a *LockedError when principalID is currently locked.
func (l *Lockout) Check(ctx context.Context, principalID string) error {
	if l == nil || !l.config.Enabled {
		return nil
	}
	st, err := l.store.Lockout(ctx, principalID)
	if err != nil {
		return err
	}
	now := l.now()
	if st.Locked(now) {
		return &LockedError{Until: st.LockedUntil, Remaining: st.LockedUntil.Sub(now)}
	}
	return nil
}

// RecordFailure counts a failed credential check. It returns a *LockedError
// when this failure triggered the lock.
func (l *Lockout) RecordFailure(ctx context.Context, principalID string) error {
	if l == nil || !l.config.Enabled {
		return nil
	}
	now := l.now()
	st, err := l.store.RecordLockoutFailure(ctx, principalID, l.config.Threshold, l.config.Duration, now)
	if err != nil {
		return err
	}
	if st.Locked(now) {
		return &LockedError{Until: st.LockedUntil, Remaining: st.LockedUntil.Sub(now)}
	}
	return nil
}

// Reserve counts a failure against principalID before its credential is
// checked, so concurrent guesses cannot all pass [Lockout.Check] and then each
// record a failure. It returns a *LockedError, counting nothing, while the
// account is locked. A non-zero lockedUntil means this attempt locked the
// account; the lock stands if the attempt fails.
//
// Every reservation must end in Reset (success), Release (the attempt did not
// count) or nothing at all (the failure stands).
func (l *Lockout) Reserve(ctx context.Context, principalID string) (lockedUntil time.Time, err error) {
	if l == nil || !l.config.Enabled {
		return time.Time{}, nil
	}
	now := l.now()
	st, ok, err := l.store.ReserveLockout(ctx, principalID, l.config.Threshold, l.config.Duration, now)
	if err != nil {
		return time.Time{}, err
	}
	if !ok {
		return time.Time{}, &LockedError{Until: st.LockedUntil, Remaining: st.LockedUntil.Sub(now)}
	}
	if st.Locked(now) {
		return st.LockedUntil, nil
	}
	return time.Time{}, nil
}

// Release gives back a reservation whose attempt must not count.
func (l *Lockout) Release(ctx context.Context, principalID string) error {
	if l == nil || !l.config.Enabled {
		return nil
	}
	return l.store.ReleaseLockout(ctx, principalID, l.config.Threshold)
}

// Reset clears the failure count after a successful login.
func (l *Lockout) Reset(ctx context.Context, principalID string) error {
	if l == nil || !l.config.Enabled {
		return nil
	}
	return l.store.ResetLockout(ctx, principalID)
}

// UnlockExpired clears locks whose duration has passed and counts idle for a
// full lock duration.
func (l *Lockout) UnlockExpired(ctx context.Context) (int, error) {
	if l == nil || !l.config.Enabled {
		return 0, nil
	}
	return l.store.UnlockExpired(ctx, l.now(), l.config.Duration)
}
