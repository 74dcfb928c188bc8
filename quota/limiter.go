package quota

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Store holds bucket state. Implementations must make Take atomic per key.
type Store interface {
	// Take refills the bucket for key under p, then consumes cost tokens if
	// available. It returns whether the tokens were consumed and the token
	// count left in the bucket.
	Take(ctx context.Context, key string, p Policy, cost int, now time.Time) (bool, float64, error)
	// Sweep removes buckets that were untouched and back at capacity before
	// idleBefore. Such a bucket is indistinguishable from a fresh one.
	Sweep(ctx context.Context, idleBefore time.Time) (int, error)
}

// Check is a single scope evaluation inside [Limiter.TryConsumeAll].
type Check struct {
	Scope    string
	Identity string
	Cost     int
}

// Limiter applies registered scope policies to a [Store].
type Limiter struct {
	store Store
	now   func() time.Time

	mu       sync.RWMutex
	policies map[string]Policy
}

// Option configures a [Limiter].
type Option func(*Limiter)

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLimiter creates a limiter backed by store.
func NewLimiter(store Store, opts ...Option) *Limiter {
	l := &Limiter{
		store:    store,
		now:      time.Now,
		policies: make(map[string]Policy),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Register sets the policy for scope, replacing any previous one.
func (l *Limiter) Register(scope string, p Policy) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("scope %q: %w", scope, err)
	}
	l.mu.Lock()
	l.policies[scope] = p
	l.mu.Unlock()
	return nil
}

// Policy returns the policy registered for scope.
func (l *Limiter) Policy(scope string) (Policy, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.policies[scope]
	return p, ok
}

// TryConsume takes cost tokens from the (scope, identity) bucket.
// A false result with a nil error means the caller is throttled.
func (l *Limiter) TryConsume(ctx context.Context, scope, identity string, cost int) (bool, error) {
	p, ok := l.Policy(scope)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownScope, scope)
	}
	if cost < 1 {
		cost = 1
	}
	allowed, _, err := l.store.Take(ctx, Key(scope, identity), p, cost, l.now())
	if err != nil {
		return false, err
	}
	return allowed, nil
}

// TryConsumeAll evaluates checks in order and stops at the first denial.
// Scopes after the denying one are not charged. It returns the denying
// check, or nil when every scope admitted the request.
func (l *Limiter) TryConsumeAll(ctx context.Context, checks ...Check) (*Check, error) {
	for i := range checks {
		allowed, err := l.TryConsume(ctx, checks[i].Scope, checks[i].Identity, checks[i].Cost)
		if err != nil {
			return nil, err
		}
		if !allowed {
			denied := checks[i]
			return &denied, nil
		}
	}
	return nil, nil
}

// Sweep evicts buckets that have sat full and untouched for longer than
// idleFor. Buckets still refilling are kept whatever idleFor is.
func (l *Limiter) Sweep(ctx context.Context, idleFor time.Duration) (int, error) {
	return l.store.Sweep(ctx, l.now().Add(-idleFor))
}

// Key builds the composite bucket key for a scope and identity.
func Key(scope, identity string) string {
	return scope + "|" + identity
}
