package attempt

import (
	"context"
	"strings"
	"time"
)

// Config holds the attempt-throttle and known-origin settings.
type Config struct {
	MaxAttempts    int
	Window         time.Duration
	KnownOriginTTL time.Duration
}

// DefaultConfig returns 5 attempts per 30 minute window and a 30 day origin memory.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    5,
		Window:         30 * time.Minute,
		KnownOriginTTL: 30 * 24 * time.Hour,
	}
}

// Store persists attempt records. RecordFailure must be atomic per key.
type Store interface {
	// Failures returns the failure count in the window that is open at now.
	Failures(ctx context.Context, key string, now time.Time) (int, error)
	// RecordFailure increments the count for key. When no window is open at
	// now, a new one of length window starts and the count restarts at 1.
	RecordFailure(ctx context.Context, key string, window time.Duration, now time.Time) (int, error)
	// Reserve counts one attempt like RecordFailure, unless limit attempts
	// are already counted in the open window. It returns the count and
	// whether the attempt was counted.
	Reserve(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (int, bool, error)
	// Release takes back one counted attempt from the window open at now.
	Release(ctx context.Context, key string, now time.Time) error
	Clear(ctx context.Context, key string) error
	// Sweep drops records whose window closed before now.
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// OriginStore remembers origin IPs per principal, each with its own expiry.
type OriginStore interface {
	// SeenOrAdd reports whether ip was unknown (or expired) for principal,
	// and stores it with expiry now+ttl either way.
	SeenOrAdd(ctx context.Context, principalID, ip string, ttl time.Duration, now time.Time) (bool, error)
	SweepOrigins(ctx context.Context, now time.Time) (int, error)
}

// Guard is the per-(credential, IP) failed-login throttle.
type Guard struct {
	store   Store
	origins OriginStore
	config  Config
	now     func() time.Time
}

// NewGuard creates a guard. origins may be nil, in which case every origin is
// reported as known.
func NewGuard(store Store, origins OriginStore, cfg Config, now func() time.Time) *Guard {
	if now == nil {
		now = time.Now
	}
	return &Guard{store: store, origins: origins, config: cfg, now: now}
}

// Check reports whether another attempt for (credentialID, ip) may proceed.
// It does not record anything.
func (g *Guard) Check(ctx context.Context, credentialID, ip string) (bool, error) {
	n, err := g.store.Failures(ctx, Key(credentialID, ip), g.now())
	if err != nil {
		return false, err
	}
	return n < g.config.MaxAttempts, nil
}

// CheckAndRecord records the outcome of an attempt. A success clears the
// record and always returns true. A failure returns false once the count
// reaches MaxAttempts.
func (g *Guard) CheckAndRecord(ctx context.Context, credentialID, ip string, success bool) (bool, error) {
	key := Key(credentialID, ip)
	if success {
		if err := g.store.Clear(ctx, key); err != nil {
			return false, err
		}
		return true, nil
	}

	n, err := g.store.RecordFailure(ctx, key, g.config.Window, g.now())
	if err != nil {
		return false, err
	}
	return n < g.config.MaxAttempts, nil
}

// Reserve counts an attempt for (credentialID, ip) before the credential is
// checked, so concurrent guesses cannot all pass [Guard.Check] at once. It
// returns ok=false, counting nothing, once MaxAttempts attempts are in the
// window. left is how many attempts remain after this one.
//
// A reserved attempt stands as a failure unless it is cleared by
// CheckAndRecord(success) or handed back with Release.
func (g *Guard) Reserve(ctx context.Context, credentialID, ip string) (left int, ok bool, err error) {
	n, ok, err := g.store.Reserve(ctx, Key(credentialID, ip), g.config.MaxAttempts, g.config.Window, g.now())
	if err != nil || !ok {
		return 0, false, err
	}
	return g.config.MaxAttempts - n, true, nil
}

// Release hands back an attempt taken by Reserve that must not count.
func (g *Guard) Release(ctx context.Context, credentialID, ip string) error {
	return g.store.Release(ctx, Key(credentialID, ip), g.now())
}

// DetectAnomalousOrigin reports whether principalID has not logged in from ip
// within KnownOriginTTL, and remembers ip.
func (g *Guard) DetectAnomalousOrigin(ctx context.Context, principalID, ip string) (bool, error) {
	if g.origins == nil || principalID == "" || ip == "" {
		return false, nil
	}
	return g.origins.SeenOrAdd(ctx, principalID, ip, g.config.KnownOriginTTL, g.now())
}

// Sweep removes closed attempt windows and expired known origins.
func (g *Guard) Sweep(ctx context.Context) (windows, origins int, err error) {
	now := g.now()
	windows, err = g.store.Sweep(ctx, now)
	if err != nil {
		return 0, 0, err
	}
	if g.origins != nil {
		origins, err = g.origins.SweepOrigins(ctx, now)
		if err != nil {
			return windows, 0, err
		}
	}
	return windows, origins, nil
}

// NormalizeCredential trims and lower-cases a credential identifier.
func NormalizeCredential(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// Key builds the attempt-record key for a credential identifier and IP.
func Key(credentialID, ip string) string {
	return NormalizeCredential(credentialID) + "|" + ip
}
