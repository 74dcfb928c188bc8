package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var testMinter = MinterFunc(func(_ context.Context, principalID string) (string, error) {
	return "access-for-" + principalID, nil
})

func repositories(t *testing.T) map[string]func() (Repository, func()) {
	t.Helper()
	return map[string]func() (Repository, func()){
		"memory": func() (Repository, func()) { return NewMemoryRepository(), func() {} },
		"redis": func() (Repository, func()) {
			mr, err := miniredis.Run()
			if err != nil {
				t.Fatalf("miniredis start: %v", err)
			}
			rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			return NewRedisRepository(rdb, "ts"), func() {
				rdb.Close()
				mr.Close()
			}
		},
	}
}

func issueDevice(t *testing.T, s *Store, principal, device string) *IssueResult {
	t.Helper()
	res, err := s.Issue(context.Background(), IssueRequest{
		PrincipalID: principal,
		DeviceID:    device,
		DeviceLabel: device + " Device",
		OriginIP:    "198.51.100.10",
		UserAgent:   "test-agent",
	})
	if err != nil {
		t.Fatalf("issue %s: %v", device, err)
	}
	return res
}

func TestDeviceCapEvictsEarliestIssued(t *testing.T) {
	for name, mk := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			repo, done := mk()
			defer done()
			clock := newStepClock()
			store := NewStore(repo, testMinter, DefaultConfig(), clock.Now)
			ctx := context.Background()

			secrets := make(map[string]string)
			for _, d := range []string{"A", "B", "C", "D", "E"} {
				secrets[d] = issueDevice(t, store, "p1", d).Secret
				clock.Advance(time.Minute)
			}
			res := issueDevice(t, store, "p1", "F")
			secrets["F"] = res.Secret
			if len(res.Evicted) != 1 || res.Evicted[0].DeviceID != "A" {
				t.Fatalf("expected device A evicted, got %+v", res.Evicted)
			}

			active, err := store.ActiveSessions(ctx, "p1")
			if err != nil {
				t.Fatalf("active sessions: %v", err)
			}
			if len(active) != 5 {
				t.Fatalf("expected 5 active sessions, got %d", len(active))
			}
			if active[0].DeviceID != "B" || active[4].DeviceID != "F" {
				t.Fatalf("unexpected order: first=%s last=%s", active[0].DeviceID, active[4].DeviceID)
			}

			if _, _, err := store.Refresh(ctx, secrets["A"]); !errors.Is(err, ErrInvalid) {
				t.Fatalf("refresh with evicted secret: expected ErrInvalid, got %v", err)
			}
			for _, d := range []string{"B", "C", "D", "E", "F"} {
				access, sess, err := store.Refresh(ctx, secrets[d])
				if err != nil {
					t.Fatalf("refresh %s: %v", d, err)
				}
				if access != "access-for-p1" || sess.DeviceID != d {
					t.Fatalf("refresh %s returned %q for device %s", d, access, sess.DeviceID)
				}
			}
		})
	}
}

func TestDeviceCapTieBreaksByID(t *testing.T) {
	repo := NewMemoryRepository()
	now := time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC)
	ctx := context.Background()
	for i, id := range []string{"c", "a", "b"} {
		_, err := repo.Issue(ctx, &Session{
			ID:          id,
			SecretHash:  [32]byte{byte(i + 1)},
			PrincipalID: "p",
			IssuedAt:    now,
			ExpiresAt:   now.Add(time.Hour),
		}, 3, now)
		if err != nil {
			t.Fatalf("issue %s: %v", id, err)
		}
	}
	evicted, err := repo.Issue(ctx, &Session{
		ID:          "d",
		SecretHash:  [32]byte{9},
		PrincipalID: "p",
		IssuedAt:    now,
		ExpiresAt:   now.Add(time.Hour),
	}, 3, now)
	if err != nil {
		t.Fatalf("issue d: %v", err)
	}
	if len(evicted) != 1 || evicted[0].ID != "a" {
		t.Fatalf("expected id a evicted on tie, got %+v", evicted)
	}
}

func TestRefreshInactiveIsIdempotent(t *testing.T) {
	for name, mk := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			repo, done := mk()
			defer done()
			clock := newStepClock()
			store := NewStore(repo, testMinter, Config{MaxDevices: 5, TTL: time.Hour}, clock.Now)
			ctx := context.Background()

			revoked := issueDevice(t, store, "p1", "phone").Secret
			expired := issueDevice(t, store, "p2", "tablet").Secret
			if err := store.Revoke(ctx, revoked); err != nil {
				t.Fatalf("revoke: %v", err)
			}
			clock.Advance(30 * time.Minute)
			if _, _, err := store.Refresh(ctx, expired); err != nil {
				t.Fatalf("refresh before expiry: %v", err)
			}
			clock.Advance(31 * time.Minute)

			for i := 0; i < 2; i++ {
				if _, _, err := store.Refresh(ctx, revoked); !errors.Is(err, ErrInvalid) {
					t.Fatalf("revoked secret, call %d: expected ErrInvalid, got %v", i, err)
				}
				if _, _, err := store.Refresh(ctx, expired); !errors.Is(err, ErrInvalid) {
					t.Fatalf("expired secret, call %d: expected ErrInvalid, got %v", i, err)
				}
			}
			if _, _, err := store.Refresh(ctx, "not-a-secret"); !errors.Is(err, ErrInvalid) {
				t.Fatalf("malformed secret: expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestRefreshUpdatesLastUsed(t *testing.T) {
	for name, mk := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			repo, done := mk()
			defer done()
			clock := newStepClock()
			store := NewStore(repo, testMinter, DefaultConfig(), clock.Now)

			secret := issueDevice(t, store, "p1", "laptop").Secret
			clock.Advance(5 * time.Minute)
			if _, _, err := store.Refresh(context.Background(), secret); err != nil {
				t.Fatalf("refresh: %v", err)
			}
			sess, err := store.Lookup(context.Background(), secret)
			if err != nil {
				t.Fatalf("lookup: %v", err)
			}
			if !sess.LastUsedAt.Equal(clock.Now()) {
				t.Fatalf("expected last used %v, got %v", clock.Now(), sess.LastUsedAt)
			}
		})
	}
}

func TestRevokeDeviceAndAll(t *testing.T) {
	for name, mk := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			repo, done := mk()
			defer done()
			store := NewStore(repo, testMinter, DefaultConfig(), newStepClock().Now)
			ctx := context.Background()

			issueDevice(t, store, "p1", "phone")
			issueDevice(t, store, "p1", "phone")
			issueDevice(t, store, "p1", "laptop")
			other := issueDevice(t, store, "p2", "phone").Secret

			n, err := store.RevokeDevice(ctx, "p1", "phone")
			if err != nil {
				t.Fatalf("revoke device: %v", err)
			}
			if n != 2 {
				t.Fatalf("expected 2 revoked, got %d", n)
			}
			active, _ := store.ActiveSessions(ctx, "p1")
			if len(active) != 1 || active[0].DeviceID != "laptop" {
				t.Fatalf("expected only laptop active, got %d sessions", len(active))
			}

			n, err = store.RevokeAll(ctx, "p1")
			if err != nil {
				t.Fatalf("revoke all: %v", err)
			}
			if n != 1 {
				t.Fatalf("expected 1 revoked, got %d", n)
			}
			if _, _, err := store.Refresh(ctx, other); err != nil {
				t.Fatalf("other principal must be unaffected: %v", err)
			}
		})
	}
}

func TestPurgeRemovesInactive(t *testing.T) {
	for name, mk := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			repo, done := mk()
			defer done()
			clock := newStepClock()
			store := NewStore(repo, testMinter, Config{MaxDevices: 5, TTL: time.Hour}, clock.Now)
			ctx := context.Background()

			revoked := issueDevice(t, store, "p1", "a").Secret
			_ = store.Revoke(ctx, revoked)
			issueDevice(t, store, "p1", "b")
			clock.Advance(30 * time.Minute)
			live := issueDevice(t, store, "p1", "c").Secret
			clock.Advance(45 * time.Minute)

			n, err := store.Purge(ctx)
			if err != nil {
				t.Fatalf("purge: %v", err)
			}
			if n != 2 {
				t.Fatalf("expected 2 purged, got %d", n)
			}
			if _, err := store.Lookup(ctx, revoked); !errors.Is(err, ErrInvalid) {
				t.Fatalf("purged session still present: %v", err)
			}
			if _, _, err := store.Refresh(ctx, live); err != nil {
				t.Fatalf("live session purged: %v", err)
			}
		})
	}
}

func TestConcurrentIssueRespectsCap(t *testing.T) {
	for name, mk := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			repo, done := mk()
			defer done()
			store := NewStore(repo, testMinter, DefaultConfig(), nil)
			ctx := context.Background()

			start := make(chan struct{})
			var wg sync.WaitGroup
			errs := make(chan error, 20)
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					<-start
					_, err := store.Issue(ctx, IssueRequest{PrincipalID: "p", DeviceID: fmt.Sprintf("d%d", i)})
					if err != nil {
						errs <- err
					}
				}(i)
			}
			close(start)
			wg.Wait()
			close(errs)
			for err := range errs {
				t.Fatalf("issue: %v", err)
			}

			active, err := store.ActiveSessions(ctx, "p")
			if err != nil {
				t.Fatalf("active: %v", err)
			}
			if len(active) != 5 {
				t.Fatalf("expected exactly 5 active sessions, got %d", len(active))
			}
		})
	}
}

type collidingRepo struct {
	*MemoryRepository
	failures int
}

func (r *collidingRepo) Issue(ctx context.Context, sess *Session, maxActive int, now time.Time) ([]*Session, error) {
	if r.failures > 0 {
		r.failures--
		return nil, ErrDuplicateSecret
	}
	return r.MemoryRepository.Issue(ctx, sess, maxActive, now)
}

func TestIssueRetriesDuplicateSecret(t *testing.T) {
	repo := &collidingRepo{MemoryRepository: NewMemoryRepository(), failures: 2}
	store := NewStore(repo, testMinter, DefaultConfig(), nil)
	if _, err := store.Issue(context.Background(), IssueRequest{PrincipalID: "p"}); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}

	repo.failures = 10
	if _, err := store.Issue(context.Background(), IssueRequest{PrincipalID: "p"}); !errors.Is(err, ErrDuplicateSecret) {
		t.Fatalf("expected ErrDuplicateSecret after retries, got %v", err)
	}
}

func TestSecretEncoding(t *testing.T) {
	secret, hash, err := NewSecret()
	if err != nil {
		t.Fatalf("new secret: %v", err)
	}
	if len(secret) != 43 {
		t.Fatalf("expected 43 char base64url secret, got %d", len(secret))
	}
	got, err := HashSecret(secret)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if got != hash {
		t.Fatalf("hash mismatch")
	}
	back, err := ParseHashHex(HashHex(hash))
	if err != nil || back != hash {
		t.Fatalf("hex round trip failed: %v", err)
	}
}
