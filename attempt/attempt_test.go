package attempt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type backend interface {
	Store
	OriginStore
	LockoutStore
}

func backends(t *testing.T) map[string]func() (backend, func()) {
	t.Helper()
	return map[string]func() (backend, func()){
		"memory": func() (backend, func()) { return NewMemoryStore(), func() {} },
		"redis": func() (backend, func()) {
			mr, err := miniredis.Run()
			if err != nil {
				t.Fatalf("miniredis start: %v", err)
			}
			rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			return NewRedisStore(rdb, "at"), func() {
				rdb.Close()
				mr.Close()
			}
		},
	}
}

func TestGuardBlocksAtMaxAttempts(t *testing.T) {
	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			store, done := mk()
			defer done()
			clock := newTestClock()
			g := NewGuard(store, store, DefaultConfig(), clock.Now)
			ctx := context.Background()

			for i := 1; i <= 4; i++ {
				ok, err := g.CheckAndRecord(ctx, "u@example.com", "10.1.1.1", false)
				if err != nil {
					t.Fatalf("record %d: %v", i, err)
				}
				if !ok {
					t.Fatalf("failure %d should still be allowed", i)
				}
				clock.Advance(2 * time.Second)
			}
			ok, err := g.CheckAndRecord(ctx, "u@example.com", "10.1.1.1", false)
			if err != nil {
				t.Fatalf("record 5: %v", err)
			}
			if ok {
				t.Fatalf("fifth failure should reach the limit")
			}

			allowed, err := g.Check(ctx, "U@Example.com ", "10.1.1.1")
			if err != nil {
				t.Fatalf("check: %v", err)
			}
			if allowed {
				t.Fatalf("sixth attempt must be blocked by the pre-check")
			}

			allowed, _ = g.Check(ctx, "u@example.com", "10.9.9.9")
			if !allowed {
				t.Fatalf("different origin must not share the record")
			}
		})
	}
}

func TestGuardSuccessResets(t *testing.T) {
	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			store, done := mk()
			defer done()
			g := NewGuard(store, store, DefaultConfig(), newTestClock().Now)
			ctx := context.Background()

			for i := 0; i < 4; i++ {
				_, _ = g.CheckAndRecord(ctx, "a@b.c", "1.1.1.1", false)
			}
			ok, err := g.CheckAndRecord(ctx, "a@b.c", "1.1.1.1", true)
			if err != nil || !ok {
				t.Fatalf("success must be allowed, ok=%v err=%v", ok, err)
			}
			n, err := store.Failures(ctx, Key("a@b.c", "1.1.1.1"), time.Now())
			if err != nil {
				t.Fatalf("failures: %v", err)
			}
			if n != 0 {
				t.Fatalf("expected count reset to 0, got %d", n)
			}
		})
	}
}

func TestGuardWindowElapsedStartsFresh(t *testing.T) {
	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			store, done := mk()
			defer done()
			clock := newTestClock()
			g := NewGuard(store, store, DefaultConfig(), clock.Now)
			ctx := context.Background()
			key := Key("a@b.c", "1.1.1.1")

			for i := 0; i < 3; i++ {
				_, _ = g.CheckAndRecord(ctx, "a@b.c", "1.1.1.1", false)
			}
			clock.Advance(31 * time.Minute)

			if n, _ := store.Failures(ctx, key, clock.Now()); n != 0 {
				t.Fatalf("expected closed window to report 0, got %d", n)
			}
			n, err := store.RecordFailure(ctx, key, 30*time.Minute, clock.Now())
			if err != nil {
				t.Fatalf("record: %v", err)
			}
			if n != 1 {
				t.Fatalf("expected fresh count of 1, got %d", n)
			}
		})
	}
}

func TestGuardConcurrentFailuresAreCounted(t *testing.T) {
	store := NewMemoryStore()
	g := NewGuard(store, nil, Config{MaxAttempts: 1000, Window: time.Hour}, newTestClock().Now)
	ctx := context.Background()

	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, _ = g.CheckAndRecord(ctx, "x", "ip", false)
		}()
	}
	close(start)
	wg.Wait()

	n, _ := store.Failures(ctx, Key("x", "ip"), newTestClock().Now())
	if n != 100 {
		t.Fatalf("expected 100 failures, got %d", n)
	}
}

func TestDetectAnomalousOrigin(t *testing.T) {
	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			store, done := mk()
			defer done()
			clock := newTestClock()
			g := NewGuard(store, store, DefaultConfig(), clock.Now)
			ctx := context.Background()

			isNew, err := g.DetectAnomalousOrigin(ctx, "p1", "203.0.113.7")
			if err != nil {
				t.Fatalf("detect: %v", err)
			}
			if !isNew {
				t.Fatalf("first sighting must be new")
			}
			isNew, _ = g.DetectAnomalousOrigin(ctx, "p1", "203.0.113.7")
			if isNew {
				t.Fatalf("second sighting within ttl must not be new")
			}
			isNew, _ = g.DetectAnomalousOrigin(ctx, "p2", "203.0.113.7")
			if !isNew {
				t.Fatalf("origins are tracked per principal")
			}

			clock.Advance(31 * 24 * time.Hour)
			isNew, _ = g.DetectAnomalousOrigin(ctx, "p1", "203.0.113.7")
			if !isNew {
				t.Fatalf("expired origin must be reported as new again")
			}
		})
	}
}

func TestSweepOriginsRemovesExpired(t *testing.T) {
	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			store, done := mk()
			defer done()
			clock := newTestClock()
			g := NewGuard(store, store, DefaultConfig(), clock.Now)
			ctx := context.Background()

			_, _ = g.DetectAnomalousOrigin(ctx, "p1", "1.1.1.1")
			clock.Advance(20 * 24 * time.Hour)
			_, _ = g.DetectAnomalousOrigin(ctx, "p1", "2.2.2.2")
			clock.Advance(15 * 24 * time.Hour)

			_, origins, err := g.Sweep(ctx)
			if err != nil {
				t.Fatalf("sweep: %v", err)
			}
			if origins != 1 {
				t.Fatalf("expected 1 expired origin, got %d", origins)
			}
		})
	}
}

func TestLockoutLifecycle(t *testing.T) {
	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			store, done := mk()
			defer done()
			clock := newTestClock()
			l := NewLockout(store, DefaultLockoutConfig(), clock.Now)
			ctx := context.Background()

			for i := 1; i < 5; i++ {
				if err := l.RecordFailure(ctx, "p1"); err != nil {
					t.Fatalf("failure %d must not lock: %v", i, err)
				}
			}
			err := l.RecordFailure(ctx, "p1")
			var locked *LockedError
			if !errors.As(err, &locked) {
				t.Fatalf("expected LockedError on threshold, got %v", err)
			}
			if locked.Minutes() != 30 {
				t.Fatalf("expected 30 minutes remaining, got %d", locked.Minutes())
			}

			clock.Advance(10 * time.Minute)
			err = l.Check(ctx, "p1")
			if !errors.Is(err, ErrLocked) {
				t.Fatalf("expected locked, got %v", err)
			}
			if !errors.As(err, &locked) || locked.Minutes() != 20 {
				t.Fatalf("expected 20 minutes remaining, got %v", err)
			}

			clock.Advance(21 * time.Minute)
			if err := l.Check(ctx, "p1"); err != nil {
				t.Fatalf("lock should have expired: %v", err)
			}
			if err := l.RecordFailure(ctx, "p1"); err != nil {
				t.Fatalf("failure after expiry must restart the count: %v", err)
			}
			st, err := store.Lockout(ctx, "p1")
			if err != nil {
				t.Fatalf("lockout: %v", err)
			}
			if st.FailedAttempts != 1 {
				t.Fatalf("expected count restarted at 1, got %d", st.FailedAttempts)
			}
		})
	}
}

func TestLockoutResetAndUnlockExpired(t *testing.T) {
	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			store, done := mk()
			defer done()
			clock := newTestClock()
			l := NewLockout(store, LockoutConfig{Enabled: true, Threshold: 2, Duration: time.Minute}, clock.Now)
			ctx := context.Background()

			_ = l.RecordFailure(ctx, "a")
			if err := l.Reset(ctx, "a"); err != nil {
				t.Fatalf("reset: %v", err)
			}
			st, _ := store.Lockout(ctx, "a")
			if st.FailedAttempts != 0 {
				t.Fatalf("expected reset count, got %d", st.FailedAttempts)
			}

			_ = l.RecordFailure(ctx, "b")
			_ = l.RecordFailure(ctx, "b")
			clock.Advance(2 * time.Minute)
			n, err := l.UnlockExpired(ctx)
			if err != nil {
				t.Fatalf("unlock: %v", err)
			}
			if n != 1 {
				t.Fatalf("expected 1 unlocked, got %d", n)
			}
		})
	}
}

func TestLockoutDisabled(t *testing.T) {
	l := NewLockout(NewMemoryStore(), LockoutConfig{}, nil)
	for i := 0; i < 10; i++ {
		if err := l.RecordFailure(context.Background(), "p"); err != nil {
			t.Fatalf("disabled lockout returned %v", err)
		}
	}
}

func TestGuardReserveBoundsConcurrentAttempts(t *testing.T) {
	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			store, done := mk()
			defer done()
			g := NewGuard(store, nil, DefaultConfig(), newTestClock().Now)
			ctx := context.Background()

			var (
				mu       sync.Mutex
				admitted int
				sawLast  bool
			)
			start := make(chan struct{})
			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					left, ok, err := g.Reserve(ctx, "ana@example.com", "203.0.113.9")
					if err != nil {
						t.Errorf("reserve: %v", err)
						return
					}
					if ok {
						mu.Lock()
						admitted++
						if left == 0 {
							sawLast = true
						}
						mu.Unlock()
					}
				}()
			}
			close(start)
			wg.Wait()

			if admitted != 5 {
				t.Fatalf("admitted %d concurrent attempts, want 5", admitted)
			}
			if !sawLast {
				t.Fatal("no reservation reported the last attempt")
			}

			if err := g.Release(ctx, "ana@example.com", "203.0.113.9"); err != nil {
				t.Fatalf("release: %v", err)
			}
			if _, ok, _ := g.Reserve(ctx, "ana@example.com", "203.0.113.9"); !ok {
				t.Fatal("released attempt not available again")
			}
			if _, ok, _ := g.Reserve(ctx, "ana@example.com", "203.0.113.9"); ok {
				t.Fatal("reserved past MaxAttempts")
			}
		})
	}
}

func TestLockoutReserveBoundsConcurrentAttempts(t *testing.T) {
	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			store, done := mk()
			defer done()
			clock := newTestClock()
			l := NewLockout(store, DefaultLockoutConfig(), clock.Now)
			ctx := context.Background()

			var (
				mu       sync.Mutex
				admitted int
				refused  int
				lockers  int
			)
			start := make(chan struct{})
			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					until, err := l.Reserve(ctx, "p-ana")
					mu.Lock()
					defer mu.Unlock()
					switch {
					case errors.Is(err, ErrLocked):
						refused++
					case err != nil:
						t.Errorf("reserve: %v", err)
					default:
						admitted++
						if !until.IsZero() {
							lockers++
						}
					}
				}()
			}
			close(start)
			wg.Wait()

			if admitted != 5 || refused != 15 || lockers != 1 {
				t.Fatalf("admitted=%d refused=%d lockers=%d, want 5/15/1", admitted, refused, lockers)
			}

			// The attempt that reached the threshold turns out not to count.
			if err := l.Release(ctx, "p-ana"); err != nil {
				t.Fatalf("release: %v", err)
			}
			if err := l.Check(ctx, "p-ana"); err != nil {
				t.Fatalf("lock should be lifted below threshold: %v", err)
			}
			st, _ := store.Lockout(ctx, "p-ana")
			if st.FailedAttempts != 4 {
				t.Fatalf("failures = %d, want 4", st.FailedAttempts)
			}
		})
	}
}

func TestLockoutIdleCountsAreForgotten(t *testing.T) {
	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			store, done := mk()
			defer done()
			clock := newTestClock()
			l := NewLockout(store, DefaultLockoutConfig(), clock.Now)
			ctx := context.Background()

			_ = l.RecordFailure(ctx, "idle")
			_ = l.RecordFailure(ctx, "idle")
			_ = l.RecordFailure(ctx, "busy")
			clock.Advance(20 * time.Minute)
			_ = l.RecordFailure(ctx, "busy")

			clock.Advance(11 * time.Minute)
			n, err := l.UnlockExpired(ctx)
			if err != nil {
				t.Fatalf("unlock: %v", err)
			}
			if n != 1 {
				t.Fatalf("swept %d states, want only the idle one", n)
			}
			if st, _ := store.Lockout(ctx, "idle"); st.FailedAttempts != 0 {
				t.Fatalf("idle count kept: %+v", st)
			}
			if st, _ := store.Lockout(ctx, "busy"); st.FailedAttempts != 2 {
				t.Fatalf("busy count = %d, want 2", st.FailedAttempts)
			}

			clock.Advance(30 * time.Minute)
			if err := l.RecordFailure(ctx, "busy"); err != nil {
				t.Fatalf("record: %v", err)
			}
			if st, _ := store.Lockout(ctx, "busy"); st.FailedAttempts != 1 {
				t.Fatalf("stale count not restarted: %d", st.FailedAttempts)
			}
		})
	}
}
