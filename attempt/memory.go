package attempt

import (
	"context"
	"sync"
	"time"
)

type window struct {
	count     int
	expiresAt time.Time
}

// MemoryStore is an in-process implementation of [Store], [OriginStore] and
// [LockoutStore].
type MemoryStore struct {
	mu       sync.Mutex
	windows  map[string]window
	origins  map[string]map[string]time.Time
	lockouts map[string]LockoutState
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		windows:  make(map[string]window),
		origins:  make(map[string]map[string]time.Time),
		lockouts: make(map[string]LockoutState),
	}
}

// Failures implements [Store].
func (s *MemoryStore) Failures(_ context.Context, key string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[key]
	if !ok || !now.Before(w.expiresAt) {
		return 0, nil
	}
	return w.count, nil
}

// RecordFailure implements [Store].
func (s *MemoryStore) RecordFailure(_ context.Context, key string, d time.Duration, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[key]
	if !ok || !now.Before(w.expiresAt) {
		w = window{expiresAt: now.Add(d)}
	}
	w.count++
	s.windows[key] = w
	return w.count, nil
}

// Reserve implements [Store].
func (s *MemoryStore) Reserve(_ context.Context, key string, limit int, d time.Duration, now time.Time) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[key]
	if !ok || !now.Before(w.expiresAt) {
		w = window{expiresAt: now.Add(d)}
	}
	if w.count >= limit {
		return w.count, false, nil
	}
	w.count++
	s.windows[key] = w
	return w.count, true, nil
}

// Release implements [Store].
func (s *MemoryStore) Release(_ context.Context, key string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[key]
	if !ok || !now.Before(w.expiresAt) || w.count == 0 {
		return nil
	}
	w.count--
	s.windows[key] = w
	return nil
}

// Clear implements [Store].
func (s *MemoryStore) Clear(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.windows, key)
	s.mu.Unlock()
	return nil
}

// Sweep implements [Store].
func (s *MemoryStore) Sweep(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key, w := range s.windows {
		if !now.Before(w.expiresAt) {
			delete(s.windows, key)
			n++
		}
	}
	return n, nil
}

// SeenOrAdd implements [OriginStore].
func (s *MemoryStore) SeenOrAdd(_ context.Context, principalID, ip string, ttl time.Duration, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.origins[principalID]
	if !ok {
		set = make(map[string]time.Time)
		s.origins[principalID] = set
	}
	exp, seen := set[ip]
	isNew := !seen || !now.Before(exp)
	set[ip] = now.Add(ttl)
	return isNew, nil
}

// SweepOrigins implements [OriginStore].
func (s *MemoryStore) SweepOrigins(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for principal, set := range s.origins {
		for ip, exp := range set {
			if !now.Before(exp) {
				delete(set, ip)
				n++
			}
		}
		if len(set) == 0 {
			delete(s.origins, principal)
		}
	}
	return n, nil
}

// Lockout implements [LockoutStore].
func (s *MemoryStore) Lockout(_ context.Context, principalID string) (LockoutState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lockouts[principalID], nil
}

// RecordLockoutFailure implements [LockoutStore].
func (s *MemoryStore) RecordLockoutFailure(_ context.Context, principalID string, threshold int, lockFor time.Duration, now time.Time) (LockoutState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.lockouts[principalID].Next(threshold, lockFor, now)
	s.lockouts[principalID] = st
	return st, nil
}

// ReserveLockout implements [LockoutStore].
func (s *MemoryStore) ReserveLockout(_ context.Context, principalID string, threshold int, lockFor time.Duration, now time.Time) (LockoutState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.lockouts[principalID].Reserve(threshold, lockFor, now)
	if ok {
		s.lockouts[principalID] = st
	}
	return st, ok, nil
}

// ReleaseLockout implements [LockoutStore].
func (s *MemoryStore) ReleaseLockout(_ context.Context, principalID string, threshold int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.lockouts[principalID]
	if !ok {
		return nil
	}
	st = st.Release(threshold)
	if st.FailedAttempts == 0 {
		delete(s.lockouts, principalID)
		return nil
	}
	s.lockouts[principalID] = st
	return nil
}

// ResetLockout implements [LockoutStore].
func (s *MemoryStore) ResetLockout(_ context.Context, principalID string) error {
	s.mu.Lock()
	delete(s.lockouts, principalID)
	s.mu.Unlock()
	return nil
}

// UnlockExpired implements [LockoutStore].
func (s *MemoryStore) UnlockExpired(_ context.Context, now time.Time, idle time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for principal, st := range s.lockouts {
		if st.Stale(now, idle) {
			delete(s.lockouts, principal)
			n++
		}
	}
	return n, nil
}
