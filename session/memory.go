package session

import (
	"context"
	"sync"
	"time"
)

// MemoryRepository is an in-process [Repository]. A single mutex serializes
// issuance, which trivially satisfies the per-principal atomicity rule.
type MemoryRepository struct {
	mu          sync.Mutex
	byHash      map[[32]byte]*Session
	byPrincipal map[string]map[[32]byte]struct{}
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byHash:      make(map[[32]byte]*Session),
		byPrincipal: make(map[string]map[[32]byte]struct{}),
	}
}

func (r *MemoryRepository) activeLocked(principalID string, now time.Time) []*Session {
	var out []*Session
	for h := range r.byPrincipal[principalID] {
		if s := r.byHash[h]; s != nil && s.Active(now) {
			out = append(out, s)
		}
	}
	return out
}

// Issue implements [Repository].
func (r *MemoryRepository) Issue(_ context.Context, sess *Session, maxActive int, now time.Time) ([]*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byHash[sess.SecretHash]; exists {
		return nil, ErrDuplicateSecret
	}

	var evicted []*Session
	for _, s := range SelectEvictions(r.activeLocked(sess.PrincipalID, now), maxActive) {
		s.Revoked = true
		evicted = append(evicted, s.clone())
	}

	r.byHash[sess.SecretHash] = sess.clone()
	set, ok := r.byPrincipal[sess.PrincipalID]
	if !ok {
		set = make(map[[32]byte]struct{})
		r.byPrincipal[sess.PrincipalID] = set
	}
	set[sess.SecretHash] = struct{}{}
	return evicted, nil
}

// FindBySecretHash implements [Repository].
func (r *MemoryRepository) FindBySecretHash(_ context.Context, hash [32]byte) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byHash[hash]
	if !ok {
		return nil, ErrNotFound
	}
	return s.clone(), nil
}

// FindActiveByPrincipal implements [Repository].
func (r *MemoryRepository) FindActiveByPrincipal(_ context.Context, principalID string, now time.Time) ([]*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	active := r.activeLocked(principalID, now)
	out := make([]*Session, 0, len(active))
	for _, s := range active {
		out = append(out, s.clone())
	}
	SortByIssued(out)
	return out, nil
}

// Touch implements [Repository].
func (r *MemoryRepository) Touch(_ context.Context, hash [32]byte, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byHash[hash]
	if !ok {
		return ErrNotFound
	}
	s.LastUsedAt = at
	return nil
}

// Revoke implements [Repository].
func (r *MemoryRepository) Revoke(_ context.Context, hash [32]byte) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byHash[hash]
	if !ok || s.Revoked {
		return false, nil
	}
	s.Revoked = true
	return true, nil
}

// RevokePrincipal implements [Repository].
func (r *MemoryRepository) RevokePrincipal(_ context.Context, principalID, deviceID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for h := range r.byPrincipal[principalID] {
		s := r.byHash[h]
		if s == nil || s.Revoked {
			continue
		}
		if deviceID != "" && s.DeviceID != deviceID {
			continue
		}
		s.Revoked = true
		n++
	}
	return n, nil
}

// Delete implements [Repository].
func (r *MemoryRepository) Delete(_ context.Context, hash [32]byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleteLocked(hash)
	return nil
}

func (r *MemoryRepository) deleteLocked(hash [32]byte) {
	s, ok := r.byHash[hash]
	if !ok {
		return
	}
	delete(r.byHash, hash)
	if set := r.byPrincipal[s.PrincipalID]; set != nil {
		delete(set, hash)
		if len(set) == 0 {
			delete(r.byPrincipal, s.PrincipalID)
		}
	}
}

// Purge implements [Repository].
func (r *MemoryRepository) Purge(_ context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for h, s := range r.byHash {
		if !s.Active(now) {
			r.deleteLocked(h)
			n++
		}
	}
	return n, nil
}
