package authgate

import (
	"context"
	"strings"
	"sync"
)

// MemoryPrincipals is a PrincipalProvider over an in-process map, keyed by
// normalized email. It suits tests and single-node demos.
type MemoryPrincipals struct {
	mu      sync.RWMutex
	byID    map[string]*Principal
	byEmail map[string]*Principal
}

func NewMemoryPrincipals(ps ...Principal) *MemoryPrincipals {
	m := &MemoryPrincipals{
		byID:    make(map[string]*Principal),
		byEmail: make(map[string]*Principal),
	}
	for _, p := range ps {
		m.Put(p)
	}
	return m
}

// Put adds or replaces p.
func (m *MemoryPrincipals) Put(p Principal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.byID[p.ID]; ok {
		delete(m.byEmail, strings.ToLower(strings.TrimSpace(old.Email)))
	}
	cp := p
	m.byID[p.ID] = &cp
	m.byEmail[strings.ToLower(strings.TrimSpace(p.Email))] = &cp
}

func (m *MemoryPrincipals) FindByCredential(_ context.Context, credentialID string) (*Principal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.byEmail[strings.ToLower(strings.TrimSpace(credentialID))]
	if !ok {
		return nil, ErrPrincipalNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryPrincipals) FindByID(_ context.Context, principalID string) (*Principal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.byID[principalID]
	if !ok {
		return nil, ErrPrincipalNotFound
	}
	cp := *p
	return &cp, nil
}
