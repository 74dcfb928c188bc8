package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const issueRetries = 3

// Config controls session lifetime and the device cap.
type Config struct {
	MaxDevices int
	TTL        time.Duration
}

// DefaultConfig returns a 5 device cap and a 7 day lifetime.
func DefaultConfig() Config {
	return Config{MaxDevices: 5, TTL: 7 * 24 * time.Hour}
}

// Minter issues the short-lived access credential returned by Refresh.
type Minter interface {
	MintAccess(ctx context.Context, principalID string) (string, error)
}

// MinterFunc adapts a function to [Minter].
type MinterFunc func(ctx context.Context, principalID string) (string, error)

// MintAccess calls f.
func (f MinterFunc) MintAccess(ctx context.Context, principalID string) (string, error) {
	return f(ctx, principalID)
}

// IssueRequest describes a new session.
type IssueRequest struct {
	PrincipalID string
	DeviceID    string
	DeviceLabel string
	OriginIP    string
	UserAgent   string
}

// IssueResult is the outcome of Issue. Secret is the only plaintext copy.
type IssueResult struct {
	Secret  string
	Session *Session
	Evicted []*Session
}

// Store is the session lifecycle manager.
type Store struct {
	repo   Repository
	minter Minter
	config Config
	now    func() time.Time
}

// NewStore creates a store. now may be nil.
func NewStore(repo Repository, minter Minter, cfg Config, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	if cfg.MaxDevices <= 0 {
		cfg.MaxDevices = DefaultConfig().MaxDevices
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultConfig().TTL
	}
	return &Store{repo: repo, minter: minter, config: cfg, now: now}
}

// Config returns the effective configuration.
func (s *Store) Config() Config {
	return s.config
}

// Issue creates a session for req.PrincipalID, evicting the oldest active
// sessions when the device cap is reached.
func (s *Store) Issue(ctx context.Context, req IssueRequest) (*IssueResult, error) {
	if req.PrincipalID == "" {
		return nil, errors.New("session: empty principal id")
	}
	for attempt := 0; ; attempt++ {
		secret, hash, err := NewSecret()
		if err != nil {
			return nil, err
		}
		now := s.now()
		sess := &Session{
			ID:          uuid.NewString(),
			SecretHash:  hash,
			PrincipalID: req.PrincipalID,
			DeviceID:    req.DeviceID,
			DeviceLabel: req.DeviceLabel,
			OriginIP:    req.OriginIP,
			UserAgent:   req.UserAgent,
			IssuedAt:    now,
			ExpiresAt:   now.Add(s.config.TTL),
			LastUsedAt:  now,
		}
		evicted, err := s.repo.Issue(ctx, sess, s.config.MaxDevices, now)
		if errors.Is(err, ErrDuplicateSecret) && attempt < issueRetries {
			continue
		}
		if err != nil {
			return nil, err
		}
		return &IssueResult{Secret: secret, Session: sess, Evicted: evicted}, nil
	}
}

// Refresh validates secret and mints a new access credential for its
// principal. A session that is found but no longer active is deleted, and
// every later call with the same secret fails the same way.
func (s *Store) Refresh(ctx context.Context, secret string) (string, *Session, error) {
	hash, err := HashSecret(secret)
	if err != nil {
		return "", nil, err
	}
	sess, err := s.repo.FindBySecretHash(ctx, hash)
	if errors.Is(err, ErrNotFound) {
		return "", nil, ErrInvalid
	}
	if err != nil {
		return "", nil, err
	}

	now := s.now()
	if !sess.Active(now) {
		if err := s.repo.Delete(ctx, hash); err != nil {
			return "", nil, err
		}
		return "", nil, ErrInvalid
	}

	if err := s.repo.Touch(ctx, hash, now); err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", nil, ErrInvalid
		}
		return "", nil, err
	}
	sess.LastUsedAt = now

	access, err := s.minter.MintAccess(ctx, sess.PrincipalID)
	if err != nil {
		return "", nil, fmt.Errorf("session: mint access: %w", err)
	}
	return access, sess, nil
}

// Lookup returns the session for secret without changing it.
func (s *Store) Lookup(ctx context.Context, secret string) (*Session, error) {
	hash, err := HashSecret(secret)
	if err != nil {
		return nil, err
	}
	sess, err := s.repo.FindBySecretHash(ctx, hash)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalid
	}
	return sess, err
}

// Revoke revokes the single session identified by secret. Revoking an
// unknown or already revoked session is not an error.
func (s *Store) Revoke(ctx context.Context, secret string) error {
	hash, err := HashSecret(secret)
	if err != nil {
		return err
	}
	_, err = s.repo.Revoke(ctx, hash)
	return err
}

// RevokeAll revokes every session of principalID.
func (s *Store) RevokeAll(ctx context.Context, principalID string) (int, error) {
	return s.repo.RevokePrincipal(ctx, principalID, "")
}

// RevokeDevice revokes the sessions of principalID bound to deviceID.
func (s *Store) RevokeDevice(ctx context.Context, principalID, deviceID string) (int, error) {
	if deviceID == "" {
		return 0, errors.New("session: empty device id")
	}
	return s.repo.RevokePrincipal(ctx, principalID, deviceID)
}

// ActiveSessions lists the principal's active sessions, oldest first.
func (s *Store) ActiveSessions(ctx context.Context, principalID string) ([]*Session, error) {
	return s.repo.FindActiveByPrincipal(ctx, principalID, s.now())
}

// Purge deletes revoked and expired sessions.
func (s *Store) Purge(ctx context.Context) (int, error) {
	return s.repo.Purge(ctx, s.now())
}
