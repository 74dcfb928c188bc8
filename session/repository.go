package session

import (
	"context"
	"time"
)

// Repository persists sessions.
type Repository interface {
	// Issue inserts sess. If the principal already holds maxActive or more
	// active sessions at now, the oldest are revoked first (see
	// SelectEvictions). Counting, eviction and insertion are atomic per
	// principal. It returns the revoked sessions.
	Issue(ctx context.Context, sess *Session, maxActive int, now time.Time) ([]*Session, error)
	FindBySecretHash(ctx context.Context, hash [32]byte) (*Session, error)
	// FindActiveByPrincipal returns active sessions ordered by IssuedAt, then ID.
	FindActiveByPrincipal(ctx context.Context, principalID string, now time.Time) ([]*Session, error)
	Touch(ctx context.Context, hash [32]byte, at time.Time) error
	Revoke(ctx context.Context, hash [32]byte) (bool, error)
	// RevokePrincipal revokes the principal's unrevoked sessions, limited to
	// deviceID when it is non-empty.
	RevokePrincipal(ctx context.Context, principalID, deviceID string) (int, error)
	Delete(ctx context.Context, hash [32]byte) error
	// Purge deletes sessions that are revoked or expired at now.
	Purge(ctx context.Context, now time.Time) (int, error)
}
