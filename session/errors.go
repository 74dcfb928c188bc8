package session

import "errors"

var (
	// ErrInvalid is returned for a refresh secret that is unknown, revoked or
	// expired.
	ErrInvalid = errors.New("session: invalid refresh session")
	// ErrNotFound is returned by repositories when no session matches.
	ErrNotFound = errors.New("session: not found")
	// ErrDuplicateSecret is returned by Repository.Issue on a hash collision.
	ErrDuplicateSecret = errors.New("session: duplicate secret hash")
	// ErrRedisUnavailable wraps failures of the Redis repository.
	ErrRedisUnavailable = errors.New("session: redis unavailable")
)
