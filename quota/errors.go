package quota

import "errors"

var (
	// ErrUnknownScope is returned when a scope has no registered policy.
	ErrUnknownScope = errors.New("quota: unknown scope")
	// ErrInvalidPolicy is returned when a policy cannot produce tokens.
	ErrInvalidPolicy = errors.New("quota: invalid policy")
	// ErrRedisUnavailable wraps failures of the Redis backend.
	ErrRedisUnavailable = errors.New("quota: redis unavailable")
)
