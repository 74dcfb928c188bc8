package attempt

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrRedisUnavailable wraps failures of the Redis backend.
	ErrRedisUnavailable = errors.New("attempt: redis unavailable")
	// ErrLocked matches any *LockedError through errors.Is.
	ErrLocked = errors.New("attempt: account locked")
)

// LockedError reports an active account lock.
type LockedError struct {
	Until     time.Time
	Remaining time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("attempt: account locked for %d more minute(s)", e.Minutes())
}

// Is makes errors.Is(err, ErrLocked) hold.
func (e *LockedError) Is(target error) bool {
	return target == ErrLocked
}

// Minutes returns the remaining lock time rounded up to whole minutes.
func (e *LockedError) Minutes() int {
	if e.Remaining <= 0 {
		return 0
	}
	return int((e.Remaining + time.Minute - 1) / time.Minute)
}
