package quota

import (
	"fmt"
	"math"
	"time"
)

// Policy describes a bucket: how many tokens it holds and how fast it refills.
type Policy struct {
	Capacity       int
	RefillQuantity int
	RefillPeriod   time.Duration
}

// PerMinute returns a policy admitting n requests per minute with bursts of n.
func PerMinute(n int) Policy {
	return Policy{Capacity: n, RefillQuantity: n, RefillPeriod: time.Minute}
}

// Validate reports whether the policy can ever admit a request.
func (p Policy) Validate() error {
	if p.Capacity <= 0 {
		return fmt.Errorf("%w: capacity must be > 0", ErrInvalidPolicy)
	}
	if p.RefillQuantity <= 0 {
		return fmt.Errorf("%w: refill quantity must be > 0", ErrInvalidPolicy)
	}
	if p.RefillPeriod <= 0 {
		return fmt.Errorf("%w: refill period must be > 0", ErrInvalidPolicy)
	}
	return nil
}

// refill returns the token count after elapsed time, saturating at capacity.
func (p Policy) refill(tokens float64, elapsed time.Duration) float64 {
	if elapsed > 0 {
		tokens += float64(elapsed) / float64(p.RefillPeriod) * float64(p.RefillQuantity)
	}
	if tokens > float64(p.Capacity) {
		tokens = float64(p.Capacity)
	}
	if tokens < 0 {
		tokens = 0
	}
	return tokens
}

// fullAt returns when a bucket holding tokens at t is back at capacity.
func (p Policy) fullAt(tokens float64, t time.Time) time.Time {
	missing := float64(p.Capacity) - tokens
	if missing <= 0 {
		return t
	}
	periods := missing / float64(p.RefillQuantity)
	return t.Add(time.Duration(math.Ceil(periods * float64(p.RefillPeriod))))
}

// Bucket is a point-in-time view of one (scope, identity) bucket.
type Bucket struct {
	Key        string
	Tokens     float64
	LastRefill time.Time
}
