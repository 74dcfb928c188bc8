package attempt

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// recordFailureScript keeps {c: count, e: window end ms} per key. With a
// limit, a window already holding limit attempts is left alone.
// ARGV: now ms, window ms, limit (-1 for none)
// Returns {count, counted}.
const recordFailureScript = `
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local state = redis.call("HMGET", KEYS[1], "c", "e")
local count = tonumber(state[1]) or 0
local ends = tonumber(state[2]) or 0
if count == 0 or now >= ends then
  count = 0
  ends = now + window
  redis.call("HSET", KEYS[1], "e", ends)
  redis.call("PEXPIRE", KEYS[1], window)
end
if limit >= 0 and count >= limit then
  return {count, 0}
end
count = count + 1
redis.call("HSET", KEYS[1], "c", count)
return {count, 1}
`

// releaseAttemptScript decrements the count of a window still open at now.
// ARGV: now ms
const releaseAttemptScript = `
local state = redis.call("HMGET", KEYS[1], "c", "e")
local count = tonumber(state[1]) or 0
local ends = tonumber(state[2]) or 0
if count > 0 and tonumber(ARGV[1]) < ends then
  redis.call("HSET", KEYS[1], "c", count - 1)
end
return 0
`

// seenOrAddScript stores origins in a sorted set scored by expiry ms.
// ARGV: ip, now ms, ttl ms
const seenOrAddScript = `
local now = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])
local exp = tonumber(redis.call("ZSCORE", KEYS[1], ARGV[1]) or "0")
redis.call("ZADD", KEYS[1], now + ttl, ARGV[1])
redis.call("PEXPIRE", KEYS[1], ttl)
if exp > now then
  return 0
end
return 1
`

// lockoutScript keeps {f: failures, u: locked-until ms, l: last failure ms}
// and applies LockoutState.Next, or LockoutState.Reserve when ARGV[4] is
// "reserve". The key lives lockFor past the last failure, which is also when
// an unlocked count goes stale.
// ARGV: threshold, lock ms, now ms, mode
// Returns {counted, failures, until, last}.
const lockoutScript = `
local threshold = tonumber(ARGV[1])
local lockms = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local state = redis.call("HMGET", KEYS[1], "f", "u", "l")
local failures = tonumber(state[1]) or 0
local untilms = tonumber(state[2]) or 0
local last = tonumber(state[3]) or 0
if ARGV[4] == "reserve" and untilms > now then
  return {0, failures, untilms, last}
end
local stale = false
if untilms > 0 then
  stale = now >= untilms
else
  stale = last > 0 and now - last >= lockms
end
if stale then
  failures = 0
  untilms = 0
end
failures = failures + 1
last = now
if failures >= threshold then
  untilms = now + lockms
end
redis.call("HSET", KEYS[1], "f", failures, "u", untilms, "l", last)
redis.call("PEXPIRE", KEYS[1], lockms)
return {1, failures, untilms, last}
`

// releaseLockoutScript applies LockoutState.Release. ARGV: threshold
const releaseLockoutScript = `
local state = redis.call("HMGET", KEYS[1], "f")
if not state[1] then
  return 0
end
local failures = tonumber(state[1]) - 1
if failures <= 0 then
  redis.call("DEL", KEYS[1])
elseif failures < tonumber(ARGV[1]) then
  redis.call("HSET", KEYS[1], "f", failures, "u", 0)
else
  redis.call("HSET", KEYS[1], "f", failures)
end
return 1
`

// unlockScript deletes the state when it is stale at now.
// ARGV: now ms, idle ms
const unlockScript = `
local state = redis.call("HMGET", KEYS[1], "u", "l")
local untilms = tonumber(state[1]) or 0
local last = tonumber(state[2]) or 0
local now = tonumber(ARGV[1])
local stale = false
if untilms > 0 then
  stale = now >= untilms
else
  stale = last > 0 and now - last >= tonumber(ARGV[2])
end
if stale then
  redis.call("DEL", KEYS[1])
  return 1
end
return 0
`

var (
	recordFailureLua  = redis.NewScript(recordFailureScript)
	releaseAttemptLua = redis.NewScript(releaseAttemptScript)
	seenOrAddLua      = redis.NewScript(seenOrAddScript)
	lockoutLua        = redis.NewScript(lockoutScript)
	releaseLockoutLua = redis.NewScript(releaseLockoutScript)
	unlockLua         = redis.NewScript(unlockScript)
)

// RedisStore implements [Store], [OriginStore] and [LockoutStore] on Redis.
// Window, origin and lockout keys carry a PEXPIRE, so Redis reclaims them on
// its own; the sweeps only catch what a key's TTL cannot.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisStore creates a store namespaced by prefix.
func NewRedisStore(redisClient redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "attempt"
	}
	return &RedisStore{redis: redisClient, prefix: prefix}
}

func (s *RedisStore) windowKey(key string) string {
	return s.prefix + ":la:" + key
}

func (s *RedisStore) originKey(principalID string) string {
	return s.prefix + ":ko:" + principalID
}

func (s *RedisStore) lockoutKey(principalID string) string {
	return s.prefix + ":lk:" + principalID
}

// Failures implements [Store].
func (s *RedisStore) Failures(ctx context.Context, key string, now time.Time) (int, error) {
	vals, err := s.redis.HMGet(ctx, s.windowKey(key), "c", "e").Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	count := parseInt(vals[0])
	ends := parseInt(vals[1])
	if count == 0 || now.UnixMilli() >= ends {
		return 0, nil
	}
	return int(count), nil
}

// RecordFailure implements [Store].
func (s *RedisStore) RecordFailure(ctx context.Context, key string, window time.Duration, now time.Time) (int, error) {
	n, _, err := s.countAttempt(ctx, key, -1, window, now)
	return n, err
}

// Reserve implements [Store].
func (s *RedisStore) Reserve(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (int, bool, error) {
	return s.countAttempt(ctx, key, limit, window, now)
}

func (s *RedisStore) countAttempt(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (int, bool, error) {
	res, err := recordFailureLua.Run(ctx, s.redis, []string{s.windowKey(key)},
		now.UnixMilli(), window.Milliseconds(), limit).Int64Slice()
	if err != nil {
		return 0, false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(res) != 2 {
		return 0, false, fmt.Errorf("%w: unexpected script reply", ErrRedisUnavailable)
	}
	return int(res[0]), res[1] == 1, nil
}

// Release implements [Store].
func (s *RedisStore) Release(ctx context.Context, key string, now time.Time) error {
	if err := releaseAttemptLua.Run(ctx, s.redis, []string{s.windowKey(key)}, now.UnixMilli()).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Clear implements [Store].
func (s *RedisStore) Clear(ctx context.Context, key string) error {
	if err := s.redis.Del(ctx, s.windowKey(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Sweep implements [Store]. Attempt windows expire natively in Redis.
func (s *RedisStore) Sweep(context.Context, time.Time) (int, error) {
	return 0, nil
}

// SeenOrAdd implements [OriginStore].
func (s *RedisStore) SeenOrAdd(ctx context.Context, principalID, ip string, ttl time.Duration, now time.Time) (bool, error) {
	n, err := seenOrAddLua.Run(ctx, s.redis, []string{s.originKey(principalID)}, ip, now.UnixMilli(), ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n == 1, nil
}

// SweepOrigins implements [OriginStore].
func (s *RedisStore) SweepOrigins(ctx context.Context, now time.Time) (int, error) {
	max := strconv.FormatInt(now.UnixMilli(), 10)
	removed := 0
	err := s.scan(ctx, s.originKey("*"), func(key string) error {
		n, err := s.redis.ZRemRangeByScore(ctx, key, "-inf", max).Result()
		removed += int(n)
		return err
	})
	return removed, err
}

// Lockout implements [LockoutStore].
func (s *RedisStore) Lockout(ctx context.Context, principalID string) (LockoutState, error) {
	vals, err := s.redis.HMGet(ctx, s.lockoutKey(principalID), "f", "u", "l").Result()
	if err != nil {
		return LockoutState{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return lockoutState(parseInt(vals[0]), parseInt(vals[1]), parseInt(vals[2])), nil
}

// RecordLockoutFailure implements [LockoutStore].
func (s *RedisStore) RecordLockoutFailure(ctx context.Context, principalID string, threshold int, lockFor time.Duration, now time.Time) (LockoutState, error) {
	st, _, err := s.runLockout(ctx, principalID, threshold, lockFor, now, "record")
	return st, err
}

// ReserveLockout implements [LockoutStore].
func (s *RedisStore) ReserveLockout(ctx context.Context, principalID string, threshold int, lockFor time.Duration, now time.Time) (LockoutState, bool, error) {
	return s.runLockout(ctx, principalID, threshold, lockFor, now, "reserve")
}

func (s *RedisStore) runLockout(ctx context.Context, principalID string, threshold int, lockFor time.Duration, now time.Time, mode string) (LockoutState, bool, error) {
	res, err := lockoutLua.Run(ctx, s.redis, []string{s.lockoutKey(principalID)},
		threshold, lockFor.Milliseconds(), now.UnixMilli(), mode).Int64Slice()
	if err != nil {
		return LockoutState{}, false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(res) != 4 {
		return LockoutState{}, false, fmt.Errorf("%w: unexpected script reply", ErrRedisUnavailable)
	}
	return lockoutState(res[1], res[2], res[3]), res[0] == 1, nil
}

// ReleaseLockout implements [LockoutStore].
func (s *RedisStore) ReleaseLockout(ctx context.Context, principalID string, threshold int) error {
	if err := releaseLockoutLua.Run(ctx, s.redis, []string{s.lockoutKey(principalID)}, threshold).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// ResetLockout implements [LockoutStore].
func (s *RedisStore) ResetLockout(ctx context.Context, principalID string) error {
	if err := s.redis.Del(ctx, s.lockoutKey(principalID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// UnlockExpired implements [LockoutStore].
func (s *RedisStore) UnlockExpired(ctx context.Context, now time.Time, idle time.Duration) (int, error) {
	unlocked := 0
	err := s.scan(ctx, s.lockoutKey("*"), func(key string) error {
		n, err := unlockLua.Run(ctx, s.redis, []string{key}, now.UnixMilli(), idle.Milliseconds()).Int64()
		unlocked += int(n)
		return err
	})
	return unlocked, err
}

func (s *RedisStore) scan(ctx context.Context, match string, fn func(key string) error) error {
	var cursor uint64
	for {
		keys, next, err := s.redis.Scan(ctx, cursor, match, 256).Result()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		for _, key := range keys {
			if err := fn(key); err != nil {
				if errors.Is(err, ErrRedisUnavailable) {
					return err
				}
				return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

func lockoutState(failures, untilMS, lastMS int64) LockoutState {
	st := LockoutState{FailedAttempts: int(failures)}
	if untilMS > 0 {
		st.LockedUntil = time.UnixMilli(untilMS)
	}
	if lastMS > 0 {
		st.LastFailure = time.UnixMilli(lastMS)
	}
	return st
}

func parseInt(v interface{}) int64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
