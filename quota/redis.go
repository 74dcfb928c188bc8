package quota

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// takeScript refills and consumes in one round trip.
// KEYS[1] bucket hash, KEYS[2] index scored by the ms the bucket is full again
// ARGV: capacity, refill qty, refill period ms, cost, now ms, idle ttl ms, member
const takeScript = `
local capacity = tonumber(ARGV[1])
local qty = tonumber(ARGV[2])
local period = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])
local now = tonumber(ARGV[5])
local ttl = tonumber(ARGV[6])

local tokens = capacity
local last = now
local state = redis.call("HMGET", KEYS[1], "t", "l")
if state[1] then
  tokens = tonumber(state[1])
  last = tonumber(state[2]) or now
  if now > last then
    tokens = tokens + (now - last) / period * qty
    last = now
  end
  if tokens > capacity then
    tokens = capacity
  end
end

local allowed = 0
if tokens >= cost then
  tokens = tokens - cost
  allowed = 1
end

local full = last
if tokens < capacity then
  full = last + math.ceil((capacity - tokens) / qty * period)
end

redis.call("HSET", KEYS[1], "t", tostring(tokens), "l", tostring(last))
redis.call("PEXPIRE", KEYS[1], ttl)
redis.call("ZADD", KEYS[2], full, ARGV[7])
return {allowed, tostring(tokens)}
`

var takeLua = redis.NewScript(takeScript)

// RedisStore is a [Store] shared by every replica pointing at the same Redis.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisStore creates a Redis-backed store. Keys are namespaced by prefix.
func NewRedisStore(redisClient redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "quota"
	}
	return &RedisStore{redis: redisClient, prefix: prefix}
}

func (s *RedisStore) bucketKey(key string) string {
	return s.prefix + ":b:" + key
}

func (s *RedisStore) indexKey() string {
	return s.prefix + ":idx"
}

// Take implements [Store].
func (s *RedisStore) Take(ctx context.Context, key string, p Policy, cost int, now time.Time) (bool, float64, error) {
	res, err := takeLua.Run(ctx, s.redis,
		[]string{s.bucketKey(key), s.indexKey()},
		p.Capacity,
		p.RefillQuantity,
		p.RefillPeriod.Milliseconds(),
		cost,
		now.UnixMilli(),
		idleTTL(p).Milliseconds(),
		key,
	).Slice()
	if err != nil {
		return false, 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(res) != 2 {
		return false, 0, fmt.Errorf("%w: unexpected script reply", ErrRedisUnavailable)
	}
	allowed, _ := res[0].(int64)
	raw, _ := res[1].(string)
	tokens, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return false, 0, fmt.Errorf("%w: bad token count %q", ErrRedisUnavailable, raw)
	}
	return allowed == 1, tokens, nil
}

// Sweep implements [Store]. Index scores are the time each bucket refills to
// capacity, so a drained bucket is never deleted early. Bucket hashes also
// carry a PEXPIRE, so this mostly trims the index.
func (s *RedisStore) Sweep(ctx context.Context, idleBefore time.Time) (int, error) {
	max := strconv.FormatInt(idleBefore.UnixMilli()-1, 10)
	members, err := s.redis.ZRangeByScore(ctx, s.indexKey(), &redis.ZRangeBy{Min: "-inf", Max: max}).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(members) == 0 {
		return 0, nil
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		keys := make([]string, 0, len(members))
		zmembers := make([]interface{}, 0, len(members))
		for _, m := range members {
			keys = append(keys, s.bucketKey(m))
			zmembers = append(zmembers, m)
		}
		pipe.Del(ctx, keys...)
		pipe.ZRem(ctx, s.indexKey(), zmembers...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return len(members), nil
}

// idleTTL is how long an untouched bucket must be kept: the time it takes to
// refill from empty, plus a margin. After that it is indistinguishable from a
// fresh bucket.
func idleTTL(p Policy) time.Duration {
	periods := (p.Capacity + p.RefillQuantity - 1) / p.RefillQuantity
	return time.Duration(periods)*p.RefillPeriod + time.Minute
}
