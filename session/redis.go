package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Layout:
//
//	<prefix>:s:<hash hex>   hash  one session
//	<prefix>:p:<principal>  zset  members "<id>|<hash hex>" scored by issued-at ms
//
// Timestamps are stored as unix milliseconds. The issue and revoke scripts
// reach session hashes through the principal index rather than KEYS, so all
// keys must live on one node: Redis Cluster is not supported.

// issueScript counts active sessions, revokes the oldest when at the cap and
// inserts the new one.
// KEYS[1] principal index, KEYS[2] new session key
// ARGV[1] now ms, ARGV[2] max active, ARGV[3] session key prefix,
// ARGV[4] index member, ARGV[5] ttl ms, ARGV[6] issued-at ms, ARGV[7..] HSET pairs
const issueScript = `
if redis.call("EXISTS", KEYS[2]) == 1 then
  return {-1}
end
local now = tonumber(ARGV[1])
local max = tonumber(ARGV[2])
local active = {}
local members = redis.call("ZRANGE", KEYS[1], 0, -1)
for _, m in ipairs(members) do
  local sep = string.find(m, "|", 1, true)
  local hash = string.sub(m, sep + 1)
  local st = redis.call("HMGET", ARGV[3] .. hash, "revoked", "exp")
  if not st[1] then
    redis.call("ZREM", KEYS[1], m)
  elseif st[1] == "0" and tonumber(st[2]) > now then
    table.insert(active, hash)
  end
end
local evicted = {1}
if max > 0 and #active >= max then
  for i = 1, #active - max + 1 do
    redis.call("HSET", ARGV[3] .. active[i], "revoked", "1")
    table.insert(evicted, active[i])
  end
end
local fields = {}
for i = 7, #ARGV do
  table.insert(fields, ARGV[i])
end
redis.call("HSET", KEYS[2], unpack(fields))
redis.call("PEXPIRE", KEYS[2], ARGV[5])
redis.call("ZADD", KEYS[1], ARGV[6], ARGV[4])
local pttl = redis.call("PTTL", KEYS[1])
if pttl < tonumber(ARGV[5]) then
  redis.call("PEXPIRE", KEYS[1], ARGV[5])
end
return evicted
`

const touchScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("HSET", KEYS[1], "used", ARGV[1])
return 1
`

const revokeScript = `
local r = redis.call("HGET", KEYS[1], "revoked")
if r == "0" then
  redis.call("HSET", KEYS[1], "revoked", "1")
  return 1
end
return 0
`

// revokePrincipalScript revokes unrevoked sessions of one principal,
// optionally limited to a device id (ARGV[2]).
const revokePrincipalScript = `
local n = 0
local members = redis.call("ZRANGE", KEYS[1], 0, -1)
for _, m in ipairs(members) do
  local sep = string.find(m, "|", 1, true)
  local key = ARGV[1] .. string.sub(m, sep + 1)
  local st = redis.call("HMGET", key, "revoked", "device_id")
  if st[1] == "0" and (ARGV[2] == "" or st[2] == ARGV[2]) then
    redis.call("HSET", key, "revoked", "1")
    n = n + 1
  end
end
return n
`

var (
	issueLua           = redis.NewScript(issueScript)
	touchLua           = redis.NewScript(touchScript)
	revokeLua          = redis.NewScript(revokeScript)
	revokePrincipalLua = redis.NewScript(revokePrincipalScript)
)

// RedisRepository is a [Repository] on Redis. Session hashes expire with the
// session, so Purge mainly deals with revoked sessions and stale index members.
type RedisRepository struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisRepository creates a repository namespaced by prefix.
func NewRedisRepository(redisClient redis.UniversalClient, prefix string) *RedisRepository {
	if prefix == "" {
		prefix = "sess"
	}
	return &RedisRepository{redis: redisClient, prefix: prefix}
}

func (r *RedisRepository) sessionPrefix() string {
	return r.prefix + ":s:"
}

func (r *RedisRepository) sessionKey(hash [32]byte) string {
	return r.sessionPrefix() + HashHex(hash)
}

func (r *RedisRepository) indexKey(principalID string) string {
	return r.prefix + ":p:" + principalID
}

func indexMember(s *Session) string {
	return s.ID + "|" + HashHex(s.SecretHash)
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
}

// Issue implements [Repository].
func (r *RedisRepository) Issue(ctx context.Context, sess *Session, maxActive int, now time.Time) ([]*Session, error) {
	ttl := sess.ExpiresAt.Sub(now).Milliseconds()
	if ttl <= 0 {
		ttl = 1
	}
	args := []interface{}{
		now.UnixMilli(),
		maxActive,
		r.sessionPrefix(),
		indexMember(sess),
		ttl,
		sess.IssuedAt.UnixMilli(),
	}
	args = append(args, encodeFields(sess)...)

	res, err := issueLua.Run(ctx, r.redis,
		[]string{r.indexKey(sess.PrincipalID), r.sessionKey(sess.SecretHash)},
		args...,
	).Slice()
	if err != nil {
		return nil, unavailable(err)
	}
	if len(res) == 0 {
		return nil, unavailable(errors.New("empty issue reply"))
	}
	if code, _ := res[0].(int64); code == -1 {
		return nil, ErrDuplicateSecret
	}

	var evicted []*Session
	for _, v := range res[1:] {
		hex, _ := v.(string)
		hash, err := ParseHashHex(hex)
		if err != nil {
			return nil, unavailable(err)
		}
		s, err := r.FindBySecretHash(ctx, hash)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		evicted = append(evicted, s)
	}
	return evicted, nil
}

// FindBySecretHash implements [Repository].
func (r *RedisRepository) FindBySecretHash(ctx context.Context, hash [32]byte) (*Session, error) {
	vals, err := r.redis.HGetAll(ctx, r.sessionKey(hash)).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	if len(vals) == 0 {
		return nil, ErrNotFound
	}
	s := decodeFields(vals)
	s.SecretHash = hash
	return s, nil
}

// FindActiveByPrincipal implements [Repository].
func (r *RedisRepository) FindActiveByPrincipal(ctx context.Context, principalID string, now time.Time) ([]*Session, error) {
	all, err := r.loadPrincipal(ctx, r.indexKey(principalID))
	if err != nil {
		return nil, err
	}
	out := make([]*Session, 0, len(all))
	for _, s := range all {
		if s.Active(now) {
			out = append(out, s)
		}
	}
	SortByIssued(out)
	return out, nil
}

func (r *RedisRepository) loadPrincipal(ctx context.Context, indexKey string) ([]*Session, error) {
	members, err := r.redis.ZRange(ctx, indexKey, 0, -1).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	hashes := make([][32]byte, 0, len(members))
	cmds := make([]*redis.MapStringStringCmd, 0, len(members))
	_, err = r.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, m := range members {
			_, hex, ok := strings.Cut(m, "|")
			if !ok {
				continue
			}
			hash, err := ParseHashHex(hex)
			if err != nil {
				continue
			}
			hashes = append(hashes, hash)
			cmds = append(cmds, pipe.HGetAll(ctx, r.sessionKey(hash)))
		}
		return nil
	})
	if err != nil {
		return nil, unavailable(err)
	}

	out := make([]*Session, 0, len(cmds))
	for i, cmd := range cmds {
		vals := cmd.Val()
		if len(vals) == 0 {
			continue
		}
		s := decodeFields(vals)
		s.SecretHash = hashes[i]
		out = append(out, s)
	}
	return out, nil
}

// Touch implements [Repository].
func (r *RedisRepository) Touch(ctx context.Context, hash [32]byte, at time.Time) error {
	n, err := touchLua.Run(ctx, r.redis, []string{r.sessionKey(hash)}, at.UnixMilli()).Int64()
	if err != nil {
		return unavailable(err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Revoke implements [Repository].
func (r *RedisRepository) Revoke(ctx context.Context, hash [32]byte) (bool, error) {
	n, err := revokeLua.Run(ctx, r.redis, []string{r.sessionKey(hash)}).Int64()
	if err != nil {
		return false, unavailable(err)
	}
	return n == 1, nil
}

// RevokePrincipal implements [Repository].
func (r *RedisRepository) RevokePrincipal(ctx context.Context, principalID, deviceID string) (int, error) {
	n, err := revokePrincipalLua.Run(ctx, r.redis,
		[]string{r.indexKey(principalID)}, r.sessionPrefix(), deviceID).Int64()
	if err != nil {
		return 0, unavailable(err)
	}
	return int(n), nil
}

// Delete implements [Repository].
func (r *RedisRepository) Delete(ctx context.Context, hash [32]byte) error {
	s, err := r.FindBySecretHash(ctx, hash)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.sessionKey(hash))
		pipe.ZRem(ctx, r.indexKey(s.PrincipalID), indexMember(s))
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// Purge implements [Repository].
func (r *RedisRepository) Purge(ctx context.Context, now time.Time) (int, error) {
	purged := 0
	var cursor uint64
	for {
		keys, next, err := r.redis.Scan(ctx, cursor, r.prefix+":p:*", 256).Result()
		if err != nil {
			return purged, unavailable(err)
		}
		for _, indexKey := range keys {
			n, err := r.purgeIndex(ctx, indexKey, now)
			purged += n
			if err != nil {
				return purged, err
			}
		}
		if next == 0 {
			return purged, nil
		}
		cursor = next
	}
}

func (r *RedisRepository) purgeIndex(ctx context.Context, indexKey string, now time.Time) (int, error) {
	members, err := r.redis.ZRange(ctx, indexKey, 0, -1).Result()
	if err != nil {
		return 0, unavailable(err)
	}
	sessions, err := r.loadPrincipal(ctx, indexKey)
	if err != nil {
		return 0, err
	}
	live := make(map[string]struct{}, len(sessions))
	n := 0
	_, err = r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, s := range sessions {
			if s.Active(now) {
				live[indexMember(s)] = struct{}{}
				continue
			}
			pipe.Del(ctx, r.sessionKey(s.SecretHash))
			n++
		}
		for _, m := range members {
			if _, ok := live[m]; !ok {
				pipe.ZRem(ctx, indexKey, m)
			}
		}
		return nil
	})
	if err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}

func encodeFields(s *Session) []interface{} {
	revoked := "0"
	if s.Revoked {
		revoked = "1"
	}
	return []interface{}{
		"id", s.ID,
		"principal", s.PrincipalID,
		"device_id", s.DeviceID,
		"device_label", s.DeviceLabel,
		"ip", s.OriginIP,
		"ua", s.UserAgent,
		"iat", s.IssuedAt.UnixMilli(),
		"exp", s.ExpiresAt.UnixMilli(),
		"used", s.LastUsedAt.UnixMilli(),
		"revoked", revoked,
	}
}

func decodeFields(vals map[string]string) *Session {
	return &Session{
		ID:          vals["id"],
		PrincipalID: vals["principal"],
		DeviceID:    vals["device_id"],
		DeviceLabel: vals["device_label"],
		OriginIP:    vals["ip"],
		UserAgent:   vals["ua"],
		IssuedAt:    parseMillis(vals["iat"]),
		ExpiresAt:   parseMillis(vals["exp"]),
		LastUsedAt:  parseMillis(vals["used"]),
		Revoked:     vals["revoked"] == "1",
	}
}

func parseMillis(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
