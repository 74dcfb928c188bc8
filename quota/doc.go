// Package quota implements token-bucket rate limiting keyed by (scope, identity).
//
// A scope is the dimension a quota applies to: a specific endpoint, the
// caller's origin IP, or the authenticated principal. Each scope carries its
// own [Policy]; every (scope, identity) pair is an independent bucket.
//
// # Window semantics
//
// Tokens refill continuously: on every observation the bucket gains
// elapsed/RefillPeriod*RefillQuantity tokens, saturating at Capacity. A call
// consumes cost tokens only when that many are available; a denied call does
// not touch the token count.
//
// # Backends
//
//   - [MemoryStore]: sharded in-process map, one mutex per shard.
//   - [RedisStore]: a Lua script performs the read/refill/consume/write cycle
//     atomically, so a single budget is enforced across replicas.
//
// # What this package must NOT do
//
//   - Evict idle buckets from request paths. Eviction is the explicit
//     [Limiter.Sweep] maintenance operation.
//   - Treat a denial as an error. Denial is a normal outcome.
package quota
