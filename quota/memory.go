package quota

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const memoryShards = 32

type bucketState struct {
	tokens     float64
	lastRefill time.Time
	// fullAt is when the bucket will be back at capacity if left alone.
	fullAt time.Time
}

type memoryShard struct {
	mu      sync.Mutex
	buckets map[string]*bucketState
}

// MemoryStore is an in-process [Store]. Buckets are spread over shards so
// unrelated identities do not contend on a single lock.
type MemoryStore struct {
	shards [memoryShards]memoryShard
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{}
	for i := range s.shards {
		s.shards[i].buckets = make(map[string]*bucketState)
	}
	return s
}

func (s *MemoryStore) shard(key string) *memoryShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &s.shards[h.Sum32()%memoryShards]
}

// Take implements [Store].
func (s *MemoryStore) Take(_ context.Context, key string, p Policy, cost int, now time.Time) (bool, float64, error) {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	b, ok := sh.buckets[key]
	if !ok {
		b = &bucketState{tokens: float64(p.Capacity), lastRefill: now}
		sh.buckets[key] = b
	} else {
		b.tokens = p.refill(b.tokens, now.Sub(b.lastRefill))
		if now.After(b.lastRefill) {
			b.lastRefill = now
		}
	}

	allowed := b.tokens >= float64(cost)
	if allowed {
		b.tokens -= float64(cost)
	}
	b.fullAt = p.fullAt(b.tokens, b.lastRefill)
	return allowed, b.tokens, nil
}

// Sweep implements [Store]. A bucket goes only if it was back at capacity
// before idleBefore; a drained bucket outlives any horizon shorter than its
// refill.
func (s *MemoryStore) Sweep(_ context.Context, idleBefore time.Time) (int, error) {
	removed := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for key, b := range sh.buckets {
			if b.fullAt.Before(idleBefore) {
				delete(sh.buckets, key)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed, nil
}

// Snapshot returns the state of key, if present.
func (s *MemoryStore) Snapshot(key string) (Bucket, bool) {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	b, ok := sh.buckets[key]
	if !ok {
		return Bucket{}, false
	}
	return Bucket{Key: key, Tokens: b.tokens, LastRefill: b.lastRefill}, true
}

// Len reports the number of live buckets.
func (s *MemoryStore) Len() int {
	n := 0
	for i := range s.shards {
		s.shards[i].mu.Lock()
		n += len(s.shards[i].buckets)
		s.shards[i].mu.Unlock()
	}
	return n
}
