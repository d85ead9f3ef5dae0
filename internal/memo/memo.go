// Package memo provides single-flight memoization caches: one guarded
// by a single mutex, one sharded for write-heavy keyspaces.
//
// Both stores share the same contract: for a given key, the compute
// function runs at most once concurrently, late arrivals block on the
// in-flight computation, successes are cached, and failures are evicted
// so a later call retries.
package memo

import (
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
)

// Store is the contract shared by Locked and Sharded.
type Store[K comparable, V any] interface {
	// Do returns the cached value for key, computing it via compute on
	// a miss. Concurrent callers for the same key share one computation.
	Do(key K, compute func() (V, error)) (V, error)
	// Delete evicts a single key.
	Delete(key K)
	// Clear evicts everything.
	Clear()
	// Len returns the number of settled (successfully cached) entries.
	Len() int
}

// Stats are cumulative hit/miss counters for a store.
type Stats struct {
	Hits   int64
	Misses int64
}

// entry is a single cache slot. ready is closed once the computation
// settles; waiters read val/err only after that.
type entry[V any] struct {
	ready chan struct{}
	val   V
	err   error
}

// ─── Locked ─────────────────────────────────────────────────────────────────

// Locked is a memoization cache guarded by one mutex. Simple and
// correct; contention grows with the number of distinct hot keys.
type Locked[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]*entry[V]
	hits    atomic.Int64
	misses  atomic.Int64
}

// NewLocked creates an empty single-lock cache.
func NewLocked[K comparable, V any]() *Locked[K, V] {
	return &Locked[K, V]{entries: make(map[K]*entry[V])}
}

// Do implements Store.
func (c *Locked[K, V]) Do(key K, compute func() (V, error)) (V, error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		c.mu.Unlock()
		c.hits.Add(1)
		<-e.ready
		return e.val, e.err
	}
	e := &entry[V]{ready: make(chan struct{})}
	c.entries[key] = e
	c.mu.Unlock()
	c.misses.Add(1)

	e.val, e.err = protect(compute)
	if e.err != nil {
		// Failures are not cached: evict so the next caller retries.
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
	}
	close(e.ready)
	return e.val, e.err
}

// Delete implements Store.
func (c *Locked[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear implements Store.
func (c *Locked[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[K]*entry[V])
}

// Len implements Store. In-flight entries count once they settle.
func (c *Locked[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.entries {
		select {
		case <-e.ready:
			n++
		default:
		}
	}
	return n
}

// Stats returns cumulative hit/miss counters.
func (c *Locked[K, V]) Stats() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load()}
}

// ─── Sharded ────────────────────────────────────────────────────────────────

// ShardCount is the fixed shard fan-out. Power of two so the FNV hash
// maps with a mask.
const ShardCount = 64

// Sharded distributes keys over ShardCount independently locked maps,
// cutting contention when many distinct keys are computed concurrently.
type Sharded[K comparable, V any] struct {
	shards [ShardCount]*Locked[K, V]
}

// NewSharded creates an empty sharded cache.
func NewSharded[K comparable, V any]() *Sharded[K, V] {
	s := &Sharded[K, V]{}
	for i := range s.shards {
		s.shards[i] = NewLocked[K, V]()
	}
	return s
}

// shardFor picks the shard by FNV-1a over the key's printed form.
func (s *Sharded[K, V]) shardFor(key K) *Locked[K, V] {
	h := fnv.New32a()
	fmt.Fprintf(h, "%v", key)
	return s.shards[h.Sum32()&(ShardCount-1)]
}

// Do implements Store.
func (s *Sharded[K, V]) Do(key K, compute func() (V, error)) (V, error) {
	return s.shardFor(key).Do(key, compute)
}

// Delete implements Store.
func (s *Sharded[K, V]) Delete(key K) {
	s.shardFor(key).Delete(key)
}

// Clear implements Store.
func (s *Sharded[K, V]) Clear() {
	for _, sh := range s.shards {
		sh.Clear()
	}
}

// Len implements Store.
func (s *Sharded[K, V]) Len() int {
	n := 0
	for _, sh := range s.shards {
		n += sh.Len()
	}
	return n
}

// Stats sums the counters across shards.
func (s *Sharded[K, V]) Stats() Stats {
	var st Stats
	for _, sh := range s.shards {
		ss := sh.Stats()
		st.Hits += ss.Hits
		st.Misses += ss.Misses
	}
	return st
}

// protect runs compute, converting a panic into an error so a waiting
// caller is never left blocked on an entry that will never settle.
func protect[V any](compute func() (V, error)) (val V, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("memoized function panicked: %v", r)
		}
	}()
	return compute()
}
