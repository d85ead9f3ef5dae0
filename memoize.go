package makeparallel

import (
	"context"
	"time"

	"github.com/amiyamandal-dev/makeParallel/internal/memo"
	"github.com/amiyamandal-dev/makeParallel/internal/obs"
)

// ─── Memoization ────────────────────────────────────────────────────────────
// Wrappers around the single-flight cache stores. For a given key the
// wrapped function computes at most once; concurrent callers for the
// same key block on the one in-flight computation. Successes are
// cached; failures are not, so a later call retries.

// Memoized is a memoizing wrapper around a keyed function.
type Memoized[K comparable, V any] struct {
	store memo.Store[K, V]
	fn    func(context.Context, K) (V, error)
}

// Memoize wraps fn with a single-lock cache. Good default; see
// MemoizeSharded for write-heavy keyspaces.
func Memoize[K comparable, V any](fn func(context.Context, K) (V, error)) *Memoized[K, V] {
	return &Memoized[K, V]{store: memo.NewLocked[K, V](), fn: fn}
}

// MemoizeSharded wraps fn with a sharded cache, cutting lock
// contention when many distinct keys are computed concurrently.
func MemoizeSharded[K comparable, V any](fn func(context.Context, K) (V, error)) *Memoized[K, V] {
	return &Memoized[K, V]{store: memo.NewSharded[K, V](), fn: fn}
}

// Call returns the cached value for key, computing on a miss.
func (m *Memoized[K, V]) Call(ctx context.Context, key K) (V, error) {
	hit := true
	v, err := m.store.Do(key, func() (V, error) {
		hit = false
		return m.fn(ctx, key)
	})
	if hit {
		obs.CacheHits.Inc()
	} else {
		obs.CacheMisses.Inc()
	}
	return v, err
}

// Invalidate evicts a single key.
func (m *Memoized[K, V]) Invalidate(key K) { m.store.Delete(key) }

// Clear evicts the whole cache.
func (m *Memoized[K, V]) Clear() { m.store.Clear() }

// Len returns the number of cached entries.
func (m *Memoized[K, V]) Len() int { return m.store.Len() }

// ─── Retry + Cache ──────────────────────────────────────────────────────────

// RetryCached combines per-key retry with memoization: each miss runs
// fn up to attempts times (fixed delay between attempts), and only a
// success is cached. A key whose attempts are exhausted stays uncached,
// so the next call for it retries from scratch.
func RetryCached[K comparable, V any](attempts int, delay time.Duration, fn func(context.Context, K) (V, error)) *Memoized[K, V] {
	if attempts < 1 {
		attempts = 1
	}
	return &Memoized[K, V]{
		store: memo.NewLocked[K, V](),
		fn: func(ctx context.Context, key K) (V, error) {
			var zero V
			var lastErr error
			for i := 0; i < attempts; i++ {
				if i > 0 && delay > 0 {
					select {
					case <-time.After(delay):
					case <-ctx.Done():
						return zero, ctx.Err()
					}
				}
				v, err := fn(ctx, key)
				if err == nil {
					return v, nil
				}
				lastErr = err
			}
			return zero, lastErr
		},
	}
}
