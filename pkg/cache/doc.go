// Package cache memoizes expensive keyed computations, such as parameterized
// database queries, for a bounded time window.
//
// # Overview
//
// Two implementations satisfy Cache:
//   - Bounded: capacity-limited with least recently used eviction and a uniform
//     time-to-live counted from insertion
//   - Passthrough: stores nothing and runs the computation on every call
//
// The computation is passed to every Get call:
//
//	rows, err := c.Get(key, func() ([]Row, error) {
//		return queryRows(ctx, key)
//	})
//
// A live entry is returned without calling the computation. Otherwise the
// computation runs, its result is stored as the most recently used entry and
// the least recently used entry is evicted if capacity is exceeded. A failed
// computation stores nothing and its error is returned unchanged, so the next
// Get for the same key computes again.
//
// # Strategies
//
// New builds the serialized cache. One mutex spans the lookup, the computation
// and the insertion, so concurrent callers of a missing key run the
// computation once and the others observe a hit. The cost is that a slow
// computation blocks lookups of every other key.
//
// NewSingleflight builds a cache that only locks around the entry map.
// Concurrent misses on the same key share one computation through
// golang.org/x/sync/singleflight while misses on different keys run in parallel.
//
// # Configuration
//
// NewFromConfig picks the implementation:
//
//	c, err := cache.NewFromConfig[string, []Row](ctx, cache.Config{
//		Enabled:    true,
//		Size:       500,
//		Expiration: 5 * time.Second,
//	}, cache.WithMetrics[string, []Row](registry, "lookup"))
//
// Enabled false or Size zero returns the passthrough cache.
//
// # Observability
//
// Statistics are always collected with atomic counters and are available
// through Stats. WithMetrics additionally exports them as Prometheus metrics in
// the lookupstream_cache subsystem, labelled with the given component name.
// WithEvictionCallback observes every entry leaving the cache together with an
// EvictionReason; callbacks run after the cache lock is released.
//
// # Expiry
//
// Expired entries are removed when they are next looked up.
// WithCleanupInterval adds a background goroutine that sweeps them
// periodically; it stops when its context is cancelled or Close is called.
package cache
