package cache

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// flightCache is the singleflight bounded cache. The lock only guards the
// entry map and recency list; computations run outside it. Concurrent misses
// on one key share a single computation, misses on different keys compute in
// parallel.
type flightCache[K comparable, V any] struct {
	mu      sync.Mutex
	store   *store[K, V]
	tracker *tracker[K, V]
	sweeper *sweeper
	group   singleflight.Group
}

// NewSingleflight creates a bounded cache that deduplicates concurrent
// computations per key instead of serializing every lookup.
func NewSingleflight[K comparable, V any](capacity int, ttl time.Duration, options ...Option[K, V]) (Cache[K, V], error) {
	if err := validateBounds("NewSingleflight", capacity, ttl); err != nil {
		return nil, err
	}
	opts := applyOptions(options...)
	return newFlightCache(capacity, ttl, opts)
}

func newFlightCache[K comparable, V any](capacity int, ttl time.Duration, opts *cacheOptions[K, V]) (*flightCache[K, V], error) {
	t, err := newTracker("newFlightCache", opts)
	if err != nil {
		return nil, err
	}

	c := &flightCache[K, V]{
		store:   newStore[K, V](capacity, ttl, opts.now),
		tracker: t,
	}
	c.sweeper = startSweeper(opts.ctx, opts.cleanupInterval, c.removeExpired)
	return c, nil
}

// Get returns the live value for key or joins the computation in flight for it.
func (c *flightCache[K, V]) Get(key K, compute ComputeFunc[V]) (V, error) {
	if value, ok := c.lookup(key, true); ok {
		return value, nil
	}

	result, err, _ := c.group.Do(flightKey(key), func() (any, error) {
		// A flight for this key may have finished between the lookup above and
		// this one starting.
		if value, ok := c.lookup(key, false); ok {
			return value, nil
		}

		value, err := compute()
		if err != nil {
			c.mu.Lock()
			c.tracker.computeFailed()
			c.mu.Unlock()
			return nil, err
		}

		c.mu.Lock()
		evicted := c.store.insert(key, value)
		c.tracker.computed(evicted, c.store.size())
		c.mu.Unlock()

		c.tracker.notify(evicted)
		return value, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}

	// Comma-ok keeps a nil interface value from panicking when V is an interface type.
	value, _ := result.(V)
	return value, nil
}

// lookup checks for a live entry, recording the hit or miss when record is set.
func (c *flightCache[K, V]) lookup(key K, record bool) (V, bool) {
	var evicted []eviction[K, V]

	c.mu.Lock()
	value, ok, expired := c.store.lookup(key)
	if expired != nil {
		evicted = append(evicted, *expired)
		c.tracker.removed(evicted, c.store.size())
	}
	if record {
		if ok {
			c.tracker.hit()
		} else {
			c.tracker.miss()
		}
	}
	c.mu.Unlock()

	c.tracker.notify(evicted)
	return value, ok
}

// Size returns the number of stored entries.
func (c *flightCache[K, V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.size()
}

// Keys returns the live keys, most recently used first.
func (c *flightCache[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.keys()
}

// Clear removes all entries. Computations in flight still store their results.
func (c *flightCache[K, V]) Clear() error {
	c.mu.Lock()
	evicted := c.store.clear()
	c.tracker.removed(evicted, 0)
	c.mu.Unlock()

	c.tracker.notify(evicted)
	return nil
}

// Stats returns the cache statistics.
func (c *flightCache[K, V]) Stats() *Statistics {
	return c.tracker.stats
}

// Close stops the background sweep, if any.
func (c *flightCache[K, V]) Close() error {
	return c.sweeper.close()
}

func (c *flightCache[K, V]) removeExpired() {
	c.mu.Lock()
	evicted := c.store.removeExpired()
	c.tracker.removed(evicted, c.store.size())
	c.mu.Unlock()

	c.tracker.notify(evicted)
}

// flightKey renders a key as the string singleflight groups on. Equal keys
// render equally and the type prefix keeps equal-looking values of different
// dynamic types apart when K is an interface type.
func flightKey[K comparable](key K) string {
	var zero K
	if _, ok := any(zero).(string); ok {
		return any(key).(string)
	}
	return fmt.Sprintf("%T/%#v", key, key)
}
