package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/c360/lookupstream/errors"
)

// boundedCache is the serialized bounded cache. A single mutex spans the
// lookup, the computation, the insertion and the eviction, so at most one
// computation runs at a time and a caller racing on a missing key observes the
// first caller's entry as a hit.
type boundedCache[K comparable, V any] struct {
	mu      sync.Mutex
	store   *store[K, V]
	tracker *tracker[K, V]
	sweeper *sweeper
}

// New creates a serialized bounded cache holding at most capacity entries,
// each live for ttl after insertion.
func New[K comparable, V any](capacity int, ttl time.Duration, options ...Option[K, V]) (Cache[K, V], error) {
	if err := validateBounds("New", capacity, ttl); err != nil {
		return nil, err
	}
	opts := applyOptions(options...)
	return newBoundedCache(capacity, ttl, opts)
}

func newBoundedCache[K comparable, V any](capacity int, ttl time.Duration, opts *cacheOptions[K, V]) (*boundedCache[K, V], error) {
	t, err := newTracker("newBoundedCache", opts)
	if err != nil {
		return nil, err
	}

	c := &boundedCache[K, V]{
		store:   newStore[K, V](capacity, ttl, opts.now),
		tracker: t,
	}
	c.sweeper = startSweeper(opts.ctx, opts.cleanupInterval, c.removeExpired)
	return c, nil
}

// Get returns the live value for key or computes, stores and returns a new one.
func (c *boundedCache[K, V]) Get(key K, compute ComputeFunc[V]) (V, error) {
	var evicted []eviction[K, V]
	// Registered before the unlock so callbacks run after the lock is released.
	defer func() { c.tracker.notify(evicted) }()

	c.mu.Lock()
	defer c.mu.Unlock()

	value, ok, expired := c.store.lookup(key)
	if expired != nil {
		evicted = append(evicted, *expired)
		c.tracker.removed(evicted, c.store.size())
	}
	if ok {
		c.tracker.hit()
		return value, nil
	}
	c.tracker.miss()

	value, err := compute()
	if err != nil {
		c.tracker.computeFailed()
		var zero V
		return zero, err
	}

	removed := c.store.insert(key, value)
	evicted = append(evicted, removed...)
	c.tracker.computed(removed, c.store.size())
	return value, nil
}

// Size returns the number of stored entries.
func (c *boundedCache[K, V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.size()
}

// Keys returns the live keys, most recently used first.
func (c *boundedCache[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.keys()
}

// Clear removes all entries.
func (c *boundedCache[K, V]) Clear() error {
	c.mu.Lock()
	evicted := c.store.clear()
	c.tracker.removed(evicted, 0)
	c.mu.Unlock()

	c.tracker.notify(evicted)
	return nil
}

// Stats returns the cache statistics.
func (c *boundedCache[K, V]) Stats() *Statistics {
	return c.tracker.stats
}

// Close stops the background sweep, if any.
func (c *boundedCache[K, V]) Close() error {
	return c.sweeper.close()
}

func (c *boundedCache[K, V]) removeExpired() {
	c.mu.Lock()
	evicted := c.store.removeExpired()
	c.tracker.removed(evicted, c.store.size())
	c.mu.Unlock()

	c.tracker.notify(evicted)
}

// tracker does the bookkeeping shared by the bounded strategies: statistics,
// optional Prometheus metrics and eviction callbacks.
type tracker[K comparable, V any] struct {
	stats   *Statistics
	metrics *cacheMetrics
	evictFn EvictCallback[K, V]
}

func newTracker[K comparable, V any](method string, opts *cacheOptions[K, V]) (*tracker[K, V], error) {
	t := &tracker[K, V]{
		stats:   NewStatistics(),
		evictFn: opts.evictCallback,
	}

	if opts.metricsReg != nil && opts.metricsPrefix != "" {
		metrics, err := newCacheMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.Wrap(err, "cache", method, "metrics registration")
		}
		t.metrics = metrics
	}
	return t, nil
}

func (t *tracker[K, V]) hit() {
	t.stats.Hit()
	t.metrics.recordHit()
}

func (t *tracker[K, V]) miss() {
	t.stats.Miss()
	t.metrics.recordMiss()
}

func (t *tracker[K, V]) computeFailed() {
	t.stats.ComputeError()
	t.metrics.recordComputeError()
}

// computed records a stored computation plus the evictions it caused.
func (t *tracker[K, V]) computed(evicted []eviction[K, V], size int) {
	t.stats.Computation()
	t.metrics.recordComputation()
	t.removed(evicted, size)
}

// removed records removals and the resulting size. Must be called with the cache lock held.
func (t *tracker[K, V]) removed(evicted []eviction[K, V], size int) {
	for _, ev := range evicted {
		switch ev.reason {
		case EvictedCapacity:
			t.stats.Eviction()
		case EvictedExpired:
			t.stats.Expiration()
		}
		t.metrics.recordEviction(ev.reason)
	}
	t.stats.UpdateSize(int64(size))
	t.metrics.updateSize(size)
}

// notify runs the eviction callback. Must be called without the cache lock.
func (t *tracker[K, V]) notify(evicted []eviction[K, V]) {
	if t.evictFn == nil {
		return
	}
	for _, ev := range evicted {
		t.evictFn(ev.key, ev.value, ev.reason)
	}
}

// sweeper periodically runs a function until its context ends or it is closed.
type sweeper struct {
	shutdown chan struct{}
	done     chan struct{}
	once     sync.Once
}

// startSweeper returns nil when interval is not positive; a nil sweeper closes cleanly.
func startSweeper(ctx context.Context, interval time.Duration, sweep func()) *sweeper {
	if interval <= 0 {
		return nil
	}

	s := &sweeper{
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.shutdown:
				return
			case <-ticker.C:
				sweep()
			}
		}
	}()

	return s
}

func (s *sweeper) close() error {
	if s == nil {
		return nil
	}

	s.once.Do(func() { close(s.shutdown) })

	select {
	case <-s.done:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("timeout waiting for expiry sweep to finish")
	}
}
