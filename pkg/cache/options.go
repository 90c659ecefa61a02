package cache

import (
	"context"
	"time"

	"github.com/c360/lookupstream/metric"
)

// Option configures cache behavior using the functional options pattern.
type Option[K comparable, V any] func(*cacheOptions[K, V])

// cacheOptions holds internal configuration for cache instances.
// Stats are always collected; metrics are optional.
type cacheOptions[K comparable, V any] struct {
	// metricsReg is optional - if provided, cache stats are also exposed as Prometheus metrics
	metricsReg *metric.MetricsRegistry

	// metricsPrefix is used as the component label for Prometheus metrics
	metricsPrefix string

	evictCallback EvictCallback[K, V]

	// now is the clock used for insertion times and expiry checks
	now func() time.Time

	// cleanupInterval enables a background sweep of expired entries when positive
	cleanupInterval time.Duration

	// ctx bounds the lifetime of the background sweep
	ctx context.Context
}

// WithMetrics enables Prometheus metrics export for cache statistics.
// A nil registry or empty prefix leaves metrics disabled.
func WithMetrics[K comparable, V any](registry *metric.MetricsRegistry, prefix string) Option[K, V] {
	return func(opts *cacheOptions[K, V]) {
		if registry != nil && prefix != "" {
			opts.metricsReg = registry
			opts.metricsPrefix = prefix
		}
	}
}

// WithEvictionCallback sets a function called whenever an entry leaves the cache.
func WithEvictionCallback[K comparable, V any](callback EvictCallback[K, V]) Option[K, V] {
	return func(opts *cacheOptions[K, V]) {
		opts.evictCallback = callback
	}
}

// WithClock replaces time.Now. Tests use it to step past the time-to-live
// without sleeping. The clock must return readings that carry a monotonic
// component or never go backwards.
func WithClock[K comparable, V any](now func() time.Time) Option[K, V] {
	return func(opts *cacheOptions[K, V]) {
		if now != nil {
			opts.now = now
		}
	}
}

// WithCleanupInterval starts a goroutine that removes expired entries every
// interval until ctx is done or the cache is closed. Expired entries are
// otherwise removed when they are next looked up.
func WithCleanupInterval[K comparable, V any](ctx context.Context, interval time.Duration) Option[K, V] {
	return func(opts *cacheOptions[K, V]) {
		if interval > 0 {
			opts.cleanupInterval = interval
			opts.ctx = ctx
		}
	}
}

func applyOptions[K comparable, V any](options ...Option[K, V]) *cacheOptions[K, V] {
	opts := &cacheOptions[K, V]{
		now: time.Now,
		ctx: context.Background(),
	}

	for _, opt := range options {
		if opt != nil {
			opt(opts)
		}
	}

	if opts.ctx == nil {
		opts.ctx = context.Background()
	}

	return opts
}
