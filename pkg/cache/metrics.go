package cache

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/lookupstream/metric"
)

// cacheMetrics mirrors Statistics as Prometheus metrics.
type cacheMetrics struct {
	hits          prometheus.Counter
	misses        prometheus.Counter
	computations  prometheus.Counter
	computeErrors prometheus.Counter
	evictions     prometheus.Counter
	expirations   prometheus.Counter

	size prometheus.Gauge
}

func newCacheMetrics(registry *metric.MetricsRegistry, prefix string) (*cacheMetrics, error) {
	labels := prometheus.Labels{"component": prefix}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "cache",
			Name:        name,
			ConstLabels: labels,
			Help:        help,
		})
	}

	m := &cacheMetrics{
		hits:          counter("hits_total", "Total number of lookups served from a live entry"),
		misses:        counter("misses_total", "Total number of lookups without a live entry"),
		computations:  counter("computations_total", "Total number of successful computations stored"),
		computeErrors: counter("compute_errors_total", "Total number of failed computations"),
		evictions:     counter("evictions_total", "Total number of least recently used evictions"),
		expirations:   counter("expirations_total", "Total number of entries removed after their time-to-live"),
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "cache",
			Name:        "size",
			ConstLabels: labels,
			Help:        "Current number of entries in cache",
		}),
	}

	counters := []struct {
		name    string
		counter prometheus.Counter
	}{
		{"cache_hits", m.hits},
		{"cache_misses", m.misses},
		{"cache_computations", m.computations},
		{"cache_compute_errors", m.computeErrors},
		{"cache_evictions", m.evictions},
		{"cache_expirations", m.expirations},
	}
	for _, c := range counters {
		if err := registry.RegisterCounter(prefix, c.name, c.counter); err != nil {
			return nil, err
		}
	}
	if err := registry.RegisterGauge(prefix, "cache_size", m.size); err != nil {
		return nil, err
	}

	return m, nil
}

// The record methods accept a nil receiver so callers need no metrics-enabled check.

func (m *cacheMetrics) recordHit() {
	if m != nil {
		m.hits.Inc()
	}
}

func (m *cacheMetrics) recordMiss() {
	if m != nil {
		m.misses.Inc()
	}
}

func (m *cacheMetrics) recordComputation() {
	if m != nil {
		m.computations.Inc()
	}
}

func (m *cacheMetrics) recordComputeError() {
	if m != nil {
		m.computeErrors.Inc()
	}
}

func (m *cacheMetrics) recordEviction(reason EvictionReason) {
	if m == nil {
		return
	}
	switch reason {
	case EvictedCapacity:
		m.evictions.Inc()
	case EvictedExpired:
		m.expirations.Inc()
	}
}

func (m *cacheMetrics) updateSize(size int) {
	if m != nil {
		m.size.Set(float64(size))
	}
}
