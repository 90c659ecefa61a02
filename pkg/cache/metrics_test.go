package cache

import (
	stderrors "errors"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/lookupstream/errors"
	"github.com/c360/lookupstream/metric"
)

func gatherByName(t *testing.T, registry *metric.MetricsRegistry) map[string]*dto.MetricFamily {
	t.Helper()
	metricFamilies, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	metricsByName := make(map[string]*dto.MetricFamily)
	for _, mf := range metricFamilies {
		metricsByName[mf.GetName()] = mf
	}
	return metricsByName
}

func TestCacheMetricsIntegration(t *testing.T) {
	metricsRegistry := metric.NewMetricsRegistry()
	clock := newFakeClock()

	c, err := New[string, string](2, time.Minute,
		WithMetrics[string, string](metricsRegistry, "test_cache"),
		WithClock[string, string](clock.Now),
	)
	require.NoError(t, err)

	value := func(v string) ComputeFunc[string] {
		return func() (string, error) { return v, nil }
	}

	_, _ = c.Get("key1", value("value1"))
	_, _ = c.Get("key1", value("unused"))
	_, _ = c.Get("key2", value("value2"))
	_, _ = c.Get("key3", value("value3")) // evicts key1
	_, _ = c.Get("key4", func() (string, error) { return "", stderrors.New("fail") })

	clock.Advance(2 * time.Minute)
	_, _ = c.Get("key2", value("value2b")) // expired

	metricsByName := gatherByName(t, metricsRegistry)

	expectations := map[string]float64{
		"lookupstream_cache_hits_total":           1,
		"lookupstream_cache_misses_total":         5,
		"lookupstream_cache_computations_total":   4,
		"lookupstream_cache_compute_errors_total": 1,
		"lookupstream_cache_evictions_total":      1,
		"lookupstream_cache_expirations_total":    1,
	}
	for name, want := range expectations {
		mf := metricsByName[name]
		require.NotNil(t, mf, "%s should exist", name)
		assert.Equal(t, want, mf.GetMetric()[0].GetCounter().GetValue(), name)
	}

	sizeMetric := metricsByName["lookupstream_cache_size"]
	require.NotNil(t, sizeMetric, "size metric should exist")
	assert.Equal(t, float64(2), sizeMetric.GetMetric()[0].GetGauge().GetValue())

	labels := metricsByName["lookupstream_cache_hits_total"].GetMetric()[0].GetLabel()
	require.Len(t, labels, 1)
	assert.Equal(t, "component", labels[0].GetName())
	assert.Equal(t, "test_cache", labels[0].GetValue())
}

func TestCacheWithoutMetrics(t *testing.T) {
	c, err := New[string, string](10, time.Minute)
	require.NoError(t, err)

	val, err := c.Get("key1", func() (string, error) { return "value1", nil })
	require.NoError(t, err)
	assert.Equal(t, "value1", val)

	bounded := c.(*boundedCache[string, string])
	assert.Nil(t, bounded.tracker.metrics)
	assert.NotNil(t, bounded.tracker.stats, "stats should always be enabled")
}

func TestCacheMetricsDuplicatePrefix(t *testing.T) {
	metricsRegistry := metric.NewMetricsRegistry()

	_, err := New[string, string](10, time.Minute, WithMetrics[string, string](metricsRegistry, "lookup"))
	require.NoError(t, err)

	_, err = NewSingleflight[string, string](10, time.Minute, WithMetrics[string, string](metricsRegistry, "lookup"))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	// A different component label registers fine.
	_, err = NewSingleflight[string, string](10, time.Minute, WithMetrics[string, string](metricsRegistry, "lookup_b"))
	assert.NoError(t, err)
}

func TestWithMetricsIgnoresEmptyPrefix(t *testing.T) {
	opts := applyOptions(WithMetrics[string, string](metric.NewMetricsRegistry(), ""))
	assert.Nil(t, opts.metricsReg)

	opts = applyOptions(WithMetrics[string, string](nil, "lookup"))
	assert.Nil(t, opts.metricsReg)
}
