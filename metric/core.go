package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every metric exported by lookupstream.
const Namespace = "lookupstream"

// Event outcomes recorded by RecordEventProcessed.
const (
	OutcomeEnriched = "enriched"
	OutcomeDefault  = "default"
	OutcomeFailed   = "failed"
	OutcomeDropped  = "dropped"
)

// Metrics contains the process-wide metrics shared by every pipeline.
type Metrics struct {
	// Pipeline metrics
	EventsReceived  *prometheus.CounterVec
	EventsProcessed *prometheus.CounterVec
	EventsPublished *prometheus.CounterVec
	LookupDuration  *prometheus.HistogramVec
	LookupErrors    *prometheus.CounterVec

	// NATS metrics
	NATSConnected  prometheus.Gauge
	NATSReconnects prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all core metrics
func NewMetrics() *Metrics {
	return &Metrics{
		EventsReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "events",
				Name:      "received_total",
				Help:      "Total number of events received",
			},
			[]string{"pipeline"},
		),

		EventsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "events",
				Name:      "processed_total",
				Help:      "Total number of events processed by outcome (enriched, default, failed, dropped)",
			},
			[]string{"pipeline", "outcome"},
		),

		EventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "events",
				Name:      "published_total",
				Help:      "Total number of events published",
			},
			[]string{"pipeline", "destination"},
		),

		LookupDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "lookup",
				Name:      "duration_seconds",
				Help:      "Lookup duration in seconds, cache hits included",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 5},
			},
			[]string{"pipeline"},
		),

		LookupErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "lookup",
				Name:      "errors_total",
				Help:      "Total number of failed lookups by error class",
			},
			[]string{"pipeline", "class"},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),

		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total number of NATS reconnections",
			},
		),
	}
}

func (c *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.EventsReceived,
		c.EventsProcessed,
		c.EventsPublished,
		c.LookupDuration,
		c.LookupErrors,
		c.NATSConnected,
		c.NATSReconnects,
	}
}

// RecordEventReceived increments the received event counter
func (c *Metrics) RecordEventReceived(pipeline string) {
	c.EventsReceived.WithLabelValues(pipeline).Inc()
}

// RecordEventProcessed increments the processed event counter for an outcome
func (c *Metrics) RecordEventProcessed(pipeline, outcome string) {
	c.EventsProcessed.WithLabelValues(pipeline, outcome).Inc()
}

// RecordEventPublished increments the published event counter
func (c *Metrics) RecordEventPublished(pipeline, destination string) {
	c.EventsPublished.WithLabelValues(pipeline, destination).Inc()
}

// RecordLookupDuration records how long a lookup took
func (c *Metrics) RecordLookupDuration(pipeline string, duration time.Duration) {
	c.LookupDuration.WithLabelValues(pipeline).Observe(duration.Seconds())
}

// RecordLookupError increments the lookup error counter
func (c *Metrics) RecordLookupError(pipeline, class string) {
	c.LookupErrors.WithLabelValues(pipeline, class).Inc()
}

// RecordNATSStatus updates NATS connection status
func (c *Metrics) RecordNATSStatus(connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	c.NATSConnected.Set(value)
}

// RecordNATSReconnect increments reconnection counter
func (c *Metrics) RecordNATSReconnect() {
	c.NATSReconnects.Inc()
}
