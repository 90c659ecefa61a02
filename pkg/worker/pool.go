// Package worker provides a generic worker pool with a bounded queue.
//
// Submit blocks while the queue is full, so a slow consumer slows the
// producer down instead of losing work; TrySubmit fails fast with
// ErrQueueFull. Stop closes the queue and waits until every queued item has
// been processed.
package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/lookupstream/errors"
	"github.com/c360/lookupstream/metric"
)

// ProcessFunc handles one work item.
type ProcessFunc[T any] func(ctx context.Context, item T) error

// Pool runs a fixed number of goroutines over a bounded queue
type Pool[T any] struct {
	workers   int
	queueSize int
	process   ProcessFunc[T]

	workChan chan T
	metrics  *poolMetrics
	wg       sync.WaitGroup

	// Submit holds the read lock while sending; Stop takes the write lock to
	// close the queue.
	lifecycleMu sync.RWMutex
	started     bool
	stopped     bool

	submitted atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64
	busy      atomic.Int64
}

type poolMetrics struct {
	queueDepth     prometheus.Gauge
	busyWorkers    prometheus.Gauge
	processed      *prometheus.CounterVec
	processingTime prometheus.Histogram
}

// Option configures a Pool.
type Option[T any] func(*Pool[T]) error

// WithMetrics registers queue and processing metrics under component.
func WithMetrics[T any](registry *metric.MetricsRegistry, component string) Option[T] {
	return func(p *Pool[T]) error {
		if registry == nil {
			return nil
		}
		m, err := newPoolMetrics(registry, component)
		if err != nil {
			return err
		}
		p.metrics = m
		return nil
	}
}

// NewPool creates a pool. workers and queueSize must be positive.
func NewPool[T any](workers, queueSize int, process ProcessFunc[T], opts ...Option[T]) (*Pool[T], error) {
	if workers <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "worker", "NewPool",
			fmt.Sprintf("workers must be positive, got %d", workers))
	}
	if queueSize <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "worker", "NewPool",
			fmt.Sprintf("queue size must be positive, got %d", queueSize))
	}
	if process == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "worker", "NewPool", "process function required")
	}

	p := &Pool[T]{
		workers:   workers,
		queueSize: queueSize,
		process:   process,
		workChan:  make(chan T, queueSize),
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, errors.Wrap(err, "worker", "NewPool", "apply option")
		}
	}
	return p, nil
}

func newPoolMetrics(registry *metric.MetricsRegistry, component string) (*poolMetrics, error) {
	labels := prometheus.Labels{"component": component}
	m := &poolMetrics{
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "worker",
			Name:        "queue_depth",
			ConstLabels: labels,
			Help:        "Current number of queued work items",
		}),
		busyWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "worker",
			Name:        "busy",
			ConstLabels: labels,
			Help:        "Number of workers processing an item",
		}),
		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "worker",
			Name:        "processed_total",
			ConstLabels: labels,
			Help:        "Total work items processed by status",
		}, []string{"status"}),
		processingTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "worker",
			Name:        "processing_duration_seconds",
			ConstLabels: labels,
			Help:        "Time spent processing work items",
			Buckets:     []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}),
	}

	if err := registry.RegisterGauge(component, "worker_queue_depth", m.queueDepth); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(component, "worker_busy", m.busyWorkers); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec(component, "worker_processed", m.processed); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogram(component, "worker_processing_duration", m.processingTime); err != nil {
		return nil, err
	}
	return m, nil
}

// Start launches the workers. They stop when ctx is done or after Stop has
// drained the queue.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.started {
		return ErrPoolAlreadyStarted
	}

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	p.started = true
	return nil
}

// Submit queues work, blocking while the queue is full.
func (p *Pool[T]) Submit(ctx context.Context, work T) error {
	p.lifecycleMu.RLock()
	defer p.lifecycleMu.RUnlock()

	if err := p.checkOpen(); err != nil {
		return err
	}

	select {
	case p.workChan <- work:
		p.accepted()
		return nil
	case <-ctx.Done():
		p.rejected.Add(1)
		return ctx.Err()
	}
}

// TrySubmit queues work or returns ErrQueueFull immediately.
func (p *Pool[T]) TrySubmit(work T) error {
	p.lifecycleMu.RLock()
	defer p.lifecycleMu.RUnlock()

	if err := p.checkOpen(); err != nil {
		return err
	}

	select {
	case p.workChan <- work:
		p.accepted()
		return nil
	default:
		p.rejected.Add(1)
		return ErrQueueFull
	}
}

func (p *Pool[T]) checkOpen() error {
	if !p.started {
		return ErrPoolNotStarted
	}
	if p.stopped {
		return ErrPoolStopped
	}
	return nil
}

func (p *Pool[T]) accepted() {
	p.submitted.Add(1)
	if p.metrics != nil {
		p.metrics.queueDepth.Set(float64(len(p.workChan)))
	}
}

// Stop closes the queue and waits up to timeout for queued work to finish.
func (p *Pool[T]) Stop(timeout time.Duration) error {
	p.lifecycleMu.Lock()
	if !p.started || p.stopped {
		p.lifecycleMu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.workChan)
	p.lifecycleMu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		return ErrStopTimeout
	}
}

// Stats returns current pool statistics
func (p *Pool[T]) Stats() PoolStats {
	return PoolStats{
		Workers:    p.workers,
		QueueSize:  p.queueSize,
		QueueDepth: len(p.workChan),
		Busy:       p.busy.Load(),
		Submitted:  p.submitted.Load(),
		Processed:  p.processed.Load(),
		Failed:     p.failed.Load(),
		Rejected:   p.rejected.Load(),
	}
}

// PoolStats represents worker pool statistics
type PoolStats struct {
	Workers    int   `json:"workers"`
	QueueSize  int   `json:"queue_size"`
	QueueDepth int   `json:"queue_depth"`
	Busy       int64 `json:"busy"`
	Submitted  int64 `json:"submitted"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
	Rejected   int64 `json:"rejected"`
}

func (p *Pool[T]) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case work, ok := <-p.workChan:
			if !ok {
				return
			}
			p.run(ctx, work)
		}
	}
}

func (p *Pool[T]) run(ctx context.Context, work T) {
	busy := p.busy.Add(1)
	if p.metrics != nil {
		p.metrics.busyWorkers.Set(float64(busy))
		p.metrics.queueDepth.Set(float64(len(p.workChan)))
	}

	start := time.Now()
	err := p.process(ctx, work)
	duration := time.Since(start)

	busy = p.busy.Add(-1)
	p.processed.Add(1)
	status := "success"
	if err != nil {
		p.failed.Add(1)
		status = "error"
	}

	if p.metrics != nil {
		p.metrics.busyWorkers.Set(float64(busy))
		p.metrics.processed.WithLabelValues(status).Inc()
		p.metrics.processingTime.Observe(duration.Seconds())
	}
}
