package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/c360/lookupstream/errors"
	"github.com/c360/lookupstream/lookup"
	"github.com/c360/lookupstream/metric"
	"github.com/c360/lookupstream/pkg/worker"
)

// drainTimeout bounds how long Run waits for queued events after the input ends.
const drainTimeout = 30 * time.Second

// Fetcher returns the rows matching a set of statement parameters.
// *lookup.Lookup implements it.
type Fetcher interface {
	Fetch(ctx context.Context, params map[string]any) ([]lookup.Row, error)
}

// Outcome classifies how an event left the processor.
type Outcome string

// Outcomes, matching the metric label values.
const (
	OutcomeEnriched Outcome = metric.OutcomeEnriched
	OutcomeDefault  Outcome = metric.OutcomeDefault
	OutcomeFailed   Outcome = metric.OutcomeFailed
	OutcomeDropped  Outcome = metric.OutcomeDropped
)

// Stats are the processor counters since creation.
type Stats struct {
	Received      int64
	Enriched      int64
	Defaulted     int64
	Failed        int64
	Dropped       int64
	PublishErrors int64
	LastActivity  time.Time
}

// Processor enriches events with the rows of a lookup.
type Processor struct {
	name      string
	cfg       Config
	target    fieldPath
	tags      fieldPath
	params    map[string]fieldPath
	fetcher   Fetcher
	transport Transport
	logger    *slog.Logger
	metrics   *metric.Metrics
	registry  *metric.MetricsRegistry

	received      atomic.Int64
	enriched      atomic.Int64
	defaulted     atomic.Int64
	failed        atomic.Int64
	dropped       atomic.Int64
	publishErrors atomic.Int64
	lastActivity  atomic.Value // time.Time

	lifecycleMu sync.Mutex
	running     bool
}

// Option configures a Processor.
type Option func(*Processor)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMetrics records event and lookup metrics in the core metrics of registry.
// With more than one worker the pool metrics are registered there too.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(p *Processor) {
		if registry != nil {
			p.metrics = registry.CoreMetrics()
			p.registry = registry
		}
	}
}

// NewProcessor validates cfg and creates a processor. transport may be nil
// when only Enrich or Process are used.
func NewProcessor(cfg Config, fetcher Fetcher, transport Transport, opts ...Option) (*Processor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if fetcher == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "enrich", "NewProcessor", "lookup required")
	}

	target, _ := parsePath(cfg.Target)
	tags, _ := parsePath(cfg.TagsField)
	params := make(map[string]fieldPath, len(cfg.Parameters))
	for name, field := range cfg.Parameters {
		params[name], _ = parsePath(field)
	}

	name := cfg.Name
	if name == "" {
		name = "enrich"
	}

	p := &Processor{
		name:      name,
		cfg:       cfg,
		target:    target,
		tags:      tags,
		params:    params,
		fetcher:   fetcher,
		transport: transport,
		logger:    slog.Default(),
	}
	p.lastActivity.Store(time.Time{})

	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

// Run consumes events from the transport until ctx is done or the input ends.
func (p *Processor) Run(ctx context.Context) error {
	if p.transport == nil {
		return errors.WrapFatal(errors.ErrMissingConfig, "enrich", "Run", "transport required")
	}

	p.lifecycleMu.Lock()
	if p.running {
		p.lifecycleMu.Unlock()
		return errors.WrapFatal(errors.ErrAlreadyStarted, "enrich", "Run", "check running state")
	}
	p.running = true
	p.lifecycleMu.Unlock()

	defer func() {
		p.lifecycleMu.Lock()
		p.running = false
		p.lifecycleMu.Unlock()
	}()

	receive, pool, err := p.receiver(ctx)
	if err != nil {
		return err
	}

	p.logger.Info("Enrich processor started",
		"component", p.name,
		"target", p.cfg.Target,
		"parameters", len(p.params),
		"workers", max(p.cfg.Workers, 1),
		"destination", p.transport.Destination())

	err = p.transport.Receive(ctx, receive)

	if pool != nil {
		if stopErr := pool.Stop(drainTimeout); stopErr != nil {
			p.logger.Warn("Events still queued at shutdown",
				"component", p.name,
				"queued", pool.Stats().QueueDepth,
				"error", stopErr)
		}
	}

	stats := p.Stats()
	p.logger.Info("Enrich processor stopped",
		"component", p.name,
		"received", stats.Received,
		"enriched", stats.Enriched,
		"defaulted", stats.Defaulted,
		"failed", stats.Failed,
		"dropped", stats.Dropped)
	return err
}

// Running reports whether Run is active.
func (p *Processor) Running() bool {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()
	return p.running
}

// receiver returns the transport handler: handle itself with one worker,
// otherwise a handler feeding a started worker pool.
func (p *Processor) receiver(ctx context.Context) (HandlerFunc, *worker.Pool[[]byte], error) {
	if p.cfg.Workers <= 1 {
		return func(ctx context.Context, data []byte) { _ = p.handle(ctx, data) }, nil, nil
	}

	var opts []worker.Option[[]byte]
	if p.registry != nil {
		opts = append(opts, worker.WithMetrics[[]byte](p.registry, p.name))
	}
	pool, err := worker.NewPool[[]byte](p.cfg.Workers, p.cfg.QueueSize, p.handle, opts...)
	if err != nil {
		return nil, nil, errors.Wrap(err, "enrich", "Run", "create worker pool")
	}
	if err := pool.Start(ctx); err != nil {
		return nil, nil, errors.WrapFatal(err, "enrich", "Run", "start worker pool")
	}

	return func(ctx context.Context, data []byte) {
		// Transports may reuse data once the handler returns.
		item := make([]byte, len(data))
		copy(item, data)
		if err := pool.Submit(ctx, item); err != nil {
			p.dropped.Add(1)
			p.logger.Warn("Event not queued",
				"component", p.name,
				"error", err)
		}
	}, pool, nil
}

func (p *Processor) handle(ctx context.Context, data []byte) error {
	out, outcome, err := p.Process(ctx, data)
	if outcome == OutcomeDropped {
		return err
	}
	if pubErr := p.transport.Publish(ctx, out); pubErr != nil {
		p.publishErrors.Add(1)
		p.logger.Error("Failed to publish enriched event",
			"component", p.name,
			"destination", p.transport.Destination(),
			"error", pubErr)
		return pubErr
	}
	if p.metrics != nil {
		p.metrics.RecordEventPublished(p.name, p.transport.Destination())
	}
	return err
}

// Process decodes one JSON object, enriches it and re-encodes it. Events that
// are not JSON objects are dropped with OutcomeDropped and a non-nil error.
// A failed lookup still yields the tagged event.
func (p *Processor) Process(ctx context.Context, data []byte) ([]byte, Outcome, error) {
	p.received.Add(1)
	p.lastActivity.Store(time.Now())
	if p.metrics != nil {
		p.metrics.RecordEventReceived(p.name)
	}

	event, err := decodeEvent(data)
	if err != nil {
		p.record(OutcomeDropped)
		p.logger.Warn("Dropping event that is not a JSON object",
			"component", p.name,
			"size_bytes", len(data),
			"error", err)
		return nil, OutcomeDropped, err
	}

	outcome, lookupErr := p.Enrich(ctx, event)

	out, err := json.Marshal(event)
	if err != nil {
		p.record(OutcomeDropped)
		p.logger.Error("Failed to encode enriched event",
			"component", p.name,
			"error", err)
		return nil, OutcomeDropped, errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrInvalidData, err),
			"enrich", "Process", "encode event")
	}
	p.record(outcome)
	return out, outcome, lookupErr
}

// Enrich runs the lookup for event and stores the result in the target
// field. The returned error is the lookup failure, if any; the event has
// been tagged accordingly.
func (p *Processor) Enrich(ctx context.Context, event map[string]any) (Outcome, error) {
	correlationID := uuid.NewString()
	logger := p.logger.With("component", p.name, "correlation_id", correlationID)

	params := make(map[string]any, len(p.params))
	for name, path := range p.params {
		value, ok := path.get(event)
		if !ok {
			logger.Debug("Parameter field missing, binding NULL",
				"parameter", name,
				"field", path.String())
		}
		params[name] = normalize(value)
	}

	start := time.Now()
	rows, err := p.fetcher.Fetch(ctx, params)
	duration := time.Since(start)
	if p.metrics != nil {
		p.metrics.RecordLookupDuration(p.name, duration)
	}

	if err != nil {
		class := errors.Classify(err)
		if p.metrics != nil {
			p.metrics.RecordLookupError(p.name, class.String())
		}
		logger.Warn("Lookup failed",
			"error_class", class.String(),
			"error", err)
		p.tags.addTags(event, p.cfg.TagOnFailure)
		return OutcomeFailed, err
	}

	if len(rows) == 0 {
		result := []any{}
		if len(p.cfg.DefaultRow) > 0 {
			result = append(result, copyMap(p.cfg.DefaultRow))
			p.tags.addTags(event, p.cfg.TagOnDefaultUse)
		}
		p.target.set(event, result)
		logger.Debug("Lookup returned no rows",
			"default_used", len(result) > 0,
			"duration", duration)
		return OutcomeDefault, nil
	}

	result := make([]any, len(rows))
	for i, row := range rows {
		result[i] = map[string]any(row)
	}
	p.target.set(event, result)
	logger.Debug("Event enriched",
		"rows", len(rows),
		"duration", duration)
	return OutcomeEnriched, nil
}

// Stats returns a snapshot of the counters.
func (p *Processor) Stats() Stats {
	return Stats{
		Received:      p.received.Load(),
		Enriched:      p.enriched.Load(),
		Defaulted:     p.defaulted.Load(),
		Failed:        p.failed.Load(),
		Dropped:       p.dropped.Load(),
		PublishErrors: p.publishErrors.Load(),
		LastActivity:  p.lastActivity.Load().(time.Time),
	}
}

func (p *Processor) record(outcome Outcome) {
	switch outcome {
	case OutcomeEnriched:
		p.enriched.Add(1)
	case OutcomeDefault:
		p.defaulted.Add(1)
	case OutcomeFailed:
		p.failed.Add(1)
	case OutcomeDropped:
		p.dropped.Add(1)
	}
	if p.metrics != nil {
		p.metrics.RecordEventProcessed(p.name, string(outcome))
	}
}

func decodeEvent(data []byte) (map[string]any, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()

	var event map[string]any
	if err := decoder.Decode(&event); err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrParsingFailed, err),
			"enrich", "decodeEvent", "decode JSON")
	}
	if event == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "enrich", "decodeEvent", "event is null")
	}
	return event, nil
}

// normalize turns json.Number into int64 or float64 so values bind as
// numbers rather than text.
func normalize(value any) any {
	n, ok := value.(json.Number)
	if !ok {
		return value
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}

func copyMap(m map[string]any) map[string]any {
	c := make(map[string]any, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}
