package lookup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/lookupstream/errors"
	"github.com/c360/lookupstream/metric"
	"github.com/c360/lookupstream/pkg/cache"
	"github.com/c360/lookupstream/pkg/retry"
)

// Lookup runs one parameterized query and memoizes its results.
type Lookup struct {
	name   string
	cfg    Config
	db     *sql.DB
	ownsDB bool
	stmt   *Statement
	cache  cache.Cache[string, []Row]
	logger *slog.Logger
	now    func() time.Time

	// nil when queries are not rate limited
	queryLimiter *rate.Limiter

	validateMu    sync.Mutex
	lastValidated time.Time
}

// Option configures a Lookup.
type Option func(*options)

type options struct {
	name         string
	logger       *slog.Logger
	registry     *metric.MetricsRegistry
	cacheOptions []cache.Option[string, []Row]
	now          func() time.Time
}

// WithName sets the component name used in logs and as the cache metrics label.
func WithName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.name = name
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics exports cache statistics to registry.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(o *options) {
		o.registry = registry
	}
}

// WithCacheOptions passes extra options to the result cache.
func WithCacheOptions(opts ...cache.Option[string, []Row]) Option {
	return func(o *options) {
		o.cacheOptions = append(o.cacheOptions, opts...)
	}
}

// WithClock replaces time.Now for connection validation and the cache.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func applyOptions(opts []Option) *options {
	o := &options{
		name:   "lookup",
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// Open connects to the configured database and tests the connection,
// retrying according to cfg.ConnectRetry.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Lookup, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := applyOptions(opts)

	db, err := drivers[cfg.Driver].open(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "lookup", "Open", "open database")
	}

	if cfg.ValidateConnection {
		db.SetConnMaxIdleTime(cfg.ValidationTimeout)
	}

	connection := Redact(cfg.ConnectionString)
	retryCfg := cfg.ConnectRetry
	retryCfg.OnRetry = func(attempt int, delay time.Duration, err error) {
		o.logger.Warn("Database connection test failed, retrying",
			"component", o.name,
			"driver", cfg.Driver,
			"connection", connection,
			"attempt", attempt,
			"delay", delay,
			"error", err)
	}

	if err := retry.Do(ctx, retryCfg, func() error { return db.PingContext(ctx) }); err != nil {
		_ = db.Close()
		return nil, errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrNoConnection, err),
			"lookup", "Open", fmt.Sprintf("connect to %s", connection))
	}

	l, err := newLookup(db, cfg, o)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	l.ownsDB = true

	o.logger.Info("Database lookup ready",
		"component", o.name,
		"driver", cfg.Driver,
		"connection", connection,
		"cache_enabled", cfg.Cache.Enabled && cfg.Cache.Size > 0,
		"cache_size", cfg.Cache.Size,
		"cache_expiration", cfg.Cache.Expiration)

	return l, nil
}

// New builds a Lookup on an existing handle. Close leaves db open.
func New(db *sql.DB, cfg Config, opts ...Option) (*Lookup, error) {
	if db == nil {
		return nil, errors.WrapInvalid(errors.ErrNoConnection, "lookup", "New", "nil database handle")
	}
	if cfg.ConnectionString == "" {
		cfg.ConnectionString = "(provided)"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return newLookup(db, cfg, applyOptions(opts))
}

func newLookup(db *sql.DB, cfg Config, o *options) (*Lookup, error) {
	stmt, err := ParseStatement(cfg.Statement, drivers[cfg.Driver].dialect)
	if err != nil {
		return nil, err
	}

	// A serialized cache would hold its lock while a miss waits for the
	// limiter, stalling hits on every other key.
	if cfg.MaxQueriesPerSecond > 0 && cfg.Cache.Strategy != cache.StrategySingleflight {
		o.logger.Info("Query rate limit set, using singleflight cache strategy",
			"component", o.name,
			"configured_strategy", cfg.Cache.Strategy)
		cfg.Cache.Strategy = cache.StrategySingleflight
	}

	cacheOpts := append([]cache.Option[string, []Row]{
		cache.WithClock[string, []Row](o.now),
		cache.WithMetrics[string, []Row](o.registry, o.name),
	}, o.cacheOptions...)

	results, err := cache.NewFromConfig[string, []Row](context.Background(), cfg.Cache, cacheOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "lookup", "newLookup", "create cache")
	}

	l := &Lookup{
		name:          o.name,
		cfg:           cfg,
		db:            db,
		stmt:          stmt,
		cache:         results,
		logger:        o.logger,
		now:           o.now,
		lastValidated: o.now(),
	}
	if cfg.MaxQueriesPerSecond > 0 {
		l.queryLimiter = rate.NewLimiter(rate.Limit(cfg.MaxQueriesPerSecond), max(cfg.QueryBurst, 1))
	}
	return l, nil
}

// Fetch returns the rows for params, keyed by placeholder name. Results are
// served from the cache while live; failed queries are not cached. The
// returned rows are copies the caller may modify.
func (l *Lookup) Fetch(ctx context.Context, params map[string]any) ([]Row, error) {
	key, err := l.stmt.Key(params)
	if err != nil {
		return nil, err
	}
	args, err := l.stmt.Args(params)
	if err != nil {
		return nil, err
	}

	rows, err := l.cache.Get(key, func() ([]Row, error) {
		return l.query(ctx, args)
	})
	if err != nil {
		return nil, err
	}
	return cloneRows(rows), nil
}

func (l *Lookup) query(ctx context.Context, args []any) ([]Row, error) {
	if l.queryLimiter != nil {
		if err := l.queryLimiter.Wait(ctx); err != nil {
			return nil, errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrRateLimited, err),
				"lookup", "Fetch", "wait for query rate limit")
		}
	}
	if err := l.validate(ctx); err != nil {
		return nil, err
	}

	rows, err := l.db.QueryContext(ctx, l.stmt.Text(), args...)
	if err != nil {
		return nil, errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrQueryFailed, err),
			"lookup", "Fetch", "execute statement")
	}
	defer rows.Close()

	result, err := scanRows(rows)
	if err != nil {
		if errors.IsInvalid(err) {
			return nil, err
		}
		return nil, errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrQueryFailed, err),
			"lookup", "Fetch", "read rows")
	}

	l.logger.Debug("Lookup query executed",
		"component", l.name,
		"rows", len(result))
	return result, nil
}

// validate pings the database when validation is enabled and the last
// successful check is older than the validation timeout.
func (l *Lookup) validate(ctx context.Context) error {
	if !l.cfg.ValidateConnection {
		return nil
	}

	l.validateMu.Lock()
	defer l.validateMu.Unlock()

	now := l.now()
	if now.Sub(l.lastValidated) < l.cfg.ValidationTimeout {
		return nil
	}
	if err := l.db.PingContext(ctx); err != nil {
		return errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrConnectionLost, err),
			"lookup", "Fetch", "validate connection")
	}
	l.lastValidated = now
	return nil
}

// Name returns the component name.
func (l *Lookup) Name() string {
	return l.name
}

// Parameters returns the placeholder to event field mapping.
func (l *Lookup) Parameters() map[string]string {
	params := make(map[string]string, len(l.cfg.Parameters))
	for name, field := range l.cfg.Parameters {
		params[name] = field
	}
	return params
}

// Statement returns the parsed statement.
func (l *Lookup) Statement() *Statement {
	return l.stmt
}

// Stats returns the cache statistics, nil when caching is disabled.
func (l *Lookup) Stats() *cache.Statistics {
	return l.cache.Stats()
}

// Ping checks the database connection.
func (l *Lookup) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}

// Close releases the cache and, when opened by Open, the database.
func (l *Lookup) Close() error {
	err := l.cache.Close()
	if l.ownsDB {
		if dbErr := l.db.Close(); dbErr != nil && err == nil {
			err = dbErr
		}
	}
	return err
}
