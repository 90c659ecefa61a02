// Package lookupstream enriches streams of JSON events with rows fetched from
// a SQL database, keeping recent lookups in a bounded, expiring cache.
//
// # Architecture
//
// The module is split into small packages that are usable on their own:
//
//   - pkg/cache: generic memoization caches. A bounded cache evicts the least
//     recently used entry once full and recomputes entries older than the
//     expiration; a passthrough cache always recomputes. Config selects one.
//   - lookup: runs one parameterized statement against a database/sql driver
//     (SQLite, PostgreSQL through pgx) and memoizes the rows per parameter set.
//   - processor/enrich: reads statement parameters from event fields, stores
//     the rows in a target field and tags events on failure or default use.
//   - natsclient: NATS connection with reconnect handling and a circuit breaker.
//   - config: layered JSON, YAML and TOML configuration with env overrides.
//   - metric, health: Prometheus registry, /metrics and /health endpoint.
//   - pkg/retry, pkg/worker, pkg/tlsutil: retry with backoff, a bounded worker
//     pool and TLS configuration loading.
//   - errors: error classification (transient, invalid, fatal) shared by all
//     packages.
//
// # Data Flow
//
//	stdin / NATS subject
//	        │
//	        ▼
//	  enrich.Processor ── parameters ──▶ lookup.Lookup ──▶ cache ──miss──▶ database
//	        │                                   ◀── rows ──┘
//	        ▼
//	stdout / NATS subject
//
// A cache hit never touches the database. Concurrent misses for the same
// parameters compute once with the singleflight strategy; the default
// serialized strategy runs computations one at a time.
//
// # Caching Semantics
//
// Entries are keyed by the statement parameter values. An entry is served
// until it is older than the configured expiration, measured from when it was
// stored, not from its last use. Reads refresh recency, so the entry evicted
// when the cache is full is the one read or stored longest ago. Errors are
// never cached.
//
// # Usage
//
// The lookupstream command wires the packages together:
//
//	lookupstream -config lookupstream.yaml < events.ndjson > enriched.ndjson
//
// Embedding the cache alone:
//
//	c, err := cache.NewFromConfig[string, []lookup.Row](ctx, cache.Config{
//		Enabled:    true,
//		Size:       500,
//		Expiration: 5 * time.Second,
//	})
//	rows, err := c.Get(key, func() ([]lookup.Row, error) {
//		return query(ctx, key)
//	})
package lookupstream
