// Package lookup runs a parameterized SQL query against a database and caches
// the resulting rows.
//
// A Lookup is configured with a driver, a connection string and a statement
// using named placeholders:
//
//	cfg := lookup.DefaultConfig()
//	cfg.ConnectionString = "file:ref.db"
//	cfg.Statement = "SELECT name, region FROM hosts WHERE ip = :ip"
//
//	l, err := lookup.Open(ctx, cfg, lookup.WithLogger(logger))
//	rows, err := l.Fetch(ctx, map[string]any{"ip": "10.0.0.1"})
//
// Placeholders inside string literals, quoted identifiers and comments are
// left alone, and PostgreSQL casts (::int) are not mistaken for placeholders.
// The sqlite driver binds with ?, the pgx driver with $1, $2 and so on.
//
// Results are cached per parameter set as configured by Config.Cache. Query
// failures are returned as transient errors and never cached. With
// MaxQueriesPerSecond set, cache misses wait for a token bucket before the
// statement runs and the cache switches to the singleflight strategy, so
// waiting misses do not hold up hits.
package lookup
