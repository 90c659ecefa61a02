package lookup

import (
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"github.com/c360/lookupstream/errors"
)

// Supported driver names.
const (
	DriverSQLite = "sqlite"
	DriverPgx    = "pgx"
)

// driver opens a database/sql handle for one backend.
type driver struct {
	dialect Dialect
	open    func(cfg Config) (*sql.DB, error)
}

var drivers = map[string]driver{
	DriverSQLite: {dialect: DialectQuestion, open: openSQLite},
	DriverPgx:    {dialect: DialectDollar, open: openPgx},
}

// openSQLite ignores User and Password; sqlite has no authentication.
func openSQLite(cfg Config) (*sql.DB, error) {
	dsn := cfg.ConnectionString
	if len(cfg.DriverOptions) > 0 {
		query := url.Values{}
		for key, value := range cfg.DriverOptions {
			query.Add(key, value)
		}
		separator := "?"
		if strings.Contains(dsn, "?") {
			separator = "&"
		}
		dsn += separator + query.Encode()
	}
	return sql.Open(DriverSQLite, dsn)
}

func openPgx(cfg Config) (*sql.DB, error) {
	connConfig, err := pgx.ParseConfig(cfg.ConnectionString)
	if err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err),
			"lookup", "openPgx", "parse connection_string")
	}
	if cfg.User != "" {
		connConfig.User = cfg.User
	}
	if cfg.Password != "" {
		connConfig.Password = cfg.Password
	}
	for key, value := range cfg.DriverOptions {
		connConfig.RuntimeParams[key] = value
	}
	return stdlib.OpenDB(*connConfig), nil
}

// Redact hides the password of a URL-style connection string for logging.
func Redact(connectionString string) string {
	u, err := url.Parse(connectionString)
	if err != nil || u.Scheme == "" {
		if strings.Contains(strings.ToLower(connectionString), "password") {
			return "[redacted]"
		}
		return connectionString
	}
	return u.Redacted()
}
