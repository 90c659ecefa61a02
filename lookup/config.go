package lookup

import (
	"fmt"
	"time"

	"github.com/c360/lookupstream/errors"
	"github.com/c360/lookupstream/pkg/cache"
	"github.com/c360/lookupstream/pkg/retry"
)

// Config describes one database lookup.
type Config struct {
	// Driver selects the database driver: "sqlite" or "pgx".
	Driver string

	// ConnectionString is the driver-specific data source name. Required.
	ConnectionString string

	// User and Password override credentials in ConnectionString when set.
	User     string
	Password string

	// DriverOptions are extra connection parameters. pgx receives them as
	// runtime parameters, sqlite as query parameters of the data source name.
	DriverOptions map[string]string

	// ValidateConnection checks a connection with a ping before a query when
	// it has not been validated for ValidationTimeout, and closes connections
	// idle for longer than ValidationTimeout.
	ValidateConnection bool
	ValidationTimeout  time.Duration

	// Statement is the SQL query. Named placeholders (:name) are bound from
	// the parameters passed to Fetch. Required.
	Statement string

	// Parameters maps each placeholder name to the event field it is read from.
	Parameters map[string]string

	// Cache configures result caching.
	Cache cache.Config

	// MaxQueriesPerSecond limits the statements sent to the database. Zero
	// disables the limit. When set, the cache uses StrategySingleflight so a
	// miss waiting for the limiter never delays hits on other keys.
	MaxQueriesPerSecond float64

	// QueryBurst is the number of queries allowed at once above the rate.
	// Values below one mean one.
	QueryBurst int

	// ConnectRetry controls the connection test performed by Open.
	ConnectRetry retry.Config
}

// DefaultConfig returns the defaults for every optional field.
func DefaultConfig() Config {
	return Config{
		Driver:            DriverSQLite,
		ValidationTimeout: time.Hour,
		Cache:             cache.DefaultConfig(),
		ConnectRetry:      retry.DefaultConfig(),
	}
}

// Validate checks the configuration without connecting.
func (c Config) Validate() error {
	if _, ok := drivers[c.Driver]; !ok {
		return errors.WrapInvalid(errors.ErrUnknownDriver, "lookup", "Validate",
			fmt.Sprintf("driver %q (supported: %s, %s)", c.Driver, DriverSQLite, DriverPgx))
	}
	if c.ConnectionString == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "lookup", "Validate", "connection_string is required")
	}
	if c.Statement == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "lookup", "Validate", "statement is required")
	}
	if c.ValidateConnection && c.ValidationTimeout <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "lookup", "Validate",
			fmt.Sprintf("validation_timeout must be positive, got %v", c.ValidationTimeout))
	}
	if c.MaxQueriesPerSecond < 0 || c.QueryBurst < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "lookup", "Validate",
			fmt.Sprintf("query rate limit cannot be negative, got %v/s burst %d", c.MaxQueriesPerSecond, c.QueryBurst))
	}
	if err := c.Cache.Validate(); err != nil {
		return errors.Wrap(err, "lookup", "Validate", "cache")
	}
	if err := c.ConnectRetry.Validate(); err != nil {
		return errors.WrapInvalid(err, "lookup", "Validate", "connect_retry")
	}

	stmt, err := ParseStatement(c.Statement, drivers[c.Driver].dialect)
	if err != nil {
		return err
	}
	// Without a parameter mapping the caller passes placeholder values directly.
	if c.Parameters == nil {
		return nil
	}
	for _, name := range stmt.Names() {
		if _, ok := c.Parameters[name]; !ok {
			return errors.WrapInvalid(errors.ErrMissingParameter, "lookup", "Validate",
				fmt.Sprintf("placeholder :%s has no entry in parameters", name))
		}
	}
	return nil
}
