package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/c360/lookupstream/errors"
)

// Strategy selects how a bounded cache synchronizes concurrent lookups.
type Strategy string

const (
	// StrategySerialized holds one lock across lookup, computation and
	// insertion. At most one computation runs at a time.
	StrategySerialized Strategy = "serialized"

	// StrategySingleflight deduplicates computations per key and lets lookups
	// of different keys compute in parallel.
	StrategySingleflight Strategy = "singleflight"
)

// Config contains configuration for cache creation.
type Config struct {
	// Enabled determines if caching is enabled.
	Enabled bool `json:"use_cache"`

	// Size is the maximum number of entries. Zero or less disables caching.
	Size int `json:"cache_size"`

	// Expiration is the time-to-live of every entry, counted from insertion.
	Expiration time.Duration `json:"cache_expiration"`

	// Strategy determines the locking strategy. Empty means serialized.
	Strategy Strategy `json:"strategy,omitempty"`

	// CleanupInterval enables a background sweep of expired entries when positive.
	CleanupInterval time.Duration `json:"cleanup_interval,omitempty"`
}

// DefaultConfig returns a default cache configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:    true,
		Size:       500,
		Expiration: 5 * time.Second,
		Strategy:   StrategySerialized,
	}
}

// active reports whether the configuration selects a bounded cache.
func (c Config) active() bool {
	return c.Enabled && c.Size > 0
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if !c.active() {
		return nil // Passthrough needs no validation
	}

	if c.Expiration <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "Validate",
			fmt.Sprintf("cache_expiration must be positive, got %v", c.Expiration))
	}

	switch c.Strategy {
	case "", StrategySerialized, StrategySingleflight:
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "Validate",
			fmt.Sprintf("unknown cache strategy: %s", c.Strategy))
	}

	if c.CleanupInterval < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "Validate",
			fmt.Sprintf("cleanup_interval must not be negative, got %v", c.CleanupInterval))
	}

	return nil
}

// NewFromConfig creates a cache based on the provided configuration.
// Returns a passthrough cache if caching is disabled or Size is not positive.
// Additional functional options can be passed to configure metrics, callbacks, etc.
func NewFromConfig[K comparable, V any](ctx context.Context, config Config, options ...Option[K, V]) (Cache[K, V], error) {
	if err := config.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "cache", "NewFromConfig", "config validation failed")
	}

	if !config.active() {
		return NewPassthrough[K, V](), nil
	}

	if config.CleanupInterval > 0 {
		options = append(options, WithCleanupInterval[K, V](ctx, config.CleanupInterval))
	}

	switch config.Strategy {
	case StrategySingleflight:
		return NewSingleflight[K, V](config.Size, config.Expiration, options...)
	default:
		return New[K, V](config.Size, config.Expiration, options...)
	}
}

// MarshalJSON writes durations as strings so the output reads back unchanged.
func (c Config) MarshalJSON() ([]byte, error) {
	type Alias Config

	aux := struct {
		Expiration      string `json:"cache_expiration"`
		CleanupInterval string `json:"cleanup_interval,omitempty"`
		Alias
	}{
		Expiration: c.Expiration.String(),
		Alias:      Alias(c),
	}
	if c.CleanupInterval > 0 {
		aux.CleanupInterval = c.CleanupInterval.String()
	}
	return json.Marshal(aux)
}

// UnmarshalJSON accepts durations as strings ("5s", "1m") or as numbers of seconds.
func (c *Config) UnmarshalJSON(data []byte) error {
	type Alias Config

	aux := &struct {
		Expiration      json.RawMessage `json:"cache_expiration,omitempty"`
		CleanupInterval json.RawMessage `json:"cleanup_interval,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(c),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if len(aux.Expiration) > 0 {
		expiration, err := parseDurationField(aux.Expiration, "cache_expiration")
		if err != nil {
			return err
		}
		c.Expiration = expiration
	}

	if len(aux.CleanupInterval) > 0 {
		interval, err := parseDurationField(aux.CleanupInterval, "cleanup_interval")
		if err != nil {
			return err
		}
		c.CleanupInterval = interval
	}

	return nil
}

// parseDurationField parses a JSON duration field that can be either:
// - A string (duration like "1h", "5m", "30s")
// - A number of seconds, fractions allowed
func parseDurationField(data json.RawMessage, fieldName string) (time.Duration, error) {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		duration, err := time.ParseDuration(str)
		if err != nil {
			return 0, fmt.Errorf("invalid duration string for %s: %w", fieldName, err)
		}
		return duration, nil
	}

	var seconds float64
	if err := json.Unmarshal(data, &seconds); err != nil {
		return 0, fmt.Errorf("field %s must be either a duration string (e.g., '5s') or a number of seconds", fieldName)
	}
	if math.IsNaN(seconds) || math.Abs(seconds) > math.MaxInt64/float64(time.Second) {
		return 0, fmt.Errorf("field %s is out of range: %v", fieldName, seconds)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}
