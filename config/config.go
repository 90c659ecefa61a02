package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/c360/lookupstream/errors"
	"github.com/c360/lookupstream/lookup"
	"github.com/c360/lookupstream/pkg/cache"
	"github.com/c360/lookupstream/pkg/retry"
	"github.com/c360/lookupstream/pkg/tlsutil"
	"github.com/c360/lookupstream/processor/enrich"
)

// DefaultEnvPrefix prefixes every environment override.
const DefaultEnvPrefix = "LOOKUPSTREAM"

// Transport types
const (
	TransportStdio = "stdio"
	TransportNATS  = "nats"
)

// Config represents the complete application configuration
type Config struct {
	Lookup    LookupConfig    `json:"lookup"`
	Enrich    EnrichConfig    `json:"enrich"`
	Transport TransportConfig `json:"transport"`
	NATS      NATSConfig      `json:"nats"`
	Metrics   MetricsConfig   `json:"metrics"`
	Logging   LoggingConfig   `json:"logging"`
}

// LookupConfig is the database side of the pipeline.
type LookupConfig struct {
	Driver             string            `json:"driver"`
	ConnectionString   string            `json:"connection_string"`
	User               string            `json:"user,omitempty"`
	Password           string            `json:"password,omitempty"`
	DriverOptions      map[string]string `json:"driver_options,omitempty"`
	ValidateConnection bool              `json:"validate_connection"`
	ValidationTimeout  Duration          `json:"validation_timeout"`
	Statement          string            `json:"statement"`
	Parameters         map[string]string `json:"parameters,omitempty"`
	Cache              cache.Config      `json:"cache"`
	MaxQueriesPerSec   float64           `json:"max_queries_per_second,omitempty"`
	QueryBurst         int               `json:"query_burst,omitempty"`
	ConnectRetry       RetryConfig       `json:"connect_retry"`
}

// RetryConfig controls the connection test on startup.
type RetryConfig struct {
	MaxAttempts  int      `json:"max_attempts"`
	InitialDelay Duration `json:"initial_delay"`
	MaxDelay     Duration `json:"max_delay"`
	Multiplier   float64  `json:"multiplier"`
	Jitter       bool     `json:"jitter"`
}

// EnrichConfig controls how rows are merged into events.
type EnrichConfig struct {
	Name            string         `json:"name"`
	Target          string         `json:"target"`
	DefaultRow      map[string]any `json:"default_row,omitempty"`
	TagOnFailure    []string       `json:"tag_on_failure"`
	TagOnDefaultUse []string       `json:"tag_on_default_use"`
	TagsField       string         `json:"tags_field"`
	Workers         int            `json:"workers"`
	QueueSize       int            `json:"queue_size"`
}

// TransportConfig selects where events come from and go to.
type TransportConfig struct {
	Type          string `json:"type"` // stdio or nats
	InputSubject  string `json:"input_subject,omitempty"`
	OutputSubject string `json:"output_subject,omitempty"`
	QueueGroup    string `json:"queue_group,omitempty"`
	MaxLineBytes  int    `json:"max_line_bytes,omitempty"`
}

// NATSConfig contains NATS connection settings
type NATSConfig struct {
	URLs           []string `json:"urls"`
	MaxReconnects  int      `json:"max_reconnects"`
	ReconnectWait  Duration `json:"reconnect_wait"`
	ConnectTimeout Duration `json:"connect_timeout"`
	Username       string   `json:"username,omitempty"`
	Password       string   `json:"password,omitempty"`
	Token          string   `json:"token,omitempty"`
	Name           string   `json:"name,omitempty"`

	TLS tlsutil.ClientConfig `json:"tls"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port"`
	Path    string `json:"path"`

	TLS tlsutil.ServerConfig `json:"tls"`
}

// LoggingConfig sets the log level and format.
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Default returns the configuration used for every unset field.
func Default() *Config {
	c := cache.DefaultConfig()
	r := retry.DefaultConfig()
	return &Config{
		Lookup: LookupConfig{
			Driver:            lookup.DriverSQLite,
			ValidationTimeout: Duration(time.Hour),
			Cache:             c,
			ConnectRetry: RetryConfig{
				MaxAttempts:  r.MaxAttempts,
				InitialDelay: Duration(r.InitialDelay),
				MaxDelay:     Duration(r.MaxDelay),
				Multiplier:   r.Multiplier,
				Jitter:       r.AddJitter,
			},
		},
		Enrich: EnrichConfig{
			Name:            "enrich",
			TagOnFailure:    []string{enrich.DefaultFailureTag},
			TagOnDefaultUse: []string{enrich.DefaultDefaultUseTag},
			TagsField:       enrich.DefaultTagsField,
			Workers:         1,
			QueueSize:       256,
		},
		Transport: TransportConfig{
			Type: TransportStdio,
		},
		NATS: NATSConfig{
			URLs:           []string{"nats://localhost:4222"},
			MaxReconnects:  -1,
			ReconnectWait:  Duration(2 * time.Second),
			ConnectTimeout: Duration(5 * time.Second),
			Name:           "lookupstream",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.LookupConfig().Validate(); err != nil {
		return errors.Wrap(err, "config", "Validate", "lookup")
	}
	if err := c.EnrichConfig().Validate(); err != nil {
		return errors.Wrap(err, "config", "Validate", "enrich")
	}

	switch c.Transport.Type {
	case TransportStdio:
	case TransportNATS:
		if len(c.NATS.URLs) == 0 {
			return errors.WrapInvalid(errors.ErrMissingConfig, "config", "Validate",
				"nats.urls is required for the nats transport")
		}
		if c.Transport.InputSubject == "" || c.Transport.OutputSubject == "" {
			return errors.WrapInvalid(errors.ErrMissingConfig, "config", "Validate",
				"transport.input_subject and transport.output_subject are required for the nats transport")
		}
		if c.Transport.InputSubject == c.Transport.OutputSubject {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate",
				"transport.input_subject and transport.output_subject must differ")
		}
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate",
			fmt.Sprintf("transport.type %q (supported: %s, %s)", c.Transport.Type, TransportStdio, TransportNATS))
	}
	if c.Transport.MaxLineBytes < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate",
			"transport.max_line_bytes cannot be negative")
	}

	if c.NATS.ReconnectWait < 0 || c.NATS.ConnectTimeout < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate",
			"nats durations cannot be negative")
	}
	if err := c.NATS.TLS.Validate(); err != nil {
		return errors.Wrap(err, "config", "Validate", "nats.tls")
	}

	if c.Metrics.Enabled {
		if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate",
				fmt.Sprintf("metrics.port %d out of range", c.Metrics.Port))
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate",
				fmt.Sprintf("metrics.path %q must start with /", c.Metrics.Path))
		}
		if err := c.Metrics.TLS.Validate(); err != nil {
			return errors.Wrap(err, "config", "Validate", "metrics.tls")
		}
	}
	return nil
}

// LookupConfig converts the lookup section. Parameters are never nil, so
// every statement placeholder must be mapped to an event field.
func (c *Config) LookupConfig() lookup.Config {
	params := make(map[string]string, len(c.Lookup.Parameters))
	for k, v := range c.Lookup.Parameters {
		params[k] = v
	}
	return lookup.Config{
		Driver:              c.Lookup.Driver,
		ConnectionString:    c.Lookup.ConnectionString,
		User:                c.Lookup.User,
		Password:            c.Lookup.Password,
		DriverOptions:       c.Lookup.DriverOptions,
		ValidateConnection:  c.Lookup.ValidateConnection,
		ValidationTimeout:   c.Lookup.ValidationTimeout.Duration(),
		Statement:           c.Lookup.Statement,
		Parameters:          params,
		Cache:               c.Lookup.Cache,
		MaxQueriesPerSecond: c.Lookup.MaxQueriesPerSec,
		QueryBurst:          c.Lookup.QueryBurst,
		ConnectRetry: retry.Config{
			MaxAttempts:  c.Lookup.ConnectRetry.MaxAttempts,
			InitialDelay: c.Lookup.ConnectRetry.InitialDelay.Duration(),
			MaxDelay:     c.Lookup.ConnectRetry.MaxDelay.Duration(),
			Multiplier:   c.Lookup.ConnectRetry.Multiplier,
			AddJitter:    c.Lookup.ConnectRetry.Jitter,
		},
	}
}

// EnrichConfig converts the enrich section. Statement parameters become the
// event field mapping.
func (c *Config) EnrichConfig() enrich.Config {
	params := make(map[string]string, len(c.Lookup.Parameters))
	for k, v := range c.Lookup.Parameters {
		params[k] = v
	}
	return enrich.Config{
		Name:            c.Enrich.Name,
		Target:          c.Enrich.Target,
		Parameters:      params,
		DefaultRow:      c.Enrich.DefaultRow,
		TagOnFailure:    c.Enrich.TagOnFailure,
		TagOnDefaultUse: c.Enrich.TagOnDefaultUse,
		TagsField:       c.Enrich.TagsField,
		Workers:         c.Enrich.Workers,
		QueueSize:       c.Enrich.QueueSize,
	}
}

// String returns the configuration as indented JSON with secrets masked.
func (c *Config) String() string {
	masked := *c
	if masked.Lookup.Password != "" {
		masked.Lookup.Password = "xxxxx"
	}
	if masked.NATS.Password != "" {
		masked.NATS.Password = "xxxxx"
	}
	if masked.NATS.Token != "" {
		masked.NATS.Token = "xxxxx"
	}
	masked.Lookup.ConnectionString = lookup.Redact(masked.Lookup.ConnectionString)

	data, _ := json.MarshalIndent(&masked, "", "  ")
	return string(data)
}

// Loader loads configuration files with layer merging and environment overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		layers:     []string{},
		validation: true,
		envPrefix:  DefaultEnvPrefix,
	}
}

// AddLayer adds a configuration file layer. Later layers override earlier ones.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables validation after loading
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// SetEnvPrefix changes the prefix of environment overrides.
func (l *Loader) SetEnvPrefix(prefix string) {
	l.envPrefix = prefix
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load loads and merges all configuration layers
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	for _, layer := range l.layers {
		raw, err := l.loadRaw(layer)
		if err != nil {
			return nil, errors.WrapInvalid(err, "config", "Load", fmt.Sprintf("load layer %s", layer))
		}
		merged, err := l.mergeFromMap(cfg, raw)
		if err != nil {
			return nil, errors.WrapInvalid(err, "config", "Load", fmt.Sprintf("merge layer %s", layer))
		}
		cfg = merged
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// Parse decodes one document in the given format ("json", "yaml" or
// "toml") over the defaults. Environment overrides are not applied.
func Parse(data []byte, format string) (*Config, error) {
	raw, err := decodeRaw(data, format)
	if err != nil {
		return nil, errors.WrapInvalid(err, "config", "Parse", "decode "+format)
	}
	l := NewLoader()
	cfg, err := l.mergeFromMap(Default(), raw)
	if err != nil {
		return nil, errors.WrapInvalid(err, "config", "Parse", "merge")
	}
	return cfg, nil
}

// loadRaw reads a file and decodes it by extension into a generic map.
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}
	return decodeRaw(data, formatOf(path))
}

func formatOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	case ".toml":
		return "toml"
	default:
		return "json"
	}
}

func decodeRaw(data []byte, format string) (map[string]any, error) {
	raw := map[string]any{}
	switch format {
	case "json":
		if err := validateJSONDepth(data); err != nil {
			return nil, fmt.Errorf("%w: %w", errors.ErrParsingFailed, err)
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w: %w", errors.ErrParsingFailed, err)
		}
	case "yaml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w: %w", errors.ErrParsingFailed, err)
		}
	case "toml":
		if err := toml.NewDecoder(bytes.NewReader(data)).Decode(&raw); err != nil {
			return nil, fmt.Errorf("%w: %w", errors.ErrParsingFailed, err)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported format %q", errors.ErrInvalidConfig, format)
	}
	if err := checkDepth(raw, 0); err != nil {
		return nil, err
	}
	return raw, nil
}

// mergeFromMap overlays a raw map onto a typed config.
func (l *Loader) mergeFromMap(base *Config, override map[string]any) (*Config, error) {
	baseJSON, err := json.Marshal(base)
	if err != nil {
		return nil, err
	}
	var baseMap map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return nil, err
	}

	mergedJSON, err := json.Marshal(l.deepMergeMaps(baseMap, override))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrInvalidData, err)
	}

	merged := &Config{}
	decoder := json.NewDecoder(bytes.NewReader(mergedJSON))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(merged); err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err)
	}
	return merged, nil
}

// deepMergeMaps recursively merges two maps, override wins
func (l *Loader) deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}

		if baseMap, baseOk := result[k].(map[string]any); baseOk {
			if overrideMap, overrideOk := v.(map[string]any); overrideOk {
				result[k] = l.deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}

		result[k] = v
	}

	return result
}

// applyEnvOverrides applies environment variable overrides
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	lookupEnv := func(name string) (string, bool, error) {
		key := l.envPrefix + "_" + name
		val := os.Getenv(key)
		if val == "" {
			return "", false, nil
		}
		if err := validateEnvVar(key, val); err != nil {
			return "", false, errors.WrapInvalid(err, "config", "applyEnvOverrides", key)
		}
		return val, true, nil
	}

	overrides := []struct {
		name  string
		apply func(string)
	}{
		{"CONNECTION_STRING", func(v string) { cfg.Lookup.ConnectionString = v }},
		{"USER", func(v string) { cfg.Lookup.User = v }},
		{"PASSWORD", func(v string) { cfg.Lookup.Password = v }},
		{"NATS_URL", func(v string) { cfg.NATS.URLs = splitList(v) }},
		{"NATS_USERNAME", func(v string) { cfg.NATS.Username = v }},
		{"NATS_PASSWORD", func(v string) { cfg.NATS.Password = v }},
		{"NATS_TOKEN", func(v string) { cfg.NATS.Token = v }},
	}
	for _, o := range overrides {
		val, ok, err := lookupEnv(o.name)
		if err != nil {
			return err
		}
		if ok {
			o.apply(val)
		}
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Duration is a time.Duration written as a string ("5s") or a number of
// seconds.
type Duration time.Duration

// Duration returns the value as a time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// MarshalJSON writes the duration string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts "1m30s" or 90.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		parsed, err := time.ParseDuration(str)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", str, err)
		}
		*d = Duration(parsed)
		return nil
	}

	var seconds float64
	if err := json.Unmarshal(data, &seconds); err != nil {
		return fmt.Errorf("duration must be a string like \"5s\" or a number of seconds, got %s", data)
	}
	if math.IsNaN(seconds) || math.Abs(seconds) > math.MaxInt64/float64(time.Second) {
		return fmt.Errorf("duration out of range: %v", seconds)
	}
	*d = Duration(seconds * float64(time.Second))
	return nil
}
