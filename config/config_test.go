package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/lookupstream/errors"
	"github.com/c360/lookupstream/lookup"
	"github.com/c360/lookupstream/pkg/cache"
	"github.com/c360/lookupstream/pkg/tlsutil"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

const jsonConfig = `{
	"lookup": {
		"driver": "pgx",
		"connection_string": "postgres://app@db:5432/ref",
		"validate_connection": true,
		"validation_timeout": "10m",
		"statement": "SELECT name FROM hosts WHERE ip = :ip",
		"parameters": {"ip": "client.ip"},
		"cache": {"cache_size": 100, "cache_expiration": 30}
	},
	"enrich": {"target": "host", "default_row": {"name": "unknown"}},
	"transport": {"type": "nats", "input_subject": "events.in", "output_subject": "events.out", "queue_group": "enrich"},
	"nats": {"urls": ["nats://a:4222", "nats://b:4222"], "reconnect_wait": 5}
}`

const yamlConfig = `
lookup:
  driver: pgx
  connection_string: "postgres://app@db:5432/ref"
  validate_connection: true
  validation_timeout: 10m
  statement: "SELECT name FROM hosts WHERE ip = :ip"
  parameters:
    ip: client.ip
  cache:
    cache_size: 100
    cache_expiration: 30
enrich:
  target: host
  default_row:
    name: unknown
transport:
  type: nats
  input_subject: events.in
  output_subject: events.out
  queue_group: enrich
nats:
  urls: ["nats://a:4222", "nats://b:4222"]
  reconnect_wait: 5
`

const tomlConfig = `
[lookup]
driver = "pgx"
connection_string = "postgres://app@db:5432/ref"
validate_connection = true
validation_timeout = "10m"
statement = "SELECT name FROM hosts WHERE ip = :ip"

[lookup.parameters]
ip = "client.ip"

[lookup.cache]
cache_size = 100
cache_expiration = 30

[enrich]
target = "host"

[enrich.default_row]
name = "unknown"

[transport]
type = "nats"
input_subject = "events.in"
output_subject = "events.out"
queue_group = "enrich"

[nats]
urls = ["nats://a:4222", "nats://b:4222"]
reconnect_wait = 5
`

func TestLoader_Formats(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{name: "json", file: "config.json", content: jsonConfig},
		{name: "yaml", file: "config.yaml", content: yamlConfig},
		{name: "yml", file: "config.yml", content: yamlConfig},
		{name: "toml", file: "config.toml", content: tomlConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := NewLoader().LoadFile(writeConfig(t, tt.file, tt.content))
			require.NoError(t, err)

			assert.Equal(t, lookup.DriverPgx, cfg.Lookup.Driver)
			assert.True(t, cfg.Lookup.ValidateConnection)
			assert.Equal(t, 10*time.Minute, cfg.Lookup.ValidationTimeout.Duration())
			assert.Equal(t, map[string]string{"ip": "client.ip"}, cfg.Lookup.Parameters)

			// Cache fields not in the file keep their defaults.
			assert.True(t, cfg.Lookup.Cache.Enabled)
			assert.Equal(t, 100, cfg.Lookup.Cache.Size)
			assert.Equal(t, 30*time.Second, cfg.Lookup.Cache.Expiration)
			assert.Equal(t, cache.StrategySerialized, cfg.Lookup.Cache.Strategy)

			assert.Equal(t, "host", cfg.Enrich.Target)
			assert.Equal(t, map[string]any{"name": "unknown"}, cfg.Enrich.DefaultRow)
			assert.Equal(t, []string{"_jdbcstreamingfailure"}, cfg.Enrich.TagOnFailure)

			assert.Equal(t, TransportNATS, cfg.Transport.Type)
			assert.Equal(t, "enrich", cfg.Transport.QueueGroup)
			assert.Equal(t, []string{"nats://a:4222", "nats://b:4222"}, cfg.NATS.URLs)
			assert.Equal(t, 5*time.Second, cfg.NATS.ReconnectWait.Duration())
			assert.Equal(t, -1, cfg.NATS.MaxReconnects)
		})
	}
}

func TestLoader_Defaults(t *testing.T) {
	path := writeConfig(t, "config.json", `{
		"lookup": {"connection_string": "file:ref.db", "statement": "SELECT 1"},
		"enrich": {"target": "result"}
	}`)

	cfg, err := NewLoader().LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, lookup.DriverSQLite, cfg.Lookup.Driver)
	assert.False(t, cfg.Lookup.ValidateConnection)
	assert.Equal(t, time.Hour, cfg.Lookup.ValidationTimeout.Duration())
	assert.Equal(t, cache.DefaultConfig(), cfg.Lookup.Cache)
	assert.Equal(t, 3, cfg.Lookup.ConnectRetry.MaxAttempts)
	assert.Equal(t, TransportStdio, cfg.Transport.Type)
	assert.Equal(t, "tags", cfg.Enrich.TagsField)
	assert.Equal(t, []string{"_jdbcstreamingdefaultsused"}, cfg.Enrich.TagOnDefaultUse)
	assert.Equal(t, 1, cfg.Enrich.Workers)
	assert.Zero(t, cfg.Lookup.MaxQueriesPerSec)
	assert.False(t, cfg.NATS.TLS.Enabled)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoader_WorkersAndTLS(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
lookup:
  connection_string: "file:ref.db"
  statement: SELECT 1
  max_queries_per_second: 50
  query_burst: 5
enrich:
  target: result
  workers: 8
  queue_size: 64
nats:
  tls:
    enabled: true
    ca_files: [/etc/ssl/nats-ca.pem]
    min_version: "1.3"
`)

	cfg, err := NewLoader().LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Enrich.Workers)
	assert.Equal(t, 64, cfg.EnrichConfig().QueueSize)
	assert.Equal(t, 50.0, cfg.LookupConfig().MaxQueriesPerSecond)
	assert.Equal(t, 5, cfg.LookupConfig().QueryBurst)
	assert.Equal(t, tlsutil.ClientConfig{
		Enabled:    true,
		CAFiles:    []string{"/etc/ssl/nats-ca.pem"},
		MinVersion: "1.3",
	}, cfg.NATS.TLS)
}

func TestLoader_Layers(t *testing.T) {
	base := writeConfig(t, "base.yaml", `
lookup:
  connection_string: file:ref.db
  statement: "SELECT name FROM hosts WHERE ip = :ip"
  parameters:
    ip: client.ip
  cache:
    cache_size: 10
enrich:
  target: host
  tag_on_failure: [lookup_failed]
`)
	override := writeConfig(t, "override.toml", `
[lookup.cache]
use_cache = false

[enrich]
tag_on_failure = []
`)

	loader := NewLoader()
	loader.AddLayer(base)
	loader.AddLayer(override)
	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.False(t, cfg.Lookup.Cache.Enabled)
	assert.Equal(t, 10, cfg.Lookup.Cache.Size)
	assert.Equal(t, "host", cfg.Enrich.Target)
	assert.Empty(t, cfg.Enrich.TagOnFailure)
	assert.Equal(t, "SELECT name FROM hosts WHERE ip = :ip", cfg.Lookup.Statement)
}

func TestLoader_EnvOverrides(t *testing.T) {
	t.Setenv("LOOKUPSTREAM_CONNECTION_STRING", "postgres://env@db/ref")
	t.Setenv("LOOKUPSTREAM_PASSWORD", "s3cret")
	t.Setenv("LOOKUPSTREAM_NATS_URL", "nats://x:4222, nats://y:4222")

	path := writeConfig(t, "config.json", `{
		"lookup": {"driver": "pgx", "connection_string": "postgres://file@db/ref", "statement": "SELECT 1"},
		"enrich": {"target": "result"}
	}`)

	cfg, err := NewLoader().LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres://env@db/ref", cfg.Lookup.ConnectionString)
	assert.Equal(t, "s3cret", cfg.Lookup.Password)
	assert.Equal(t, []string{"nats://x:4222", "nats://y:4222"}, cfg.NATS.URLs)
	assert.Equal(t, "s3cret", cfg.LookupConfig().Password)
}

func TestLoader_EnvPrefix(t *testing.T) {
	t.Setenv("CUSTOM_CONNECTION_STRING", "file:env.db")

	path := writeConfig(t, "config.json", `{
		"lookup": {"statement": "SELECT 1"},
		"enrich": {"target": "result"}
	}`)

	loader := NewLoader()
	loader.SetEnvPrefix("CUSTOM")
	loader.AddLayer(path)
	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, "file:env.db", cfg.Lookup.ConnectionString)
}

func TestLoader_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		want    error
	}{
		{
			name:    "malformed json",
			file:    "config.json",
			content: `{"lookup": `,
			want:    errors.ErrParsingFailed,
		},
		{
			name:    "malformed yaml",
			file:    "config.yaml",
			content: "lookup: [unclosed",
			want:    errors.ErrParsingFailed,
		},
		{
			name:    "malformed toml",
			file:    "config.toml",
			content: "[lookup\n",
			want:    errors.ErrParsingFailed,
		},
		{
			name:    "unknown key",
			file:    "config.json",
			content: `{"lookup": {"conection_string": "file:ref.db"}}`,
			want:    errors.ErrInvalidConfig,
		},
		{
			name:    "bad duration",
			file:    "config.json",
			content: `{"lookup": {"validation_timeout": "soon"}}`,
			want:    errors.ErrInvalidConfig,
		},
		{
			name:    "missing statement",
			file:    "config.json",
			content: `{"lookup": {"connection_string": "file:ref.db"}, "enrich": {"target": "x"}}`,
			want:    errors.ErrMissingConfig,
		},
		{
			name: "unmapped placeholder",
			file: "config.json",
			content: `{"lookup": {"connection_string": "file:ref.db", "statement": "SELECT 1 WHERE a = :a"},
				"enrich": {"target": "x"}}`,
			want: errors.ErrMissingParameter,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLoader().LoadFile(writeConfig(t, tt.file, tt.content))
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err), "expected invalid class, got %v", err)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestLoader_ValidationDisabled(t *testing.T) {
	loader := NewLoader()
	loader.EnableValidation(false)
	loader.AddLayer(writeConfig(t, "config.json", `{}`))

	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Empty(t, cfg.Lookup.Statement)
	assert.Error(t, cfg.Validate())
}

func validTestConfig() *Config {
	cfg := Default()
	cfg.Lookup.ConnectionString = "file:ref.db"
	cfg.Lookup.Statement = "SELECT name FROM hosts WHERE ip = :ip"
	cfg.Lookup.Parameters = map[string]string{"ip": "client.ip"}
	cfg.Enrich.Target = "host"
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{name: "valid", mutate: func(*Config) {}},
		{
			name:   "unknown transport",
			mutate: func(c *Config) { c.Transport.Type = "kafka" },
			want:   errors.ErrInvalidConfig,
		},
		{
			name:   "nats without subjects",
			mutate: func(c *Config) { c.Transport.Type = TransportNATS },
			want:   errors.ErrMissingConfig,
		},
		{
			name: "nats same subjects",
			mutate: func(c *Config) {
				c.Transport = TransportConfig{Type: TransportNATS, InputSubject: "a", OutputSubject: "a"}
			},
			want: errors.ErrInvalidConfig,
		},
		{
			name: "nats without urls",
			mutate: func(c *Config) {
				c.Transport = TransportConfig{Type: TransportNATS, InputSubject: "a", OutputSubject: "b"}
				c.NATS.URLs = nil
			},
			want: errors.ErrMissingConfig,
		},
		{
			name:   "metrics port",
			mutate: func(c *Config) { c.Metrics = MetricsConfig{Enabled: true, Port: 70000, Path: "/metrics"} },
			want:   errors.ErrInvalidConfig,
		},
		{
			name:   "metrics path",
			mutate: func(c *Config) { c.Metrics = MetricsConfig{Enabled: true, Port: 9090, Path: "metrics"} },
			want:   errors.ErrInvalidConfig,
		},
		{
			name:   "nats tls half a key pair",
			mutate: func(c *Config) { c.NATS.TLS = tlsutil.ClientConfig{Enabled: true, CertFile: "client.pem"} },
			want:   errors.ErrInvalidConfig,
		},
		{
			name: "metrics tls without certificate",
			mutate: func(c *Config) {
				c.Metrics = MetricsConfig{Enabled: true, Port: 9090, Path: "/metrics", TLS: tlsutil.ServerConfig{Enabled: true}}
			},
			want: errors.ErrMissingConfig,
		},
		{
			name:   "missing target",
			mutate: func(c *Config) { c.Enrich.Target = "" },
			want:   errors.ErrMissingConfig,
		},
		{
			name:   "cache without expiration",
			mutate: func(c *Config) { c.Lookup.Cache.Expiration = 0 },
			want:   errors.ErrInvalidConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTestConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestConfig_Sections(t *testing.T) {
	cfg := validTestConfig()
	cfg.Lookup.ConnectRetry.InitialDelay = Duration(time.Millisecond)
	cfg.Enrich.DefaultRow = map[string]any{"name": "unknown"}
	cfg.Enrich.Workers = 4

	lc := cfg.LookupConfig()
	assert.Equal(t, "file:ref.db", lc.ConnectionString)
	assert.Equal(t, time.Hour, lc.ValidationTimeout)
	assert.Equal(t, time.Millisecond, lc.ConnectRetry.InitialDelay)
	assert.Equal(t, cfg.Lookup.Cache, lc.Cache)
	require.NoError(t, lc.Validate())

	ec := cfg.EnrichConfig()
	assert.Equal(t, "host", ec.Target)
	assert.Equal(t, map[string]string{"ip": "client.ip"}, ec.Parameters)
	assert.Equal(t, map[string]any{"name": "unknown"}, ec.DefaultRow)
	assert.Equal(t, 4, ec.Workers)
	assert.Equal(t, 256, ec.QueueSize)
	require.NoError(t, ec.Validate())

	// The converted maps are copies.
	lc.Parameters["ip"] = "other"
	assert.Equal(t, "client.ip", cfg.Lookup.Parameters["ip"])

	// A config without parameters still validates placeholders.
	cfg.Lookup.Parameters = nil
	assert.NotNil(t, cfg.LookupConfig().Parameters)
	assert.ErrorIs(t, cfg.Validate(), errors.ErrMissingParameter)
}

func TestConfig_String(t *testing.T) {
	cfg := validTestConfig()
	cfg.Lookup.Driver = lookup.DriverPgx
	cfg.Lookup.ConnectionString = "postgres://app:hunter2@db:5432/ref"
	cfg.Lookup.Password = "hunter2"
	cfg.NATS.Token = "tok"

	s := cfg.String()
	assert.NotContains(t, s, "hunter2")
	assert.NotContains(t, s, `"tok"`)
	assert.Contains(t, s, "postgres://app:xxxxx@db:5432/ref")
	assert.Contains(t, s, `"cache_expiration": "5s"`)

	// The receiver is untouched.
	assert.Equal(t, "hunter2", cfg.Lookup.Password)
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(yamlConfig), "yaml")
	require.NoError(t, err)
	assert.Equal(t, "host", cfg.Enrich.Target)

	_, err = Parse([]byte(`a = 1`), "ini")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}

func TestDuration_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		input   string
		want    time.Duration
		wantErr bool
	}{
		{input: `"1m30s"`, want: 90 * time.Second},
		{input: `90`, want: 90 * time.Second},
		{input: `0.5`, want: 500 * time.Millisecond},
		{input: `"forever"`, wantErr: true},
		{input: `true`, wantErr: true},
		{input: `1e300`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			var d Duration
			err := d.UnmarshalJSON([]byte(tt.input))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.Duration())
		})
	}
}

func TestDuration_MarshalJSON(t *testing.T) {
	data, err := Duration(90 * time.Second).MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"1m30s"`, string(data))
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitList(" a, ,b "))
	assert.Nil(t, splitList(strings.Repeat(",", 3)))
}
