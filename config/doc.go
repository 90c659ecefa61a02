// Package config loads the lookupstream configuration.
//
// A configuration file may be JSON, YAML or TOML, chosen by extension. Files
// are applied as layers over Default(): maps merge recursively, everything
// else in a later layer replaces the earlier value. Durations are written as
// strings ("5s", "1h") or as numbers of seconds.
//
//	lookup:
//	  driver: pgx
//	  connection_string: postgres://app@db:5432/ref
//	  statement: SELECT name, region FROM hosts WHERE ip = :ip
//	  parameters:
//	    ip: client.ip
//	  cache:
//	    use_cache: true
//	    cache_size: 500
//	    cache_expiration: 5
//	enrich:
//	  target: host
//	  workers: 4
//	transport:
//	  type: nats
//	  input_subject: events.raw
//	  output_subject: events.enriched
//	nats:
//	  urls: [nats://nats-1:4222, nats://nats-2:4222]
//	  tls:
//	    enabled: true
//	    ca_files: [/etc/lookupstream/ca.pem]
//
// Secrets can be kept out of the file with environment overrides, applied
// after all layers:
//
//	LOOKUPSTREAM_CONNECTION_STRING
//	LOOKUPSTREAM_USER
//	LOOKUPSTREAM_PASSWORD
//	LOOKUPSTREAM_NATS_URL        (comma separated)
//	LOOKUPSTREAM_NATS_USERNAME
//	LOOKUPSTREAM_NATS_PASSWORD
//	LOOKUPSTREAM_NATS_TOKEN
//
// Usage:
//
//	loader := config.NewLoader()
//	loader.AddLayer("lookupstream.yaml")
//	loader.AddLayer("lookupstream.local.yaml")
//	cfg, err := loader.Load()
//	if err != nil {
//		return err
//	}
//	l, err := lookup.Open(ctx, cfg.LookupConfig())
//
// Unknown keys are rejected so typos surface at startup instead of silently
// falling back to defaults.
package config
