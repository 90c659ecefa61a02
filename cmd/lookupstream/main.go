// Package main implements the lookupstream command. lookupstream enriches a
// stream of JSON events with the rows of a cached SQL lookup, reading from
// stdin or a NATS subject and writing to stdout or another subject.
package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/c360/lookupstream/config"
	"github.com/c360/lookupstream/health"
	"github.com/c360/lookupstream/lookup"
	"github.com/c360/lookupstream/metric"
	"github.com/c360/lookupstream/natsclient"
	"github.com/c360/lookupstream/pkg/tlsutil"
	"github.com/c360/lookupstream/processor/enrich"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "lookupstream"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	slog.SetDefault(setupLogger("info", "json", os.Stderr))

	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		if stderrors.Is(err, flag.ErrHelp) {
			return
		}
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	cliCfg, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		_, _ = fmt.Fprintf(stdout, "%s version %s (build %s)\n", appName, Version, BuildTime)
		return nil
	}
	if cliCfg.ShowHelp {
		return nil
	}

	cfg, err := loadConfig(cliCfg)
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging.Level, cfg.Logging.Format, stderr)
	slog.SetDefault(logger)

	if cliCfg.Validate {
		logger.Info("Configuration is valid", "config_path", cliCfg.ConfigPath)
		_, _ = fmt.Fprintln(stderr, cfg.String())
		return nil
	}

	logger.Info("Starting lookupstream",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath,
		"driver", cfg.Lookup.Driver,
		"transport", cfg.Transport.Type)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return runPipeline(ctx, cfg, cliCfg.ShutdownTimeout, stdin, stdout, logger)
}

// loadConfig loads the file and applies flag overrides
func loadConfig(cliCfg *CLIConfig) (*config.Config, error) {
	loader := config.NewLoader()
	loader.EnableValidation(false)
	cfg, err := loader.LoadFile(cliCfg.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if cliCfg.LogLevel != "" {
		cfg.Logging.Level = cliCfg.LogLevel
	}
	if cliCfg.LogFormat != "" {
		cfg.Logging.Format = cliCfg.LogFormat
	}
	if cliCfg.MetricsPort > 0 {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Port = cliCfg.MetricsPort
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// runPipeline wires metrics, the lookup and the transport, then runs the
// processor until ctx is done or stdin is exhausted.
func runPipeline(
	ctx context.Context,
	cfg *config.Config,
	shutdownTimeout time.Duration,
	stdin io.Reader,
	stdout io.Writer,
	logger *slog.Logger,
) error {
	registry := metric.NewMetricsRegistry()

	var cleanups []func(context.Context) error
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		for i := len(cleanups) - 1; i >= 0; i-- {
			if err := cleanups[i](shutdownCtx); err != nil {
				logger.Warn("Shutdown step failed", "error", err)
			}
		}
		logger.Info("lookupstream shutdown complete")
	}()

	var metricsServer *metric.Server
	if cfg.Metrics.Enabled {
		metricsServer = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, registry)
		tlsConfig, err := tlsutil.LoadServerConfig(cfg.Metrics.TLS)
		if err != nil {
			return fmt.Errorf("metrics TLS: %w", err)
		}
		if tlsConfig != nil {
			metricsServer.SetTLSConfig(tlsConfig)
		}
		go func() {
			if err := metricsServer.Start(); err != nil {
				logger.Error("Metrics server failed", "error", err)
			}
		}()
		cleanups = append(cleanups, metricsServer.Shutdown)
		logger.Info("Serving metrics", "address", metricsServer.Address())
	}

	lk, err := lookup.Open(ctx, cfg.LookupConfig(),
		lookup.WithName(cfg.Enrich.Name),
		lookup.WithLogger(logger),
		lookup.WithMetrics(registry))
	if err != nil {
		return fmt.Errorf("open lookup: %w", err)
	}
	cleanups = append(cleanups, func(context.Context) error { return lk.Close() })

	transport, natsClient, err := createTransport(ctx, cfg, registry, stdin, stdout, logger)
	if err != nil {
		return err
	}
	if natsClient != nil {
		cleanups = append(cleanups, natsClient.Close)
	}

	processor, err := enrich.NewProcessor(cfg.EnrichConfig(), lk, transport,
		enrich.WithLogger(logger),
		enrich.WithMetrics(registry))
	if err != nil {
		return fmt.Errorf("create processor: %w", err)
	}

	if metricsServer != nil {
		metricsServer.SetHealthCheck(newHealthMonitor(lk, natsClient, processor).HealthCheck)
	}

	if err := processor.Run(ctx); err != nil {
		return fmt.Errorf("run processor: %w", err)
	}

	if natsClient != nil {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := natsClient.Flush(flushCtx); err != nil {
			logger.Warn("Failed to flush NATS before shutdown", "error", err)
		}
	}

	if stats := lk.Stats(); stats != nil {
		logger.Info("Lookup cache statistics", "summary", stats.Summary())
	}
	return nil
}

// createTransport returns the stdio transport or a connected NATS transport
func createTransport(
	ctx context.Context,
	cfg *config.Config,
	registry *metric.MetricsRegistry,
	stdin io.Reader,
	stdout io.Writer,
	logger *slog.Logger,
) (enrich.Transport, *natsclient.Client, error) {
	if cfg.Transport.Type != config.TransportNATS {
		return enrich.NewStdioTransport(stdin, stdout, cfg.Transport.MaxLineBytes), nil, nil
	}

	opts := []natsclient.ClientOption{
		natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
		natsclient.WithReconnectWait(cfg.NATS.ReconnectWait.Duration()),
		natsclient.WithTimeout(cfg.NATS.ConnectTimeout.Duration()),
		natsclient.WithName(cfg.NATS.Name),
		natsclient.WithLogger(logger),
		natsclient.WithMetrics(registry),
	}
	if cfg.NATS.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password))
	}
	if cfg.NATS.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.NATS.Token))
	}
	tlsConfig, err := tlsutil.LoadClientConfig(cfg.NATS.TLS)
	if err != nil {
		return nil, nil, fmt.Errorf("NATS TLS: %w", err)
	}
	if tlsConfig != nil {
		opts = append(opts, natsclient.WithTLSConfig(tlsConfig))
	}

	client, err := natsclient.NewClient(strings.Join(cfg.NATS.URLs, ","), opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("create NATS client: %w", err)
	}

	if err := connectToNATS(ctx, client, cfg.NATS.ConnectTimeout.Duration()); err != nil {
		_ = client.Close(context.Background())
		return nil, nil, err
	}

	transport, err := enrich.NewNATSTransport(client,
		cfg.Transport.InputSubject, cfg.Transport.OutputSubject, cfg.Transport.QueueGroup)
	if err != nil {
		_ = client.Close(context.Background())
		return nil, nil, err
	}
	return transport, client, nil
}

// newHealthMonitor probes every dependency of the pipeline
func newHealthMonitor(lk *lookup.Lookup, natsClient *natsclient.Client, processor *enrich.Processor) *health.Monitor {
	monitor := health.NewMonitor(appName, 2*time.Second)

	monitor.Register("database", func(ctx context.Context) health.Status {
		return health.FromError("database", lk.Ping(ctx), "ping ok")
	})

	if natsClient != nil {
		monitor.Register("nats", func(context.Context) health.Status {
			switch status := natsClient.Status(); status {
			case natsclient.StatusConnected:
				return health.NewHealthy("nats", "connected")
			case natsclient.StatusReconnecting:
				return health.NewDegraded("nats", "reconnecting")
			default:
				return health.NewUnhealthy("nats", status.String())
			}
		})
	}

	monitor.Register("processor", func(context.Context) health.Status {
		if !processor.Running() {
			return health.NewUnhealthy("processor", "not running")
		}
		stats := processor.Stats()
		return health.NewHealthy("processor",
			fmt.Sprintf("received %d, enriched %d, failed %d", stats.Received, stats.Enriched, stats.Failed))
	})

	return monitor
}

// connectToNATS establishes NATS connection and waits for it to be ready
func connectToNATS(ctx context.Context, client *natsclient.Client, timeout time.Duration) error {
	slog.Info("Connecting to NATS", "url", client.URL())
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}

	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	connCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := client.WaitForConnection(connCtx); err != nil {
		return fmt.Errorf("NATS connection timeout: %w", err)
	}
	return nil
}
