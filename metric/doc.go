// Package metric provides the Prometheus registry and HTTP endpoint for
// lookupstream.
//
// A process creates one MetricsRegistry. It registers the core metrics
// (events received and processed, lookup latency and errors, NATS connection
// state) and the Go runtime collectors. Components register their own metrics
// through the MetricsRegistrar interface under a component name:
//
//	registry := metric.NewMetricsRegistry()
//	c, err := cache.New[string, []lookup.Row](500, 5*time.Second,
//		cache.WithMetrics[string, []lookup.Row](registry, "orders"))
//
// Registering the same metric name twice for one component fails with an
// invalid error, as does a collision with an already registered Prometheus
// descriptor.
//
// Server exposes the registry over HTTP:
//
//	server := metric.NewServer(9464, "/metrics", registry)
//	server.SetHealthCheck(client.Healthy)
//	go func() {
//		if err := server.Start(); err != nil {
//			logger.Error("metrics server failed", "error", err)
//		}
//	}()
//	defer server.Shutdown(ctx)
//
// /metrics serves the Prometheus and OpenMetrics formats, /health answers 200
// or 503 depending on the health check.
package metric
