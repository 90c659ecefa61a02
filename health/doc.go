// Package health tracks the state of the pipeline's dependencies.
//
// A Monitor holds one Probe per dependency (the database, the NATS
// connection, the processor). Check runs them with a timeout and aggregates
// the results: any unhealthy dependency makes the process unhealthy, any
// degraded one (for example NATS while reconnecting) makes it degraded.
//
//	monitor := health.NewMonitor("lookupstream", 2*time.Second)
//	monitor.Register("database", func(ctx context.Context) health.Status {
//		return health.FromError("database", lk.Ping(ctx), "ping ok")
//	})
//	server.SetHealthCheck(monitor.HealthCheck)
//
// Error messages in statuses are sanitized before they are stored, since
// they end up in HTTP responses.
package health
