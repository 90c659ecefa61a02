// Package natsclient wraps a NATS connection with a circuit breaker, slog
// logging and connection metrics. The enrich processor uses it to consume
// events from one subject and publish enriched events to another.
//
// # Usage
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithName("lookupstream"),
//	    natsclient.WithLogger(logger),
//	    natsclient.WithMetrics(registry),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
//	err = client.Subscribe(ctx, "events.raw", "enrichers", func(ctx context.Context, subject string, data []byte) {
//	    _ = client.Publish(ctx, "events.enriched", data)
//	})
//
// # Circuit Breaker
//
// Each failed Connect counts as a failure. After the threshold (default 5)
// the circuit opens and Connect fails fast with ErrCircuitOpen until the
// backoff elapses. The backoff doubles every round up to the maximum (default
// one minute) and resets after a successful connection.
//
// # Connection Status
//
// The client moves through Disconnected, Connecting, Connected and
// Reconnecting. Status changes are reported to the lookupstream_nats_connected
// gauge and reconnects to lookupstream_nats_reconnects_total when WithMetrics
// is used. HealthCheck suits metric.Server.SetHealthCheck.
package natsclient
