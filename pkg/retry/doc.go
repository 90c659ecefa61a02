// Package retry provides exponential backoff retry logic for transient failures
// such as a database that is not accepting connections yet.
//
//	err := retry.Do(ctx, retry.DefaultConfig(), func() error {
//		return db.PingContext(ctx)
//	})
//
// Attempts stop early when fn returns an error wrapped with NonRetryable or
// when ctx is done. The delay starts at InitialDelay and is multiplied by
// Multiplier after every failure, capped at MaxDelay, with up to 25% jitter
// when AddJitter is set. OnRetry observes each failure that will be retried:
//
//	cfg := retry.DefaultConfig()
//	cfg.OnRetry = func(attempt int, delay time.Duration, err error) {
//		logger.Warn("ping failed, retrying", "attempt", attempt, "delay", delay, "error", err)
//	}
package retry
