// Package errors provides standardized error handling for lookupstream components.
//
// # Error Classification
//
// Errors fall into three classes:
//
//   - Transient: connection loss, timeouts, failed queries (retry recommended)
//   - Invalid: malformed events, missing statement parameters, bad configuration values (do not retry)
//   - Fatal: missing configuration, resource exhaustion (stop processing)
//
// Classification works through errors.Is and errors.As, so wrapped chains keep
// their class:
//
//	if err := lookup.Fetch(ctx, params); err != nil {
//	    if errors.IsTransient(err) {
//	        // tag the event and move on, the next lookup may succeed
//	    }
//	}
//
// # Wrapping Pattern
//
// Wrap produces "component.method: action failed: cause":
//
//	return errors.WrapTransient(err, "Lookup", "Fetch", "execute statement")
//
// # Pass-through Errors
//
// Errors returned by a cache compute function are never wrapped by the cache.
// The caller that supplied the function receives exactly the error it produced.
//
// # Retry
//
// RetryConfig decides whether an error deserves another attempt and converts to
// the retry package configuration used when opening database connections:
//
//	cfg := errors.DefaultRetryConfig()
//	err := retry.Do(ctx, cfg.ToRetryConfig(), func() error { return db.PingContext(ctx) })
package errors
