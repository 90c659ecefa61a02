// Package enrich adds database lookup results to JSON events.
//
// For every event the processor reads the statement parameters from the
// configured event fields, fetches the matching rows through a lookup and
// stores them as a list of objects in the target field:
//
//	{"client": {"ip": "10.0.0.1"}}
//
// with target "host" and parameters {"ip": "client.ip"} becomes
//
//	{"client": {"ip": "10.0.0.1"}, "host": [{"name": "web-1", "region": "eu"}]}
//
// When no row matches, the target receives the default row (tagging the
// event with TagOnDefaultUse) or an empty list when no default row is set.
// When the lookup fails the event is tagged with TagOnFailure and passed on
// without the target field.
//
// Events arrive through a Transport: StdioTransport reads and writes newline
// delimited JSON, NATSTransport consumes one subject and publishes to another.
// With Workers above one, events are enriched concurrently on a bounded
// worker pool and may be published out of order.
package enrich
