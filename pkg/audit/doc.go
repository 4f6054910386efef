// Package audit records security-relevant events: authentication successes
// and failures, and key lifecycle changes.
//
// # Overview
//
// Every event carries an actor principal, an event type, an optional target
// key id, and a free-form detail map. Failed authentication attempts that
// cannot be attributed to a principal are recorded under the "anonymous"
// actor. Detail maps never contain plaintext secrets or full secret hashes;
// the 12-character display prefix is the only secret-derived value permitted.
//
// # Best-Effort Delivery
//
// Audit sinks are advisory. A sink failure is logged and the authentication
// or lifecycle operation proceeds; auditing never changes an auth decision
// and never blocks the hot path.
//
// # Sinks
//
//   - DBLogger: PostgreSQL-backed, also serves the admin query API.
//   - FileLogger: newline-delimited JSON appended to a local file.
//   - MultiLogger: fan-out to several sinks.
//   - NopLogger: discards events; used when auditing is disabled.
//
// # Usage
//
//	sink, err := audit.NewDBLogger(db)
//	if err != nil {
//		log.Fatal(err)
//	}
//	event := audit.NewEvent(audit.EventTypeAuthFailure, "", keyID, map[string]interface{}{
//		"reason": "expired",
//	})
//	if err := sink.Log(ctx, event); err != nil {
//		logger.Warn("audit sink unavailable", "error", err)
//	}
package audit
