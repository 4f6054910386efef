// Package maintenance runs the background lifecycle sweeps.
//
// # Overview
//
// Two sweeps keep the key population honest. The nightly expiration sweep
// deactivates keys whose expiration instant has passed; it leaves RevokedAt
// unset so the record still classifies as EXPIRED, not REVOKED. The hourly
// grace sweep fully revokes rotated-out keys once their grace window closes,
// since a replaced secret must never authenticate again.
//
// Both sweeps are idempotent: a record already transitioned is skipped on
// the next run, so overlapping or repeated executions are harmless.
package maintenance
