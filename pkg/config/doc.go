// Package config loads and validates application configuration.
//
// # Overview
//
// All configuration comes from GATEKEEPER_-prefixed environment variables
// with sensible development defaults: an in-memory store, no audit sink,
// and every authentication bypass disabled. Validation runs at load time so
// a misconfigured process refuses to start instead of failing at the first
// request.
//
// Two rules are enforced unconditionally: the auth bypass is refused when
// GATEKEEPER_ENV=production, and backends that need a connection URL
// (postgres, redis, the db audit sink, distributed rate limiting) must have
// one.
package config
