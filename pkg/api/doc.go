// Package api implements the key management service and its HTTP surface.
//
// # Overview
//
// The package has two layers. Service holds the lifecycle rules: issuing
// user and system keys, renaming, revoking, and rotating them, with the
// guard rails (name validation, expiration bounds, the per-owner cap, and
// duplicate-name detection) enforced in one place. Handlers maps that
// service onto /api/v1/keys routes and translates service errors into HTTP
// statuses.
//
// # Secrets
//
// A plaintext secret exists in exactly one response: the IssuedKeyResponse
// returned by issuance and rotation. Every other representation of a key is
// a KeyResponse, which carries the display prefix and derived status but
// never the verification hash or the lookup digest.
//
// # Authorization
//
// Handlers read the authenticated identity from the request context. Admins
// manage every key; other principals manage only their own user keys.
// Requests for keys an actor may not see return not-found rather than
// forbidden, so the API does not reveal which ids exist.
//
// # Rotation
//
// Rotate mints a replacement secret that inherits the old key's name, kind,
// owner, and expiration instant. The old record receives a grace deadline
// and keeps authenticating until it passes, so callers can roll secrets
// without downtime.
package api
