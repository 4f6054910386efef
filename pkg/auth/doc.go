// Package auth resolves each incoming request to an authenticated identity.
//
// # Overview
//
// The resolver walks an ordered chain of mechanisms and the first applicable
// one decides the outcome:
//
//  1. Bypass: development-only, mints an admin identity without checking
//     anything. Config validation refuses it in production.
//  2. Secret bearer: a key secret in the Authorization or X-API-Key header.
//     A presented secret is authoritative: if it fails for any reason the
//     request is rejected, even when valid proxy headers are also present.
//  3. Trusted proxy: identity headers asserted by the fronting reverse proxy
//     after its own authentication.
//
// A request matching no mechanism fails with ErrNoCredential.
//
// # Secret Verification
//
// Presented secrets are format-checked first; malformed input is rejected
// without any store access. Well-formed secrets are located by their SHA-256
// lookup digest, then verified against the stored bcrypt hash. An unknown
// digest and a failed bcrypt check produce the same error, so a caller
// cannot probe which secrets exist.
//
// # Failure Uniformity
//
// The sentinel errors distinguish failure causes for auditing and metrics
// only. HTTP middleware collapses every one of them into the same
// unauthenticated response.
//
// # Roles
//
// User keys resolve to the owner principal with the user role. System keys
// resolve to the admin role. Proxy-asserted identities get the admin role
// only when their group list contains the configured admin group.
package auth
