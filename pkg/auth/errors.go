package auth

import "errors"

// Authentication failures are distinguished internally for auditing and
// metrics. Callers outside this package must collapse them into a uniform
// unauthenticated response so the failure reason never leaks to the client.
var (
	// ErrMalformedCredential means the presented secret does not match the
	// issued format. Nothing is looked up for malformed secrets.
	ErrMalformedCredential = errors.New("malformed credential")

	// ErrUnknownCredential means the secret is well-formed but resolves to
	// no record, or fails hash verification. The two cases are deliberately
	// indistinguishable.
	ErrUnknownCredential = errors.New("unknown credential")

	// ErrCredentialExpired means the key's expiration instant has passed.
	ErrCredentialExpired = errors.New("credential expired")

	// ErrCredentialRevoked means the key was revoked or deactivated.
	ErrCredentialRevoked = errors.New("credential revoked")

	// ErrNoCredential means no mechanism produced an identity. The request
	// carried neither a secret nor trusted proxy headers.
	ErrNoCredential = errors.New("no credential presented")

	// ErrStoreUnavailable means the key store could not answer. The
	// resolver fails closed: a presented secret is rejected rather than
	// optimistically accepted.
	ErrStoreUnavailable = errors.New("credential store unavailable")
)
