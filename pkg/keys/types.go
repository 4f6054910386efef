package keys

import "time"

// Kind distinguishes the two classes of issued keys.
type Kind string

const (
	// KindUser is a personal key tied to a specific owner principal. It
	// inherits that principal's privileges.
	KindUser Kind = "USER"
	// KindSystem is an organization-level key not tied to an individual
	// owner. System keys carry admin privileges and outlive user tenure.
	KindSystem Kind = "SYSTEM"
)

// Status is the derived lifecycle classification of a key. It is always
// computed from the record's timestamps, never stored.
type Status string

const (
	StatusActive  Status = "ACTIVE"
	StatusExpired Status = "EXPIRED"
	StatusRevoked Status = "REVOKED"
)

// Key is the durable record for one issued secret.
//
// SecretHash is the bcrypt hash used for verification; it is set exactly once
// at issuance and never changes. LookupSHA is the deterministic SHA-256 digest
// of the full plaintext and is the hash-indexed store's partition key. The
// json tags exist for the storage layer only; API responses are built from
// KeyResponse, which never carries either hash.
type Key struct {
	ID              string     `json:"id"`
	DisplayName     string     `json:"display_name"`
	SecretHash      string     `json:"secret_hash"`
	LookupSHA       string     `json:"lookup_sha"`
	SecretPrefix    string     `json:"secret_prefix"`
	Kind            Kind       `json:"kind"`
	OwnerPrincipal  string     `json:"owner_principal,omitempty"`
	IssuerPrincipal string     `json:"issuer_principal"`
	CreatedAt       time.Time  `json:"created_at"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	LastUsedAt      *time.Time `json:"last_used_at,omitempty"`
	RevokedAt       *time.Time `json:"revoked_at,omitempty"`
	RevokedBy       string     `json:"revoked_by,omitempty"`
	RotatedFromID   string     `json:"rotated_from_id,omitempty"`

	// GracePeriodEndsAt is set on a key only when a successor record exists
	// (the successor's RotatedFromID points back here). Until it elapses both
	// the old and the new secret authenticate.
	GracePeriodEndsAt *time.Time `json:"grace_period_ends_at,omitempty"`

	IsActive bool `json:"is_active"`
}

// StatusAt computes the derived status at the given instant. Revocation
// dominates expiration: a revoked key reports REVOKED even when its
// expiration is also in the past.
func (k *Key) StatusAt(now time.Time) Status {
	if k.RevokedAt != nil {
		return StatusRevoked
	}
	if k.IsExpiredAt(now) {
		return StatusExpired
	}
	return StatusActive
}

// Status computes the derived status at the current time.
func (k *Key) Status() Status {
	return k.StatusAt(time.Now())
}

// IsExpiredAt reports whether the key's expiration is at or before now.
// A nil ExpiresAt never expires.
func (k *Key) IsExpiredAt(now time.Time) bool {
	if k.ExpiresAt == nil {
		return false
	}
	return !k.ExpiresAt.After(now)
}

// IsValidAt reports whether the key can authenticate at the given instant:
// active, not revoked, not expired.
func (k *Key) IsValidAt(now time.Time) bool {
	return k.IsActive && k.RevokedAt == nil && !k.IsExpiredAt(now)
}

// Revoke marks the key permanently unusable. There is no un-revoking.
func (k *Key) Revoke(by string, now time.Time) {
	k.RevokedAt = &now
	k.RevokedBy = by
	k.IsActive = false
}

// MarkUsed stamps the last-used timestamp.
func (k *Key) MarkUsed(now time.Time) {
	k.LastUsedAt = &now
}

// Clone returns a deep copy of the key. Stores hand out clones so callers
// cannot mutate shared records.
func (k *Key) Clone() *Key {
	c := *k
	c.ExpiresAt = cloneTime(k.ExpiresAt)
	c.LastUsedAt = cloneTime(k.LastUsedAt)
	c.RevokedAt = cloneTime(k.RevokedAt)
	c.GracePeriodEndsAt = cloneTime(k.GracePeriodEndsAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
