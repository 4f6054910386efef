package keys

import (
	"regexp"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const (
	// SecretPrefixUser tags user-scoped secrets.
	SecretPrefixUser = "gk_user_"
	// SecretPrefixSystem tags system-scoped secrets.
	SecretPrefixSystem = "gk_system_"
	// SecretBodyLength is the number of random base62 characters after the
	// prefix tag.
	SecretBodyLength = 32
	// DisplayPrefixLength is how much of a secret is kept for human
	// identification in listings. 12 characters of a 40+ character secret
	// leaves the remaining entropy well above the hash work factor.
	DisplayPrefixLength = 12
	// ExpirationWarningDays is the expiring-soon threshold.
	ExpirationWarningDays = 7
)

var (
	userSecretPattern   = regexp.MustCompile(`^gk_user_[A-Za-z0-9]{32}$`)
	systemSecretPattern = regexp.MustCompile(`^gk_system_[A-Za-z0-9]{32}$`)
)

// ValidateFormat reports whether a presented secret matches one of the two
// recognized shapes. Empty or blank secrets are always invalid.
func ValidateFormat(secret string) bool {
	if strings.TrimSpace(secret) == "" {
		return false
	}
	return userSecretPattern.MatchString(secret) || systemSecretPattern.MatchString(secret)
}

// KindFromSecret returns the key kind encoded in the secret's prefix tag.
// The second return is false when the secret matches neither shape.
func KindFromSecret(secret string) (Kind, bool) {
	switch {
	case userSecretPattern.MatchString(secret):
		return KindUser, true
	case systemSecretPattern.MatchString(secret):
		return KindSystem, true
	default:
		return "", false
	}
}

// VerifySecret checks a plaintext secret against the stored bcrypt hash.
// bcrypt's own comparison is constant-factor in the input. Malformed stored
// hashes and empty inputs return false, never an error.
func VerifySecret(plaintext, storedHash string) bool {
	if plaintext == "" || storedHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(plaintext)) == nil
}

// IsExpired reports whether expiresAt is at or before now. Nil means the key
// never expires.
func IsExpired(expiresAt *time.Time, now time.Time) bool {
	if expiresAt == nil {
		return false
	}
	return !expiresAt.After(now)
}

// IsExpiringSoon reports whether expiresAt falls within the warning window.
// An expiration exactly at the threshold counts as soon; one already in the
// past does not (that key is expired, a distinct state).
func IsExpiringSoon(expiresAt *time.Time, now time.Time) bool {
	if expiresAt == nil {
		return false
	}
	if !expiresAt.After(now) {
		return false
	}
	threshold := now.Add(ExpirationWarningDays * 24 * time.Hour)
	return !expiresAt.After(threshold)
}

// DaysUntilExpiration returns whole days until expiresAt, 0 for same-day
// expiration, and -1 as the sentinel for "already expired or no expiration".
func DaysUntilExpiration(expiresAt *time.Time, now time.Time) int {
	if expiresAt == nil {
		return -1
	}
	if !expiresAt.After(now) {
		return -1
	}
	return int(expiresAt.Sub(now).Hours() / 24)
}

// ExtractPrefix returns the display prefix of a secret, or the empty string
// when the secret is shorter than the prefix length.
func ExtractPrefix(secret string) string {
	if len(secret) < DisplayPrefixLength {
		return ""
	}
	return secret[:DisplayPrefixLength]
}
