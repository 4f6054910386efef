package keys

import (
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func TestValidateFormat(t *testing.T) {
	tests := []struct {
		name   string
		secret string
		want   bool
	}{
		{"valid user secret", "gk_user_" + strings.Repeat("a", 32), true},
		{"valid system secret", "gk_system_" + strings.Repeat("Z", 32), true},
		{"mixed alphanumeric body", "gk_user_aB3dE5fG7hJ9kL1mN3pQ5rS7tU9vW1xY", true},
		{"blank", "", false},
		{"whitespace only", "   ", false},
		{"wrong tag", "gk_admin_" + strings.Repeat("a", 32), false},
		{"missing tag", strings.Repeat("a", 40), false},
		{"body too short", "gk_user_" + strings.Repeat("a", 31), false},
		{"body too long", "gk_user_" + strings.Repeat("a", 33), false},
		{"non-base62 body", "gk_user_" + strings.Repeat("a", 31) + "!", false},
		{"underscore in body", "gk_user_" + strings.Repeat("a", 31) + "_", false},
		{"uppercase tag", "GK_USER_" + strings.Repeat("a", 32), false},
		{"trailing newline", "gk_user_" + strings.Repeat("a", 32) + "\n", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidateFormat(tt.secret); got != tt.want {
				t.Errorf("ValidateFormat(%q) = %v, want %v", tt.secret, got, tt.want)
			}
		})
	}
}

func TestKindFromSecret(t *testing.T) {
	kind, ok := KindFromSecret("gk_user_" + strings.Repeat("a", 32))
	if !ok || kind != KindUser {
		t.Errorf("got (%v, %v), want (USER, true)", kind, ok)
	}

	kind, ok = KindFromSecret("gk_system_" + strings.Repeat("a", 32))
	if !ok || kind != KindSystem {
		t.Errorf("got (%v, %v), want (SYSTEM, true)", kind, ok)
	}

	if _, ok := KindFromSecret("junk"); ok {
		t.Error("expected no kind for junk input")
	}
}

func TestVerifySecret(t *testing.T) {
	secret := "gk_user_" + strings.Repeat("a", 32)
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt error: %v", err)
	}

	if !VerifySecret(secret, string(hash)) {
		t.Error("correct secret should verify")
	}
	if VerifySecret("gk_user_"+strings.Repeat("b", 32), string(hash)) {
		t.Error("wrong secret should not verify")
	}
	if VerifySecret("", string(hash)) {
		t.Error("empty secret should not verify")
	}
	if VerifySecret(secret, "") {
		t.Error("empty hash should not verify")
	}
	if VerifySecret(secret, "not-a-bcrypt-hash") {
		t.Error("malformed hash should not verify, not panic")
	}
}

func TestHashRoundTrip(t *testing.T) {
	gen := NewGenerator(bcrypt.MinCost)

	secret, err := gen.GenerateSecret(KindUser)
	if err != nil {
		t.Fatalf("GenerateSecret() error: %v", err)
	}
	hash, err := gen.Hash(secret)
	if err != nil {
		t.Fatalf("Hash() error: %v", err)
	}

	if !VerifySecret(secret, hash) {
		t.Error("generated secret must verify against its own hash")
	}

	other, err := gen.GenerateSecret(KindUser)
	if err != nil {
		t.Fatalf("GenerateSecret() error: %v", err)
	}
	if VerifySecret(other, hash) {
		t.Error("different secret must not verify")
	}
}

func TestGeneratedSecretFormat(t *testing.T) {
	gen := NewGenerator(bcrypt.MinCost)

	for _, kind := range []Kind{KindUser, KindSystem} {
		secret, err := gen.GenerateSecret(kind)
		if err != nil {
			t.Fatalf("GenerateSecret(%v) error: %v", kind, err)
		}
		if !ValidateFormat(secret) {
			t.Errorf("generated secret %q fails format validation", secret)
		}
		got, ok := KindFromSecret(secret)
		if !ok || got != kind {
			t.Errorf("KindFromSecret(%q) = (%v, %v), want (%v, true)", secret, got, ok, kind)
		}
	}
}

func TestLookupDigestDeterministic(t *testing.T) {
	secret := "gk_user_" + strings.Repeat("a", 32)
	if LookupDigest(secret) != LookupDigest(secret) {
		t.Error("digest must be deterministic")
	}
	if len(LookupDigest(secret)) != 64 {
		t.Errorf("digest length = %d, want 64 hex chars", len(LookupDigest(secret)))
	}
	if LookupDigest(secret) == LookupDigest(secret+"x") {
		t.Error("different secrets must have different digests")
	}
}

func TestIsExpired(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	if IsExpired(nil, now) {
		t.Error("nil expiration never expires")
	}
	if IsExpired(&future, now) {
		t.Error("future expiration is not expired")
	}
	if !IsExpired(&past, now) {
		t.Error("past expiration is expired")
	}
	if !IsExpired(&now, now) {
		t.Error("the expiration instant itself is expired")
	}
}

func TestIsExpiringSoon(t *testing.T) {
	now := time.Now()
	warning := time.Duration(ExpirationWarningDays) * 24 * time.Hour

	tests := []struct {
		name      string
		expiresAt *time.Time
		want      bool
	}{
		{"nil never soon", nil, false},
		{"already expired is not soon", timePtr(now.Add(-time.Hour)), false},
		{"inside the window", timePtr(now.Add(warning - time.Hour)), true},
		{"exactly at the window edge", timePtr(now.Add(warning)), true},
		{"beyond the window", timePtr(now.Add(warning + time.Hour)), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsExpiringSoon(tt.expiresAt, now); got != tt.want {
				t.Errorf("IsExpiringSoon() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDaysUntilExpiration(t *testing.T) {
	now := time.Now()

	if got := DaysUntilExpiration(nil, now); got != -1 {
		t.Errorf("nil expiration: got %d, want -1", got)
	}
	past := now.Add(-time.Hour)
	if got := DaysUntilExpiration(&past, now); got != -1 {
		t.Errorf("expired: got %d, want -1", got)
	}
	tenDays := now.Add(10*24*time.Hour + time.Hour)
	if got := DaysUntilExpiration(&tenDays, now); got != 10 {
		t.Errorf("ten days out: got %d, want 10", got)
	}
	halfDay := now.Add(12 * time.Hour)
	if got := DaysUntilExpiration(&halfDay, now); got != 0 {
		t.Errorf("half day out: got %d, want 0", got)
	}
}

func TestExtractPrefix(t *testing.T) {
	secret := "gk_user_" + strings.Repeat("a", 32)
	prefix := ExtractPrefix(secret)
	if prefix != secret[:DisplayPrefixLength] {
		t.Errorf("prefix = %q, want first %d chars", prefix, DisplayPrefixLength)
	}
	if ExtractPrefix("short") != "" {
		t.Error("short input should yield empty prefix")
	}
	if ExtractPrefix("") != "" {
		t.Error("empty input should yield empty prefix")
	}
}

func timePtr(t time.Time) *time.Time { return &t }
