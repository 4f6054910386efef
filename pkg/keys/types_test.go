package keys

import (
	"testing"
	"time"
)

func TestStatusAt(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name string
		key  Key
		want Status
	}{
		{
			name: "active with future expiration",
			key:  Key{ExpiresAt: &future, IsActive: true},
			want: StatusActive,
		},
		{
			name: "active without expiration",
			key:  Key{IsActive: true},
			want: StatusActive,
		},
		{
			name: "expired",
			key:  Key{ExpiresAt: &past, IsActive: true},
			want: StatusExpired,
		},
		{
			name: "revoked",
			key:  Key{RevokedAt: &past, IsActive: false},
			want: StatusRevoked,
		},
		{
			name: "revoked dominates expired",
			key:  Key{RevokedAt: &past, ExpiresAt: &past, IsActive: false},
			want: StatusRevoked,
		},
		{
			name: "revoked with future expiration",
			key:  Key{RevokedAt: &past, ExpiresAt: &future},
			want: StatusRevoked,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.StatusAt(now); got != tt.want {
				t.Errorf("StatusAt() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExpirationBoundary(t *testing.T) {
	now := time.Now()

	boundary := now
	key := Key{ExpiresAt: &boundary, IsActive: true}

	// the expiration instant itself is already expired
	if !key.IsExpiredAt(now) {
		t.Error("key expiring exactly now should be expired")
	}
	if key.IsExpiredAt(now.Add(-time.Second)) {
		t.Error("key should not be expired one second before the boundary")
	}
	if !key.IsExpiredAt(now.Add(time.Second)) {
		t.Error("key should be expired one second after the boundary")
	}
}

func TestIsValidAt(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	valid := Key{ExpiresAt: &future, IsActive: true}
	if !valid.IsValidAt(now) {
		t.Error("active unexpired key should be valid")
	}

	inactive := Key{ExpiresAt: &future, IsActive: false}
	if inactive.IsValidAt(now) {
		t.Error("inactive key should not be valid")
	}

	revoked := Key{ExpiresAt: &future, IsActive: true, RevokedAt: &past}
	if revoked.IsValidAt(now) {
		t.Error("revoked key should not be valid")
	}
}

func TestRevoke(t *testing.T) {
	now := time.Now()
	key := Key{IsActive: true}
	key.Revoke("admin@example.com", now)

	if key.RevokedAt == nil || !key.RevokedAt.Equal(now) {
		t.Errorf("RevokedAt = %v, want %v", key.RevokedAt, now)
	}
	if key.RevokedBy != "admin@example.com" {
		t.Errorf("RevokedBy = %q, want admin@example.com", key.RevokedBy)
	}
	if key.IsActive {
		t.Error("revoked key should be inactive")
	}
	if key.StatusAt(now) != StatusRevoked {
		t.Errorf("status = %v, want REVOKED", key.StatusAt(now))
	}
}

func TestCloneIsDeep(t *testing.T) {
	now := time.Now()
	expires := now.Add(time.Hour)
	key := &Key{
		ID:        "key-1",
		ExpiresAt: &expires,
		IsActive:  true,
	}

	clone := key.Clone()
	later := now.Add(48 * time.Hour)
	*clone.ExpiresAt = later
	clone.ID = "key-2"

	if key.ID != "key-1" {
		t.Error("clone mutation leaked into original ID")
	}
	if !key.ExpiresAt.Equal(expires) {
		t.Error("clone mutation leaked into original ExpiresAt")
	}
}
