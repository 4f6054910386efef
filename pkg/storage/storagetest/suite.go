// Package storagetest holds a backend-agnostic conformance suite for
// KeyStore implementations. Each backend's tests run the suite against a
// fresh store so all backends keep identical observable semantics.
package storagetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatekeeper/pkg/keys"
	"github.com/platinummonkey/gatekeeper/pkg/storage"
)

// Factory produces a fresh, empty store for a single subtest.
type Factory func(t *testing.T) storage.KeyStore

// sampleKey builds a record with deterministic-per-n fields.
func sampleKey(n int) *keys.Key {
	now := time.Now().UTC().Truncate(time.Second)
	expires := now.Add(90 * 24 * time.Hour)
	return &keys.Key{
		ID:              fmt.Sprintf("key-%04d", n),
		DisplayName:     fmt.Sprintf("test key %d", n),
		SecretHash:      fmt.Sprintf("$2a$04$fakehashfakehashfakeha%04d", n),
		LookupSHA:       fmt.Sprintf("%064d", n),
		SecretPrefix:    "gk_user_abcd",
		Kind:            keys.KindUser,
		OwnerPrincipal:  fmt.Sprintf("user%d@example.com", n%3),
		IssuerPrincipal: fmt.Sprintf("user%d@example.com", n%3),
		CreatedAt:       now,
		ExpiresAt:       &expires,
		IsActive:        true,
	}
}

// RunKeyStoreContract exercises the shared KeyStore semantics against the
// given backend.
func RunKeyStoreContract(t *testing.T, factory Factory) {
	ctx := context.Background()

	t.Run("SaveAndFindByID", func(t *testing.T) {
		store := factory(t)
		key := sampleKey(1)
		require.NoError(t, store.Save(ctx, key))

		got, err := store.FindByID(ctx, key.ID)
		require.NoError(t, err)
		assert.Equal(t, key.ID, got.ID)
		assert.Equal(t, key.DisplayName, got.DisplayName)
		assert.Equal(t, key.SecretHash, got.SecretHash)
		assert.Equal(t, key.LookupSHA, got.LookupSHA)
		assert.Equal(t, key.Kind, got.Kind)
		assert.True(t, got.IsActive)
		require.NotNil(t, got.ExpiresAt)
		assert.True(t, key.ExpiresAt.Equal(*got.ExpiresAt))
	})

	t.Run("FindByIDNotFound", func(t *testing.T) {
		store := factory(t)
		_, err := store.FindByID(ctx, "missing")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("SaveUpserts", func(t *testing.T) {
		store := factory(t)
		key := sampleKey(2)
		require.NoError(t, store.Save(ctx, key))

		key.DisplayName = "renamed"
		key.IsActive = false
		require.NoError(t, store.Save(ctx, key))

		got, err := store.FindByID(ctx, key.ID)
		require.NoError(t, err)
		assert.Equal(t, "renamed", got.DisplayName)
		assert.False(t, got.IsActive)

		count, err := store.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
	})

	t.Run("FindByLookupHash", func(t *testing.T) {
		store := factory(t)
		key := sampleKey(3)
		require.NoError(t, store.Save(ctx, key))

		got, err := store.FindByLookupHash(ctx, key.LookupSHA)
		require.NoError(t, err)
		assert.Equal(t, key.ID, got.ID)

		_, err = store.FindByLookupHash(ctx, "0000000000000000000000000000000000000000000000000000000000000000")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("FindByOwner", func(t *testing.T) {
		store := factory(t)
		for n := 0; n < 6; n++ {
			require.NoError(t, store.Save(ctx, sampleKey(n)))
		}

		owned, err := store.FindByOwner(ctx, "user0@example.com")
		require.NoError(t, err)
		assert.Len(t, owned, 2)
		for _, k := range owned {
			assert.Equal(t, "user0@example.com", k.OwnerPrincipal)
		}

		none, err := store.FindByOwner(ctx, "nobody@example.com")
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("FindByActiveStatus", func(t *testing.T) {
		store := factory(t)
		active := sampleKey(10)
		inactive := sampleKey(11)
		inactive.IsActive = false
		require.NoError(t, store.Save(ctx, active))
		require.NoError(t, store.Save(ctx, inactive))

		got, err := store.FindByActiveStatus(ctx, true)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, active.ID, got[0].ID)

		got, err = store.FindByActiveStatus(ctx, false)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, inactive.ID, got[0].ID)
	})

	t.Run("FindAll", func(t *testing.T) {
		store := factory(t)
		for n := 0; n < 4; n++ {
			require.NoError(t, store.Save(ctx, sampleKey(n)))
		}
		all, err := store.FindAll(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 4)
	})

	t.Run("DeleteIsIdempotent", func(t *testing.T) {
		store := factory(t)
		key := sampleKey(20)
		require.NoError(t, store.Save(ctx, key))

		require.NoError(t, store.Delete(ctx, key.ID))
		_, err := store.FindByID(ctx, key.ID)
		assert.ErrorIs(t, err, storage.ErrNotFound)
		_, err = store.FindByLookupHash(ctx, key.LookupSHA)
		assert.ErrorIs(t, err, storage.ErrNotFound)

		// second delete of the same id must succeed
		require.NoError(t, store.Delete(ctx, key.ID))
		require.NoError(t, store.Delete(ctx, "never-existed"))
	})

	t.Run("Count", func(t *testing.T) {
		store := factory(t)
		count, err := store.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(0), count)

		for n := 0; n < 3; n++ {
			require.NoError(t, store.Save(ctx, sampleKey(n)))
		}
		count, err = store.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), count)

		require.NoError(t, store.Delete(ctx, sampleKey(0).ID))
		count, err = store.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), count)
	})

	t.Run("RevocationFieldsRoundTrip", func(t *testing.T) {
		store := factory(t)
		key := sampleKey(30)
		now := time.Now().UTC().Truncate(time.Second)
		grace := now.Add(24 * time.Hour)
		used := now.Add(-time.Hour)
		key.RevokedAt = &now
		key.RevokedBy = "admin@example.com"
		key.GracePeriodEndsAt = &grace
		key.RotatedFromID = "key-0001"
		key.LastUsedAt = &used
		key.IsActive = false
		require.NoError(t, store.Save(ctx, key))

		got, err := store.FindByID(ctx, key.ID)
		require.NoError(t, err)
		require.NotNil(t, got.RevokedAt)
		assert.True(t, now.Equal(*got.RevokedAt))
		assert.Equal(t, "admin@example.com", got.RevokedBy)
		require.NotNil(t, got.GracePeriodEndsAt)
		assert.True(t, grace.Equal(*got.GracePeriodEndsAt))
		assert.Equal(t, "key-0001", got.RotatedFromID)
		require.NotNil(t, got.LastUsedAt)
		assert.True(t, used.Equal(*got.LastUsedAt))
		assert.Equal(t, keys.StatusRevoked, got.Status())
	})

	t.Run("NilExpirationRoundTrip", func(t *testing.T) {
		store := factory(t)
		key := sampleKey(40)
		key.ExpiresAt = nil
		require.NoError(t, store.Save(ctx, key))

		got, err := store.FindByID(ctx, key.ID)
		require.NoError(t, err)
		assert.Nil(t, got.ExpiresAt)
	})

	t.Run("SavedRecordIsIsolated", func(t *testing.T) {
		store := factory(t)
		key := sampleKey(50)
		require.NoError(t, store.Save(ctx, key))

		// mutating the caller's copy must not leak into the store
		key.DisplayName = "mutated"
		got, err := store.FindByID(ctx, key.ID)
		require.NoError(t, err)
		assert.NotEqual(t, "mutated", got.DisplayName)
	})
}
