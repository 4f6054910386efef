package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/platinummonkey/gatekeeper/pkg/audit"
	"github.com/platinummonkey/gatekeeper/pkg/keys"
	"github.com/platinummonkey/gatekeeper/pkg/storage/memory"
)

type capturingAudit struct {
	mu     sync.Mutex
	events []*audit.Event
	err    error
}

func (c *capturingAudit) Log(ctx context.Context, event *audit.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return c.err
}

func (c *capturingAudit) Close() error { return nil }

func (c *capturingAudit) last() *audit.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.events) == 0 {
		return nil
	}
	return c.events[len(c.events)-1]
}

// issueKey stores a freshly generated key and returns it with its plaintext.
func issueKey(t *testing.T, store *memory.Store, kind keys.Kind, owner string, mutate func(*keys.Key)) (*keys.Key, string) {
	t.Helper()
	gen := keys.NewGenerator(bcrypt.MinCost)

	secret, err := gen.GenerateSecret(kind)
	if err != nil {
		t.Fatalf("GenerateSecret() error: %v", err)
	}
	hash, err := gen.Hash(secret)
	if err != nil {
		t.Fatalf("Hash() error: %v", err)
	}

	expires := time.Now().Add(90 * 24 * time.Hour)
	key := &keys.Key{
		ID:             "key-" + string(kind),
		DisplayName:    "test " + string(kind) + " key",
		SecretHash:     hash,
		LookupSHA:      keys.LookupDigest(secret),
		SecretPrefix:   keys.ExtractPrefix(secret),
		Kind:           kind,
		OwnerPrincipal: owner,
		CreatedAt:      time.Now(),
		ExpiresAt:      &expires,
		IsActive:       true,
	}
	if mutate != nil {
		mutate(key)
	}
	if err := store.Save(context.Background(), key); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	return key, secret
}

func bearerRequest(secret string) *http.Request {
	req := httptest.NewRequest("GET", "/api/v1/keys", nil)
	req.Header.Set(HeaderAuthorization, "Bearer "+secret)
	return req
}

func TestResolveBypass(t *testing.T) {
	sink := &capturingAudit{}
	resolver := NewResolver(memory.New(), sink, nil, nil, Config{BypassEnabled: true})

	identity, err := resolver.Resolve(context.Background(), httptest.NewRequest("GET", "/", nil))
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if identity.Principal != BypassPrincipal {
		t.Errorf("principal = %q, want %q", identity.Principal, BypassPrincipal)
	}
	if identity.Role != RoleAdmin {
		t.Errorf("role = %q, want admin", identity.Role)
	}
	if identity.Mechanism != MechanismBypass {
		t.Errorf("mechanism = %q, want bypass", identity.Mechanism)
	}

	// even bypass resolutions leave a trail
	event := sink.last()
	if event == nil || event.EventType != audit.EventTypeAuthSuccess {
		t.Fatalf("expected AUTH_SUCCESS event, got %+v", event)
	}
	if event.ActorPrincipal != BypassPrincipal {
		t.Errorf("event actor = %q, want %q", event.ActorPrincipal, BypassPrincipal)
	}
	if event.Detail["mechanism"] != string(MechanismBypass) {
		t.Errorf("event mechanism = %v, want bypass", event.Detail["mechanism"])
	}
}

func TestResolveUserKey(t *testing.T) {
	store := memory.New()
	sink := &capturingAudit{}
	_, secret := issueKey(t, store, keys.KindUser, "dev@example.com", nil)
	resolver := NewResolver(store, sink, nil, nil, Config{})

	identity, err := resolver.Resolve(context.Background(), bearerRequest(secret))
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if identity.Principal != "dev@example.com" {
		t.Errorf("principal = %q, want dev@example.com", identity.Principal)
	}
	if identity.Role != RoleUser {
		t.Errorf("role = %q, want user", identity.Role)
	}
	if identity.KeyID == "" {
		t.Error("expected KeyID to be set")
	}

	event := sink.last()
	if event == nil || event.EventType != audit.EventTypeAuthSuccess {
		t.Fatalf("expected AUTH_SUCCESS event, got %+v", event)
	}
}

func TestResolveSystemKeyIsAdmin(t *testing.T) {
	store := memory.New()
	_, secret := issueKey(t, store, keys.KindSystem, "", nil)
	resolver := NewResolver(store, nil, nil, nil, Config{})

	identity, err := resolver.Resolve(context.Background(), bearerRequest(secret))
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if identity.Role != RoleAdmin {
		t.Errorf("role = %q, want admin", identity.Role)
	}
}

func TestResolveStampsLastUsed(t *testing.T) {
	store := memory.New()
	key, secret := issueKey(t, store, keys.KindUser, "dev@example.com", nil)
	resolver := NewResolver(store, nil, nil, nil, Config{})

	if _, err := resolver.Resolve(context.Background(), bearerRequest(secret)); err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}

	// the stamp is asynchronous; poll briefly
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, err := store.FindByID(context.Background(), key.ID)
		if err != nil {
			t.Fatalf("FindByID() error: %v", err)
		}
		if got.LastUsedAt != nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("LastUsedAt was never stamped")
}

func TestResolveMalformedSecret(t *testing.T) {
	sink := &capturingAudit{}
	resolver := NewResolver(memory.New(), sink, nil, nil, Config{})

	_, err := resolver.Resolve(context.Background(), bearerRequest("not-a-valid-secret"))
	if !errors.Is(err, ErrMalformedCredential) {
		t.Fatalf("error = %v, want ErrMalformedCredential", err)
	}

	event := sink.last()
	if event == nil || event.EventType != audit.EventTypeAuthFailure {
		t.Fatalf("expected AUTH_FAILURE event, got %+v", event)
	}
	if event.ActorPrincipal != audit.AnonymousActor {
		t.Errorf("actor = %q, want anonymous", event.ActorPrincipal)
	}
	if event.Detail["reason"] != "malformed" {
		t.Errorf("reason = %v, want malformed", event.Detail["reason"])
	}
}

func TestResolveUnknownSecret(t *testing.T) {
	store := memory.New()
	// a well-formed secret that was never issued
	gen := keys.NewGenerator(bcrypt.MinCost)
	secret, err := gen.GenerateSecret(keys.KindUser)
	if err != nil {
		t.Fatalf("GenerateSecret() error: %v", err)
	}
	resolver := NewResolver(store, nil, nil, nil, Config{})

	_, err = resolver.Resolve(context.Background(), bearerRequest(secret))
	if !errors.Is(err, ErrUnknownCredential) {
		t.Fatalf("error = %v, want ErrUnknownCredential", err)
	}
}

func TestResolveHashMismatchLooksUnknown(t *testing.T) {
	store := memory.New()
	gen := keys.NewGenerator(bcrypt.MinCost)
	presented, _ := gen.GenerateSecret(keys.KindUser)
	other, _ := gen.GenerateSecret(keys.KindUser)
	otherHash, err := gen.Hash(other)
	if err != nil {
		t.Fatalf("Hash() error: %v", err)
	}

	// digest resolves, but the bcrypt hash belongs to a different secret
	key := &keys.Key{
		ID:             "key-tampered",
		SecretHash:     otherHash,
		LookupSHA:      keys.LookupDigest(presented),
		Kind:           keys.KindUser,
		OwnerPrincipal: "dev@example.com",
		CreatedAt:      time.Now(),
		IsActive:       true,
	}
	if err := store.Save(context.Background(), key); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	resolver := NewResolver(store, nil, nil, nil, Config{})
	_, err = resolver.Resolve(context.Background(), bearerRequest(presented))
	if !errors.Is(err, ErrUnknownCredential) {
		t.Fatalf("error = %v, want ErrUnknownCredential", err)
	}
}

func TestResolveExpiredKey(t *testing.T) {
	// expiration rejects at auth time for both kinds, ahead of any sweep;
	// a system key past its window does not keep its admin power
	for _, tt := range []struct {
		name  string
		kind  keys.Kind
		owner string
	}{
		{"user", keys.KindUser, "dev@example.com"},
		{"system", keys.KindSystem, ""},
	} {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.New()
			_, secret := issueKey(t, store, tt.kind, tt.owner, func(k *keys.Key) {
				past := time.Now().Add(-time.Hour)
				k.ExpiresAt = &past
			})
			resolver := NewResolver(store, nil, nil, nil, Config{})

			_, err := resolver.Resolve(context.Background(), bearerRequest(secret))
			if !errors.Is(err, ErrCredentialExpired) {
				t.Fatalf("error = %v, want ErrCredentialExpired", err)
			}
		})
	}
}

func TestResolveRevokedDominatesExpired(t *testing.T) {
	store := memory.New()
	_, secret := issueKey(t, store, keys.KindUser, "dev@example.com", func(k *keys.Key) {
		past := time.Now().Add(-time.Hour)
		k.ExpiresAt = &past
		k.Revoke("admin@example.com", time.Now().Add(-2*time.Hour))
	})
	resolver := NewResolver(store, nil, nil, nil, Config{})

	_, err := resolver.Resolve(context.Background(), bearerRequest(secret))
	if !errors.Is(err, ErrCredentialRevoked) {
		t.Fatalf("error = %v, want ErrCredentialRevoked", err)
	}
}

func TestResolveSweptInactiveKey(t *testing.T) {
	store := memory.New()
	// expiration sweep clears IsActive without setting RevokedAt
	_, secret := issueKey(t, store, keys.KindUser, "dev@example.com", func(k *keys.Key) {
		k.IsActive = false
	})
	resolver := NewResolver(store, nil, nil, nil, Config{})

	_, err := resolver.Resolve(context.Background(), bearerRequest(secret))
	if !errors.Is(err, ErrCredentialRevoked) {
		t.Fatalf("error = %v, want ErrCredentialRevoked", err)
	}
}

type failingStore struct{}

func (failingStore) FindByLookupHash(ctx context.Context, digest string) (*keys.Key, error) {
	return nil, errors.New("connection refused")
}

func (failingStore) Save(ctx context.Context, key *keys.Key) error {
	return errors.New("connection refused")
}

func TestResolveStoreUnavailableFailsClosed(t *testing.T) {
	gen := keys.NewGenerator(bcrypt.MinCost)
	secret, _ := gen.GenerateSecret(keys.KindUser)
	resolver := NewResolver(failingStore{}, nil, nil, nil, Config{})

	_, err := resolver.Resolve(context.Background(), bearerRequest(secret))
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("error = %v, want ErrStoreUnavailable", err)
	}
}

func TestResolveSecretFailureDoesNotFallThrough(t *testing.T) {
	// malformed bearer secret plus valid proxy headers: the secret decides
	resolver := NewResolver(memory.New(), nil, nil, nil, Config{
		TrustedProxyEnabled: true,
		AdminGroup:          "platform-admins",
	})

	req := bearerRequest("garbage")
	req.Header.Set(HeaderProxyUser, "dev@example.com")
	req.Header.Set(HeaderProxyGroups, "platform-admins")

	_, err := resolver.Resolve(context.Background(), req)
	if !errors.Is(err, ErrMalformedCredential) {
		t.Fatalf("error = %v, want ErrMalformedCredential", err)
	}
}

func TestResolveTrustedProxy(t *testing.T) {
	sink := &capturingAudit{}
	resolver := NewResolver(memory.New(), sink, nil, nil, Config{
		TrustedProxyEnabled: true,
		AdminGroup:          "platform-admins",
	})

	t.Run("user", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set(HeaderProxyUser, "dev@example.com")
		req.Header.Set(HeaderProxyGroups, "engineering, oncall")

		identity, err := resolver.Resolve(context.Background(), req)
		if err != nil {
			t.Fatalf("Resolve() error: %v", err)
		}
		if identity.Principal != "dev@example.com" || identity.Role != RoleUser {
			t.Errorf("got %+v, want user dev@example.com", identity)
		}
		if identity.Mechanism != MechanismTrustedProxy {
			t.Errorf("mechanism = %q, want trusted-proxy", identity.Mechanism)
		}

		event := sink.last()
		if event == nil || event.EventType != audit.EventTypeAuthSuccess {
			t.Fatalf("expected AUTH_SUCCESS event, got %+v", event)
		}
		if event.Detail["mechanism"] != string(MechanismTrustedProxy) {
			t.Errorf("event mechanism = %v, want trusted-proxy", event.Detail["mechanism"])
		}
	})

	t.Run("admin group", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set(HeaderProxyUser, "ops@example.com")
		req.Header.Set(HeaderProxyGroups, "engineering, Platform-Admins")

		identity, err := resolver.Resolve(context.Background(), req)
		if err != nil {
			t.Fatalf("Resolve() error: %v", err)
		}
		if identity.Role != RoleAdmin {
			t.Errorf("role = %q, want admin", identity.Role)
		}
	})
}

func TestResolveProxyDisabled(t *testing.T) {
	resolver := NewResolver(memory.New(), nil, nil, nil, Config{})

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(HeaderProxyUser, "dev@example.com")

	_, err := resolver.Resolve(context.Background(), req)
	if !errors.Is(err, ErrNoCredential) {
		t.Fatalf("error = %v, want ErrNoCredential", err)
	}
}

func TestResolveNoCredential(t *testing.T) {
	sink := &capturingAudit{}
	resolver := NewResolver(memory.New(), sink, nil, nil, Config{})

	_, err := resolver.Resolve(context.Background(), httptest.NewRequest("GET", "/", nil))
	if !errors.Is(err, ErrNoCredential) {
		t.Fatalf("error = %v, want ErrNoCredential", err)
	}

	event := sink.last()
	if event == nil || event.EventType != audit.EventTypeAuthFailure {
		t.Fatalf("expected AUTH_FAILURE event, got %+v", event)
	}
	if event.Detail["reason"] != "no credential" {
		t.Errorf("reason = %v, want no credential", event.Detail["reason"])
	}
}

func TestResolveAuditSinkFailureDoesNotBlockAuth(t *testing.T) {
	store := memory.New()
	sink := &capturingAudit{err: errors.New("sink down")}
	_, secret := issueKey(t, store, keys.KindUser, "dev@example.com", nil)
	resolver := NewResolver(store, sink, nil, nil, Config{})

	identity, err := resolver.Resolve(context.Background(), bearerRequest(secret))
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if identity == nil {
		t.Fatal("expected identity despite audit failure")
	}
}

func TestAuditDetailNeverContainsSecret(t *testing.T) {
	store := memory.New()
	sink := &capturingAudit{}
	_, secret := issueKey(t, store, keys.KindUser, "dev@example.com", func(k *keys.Key) {
		past := time.Now().Add(-time.Hour)
		k.ExpiresAt = &past
	})
	resolver := NewResolver(store, sink, nil, nil, Config{})

	_, _ = resolver.Resolve(context.Background(), bearerRequest(secret))

	event := sink.last()
	if event == nil {
		t.Fatal("expected audit event")
	}
	for k, v := range event.Detail {
		s, ok := v.(string)
		if !ok {
			continue
		}
		if s == secret {
			t.Errorf("detail %q contains the plaintext secret", k)
		}
		if len(s) > keys.DisplayPrefixLength && s[:3] == "gk_" {
			t.Errorf("detail %q contains more than the display prefix: %q", k, s)
		}
	}
	if event.Detail["secret_prefix"] != keys.ExtractPrefix(secret) {
		t.Errorf("secret_prefix = %v, want %q", event.Detail["secret_prefix"], keys.ExtractPrefix(secret))
	}
}

func TestResolveAPIKeyHeader(t *testing.T) {
	store := memory.New()
	_, secret := issueKey(t, store, keys.KindUser, "dev@example.com", nil)
	resolver := NewResolver(store, nil, nil, nil, Config{})

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(HeaderAPIKey, secret)

	identity, err := resolver.Resolve(context.Background(), req)
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if identity.Principal != "dev@example.com" {
		t.Errorf("principal = %q, want dev@example.com", identity.Principal)
	}
}
