package api

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/gatekeeper/pkg/audit"
	"github.com/platinummonkey/gatekeeper/pkg/keys"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/platinummonkey/gatekeeper/pkg/storage"
)

// Lifecycle errors surfaced by the management API.
var (
	ErrKeyNotFound       = errors.New("key not found")
	ErrNotPermitted      = errors.New("not permitted")
	ErrInvalidName       = errors.New("display name must be non-blank and at most 100 characters")
	ErrInvalidExpiration = errors.New("expiration must be between 1 and 365 days")
	ErrDuplicateName     = errors.New("a key with this name already exists")
	ErrTooManyKeys       = errors.New("key limit reached")
	ErrRotateRevoked     = errors.New("cannot rotate a revoked key")
)

// MaxDisplayNameLength bounds user-supplied key names.
const MaxDisplayNameLength = 100

// ServiceConfig tunes issuance guard rails and rotation behavior.
type ServiceConfig struct {
	DefaultExpirationDays int
	MinExpirationDays     int
	MaxExpirationDays     int
	MaxKeysPerOwner       int
	RotationGracePeriod   time.Duration
	BcryptCost            int
}

// DefaultServiceConfig returns production defaults.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		DefaultExpirationDays: 90,
		MinExpirationDays:     1,
		MaxExpirationDays:     365,
		MaxKeysPerOwner:       10,
		RotationGracePeriod:   24 * time.Hour,
		BcryptCost:            keys.DefaultBcryptCost,
	}
}

// Actor identifies who is performing a management operation.
type Actor struct {
	Principal string
	Admin     bool
}

// IssuedKey pairs a stored record with the plaintext secret. The secret
// exists only in this value and is shown to the caller exactly once.
type IssuedKey struct {
	Key         *keys.Key
	PlainSecret string
}

// Service implements the key lifecycle: issue, rotate, revoke, rename, list.
type Service struct {
	store   storage.KeyStore
	gen     *keys.Generator
	auditor audit.Logger
	logger  *observability.Logger
	cfg     ServiceConfig

	now func() time.Time
}

// NewService creates a lifecycle service. The audit logger may be
// audit.NopLogger{}.
func NewService(store storage.KeyStore, auditor audit.Logger, logger *observability.Logger, cfg ServiceConfig) *Service {
	if auditor == nil {
		auditor = audit.NopLogger{}
	}
	return &Service{
		store:   store,
		gen:     keys.NewGenerator(cfg.BcryptCost),
		auditor: auditor,
		logger:  logger,
		cfg:     cfg,
		now:     time.Now,
	}
}

// IssueUserKey mints a personal key owned by the acting principal.
func (s *Service) IssueUserKey(ctx context.Context, actor Actor, displayName string, expirationDays *int) (*IssuedKey, error) {
	return s.issue(ctx, actor, keys.KindUser, actor.Principal, displayName, expirationDays)
}

// IssueSystemKey mints an organization-level key. Admin only.
func (s *Service) IssueSystemKey(ctx context.Context, actor Actor, displayName string, expirationDays *int) (*IssuedKey, error) {
	if !actor.Admin {
		return nil, ErrNotPermitted
	}
	return s.issue(ctx, actor, keys.KindSystem, "", displayName, expirationDays)
}

func (s *Service) issue(ctx context.Context, actor Actor, kind keys.Kind, owner, displayName string, expirationDays *int) (*IssuedKey, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" || len(displayName) > MaxDisplayNameLength {
		return nil, ErrInvalidName
	}

	days := s.cfg.DefaultExpirationDays
	if expirationDays != nil {
		days = *expirationDays
	}
	if days < s.cfg.MinExpirationDays || days > s.cfg.MaxExpirationDays {
		return nil, ErrInvalidExpiration
	}

	if err := s.checkIssuanceLimits(ctx, kind, owner, displayName, ""); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	expires := now.Add(time.Duration(days) * 24 * time.Hour)
	issued, err := s.mint(ctx, kind, owner, actor.Principal, displayName, now, &expires, "")
	if err != nil {
		return nil, err
	}

	s.auditLifecycle(ctx, actor.Principal, issued.Key, "issue", nil)
	return issued, nil
}

// mint generates a secret, hashes it, and persists the record.
func (s *Service) mint(ctx context.Context, kind keys.Kind, owner, issuer, displayName string, now time.Time, expiresAt *time.Time, rotatedFrom string) (*IssuedKey, error) {
	secret, err := s.gen.GenerateSecret(kind)
	if err != nil {
		return nil, fmt.Errorf("failed to generate secret: %w", err)
	}
	hash, err := s.gen.Hash(secret)
	if err != nil {
		return nil, fmt.Errorf("failed to hash secret: %w", err)
	}

	key := &keys.Key{
		ID:              uuid.NewString(),
		DisplayName:     displayName,
		SecretHash:      hash,
		LookupSHA:       keys.LookupDigest(secret),
		SecretPrefix:    keys.ExtractPrefix(secret),
		Kind:            kind,
		OwnerPrincipal:  owner,
		IssuerPrincipal: issuer,
		CreatedAt:       now,
		ExpiresAt:       expiresAt,
		RotatedFromID:   rotatedFrom,
		IsActive:        true,
	}
	if err := s.store.Save(ctx, key); err != nil {
		return nil, fmt.Errorf("failed to save key: %w", err)
	}
	return &IssuedKey{Key: key, PlainSecret: secret}, nil
}

// checkIssuanceLimits enforces the per-owner cap and duplicate-name rule.
// excludeID skips a record during the duplicate check (used by rename).
func (s *Service) checkIssuanceLimits(ctx context.Context, kind keys.Kind, owner, displayName, excludeID string) error {
	var peers []*keys.Key
	if kind == keys.KindSystem {
		// system keys share one namespace
		all, err := s.store.FindAll(ctx)
		if err != nil {
			return fmt.Errorf("failed to list keys: %w", err)
		}
		for _, k := range all {
			if k.Kind == keys.KindSystem {
				peers = append(peers, k)
			}
		}
	} else {
		owned, err := s.store.FindByOwner(ctx, owner)
		if err != nil {
			return fmt.Errorf("failed to list keys: %w", err)
		}
		peers = owned
	}

	active := 0
	for _, k := range peers {
		if !k.IsActive {
			continue
		}
		active++
		if k.ID != excludeID && strings.EqualFold(k.DisplayName, displayName) {
			return ErrDuplicateName
		}
	}
	if kind == keys.KindUser && s.cfg.MaxKeysPerOwner > 0 && active >= s.cfg.MaxKeysPerOwner {
		return ErrTooManyKeys
	}
	return nil
}

// Get returns a single key. Non-admin actors can only see their own.
func (s *Service) Get(ctx context.Context, actor Actor, id string) (*keys.Key, error) {
	key, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.canManage(actor, key) {
		// the record's existence is not revealed to strangers
		return nil, ErrKeyNotFound
	}
	return key, nil
}

// ListForOwner returns the actor's own keys, newest first.
func (s *Service) ListForOwner(ctx context.Context, actor Actor) ([]*keys.Key, error) {
	owned, err := s.store.FindByOwner(ctx, actor.Principal)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	sortNewestFirst(owned)
	return owned, nil
}

// ListAll returns every key. Admin only.
func (s *Service) ListAll(ctx context.Context, actor Actor) ([]*keys.Key, error) {
	if !actor.Admin {
		return nil, ErrNotPermitted
	}
	all, err := s.store.FindAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	sortNewestFirst(all)
	return all, nil
}

// Rename changes a key's display name.
func (s *Service) Rename(ctx context.Context, actor Actor, id, displayName string) (*keys.Key, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" || len(displayName) > MaxDisplayNameLength {
		return nil, ErrInvalidName
	}

	key, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if err := s.checkDuplicateName(ctx, key, displayName); err != nil {
		return nil, err
	}

	previous := key.DisplayName
	key.DisplayName = displayName
	if err := s.store.Save(ctx, key); err != nil {
		return nil, fmt.Errorf("failed to save key: %w", err)
	}

	s.auditLifecycle(ctx, actor.Principal, key, "rename", map[string]interface{}{
		"previous_name": previous,
	})
	return key, nil
}

// checkDuplicateName is the rename-time variant of the issuance check: only
// the name collision matters, never the count.
func (s *Service) checkDuplicateName(ctx context.Context, key *keys.Key, displayName string) error {
	err := s.checkIssuanceLimits(ctx, key.Kind, key.OwnerPrincipal, displayName, key.ID)
	if errors.Is(err, ErrTooManyKeys) {
		return nil
	}
	return err
}

// Revoke permanently disables a key. Revoking an already revoked key is a
// no-op.
func (s *Service) Revoke(ctx context.Context, actor Actor, id string) (*keys.Key, error) {
	key, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if key.RevokedAt != nil {
		return key, nil
	}

	key.Revoke(actor.Principal, s.now().UTC())
	if err := s.store.Save(ctx, key); err != nil {
		return nil, fmt.Errorf("failed to save key: %w", err)
	}

	s.auditLifecycle(ctx, actor.Principal, key, "revoke", nil)
	return key, nil
}

// Rotate issues a replacement secret for a key. The new record inherits the
// old key's name, kind, owner, and expiration instant. The old key keeps
// working until its grace period elapses, so callers can swap secrets
// without an outage.
func (s *Service) Rotate(ctx context.Context, actor Actor, id string) (*IssuedKey, error) {
	old, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if old.RevokedAt != nil {
		return nil, ErrRotateRevoked
	}

	now := s.now().UTC()
	issued, err := s.mint(ctx, old.Kind, old.OwnerPrincipal, actor.Principal, old.DisplayName, now, cloneExpiration(old.ExpiresAt), old.ID)
	if err != nil {
		return nil, err
	}

	graceEnds := now.Add(s.cfg.RotationGracePeriod)
	old.GracePeriodEndsAt = &graceEnds
	if err := s.store.Save(ctx, old); err != nil {
		return nil, fmt.Errorf("failed to save rotated key: %w", err)
	}

	s.auditLifecycle(ctx, actor.Principal, issued.Key, "rotate", map[string]interface{}{
		"rotated_from":         old.ID,
		"grace_period_ends_at": graceEnds.Format(time.RFC3339),
	})
	return issued, nil
}

func (s *Service) find(ctx context.Context, id string) (*keys.Key, error) {
	key, err := s.store.FindByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load key: %w", err)
	}
	return key, nil
}

// canManage reports whether the actor may operate on the key. Admins manage
// everything; owners manage their own user keys; system keys are admin-only.
func (s *Service) canManage(actor Actor, key *keys.Key) bool {
	if actor.Admin {
		return true
	}
	return key.Kind == keys.KindUser && key.OwnerPrincipal == actor.Principal
}

func (s *Service) auditLifecycle(ctx context.Context, actor string, key *keys.Key, action string, extra map[string]interface{}) {
	detail := map[string]interface{}{
		"action":        action,
		"kind":          string(key.Kind),
		"display_name":  key.DisplayName,
		"secret_prefix": key.SecretPrefix,
	}
	for k, v := range extra {
		detail[k] = v
	}

	event := audit.NewEvent(audit.EventTypeLifecycleChange, actor, key.ID, detail)
	if err := s.auditor.Log(ctx, event); err != nil && s.logger != nil {
		s.logger.WithError(err).Warn("audit sink unavailable")
	}
}

func sortNewestFirst(list []*keys.Key) {
	sort.Slice(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
}

func cloneExpiration(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
