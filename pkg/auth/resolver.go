package auth

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/platinummonkey/gatekeeper/pkg/audit"
	"github.com/platinummonkey/gatekeeper/pkg/keys"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/platinummonkey/gatekeeper/pkg/storage"
)

// Request headers consumed by the resolver chain.
const (
	HeaderAuthorization = "Authorization"
	HeaderAPIKey        = "X-API-Key"

	// Set by the fronting reverse proxy after its own authentication.
	// Trusted only when the deployment enables the trusted-proxy mechanism.
	HeaderProxyUser   = "X-Auth-Request-User"
	HeaderProxyGroups = "X-Auth-Request-Groups"
)

// BypassPrincipal is the synthetic identity minted when the development
// bypass is enabled.
const BypassPrincipal = "bypass@local"

// KeyLookup is the slice of the key store the resolver needs.
type KeyLookup interface {
	FindByLookupHash(ctx context.Context, digest string) (*keys.Key, error)
	Save(ctx context.Context, key *keys.Key) error
}

// Config controls which mechanisms the resolver chain tries.
type Config struct {
	// BypassEnabled skips all authentication and mints an admin identity.
	// Development only; config validation refuses it in production.
	BypassEnabled bool

	// TrustedProxyEnabled accepts identity headers set by the fronting
	// reverse proxy.
	TrustedProxyEnabled bool

	// AdminGroup is the proxy-asserted group that maps to the admin role.
	AdminGroup string
}

// Resolver walks the authentication chain for each request: bypass, then
// bearer secret, then trusted proxy headers. The first mechanism that applies
// decides the outcome; a presented secret that fails never falls through to
// a weaker mechanism.
type Resolver struct {
	store   KeyLookup
	auditor audit.Logger
	logger  *observability.Logger
	metrics *observability.Metrics
	cfg     Config

	// stamp timeout for the async last-used write
	stampTimeout time.Duration

	now func() time.Time
}

// NewResolver creates a resolver. The audit logger may be audit.NopLogger{};
// metrics may be nil.
func NewResolver(store KeyLookup, auditor audit.Logger, logger *observability.Logger, metrics *observability.Metrics, cfg Config) *Resolver {
	if auditor == nil {
		auditor = audit.NopLogger{}
	}
	return &Resolver{
		store:        store,
		auditor:      auditor,
		logger:       logger,
		metrics:      metrics,
		cfg:          cfg,
		stampTimeout: 5 * time.Second,
		now:          time.Now,
	}
}

// Resolve authenticates the request. On failure it returns one of the
// sentinel errors in errors.go; callers must present all of them to the
// client identically.
func (r *Resolver) Resolve(ctx context.Context, req *http.Request) (*Identity, error) {
	if r.cfg.BypassEnabled {
		identity := &Identity{
			Principal: BypassPrincipal,
			Role:      RoleAdmin,
			Mechanism: MechanismBypass,
		}
		r.observe(MechanismBypass, r.now(), nil)
		r.auditSuccess(ctx, req, identity)
		return identity, nil
	}

	if secret, ok := bearerSecret(req); ok {
		start := r.now()
		identity, err := r.resolveSecret(ctx, req, secret)
		r.observe(MechanismSecretBearer, start, err)
		return identity, err
	}

	if r.cfg.TrustedProxyEnabled {
		if identity := r.resolveProxy(req); identity != nil {
			r.observe(MechanismTrustedProxy, r.now(), nil)
			r.auditSuccess(ctx, req, identity)
			return identity, nil
		}
	}

	r.auditFailure(ctx, req, nil, "", "no credential")
	return nil, ErrNoCredential
}

// resolveSecret authenticates a presented bearer secret. Any failure is
// terminal for the request; the chain never falls through past a presented
// secret.
func (r *Resolver) resolveSecret(ctx context.Context, req *http.Request, secret string) (*Identity, error) {
	if !keys.ValidateFormat(secret) {
		r.auditFailure(ctx, req, nil, secret, "malformed")
		return nil, ErrMalformedCredential
	}

	key, err := r.store.FindByLookupHash(ctx, keys.LookupDigest(secret))
	if errors.Is(err, storage.ErrNotFound) {
		r.auditFailure(ctx, req, nil, secret, "unknown")
		return nil, ErrUnknownCredential
	}
	if err != nil {
		// fail closed
		if r.logger != nil {
			r.logger.WithError(err).Error("key store unavailable during authentication")
		}
		r.auditFailure(ctx, req, nil, secret, "store unavailable")
		return nil, ErrStoreUnavailable
	}

	if !keys.VerifySecret(secret, key.SecretHash) {
		r.auditFailure(ctx, req, key, secret, "unknown")
		return nil, ErrUnknownCredential
	}

	now := r.now()
	switch key.StatusAt(now) {
	case keys.StatusRevoked:
		r.auditFailure(ctx, req, key, secret, "revoked")
		return nil, ErrCredentialRevoked
	case keys.StatusExpired:
		r.auditFailure(ctx, req, key, secret, "expired")
		return nil, ErrCredentialExpired
	}
	if !key.IsActive {
		r.auditFailure(ctx, req, key, secret, "inactive")
		return nil, ErrCredentialRevoked
	}

	identity := &Identity{
		Principal: key.OwnerPrincipal,
		Role:      RoleUser,
		Mechanism: MechanismSecretBearer,
		KeyID:     key.ID,
	}
	if key.Kind == keys.KindSystem {
		identity.Principal = key.DisplayName
		identity.Role = RoleAdmin
	}

	r.stampLastUsed(key, now)
	r.auditSuccess(ctx, req, identity)
	return identity, nil
}

// resolveProxy trusts identity headers asserted by the fronting proxy.
// Returns nil when the user header is absent.
func (r *Resolver) resolveProxy(req *http.Request) *Identity {
	principal := strings.TrimSpace(req.Header.Get(HeaderProxyUser))
	if principal == "" {
		return nil
	}

	identity := &Identity{
		Principal: principal,
		Role:      RoleUser,
		Mechanism: MechanismTrustedProxy,
	}
	if r.cfg.AdminGroup != "" && hasGroup(req.Header.Get(HeaderProxyGroups), r.cfg.AdminGroup) {
		identity.Role = RoleAdmin
	}
	return identity
}

// stampLastUsed records usage without blocking the request. A lost stamp
// under concurrent use is acceptable; the value is advisory.
func (r *Resolver) stampLastUsed(key *keys.Key, now time.Time) {
	stamped := key.Clone()
	stamped.MarkUsed(now)

	go func() {
		if r.logger != nil {
			defer observability.RecoverPanic(r.logger, "last-used stamp")
		}
		ctx, cancel := context.WithTimeout(context.Background(), r.stampTimeout)
		defer cancel()
		if err := r.store.Save(ctx, stamped); err != nil && r.logger != nil {
			r.logger.WithError(err).WithField("key_id", stamped.ID).Warn("failed to stamp last-used")
		}
	}()
}

func (r *Resolver) auditSuccess(ctx context.Context, req *http.Request, identity *Identity) {
	event := audit.NewEvent(audit.EventTypeAuthSuccess, identity.Principal, identity.KeyID, map[string]interface{}{
		"mechanism": string(identity.Mechanism),
		"source_ip": sourceIP(req),
	})
	r.emit(ctx, event)
}

// auditFailure records a rejected attempt. The detail carries only the
// display prefix of the presented secret, never the secret or its hash.
func (r *Resolver) auditFailure(ctx context.Context, req *http.Request, key *keys.Key, secret, reason string) {
	detail := map[string]interface{}{
		"reason":        reason,
		"secret_prefix": keys.ExtractPrefix(secret),
		"source_ip":     sourceIP(req),
	}
	targetID := ""
	if key != nil {
		targetID = key.ID
	}
	event := audit.NewEvent(audit.EventTypeAuthFailure, "", targetID, detail)
	r.emit(ctx, event)

	if r.metrics != nil {
		r.metrics.AuthFailuresByReason.WithLabelValues(reason).Inc()
	}
}

// emit delivers an audit event best-effort. Sink failures are logged and
// swallowed; auditing never changes an auth decision.
func (r *Resolver) emit(ctx context.Context, event *audit.Event) {
	if err := r.auditor.Log(ctx, event); err != nil {
		if r.logger != nil {
			r.logger.WithError(err).Warn("audit sink unavailable")
		}
		if r.metrics != nil {
			r.metrics.AuditSinkErrorsTotal.Inc()
		}
		return
	}
	if r.metrics != nil {
		r.metrics.AuditEventsTotal.WithLabelValues(string(event.EventType)).Inc()
	}
}

func (r *Resolver) observe(mechanism Mechanism, start time.Time, err error) {
	if r.metrics == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	r.metrics.AuthAttemptsTotal.WithLabelValues(string(mechanism), outcome).Inc()
	r.metrics.AuthDuration.WithLabelValues(string(mechanism)).Observe(time.Since(start).Seconds())
}

// bearerSecret extracts a presented secret from the Authorization or
// X-API-Key header.
func bearerSecret(req *http.Request) (string, bool) {
	if h := req.Header.Get(HeaderAuthorization); h != "" {
		if strings.HasPrefix(h, "Bearer ") {
			return strings.TrimSpace(strings.TrimPrefix(h, "Bearer ")), true
		}
	}
	if h := req.Header.Get(HeaderAPIKey); h != "" {
		return strings.TrimSpace(h), true
	}
	return "", false
}

// hasGroup reports whether the comma-separated group header contains the
// wanted group.
func hasGroup(header, wanted string) bool {
	for _, g := range strings.Split(header, ",") {
		if strings.EqualFold(strings.TrimSpace(g), wanted) {
			return true
		}
	}
	return false
}

// sourceIP prefers the first X-Forwarded-For hop, falling back to the
// connection's remote address.
func sourceIP(req *http.Request) string {
	if xff := req.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}
