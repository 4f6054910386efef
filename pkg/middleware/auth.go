package middleware

import (
	"net/http"

	"github.com/platinummonkey/gatekeeper/pkg/auth"
	"github.com/platinummonkey/gatekeeper/pkg/contextkeys"
	"github.com/platinummonkey/gatekeeper/pkg/httputil"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
)

// AuthMiddleware authenticates every request through the resolver chain.
type AuthMiddleware struct {
	resolver *auth.Resolver
}

// NewAuthMiddleware creates the authentication middleware.
func NewAuthMiddleware(resolver *auth.Resolver) *AuthMiddleware {
	return &AuthMiddleware{resolver: resolver}
}

// Handler wraps an HTTP handler with authentication. Every resolution
// failure, whatever its internal cause, produces the same 401 body so an
// attacker cannot distinguish unknown secrets from revoked or expired ones.
// Store outages are treated the same way: the chain fails closed rather
// than letting unverifiable credentials through.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := m.resolver.Resolve(r.Context(), r)
		if err != nil {
			httputil.WriteUnauthorized(w, "unauthenticated")
			return
		}

		ctx := contextkeys.WithIdentity(r.Context(), identity)
		ctx = observability.WithPrincipal(ctx, identity.Principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin refuses non-admin identities. It must run after Handler.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := GetIdentity(r)
		if identity == nil {
			httputil.WriteUnauthorized(w, "unauthenticated")
			return
		}
		if !identity.IsAdmin() {
			httputil.WriteForbidden(w, "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetIdentity returns the authenticated identity attached to the request,
// or nil when the request never passed through Handler.
func GetIdentity(r *http.Request) *auth.Identity {
	identity, _ := r.Context().Value(contextkeys.IdentityKey).(*auth.Identity)
	return identity
}
