package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/gatekeeper/pkg/auth"
	"github.com/platinummonkey/gatekeeper/pkg/contextkeys"
	"github.com/platinummonkey/gatekeeper/pkg/httputil"
	"github.com/platinummonkey/gatekeeper/pkg/keys"
)

// KeyResponse is the wire representation of a key record. It never carries
// the bcrypt hash or the lookup digest; the secret prefix is the only
// secret-derived material a caller ever sees again after issuance.
type KeyResponse struct {
	ID                  string      `json:"id"`
	DisplayName         string      `json:"display_name"`
	SecretPrefix        string      `json:"secret_prefix"`
	Kind                keys.Kind   `json:"kind"`
	OwnerPrincipal      string      `json:"owner_principal,omitempty"`
	IssuerPrincipal     string      `json:"issuer_principal"`
	Status              keys.Status `json:"status"`
	CreatedAt           time.Time   `json:"created_at"`
	ExpiresAt           *time.Time  `json:"expires_at,omitempty"`
	LastUsedAt          *time.Time  `json:"last_used_at,omitempty"`
	RevokedAt           *time.Time  `json:"revoked_at,omitempty"`
	RevokedBy           string      `json:"revoked_by,omitempty"`
	RotatedFromID       string      `json:"rotated_from_id,omitempty"`
	GracePeriodEndsAt   *time.Time  `json:"grace_period_ends_at,omitempty"`
	IsExpiringSoon      bool        `json:"is_expiring_soon"`
	DaysUntilExpiration int         `json:"days_until_expiration"`
}

// IssuedKeyResponse is returned by issuance and rotation. Secret is the full
// plaintext and this response is the only place it ever appears.
type IssuedKeyResponse struct {
	Key    KeyResponse `json:"key"`
	Secret string      `json:"secret"`
}

type issueKeyRequest struct {
	DisplayName    string `json:"display_name"`
	ExpirationDays *int   `json:"expiration_days,omitempty"`
}

type renameKeyRequest struct {
	DisplayName string `json:"display_name"`
}

type keyListResponse struct {
	Keys  []KeyResponse `json:"keys"`
	Count int           `json:"count"`
}

// NewKeyResponse builds the wire form of a record, deriving status and the
// expiration fields at the given instant.
func NewKeyResponse(key *keys.Key, now time.Time) KeyResponse {
	return KeyResponse{
		ID:                  key.ID,
		DisplayName:         key.DisplayName,
		SecretPrefix:        key.SecretPrefix,
		Kind:                key.Kind,
		OwnerPrincipal:      key.OwnerPrincipal,
		IssuerPrincipal:     key.IssuerPrincipal,
		Status:              key.StatusAt(now),
		CreatedAt:           key.CreatedAt,
		ExpiresAt:           key.ExpiresAt,
		LastUsedAt:          key.LastUsedAt,
		RevokedAt:           key.RevokedAt,
		RevokedBy:           key.RevokedBy,
		RotatedFromID:       key.RotatedFromID,
		GracePeriodEndsAt:   key.GracePeriodEndsAt,
		IsExpiringSoon:      keys.IsExpiringSoon(key.ExpiresAt, now),
		DaysUntilExpiration: keys.DaysUntilExpiration(key.ExpiresAt, now),
	}
}

// Handlers exposes the key management API over HTTP.
type Handlers struct {
	service *Service

	now func() time.Time
}

// NewHandlers creates the management API handlers.
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service, now: time.Now}
}

// RegisterRoutes registers the management endpoints. Every route expects an
// authenticated identity in the request context; the literal /keys/all and
// /keys/system routes are registered before the {id} routes so mux never
// captures them as an id.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/v1/keys", h.issueUserKey).Methods("POST")
	router.HandleFunc("/api/v1/keys", h.listOwnKeys).Methods("GET")
	router.HandleFunc("/api/v1/keys/system", h.issueSystemKey).Methods("POST")
	router.HandleFunc("/api/v1/keys/all", h.listAllKeys).Methods("GET")
	router.HandleFunc("/api/v1/keys/{id}", h.getKey).Methods("GET")
	router.HandleFunc("/api/v1/keys/{id}", h.renameKey).Methods("PATCH")
	router.HandleFunc("/api/v1/keys/{id}", h.revokeKey).Methods("DELETE")
	router.HandleFunc("/api/v1/keys/{id}/rotate", h.rotateKey).Methods("POST")
}

func (h *Handlers) issueUserKey(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actorFrom(w, r)
	if !ok {
		return
	}

	var req issueKeyRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	issued, err := h.service.IssueUserKey(r.Context(), actor, req.DisplayName, req.ExpirationDays)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	httputil.WriteCreated(w, IssuedKeyResponse{
		Key:    NewKeyResponse(issued.Key, h.now()),
		Secret: issued.PlainSecret,
	})
}

func (h *Handlers) issueSystemKey(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actorFrom(w, r)
	if !ok {
		return
	}

	var req issueKeyRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	issued, err := h.service.IssueSystemKey(r.Context(), actor, req.DisplayName, req.ExpirationDays)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	httputil.WriteCreated(w, IssuedKeyResponse{
		Key:    NewKeyResponse(issued.Key, h.now()),
		Secret: issued.PlainSecret,
	})
}

func (h *Handlers) listOwnKeys(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actorFrom(w, r)
	if !ok {
		return
	}

	list, err := h.service.ListForOwner(r.Context(), actor)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, h.listResponse(list))
}

func (h *Handlers) listAllKeys(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actorFrom(w, r)
	if !ok {
		return
	}

	list, err := h.service.ListAll(r.Context(), actor)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, h.listResponse(list))
}

func (h *Handlers) getKey(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	key, err := h.service.Get(r.Context(), actor, id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, NewKeyResponse(key, h.now()))
}

func (h *Handlers) renameKey(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	var req renameKeyRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	key, err := h.service.Rename(r.Context(), actor, id, req.DisplayName)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, NewKeyResponse(key, h.now()))
}

func (h *Handlers) revokeKey(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	key, err := h.service.Revoke(r.Context(), actor, id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, NewKeyResponse(key, h.now()))
}

func (h *Handlers) rotateKey(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	issued, err := h.service.Rotate(r.Context(), actor, id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	httputil.WriteCreated(w, IssuedKeyResponse{
		Key:    NewKeyResponse(issued.Key, h.now()),
		Secret: issued.PlainSecret,
	})
}

// actorFrom extracts the authenticated identity placed in the context by the
// authentication middleware. A missing identity means the middleware was
// bypassed, so the request is refused.
func (h *Handlers) actorFrom(w http.ResponseWriter, r *http.Request) (Actor, bool) {
	identity, ok := r.Context().Value(contextkeys.IdentityKey).(*auth.Identity)
	if !ok || identity == nil {
		httputil.WriteUnauthorized(w, "unauthenticated")
		return Actor{}, false
	}
	return Actor{Principal: identity.Principal, Admin: identity.IsAdmin()}, true
}

func (h *Handlers) listResponse(list []*keys.Key) keyListResponse {
	now := h.now()
	resp := keyListResponse{Keys: make([]KeyResponse, 0, len(list)), Count: len(list)}
	for _, key := range list {
		resp.Keys = append(resp.Keys, NewKeyResponse(key, now))
	}
	return resp
}

func (h *Handlers) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidName), errors.Is(err, ErrInvalidExpiration):
		httputil.WriteBadRequest(w, err.Error())
	case errors.Is(err, ErrNotPermitted):
		httputil.WriteForbidden(w, err.Error())
	case errors.Is(err, ErrKeyNotFound):
		httputil.WriteNotFoundError(w, err.Error())
	case errors.Is(err, ErrDuplicateName), errors.Is(err, ErrTooManyKeys), errors.Is(err, ErrRotateRevoked):
		httputil.WriteConflict(w, err.Error())
	default:
		httputil.WriteInternalError(w, err)
	}
}
