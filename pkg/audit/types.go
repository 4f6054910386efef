package audit

import "time"

// EventType is the category of a recorded security event.
type EventType string

const (
	// EventTypeAuthSuccess records a credential that authenticated.
	EventTypeAuthSuccess EventType = "AUTH_SUCCESS"
	// EventTypeAuthFailure records a credential that was presented and
	// rejected, whatever the reason.
	EventTypeAuthFailure EventType = "AUTH_FAILURE"
	// EventTypeLifecycleChange records issuance, rotation, revocation,
	// rename, expiration sweeps, and grace-period revocations.
	EventTypeLifecycleChange EventType = "LIFECYCLE_CHANGE"
)

// Event is one audit record.
//
// Detail carries event-specific context (failure reason, rotation parent,
// source IP). It must never contain a plaintext secret or a full secret hash;
// the display prefix is the only secret-derived value allowed in.
type Event struct {
	ID             string                 `json:"id"`
	Timestamp      time.Time              `json:"timestamp"`
	ActorPrincipal string                 `json:"actor_principal"`
	EventType      EventType              `json:"event_type"`
	TargetKeyID    string                 `json:"target_key_id,omitempty"`
	Detail         map[string]interface{} `json:"detail,omitempty"`
}

// AnonymousActor is recorded when a failed authentication attempt cannot be
// attributed to any principal.
const AnonymousActor = "anonymous"

// Filter narrows a Search. Zero values mean "any".
type Filter struct {
	Actor     string
	EventType EventType
	Since     time.Time
	Until     time.Time
	Limit     int
	Offset    int
}
