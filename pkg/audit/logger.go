package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Logger is the write side of the audit trail. Implementations are
// best-effort: callers treat a returned error as a logging problem, never as
// grounds to fail the operation being audited.
type Logger interface {
	Log(ctx context.Context, event *Event) error

	// Close flushes any buffered events.
	Close() error
}

// Reader is the query side. Only the database sink implements it; file and
// no-op sinks are write-only.
type Reader interface {
	Search(ctx context.Context, filter Filter) ([]*Event, error)
}

// NewEvent builds an event with a fresh id and the current timestamp.
func NewEvent(eventType EventType, actor, targetKeyID string, detail map[string]interface{}) *Event {
	if actor == "" {
		actor = AnonymousActor
	}
	return &Event{
		ID:             uuid.NewString(),
		Timestamp:      time.Now().UTC(),
		ActorPrincipal: actor,
		EventType:      eventType,
		TargetKeyID:    targetKeyID,
		Detail:         detail,
	}
}

// NopLogger discards every event. Used when auditing is disabled and as the
// default in tests.
type NopLogger struct{}

func (NopLogger) Log(ctx context.Context, event *Event) error { return nil }
func (NopLogger) Close() error                                { return nil }
