package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// DBLogger writes audit events to PostgreSQL and serves the query API.
type DBLogger struct {
	db *sql.DB
}

var (
	_ Logger = (*DBLogger)(nil)
	_ Reader = (*DBLogger)(nil)
)

// NewDBLogger wraps an existing database connection and bootstraps the
// auth_audit_events table.
func NewDBLogger(db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	logger := &DBLogger{db: db}
	if err := logger.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure auth_audit_events table: %w", err)
	}
	return logger, nil
}

func (l *DBLogger) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS auth_audit_events (
		id              TEXT PRIMARY KEY,
		timestamp       TIMESTAMPTZ NOT NULL,
		actor_principal TEXT NOT NULL,
		event_type      VARCHAR(32) NOT NULL,
		target_key_id   TEXT,
		detail          JSONB
	);
	CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON auth_audit_events(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_audit_actor ON auth_audit_events(actor_principal);
	CREATE INDEX IF NOT EXISTS idx_audit_event_type ON auth_audit_events(event_type);
	`
	_, err := l.db.Exec(query)
	return err
}

func (l *DBLogger) Log(ctx context.Context, event *Event) error {
	var detailJSON []byte
	var err error
	if event.Detail != nil {
		detailJSON, err = json.Marshal(event.Detail)
		if err != nil {
			return fmt.Errorf("failed to marshal detail: %w", err)
		}
	}

	query := `
		INSERT INTO auth_audit_events (id, timestamp, actor_principal, event_type, target_key_id, detail)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err = l.db.ExecContext(ctx, query,
		event.ID, event.Timestamp, event.ActorPrincipal,
		string(event.EventType), event.TargetKeyID, detailJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// Search returns events newest first, narrowed by the filter.
func (l *DBLogger) Search(ctx context.Context, filter Filter) ([]*Event, error) {
	var (
		where []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if filter.Actor != "" {
		where = append(where, "actor_principal = "+arg(filter.Actor))
	}
	if filter.EventType != "" {
		where = append(where, "event_type = "+arg(string(filter.EventType)))
	}
	if !filter.Since.IsZero() {
		where = append(where, "timestamp >= "+arg(filter.Since))
	}
	if !filter.Until.IsZero() {
		where = append(where, "timestamp <= "+arg(filter.Until))
	}

	query := `SELECT id, timestamp, actor_principal, event_type, target_key_id, detail FROM auth_audit_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT " + arg(limit)
	if filter.Offset > 0 {
		query += " OFFSET " + arg(filter.Offset)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		var (
			event      Event
			eventType  string
			targetID   sql.NullString
			detailJSON []byte
			ts         time.Time
		)
		if err := rows.Scan(&event.ID, &ts, &event.ActorPrincipal, &eventType, &targetID, &detailJSON); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		event.Timestamp = ts
		event.EventType = EventType(eventType)
		event.TargetKeyID = targetID.String
		if len(detailJSON) > 0 {
			if err := json.Unmarshal(detailJSON, &event.Detail); err != nil {
				return nil, fmt.Errorf("failed to unmarshal detail: %w", err)
			}
		}
		out = append(out, &event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit events: %w", err)
	}
	return out, nil
}

func (l *DBLogger) Close() error {
	// the connection is shared with the key store; its owner closes it
	return nil
}
