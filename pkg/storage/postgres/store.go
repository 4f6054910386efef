// Package postgres implements the KeyStore interface on PostgreSQL.
//
// Records live in a single api_keys table with a unique index on the secret
// lookup digest. The table is created on startup if it does not exist, so a
// fresh database needs no out-of-band migration step.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/platinummonkey/gatekeeper/pkg/keys"
	"github.com/platinummonkey/gatekeeper/pkg/storage"
)

// Store is a PostgreSQL-backed KeyStore.
type Store struct {
	db *sql.DB
}

var _ storage.KeyStore = (*Store)(nil)

// New opens a connection pool, verifies connectivity, and bootstraps the
// schema.
func New(config storage.Config) (*Store, error) {
	db, err := sql.Open("postgres", config.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}

	db.SetMaxOpenConns(config.PostgresMaxConns)
	db.SetMaxIdleConns(config.PostgresMinConns)
	db.SetConnMaxLifetime(30 * time.Minute)

	timeout := config.PostgresTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	store := &Store{db: db}
	if err := store.ensureTable(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create api_keys table: %w", err)
	}

	return store, nil
}

// NewWithDB wraps an existing database handle. The caller owns schema setup.
// Used by tests with sqlmock.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) ensureTable(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS api_keys (
		id                   TEXT PRIMARY KEY,
		display_name         TEXT NOT NULL,
		secret_hash          TEXT NOT NULL,
		lookup_sha           TEXT NOT NULL UNIQUE,
		secret_prefix        TEXT NOT NULL,
		kind                 TEXT NOT NULL,
		owner_principal      TEXT NOT NULL,
		issuer_principal     TEXT NOT NULL,
		created_at           TIMESTAMPTZ NOT NULL,
		expires_at           TIMESTAMPTZ,
		last_used_at         TIMESTAMPTZ,
		revoked_at           TIMESTAMPTZ,
		revoked_by           TEXT,
		rotated_from_id      TEXT,
		grace_period_ends_at TIMESTAMPTZ,
		is_active            BOOLEAN NOT NULL DEFAULT TRUE
	);
	CREATE INDEX IF NOT EXISTS idx_api_keys_owner ON api_keys(owner_principal);
	CREATE INDEX IF NOT EXISTS idx_api_keys_active ON api_keys(is_active);
	`
	_, err := s.db.ExecContext(ctx, query)
	return err
}

const keyColumns = `id, display_name, secret_hash, lookup_sha, secret_prefix, kind,
		owner_principal, issuer_principal, created_at, expires_at, last_used_at,
		revoked_at, revoked_by, rotated_from_id, grace_period_ends_at, is_active`

// Save inserts the record or overwrites an existing one with the same id.
func (s *Store) Save(ctx context.Context, key *keys.Key) error {
	query := `
	INSERT INTO api_keys (` + keyColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	ON CONFLICT (id) DO UPDATE SET
		display_name = EXCLUDED.display_name,
		secret_hash = EXCLUDED.secret_hash,
		lookup_sha = EXCLUDED.lookup_sha,
		secret_prefix = EXCLUDED.secret_prefix,
		kind = EXCLUDED.kind,
		owner_principal = EXCLUDED.owner_principal,
		issuer_principal = EXCLUDED.issuer_principal,
		created_at = EXCLUDED.created_at,
		expires_at = EXCLUDED.expires_at,
		last_used_at = EXCLUDED.last_used_at,
		revoked_at = EXCLUDED.revoked_at,
		revoked_by = EXCLUDED.revoked_by,
		rotated_from_id = EXCLUDED.rotated_from_id,
		grace_period_ends_at = EXCLUDED.grace_period_ends_at,
		is_active = EXCLUDED.is_active`

	_, err := s.db.ExecContext(ctx, query,
		key.ID,
		key.DisplayName,
		key.SecretHash,
		key.LookupSHA,
		key.SecretPrefix,
		string(key.Kind),
		key.OwnerPrincipal,
		key.IssuerPrincipal,
		key.CreatedAt,
		nullTime(key.ExpiresAt),
		nullTime(key.LastUsedAt),
		nullTime(key.RevokedAt),
		nullString(key.RevokedBy),
		nullString(key.RotatedFromID),
		nullTime(key.GracePeriodEndsAt),
		key.IsActive,
	)
	if err != nil {
		return fmt.Errorf("failed to save key: %w", err)
	}
	return nil
}

func (s *Store) FindByID(ctx context.Context, id string) (*keys.Key, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+keyColumns+` FROM api_keys WHERE id = $1`, id)
	return scanKey(row)
}

func (s *Store) FindByLookupHash(ctx context.Context, digest string) (*keys.Key, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+keyColumns+` FROM api_keys WHERE lookup_sha = $1`, digest)
	return scanKey(row)
}

func (s *Store) FindByOwner(ctx context.Context, owner string) ([]*keys.Key, error) {
	return s.query(ctx,
		`SELECT `+keyColumns+` FROM api_keys WHERE owner_principal = $1 ORDER BY created_at DESC`, owner)
}

func (s *Store) FindByActiveStatus(ctx context.Context, active bool) ([]*keys.Key, error) {
	return s.query(ctx,
		`SELECT `+keyColumns+` FROM api_keys WHERE is_active = $1 ORDER BY created_at DESC`, active)
}

func (s *Store) FindAll(ctx context.Context) ([]*keys.Key, error) {
	return s.query(ctx,
		`SELECT `+keyColumns+` FROM api_keys ORDER BY created_at DESC`)
}

func (s *Store) query(ctx context.Context, query string, args ...interface{}) ([]*keys.Key, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query keys: %w", err)
	}
	defer rows.Close()

	var out []*keys.Key
	for rows.Next() {
		key, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate keys: %w", err)
	}
	return out, nil
}

// Delete removes the record. Deleting an absent id succeeds.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	return nil
}

func (s *Store) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM api_keys`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count keys: %w", err)
	}
	return count, nil
}

func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres unhealthy: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanKey(row rowScanner) (*keys.Key, error) {
	var (
		key        keys.Key
		kind       string
		expiresAt  sql.NullTime
		lastUsedAt sql.NullTime
		revokedAt  sql.NullTime
		revokedBy  sql.NullString
		rotatedID  sql.NullString
		graceEnds  sql.NullTime
	)

	err := row.Scan(
		&key.ID,
		&key.DisplayName,
		&key.SecretHash,
		&key.LookupSHA,
		&key.SecretPrefix,
		&kind,
		&key.OwnerPrincipal,
		&key.IssuerPrincipal,
		&key.CreatedAt,
		&expiresAt,
		&lastUsedAt,
		&revokedAt,
		&revokedBy,
		&rotatedID,
		&graceEnds,
		&key.IsActive,
	)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan key: %w", err)
	}

	key.Kind = keys.Kind(kind)
	key.ExpiresAt = timePtr(expiresAt)
	key.LastUsedAt = timePtr(lastUsedAt)
	key.RevokedAt = timePtr(revokedAt)
	key.RevokedBy = revokedBy.String
	key.RotatedFromID = rotatedID.String
	key.GracePeriodEndsAt = timePtr(graceEnds)
	return &key, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// nullString maps the empty string to SQL NULL; RevokedBy and RotatedFromID
// use empty as their unset value.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
