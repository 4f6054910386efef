package storage

import (
	"context"
	"errors"
	"time"

	"github.com/platinummonkey/gatekeeper/pkg/keys"
)

// ErrNotFound is returned by point lookups when no record matches.
var ErrNotFound = errors.New("key not found")

// KeyStore is the persistence boundary for key records. Two interchangeable
// backends implement it: a relational one (flexible administrative queries)
// and a hash-indexed one (O(1) lookup by secret digest on the authentication
// hot path). Deployment configuration selects exactly one; they are never
// mixed in a single process.
//
// Semantics every implementation must share:
//   - Save upserts: insert when the id is new, full overwrite otherwise.
//   - Delete is idempotent; deleting an absent id is not an error.
//   - Count reflects only non-deleted records.
//   - List queries return complete result sets, never a partial page.
type KeyStore interface {
	Save(ctx context.Context, key *keys.Key) error
	FindByID(ctx context.Context, id string) (*keys.Key, error)
	FindByLookupHash(ctx context.Context, digest string) (*keys.Key, error)
	FindByOwner(ctx context.Context, owner string) ([]*keys.Key, error)
	FindByActiveStatus(ctx context.Context, active bool) ([]*keys.Key, error)
	FindAll(ctx context.Context) ([]*keys.Key, error)
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int64, error)

	HealthCheck(ctx context.Context) error
	Close() error
}

// Config selects and tunes the storage backend.
type Config struct {
	Type string // "postgres", "redis", or "memory"

	// PostgreSQL config
	PostgresURL      string
	PostgresMaxConns int
	PostgresMinConns int
	PostgresTimeout  time.Duration

	// Redis config
	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Type:             "memory",
		PostgresMaxConns: 20,
		PostgresMinConns: 2,
		PostgresTimeout:  10 * time.Second,
		RedisDB:          0,
		RedisMaxRetries:  3,
		RedisPoolSize:    10,
	}
}
