// Package redishash implements the KeyStore interface on Redis.
//
// Each record is stored twice: the full JSON document under an id key, and a
// small index entry mapping the secret lookup digest back to the id. Resolving
// a presented secret is therefore two O(1) reads regardless of how many keys
// exist. Attribute queries (owner, active flag) walk the id keyspace with
// cursor-based SCAN; callers always receive complete result sets.
package redishash

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/gatekeeper/pkg/keys"
	"github.com/platinummonkey/gatekeeper/pkg/storage"
)

const (
	idKeyPrefix   = "gk:key:id:"
	hashKeyPrefix = "gk:key:hash:"

	scanBatchSize = 100
)

// Store is a Redis-backed KeyStore.
type Store struct {
	client *redis.Client
}

var _ storage.KeyStore = (*Store)(nil)

// New connects to Redis and verifies connectivity.
func New(config storage.Config) (*Store, error) {
	client, err := NewRedisClient(config)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return &Store{client: client}, nil
}

// NewRedisClient builds a client from the shared storage config. Also used
// by the distributed rate limiter so both share one configuration surface.
func NewRedisClient(config storage.Config) (*redis.Client, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if config.RedisPassword != "" {
		opts.Password = config.RedisPassword
	}
	if config.RedisDB != 0 {
		opts.DB = config.RedisDB
	}
	opts.MaxRetries = config.RedisMaxRetries
	opts.PoolSize = config.RedisPoolSize

	return redis.NewClient(opts), nil
}

// NewWithClient wraps an existing client. Used by tests with miniredis.
func NewWithClient(client *redis.Client) *Store {
	return &Store{client: client}
}

func idKey(id string) string       { return idKeyPrefix + id }
func hashKey(digest string) string { return hashKeyPrefix + digest }

// Save writes the record and its digest index entry. When an existing record
// is overwritten with a different digest, the stale index entry is removed so
// the old secret can no longer resolve.
func (s *Store) Save(ctx context.Context, key *keys.Key) error {
	payload, err := json.Marshal(key)
	if err != nil {
		return fmt.Errorf("failed to marshal key: %w", err)
	}

	var staleDigest string
	if existing, err := s.FindByID(ctx, key.ID); err == nil {
		if existing.LookupSHA != key.LookupSHA {
			staleDigest = existing.LookupSHA
		}
	} else if err != storage.ErrNotFound {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, idKey(key.ID), payload, 0)
	if key.LookupSHA != "" {
		pipe.Set(ctx, hashKey(key.LookupSHA), key.ID, 0)
	}
	if staleDigest != "" {
		pipe.Del(ctx, hashKey(staleDigest))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save key: %w", err)
	}
	return nil
}

func (s *Store) FindByID(ctx context.Context, id string) (*keys.Key, error) {
	payload, err := s.client.Get(ctx, idKey(id)).Bytes()
	if err == redis.Nil {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get key: %w", err)
	}
	return unmarshalKey(payload)
}

func (s *Store) FindByLookupHash(ctx context.Context, digest string) (*keys.Key, error) {
	id, err := s.client.Get(ctx, hashKey(digest)).Result()
	if err == redis.Nil {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve digest index: %w", err)
	}
	return s.FindByID(ctx, id)
}

func (s *Store) FindByOwner(ctx context.Context, owner string) ([]*keys.Key, error) {
	return s.scan(ctx, func(k *keys.Key) bool { return k.OwnerPrincipal == owner })
}

func (s *Store) FindByActiveStatus(ctx context.Context, active bool) ([]*keys.Key, error) {
	return s.scan(ctx, func(k *keys.Key) bool { return k.IsActive == active })
}

func (s *Store) FindAll(ctx context.Context) ([]*keys.Key, error) {
	return s.scan(ctx, func(*keys.Key) bool { return true })
}

// scan walks the full id keyspace with SCAN, following the cursor until the
// server reports completion, and returns every record the predicate accepts.
// SCAN may yield the same key twice while the keyspace is resizing, so each id
// is processed once.
func (s *Store) scan(ctx context.Context, match func(*keys.Key) bool) ([]*keys.Key, error) {
	var out []*keys.Key
	seen := make(map[string]struct{})
	var cursor uint64
	for {
		batch, next, err := s.client.Scan(ctx, cursor, idKeyPrefix+"*", scanBatchSize).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan keys: %w", err)
		}
		for _, redisKey := range batch {
			if _, dup := seen[redisKey]; dup {
				continue
			}
			seen[redisKey] = struct{}{}

			payload, err := s.client.Get(ctx, redisKey).Bytes()
			if err == redis.Nil {
				// deleted between SCAN and GET
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("failed to get key %s: %w", strings.TrimPrefix(redisKey, idKeyPrefix), err)
			}
			key, err := unmarshalKey(payload)
			if err != nil {
				return nil, err
			}
			if match(key) {
				out = append(out, key)
			}
		}
		cursor = next
		if cursor == 0 {
			return out, nil
		}
	}
}

// Delete removes the record and its digest index entry. Absent ids succeed.
func (s *Store) Delete(ctx context.Context, id string) error {
	key, err := s.FindByID(ctx, id)
	if err == storage.ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, idKey(id))
	if key.LookupSHA != "" {
		pipe.Del(ctx, hashKey(key.LookupSHA))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	return nil
}

// Count walks the id keyspace the same way scan does; duplicate SCAN results
// must not inflate the total.
func (s *Store) Count(ctx context.Context) (int64, error) {
	seen := make(map[string]struct{})
	var cursor uint64
	for {
		batch, next, err := s.client.Scan(ctx, cursor, idKeyPrefix+"*", scanBatchSize).Result()
		if err != nil {
			return 0, fmt.Errorf("failed to scan keys: %w", err)
		}
		for _, redisKey := range batch {
			seen[redisKey] = struct{}{}
		}
		cursor = next
		if cursor == 0 {
			return int64(len(seen)), nil
		}
	}
}

func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis unhealthy: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func unmarshalKey(payload []byte) (*keys.Key, error) {
	var key keys.Key
	if err := json.Unmarshal(payload, &key); err != nil {
		return nil, fmt.Errorf("failed to unmarshal key: %w", err)
	}
	return &key, nil
}
