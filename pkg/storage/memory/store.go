// Package memory implements an in-process KeyStore backed by maps.
// It exists for tests and local development; nothing is persisted.
package memory

import (
	"context"
	"sync"

	"github.com/platinummonkey/gatekeeper/pkg/keys"
	"github.com/platinummonkey/gatekeeper/pkg/storage"
)

// Store holds key records in memory. Safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	byID   map[string]*keys.Key
	byHash map[string]string // lookup digest -> id
}

var _ storage.KeyStore = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		byID:   make(map[string]*keys.Key),
		byHash: make(map[string]string),
	}
}

func (s *Store) Save(ctx context.Context, key *keys.Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.byID[key.ID]; ok && prev.LookupSHA != key.LookupSHA {
		delete(s.byHash, prev.LookupSHA)
	}
	s.byID[key.ID] = key.Clone()
	if key.LookupSHA != "" {
		s.byHash[key.LookupSHA] = key.ID
	}
	return nil
}

func (s *Store) FindByID(ctx context.Context, id string) (*keys.Key, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, ok := s.byID[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return key.Clone(), nil
}

func (s *Store) FindByLookupHash(ctx context.Context, digest string) (*keys.Key, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byHash[digest]
	if !ok {
		return nil, storage.ErrNotFound
	}
	key, ok := s.byID[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return key.Clone(), nil
}

func (s *Store) FindByOwner(ctx context.Context, owner string) ([]*keys.Key, error) {
	return s.filter(ctx, func(k *keys.Key) bool { return k.OwnerPrincipal == owner })
}

func (s *Store) FindByActiveStatus(ctx context.Context, active bool) ([]*keys.Key, error) {
	return s.filter(ctx, func(k *keys.Key) bool { return k.IsActive == active })
}

func (s *Store) FindAll(ctx context.Context) ([]*keys.Key, error) {
	return s.filter(ctx, func(*keys.Key) bool { return true })
}

func (s *Store) filter(ctx context.Context, match func(*keys.Key) bool) ([]*keys.Key, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*keys.Key
	for _, k := range s.byID {
		if match(k) {
			out = append(out, k.Clone())
		}
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if key, ok := s.byID[id]; ok {
		delete(s.byHash, key.LookupSHA)
		delete(s.byID, id)
	}
	return nil
}

func (s *Store) Count(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.byID)), nil
}

func (s *Store) HealthCheck(ctx context.Context) error {
	return ctx.Err()
}

func (s *Store) Close() error {
	return nil
}
