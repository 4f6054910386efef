// Package storage provides pluggable persistence backends for Gatekeeper key records.
//
// # Overview
//
// This package defines the storage abstraction layer for Gatekeeper. All key
// lifecycle state lives behind the KeyStore interface, so the authentication
// resolver, management API, and maintenance sweeps never depend on a concrete
// backend.
//
// # Backend Implementations
//
// Two production backends exist, plus one for development:
//
//   - postgres: relational backend on lib/pq. Best for deployments that want
//     ad-hoc administrative queries and row-level inspection with SQL.
//   - redishash: hash-indexed backend on go-redis. Optimizes the
//     authentication hot path: lookup by secret digest is a single GET on a
//     dedicated index key rather than a table scan.
//   - memory: process-local map guarded by a mutex. For tests and local
//     development only.
//
// A deployment selects exactly one backend through Config.Type; backends are
// never mixed in a single process.
//
// # Semantics
//
// Every implementation satisfies the same contract, exercised against each
// backend by the shared suite in storagetest:
//
//   - Save upserts: insert when the id is new, full overwrite otherwise.
//   - FindByLookupHash resolves a secret digest to at most one record.
//   - Delete is idempotent; removing an absent id is not an error.
//   - List queries return every matching record, never a partial page. The
//     redishash backend walks its keyspace with cursor-based SCAN internally,
//     but callers always receive the complete result set.
//
// # Configuration
//
//	config := storage.DefaultConfig()
//	config.Type = "postgres"
//	config.PostgresURL = "postgres://localhost/gatekeeper"
//	config.PostgresMaxConns = 20
//
// # Usage
//
//	store, err := postgres.New(config)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer store.Close()
//
//	key, err := store.FindByLookupHash(ctx, digest)
//	if errors.Is(err, storage.ErrNotFound) {
//		// unknown credential
//	}
//
// Health check:
//
//	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
//	defer cancel()
//	if err := store.HealthCheck(ctx); err != nil {
//		log.Printf("storage unhealthy: %v", err)
//	}
package storage
