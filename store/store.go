// Package store defines the fast-store capability interfaces shared by the
// cache, lock, ident and seckill packages.
//
// Implementations MUST be byte-for-byte transparent: Get must return exactly
// the same []byte that was previously passed to Set for a key (no prepended
// metadata, no re-encoding, no mutation). If a store performs internal
// transforms (e.g., compression), they MUST be fully reversed.
//
// KV is the minimal read-path contract; local stores (Ristretto, BigCache)
// implement it. Atomic adds the cross-process coordination primitives
// (conditional set, counters, conditional delete, server-side scripts) and is
// implemented by the Redis store only - coordination needs a shared backend.
package store

import (
	"context"
	"time"
)

// KV is a minimal byte store with TTLs.
// Must be safe for concurrent use.
type KV interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	// If an IO/remote error happens, return (nil, false, err).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value with the given TTL; ttl <= 0 means no expiry.
	// Returns ok=false when the store rejected the write under pressure.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) (ok bool, err error)

	// Del removes a key (best-effort).
	Del(ctx context.Context, key string) error

	// Close releases resources.
	Close(ctx context.Context) error
}

// Atomic extends KV with single-key atomic operations and server-side script
// execution. Every cross-process invariant in this module (lock ownership,
// stock admission, ID counters) reduces to these five capabilities.
type Atomic interface {
	KV

	// SetNX stores value only if key is absent. Returns true iff the write
	// happened.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Incr atomically increments the integer at key and returns the new value.
	// A missing key counts from zero.
	Incr(ctx context.Context, key string) (int64, error)

	// CompareDel deletes key only if its current value equals expect, as a
	// single atomic operation. Returns true iff the key was deleted.
	CompareDel(ctx context.Context, key string, expect []byte) (bool, error)

	// Eval executes a script atomically against the store and returns its
	// integer result.
	Eval(ctx context.Context, script string, keys []string, args ...any) (int64, error)
}
