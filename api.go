package surge

import (
	"context"
	"time"

	c "github.com/unkn0wn-root/surge/codec"
	st "github.com/unkn0wn-root/surge/store"
)

// Loader is the synchronous fallback used on cache miss. It returns
// (value, true, nil) when the durable store has a record, (zero, false, nil)
// when it legitimately has none, and a non-nil error only for system
// failures (unreachable store etc.) - "absent" is not an error.
type Loader[V any] func(ctx context.Context, id string) (V, bool, error)

// Locker elects a single rebuilder for a stale hot key. TryLock is
// non-blocking: false means someone else holds the lock, not an error.
// On success it returns an owner token identifying the acquisition; Unlock
// releases only when given that token, so a delayed release can never free
// a lock that has since been re-won. The lock package provides the
// Redis-backed implementation.
type Locker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (token string, ok bool, err error)
	Unlock(ctx context.Context, name, token string) error
}

// Cache is the high-level read-through cache API.
// V is the caller's value type. Serialization is handled by a pluggable Codec[V].
type Cache[V any] interface {
	// Get is the penetration-guarded read-through path for general lookups.
	// An absent id is remembered with a short-lived null sentinel so that
	// repeated misses do not hammer the loader.
	Get(ctx context.Context, id string, load Loader[V]) (v V, ok bool, err error)

	// GetLogical is the breakdown-guarded path for pre-warmed hot keys.
	// A store-level miss means "not a hot item", not an error. A stale entry
	// is returned immediately while at most one background rebuild runs.
	GetLogical(ctx context.Context, id string, load Loader[V]) (v V, ok bool, err error)

	// Set writes a value with the configured TTL.
	Set(ctx context.Context, id string, value V) error

	// SetLogical warm-sets a hot key: the value is wrapped in a logical-expiry
	// envelope and stored with no store-level TTL.
	SetLogical(ctx context.Context, id string, value V) error

	// Invalidate drops the cached entry. Call after a durable update.
	Invalidate(ctx context.Context, id string) error

	Close(ctx context.Context) error
}

// Options tune the cache. KeyPrefix, Store and Codec are required;
// Locker and LockPrefix are required only when GetLogical is used.
type Options[V any] struct {
	// Required
	KeyPrefix string // e.g. "cache:shop:"
	Store     st.KV
	// Codec serializes values for the store. Encode must return at least one
	// byte for a present value: the empty payload is reserved for the null
	// sentinel on the Get path, and Set rejects an empty encoding.
	Codec c.Codec[V]

	LockPrefix string // rebuild lock names, e.g. "shop:"; combined with the lock manager's own prefix
	Locker     Locker

	Logger  Logger        // if nil, NopLogger is used
	TTL     time.Duration // positive entries and logical freshness window; 0 => 30m
	NullTTL time.Duration // null sentinel lifetime; 0 => 2m; keep it shorter than TTL
	LockTTL time.Duration // rebuild lock TTL; 0 => 10s; must outlive one rebuild

	RebuildWorkers int // background rebuild goroutines; 0 => 10
	RebuildQueue   int // pending rebuild capacity; 0 => 64
}

func New[V any](opts Options[V]) (Cache[V], error) {
	return newCache[V](opts)
}
