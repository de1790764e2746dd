// Package surge implements a store-agnostic read-through cache with two
// protection strategies: a null-sentinel guard against cache penetration
// (repeated lookups of ids that do not exist) and a logical-expiry guard
// against cache breakdown (a hot key expiring under heavy concurrency).
//
// Components:
//   - store.KV: byte store with TTL (Redis, Ristretto, BigCache).
//   - Codec[V]: (de)serializes V <-> []byte.
//   - Locker: distributed mutex used to elect a single rebuilder for a
//     stale hot key. See the lock package for the Redis-backed Manager.
//
// Keys:
//
//	<KeyPrefix><id>        - entity entries and null sentinels
//	lock:<LockPrefix><id>  - rebuild election locks
//
// Read strategies:
//
//	v, ok, _ := cache.Get(ctx, id, load)        // general lookups; sentinel on absent
//	v, ok, _ := cache.GetLogical(ctx, id, load) // pre-warmed hot keys; never blocks on rebuild
//
// The sibling packages lock, ident and seckill build the coordination side
// of the same substrate: named mutual exclusion, distributed ID minting and
// the atomic flash-sale admission path.
package surge
