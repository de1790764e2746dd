package surge

import (
	"context"
	"fmt"
	"sync"
	"time"

	c "github.com/unkn0wn-root/surge/codec"
	"github.com/unkn0wn-root/surge/internal/wire"
	st "github.com/unkn0wn-root/surge/store"
)

const (
	defaultTTL            = 30 * time.Minute
	defaultNullTTL        = 2 * time.Minute
	defaultLockTTL        = 10 * time.Second
	defaultRebuildWorkers = 10
	defaultRebuildQueue   = 64
)

type cache[V any] struct {
	keyPrefix  string
	lockPrefix string
	store      st.KV
	codec      c.Codec[V]
	locker     Locker
	log        Logger

	ttl     time.Duration
	nullTTL time.Duration
	lockTTL time.Duration

	// background rebuild pool
	rebuildq  chan func()
	closeWg   sync.WaitGroup
	qMu       sync.Mutex // serializes sends against close
	closed    bool
	closeOnce sync.Once
}

func newCache[V any](opts Options[V]) (*cache[V], error) {
	if opts.KeyPrefix == "" {
		return nil, fmt.Errorf("surge: key prefix is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("surge: store is required")
	}
	if opts.Codec == nil {
		return nil, fmt.Errorf("surge: codec is required")
	}

	cc := &cache[V]{
		keyPrefix:  opts.KeyPrefix,
		lockPrefix: opts.LockPrefix,
		store:      opts.Store,
		codec:      opts.Codec,
		locker:     opts.Locker,
	}

	// defaults
	cc.log = coalesce[Logger](opts.Logger, NopLogger{})
	cc.ttl = coalesce[time.Duration](opts.TTL, defaultTTL)
	cc.nullTTL = coalesce[time.Duration](opts.NullTTL, defaultNullTTL)
	cc.lockTTL = coalesce[time.Duration](opts.LockTTL, defaultLockTTL)

	workers := coalesce[int](opts.RebuildWorkers, defaultRebuildWorkers)
	cc.rebuildq = make(chan func(), coalesce[int](opts.RebuildQueue, defaultRebuildQueue))
	cc.closeWg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer cc.closeWg.Done()
			for f := range cc.rebuildq {
				f()
			}
		}()
	}
	return cc, nil
}

func (c *cache[V]) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		c.qMu.Lock()
		c.closed = true
		close(c.rebuildq)
		c.qMu.Unlock()
		c.closeWg.Wait()
	})
	if c.store != nil {
		return c.store.Close(ctx)
	}
	return nil
}

func (c *cache[V]) Get(ctx context.Context, id string, load Loader[V]) (V, bool, error) {
	var zero V
	key := c.keyPrefix + id

	raw, hit, err := c.store.Get(ctx, key)
	if err != nil {
		return zero, false, err
	}
	if hit {
		if len(raw) == 0 {
			// null sentinel: a recent lookup found nothing; short-circuit
			// the loader until the sentinel expires.
			return zero, false, nil
		}
		v, derr := c.codec.Decode(raw)
		if derr == nil {
			return v, true, nil
		}
		_ = c.store.Del(ctx, key) // self-heal corrupt, fall through to loader
	}

	v, found, err := load(ctx, id)
	if err != nil {
		return zero, false, err
	}
	if !found {
		if ok, serr := c.store.Set(ctx, key, []byte{}, c.nullTTL); serr != nil || !ok {
			c.log.Warn("null sentinel write failed", Fields{"key": key, "err": serr})
		}
		return zero, false, nil
	}
	if err := c.Set(ctx, id, v); err != nil {
		// the caller still gets the loaded value; only the warmup failed
		c.log.Warn("cache write-back failed", Fields{"key": key, "err": err})
	}
	return v, true, nil
}

func (c *cache[V]) GetLogical(ctx context.Context, id string, load Loader[V]) (V, bool, error) {
	var zero V
	if c.locker == nil {
		return zero, false, fmt.Errorf("surge: locker is required for logical reads")
	}
	key := c.keyPrefix + id

	raw, hit, err := c.store.Get(ctx, key)
	if err != nil {
		return zero, false, err
	}
	if !hit {
		// logical entries are pre-warmed; a cold miss means "not a hot item"
		return zero, false, nil
	}

	expireAt, payload, derr := wire.DecodeEnvelope(raw)
	if derr != nil {
		_ = c.store.Del(ctx, key) // self-heal corrupt
		return zero, false, nil
	}
	v, derr := c.codec.Decode(payload)
	if derr != nil {
		_ = c.store.Del(ctx, key)
		return zero, false, nil
	}
	if time.Now().Before(expireAt) {
		return v, true, nil
	}

	// Stale. Try to become the single rebuilder; either way return the stale
	// value immediately - readers never wait for a rebuild.
	lockName := c.lockPrefix + id
	token, won, lerr := c.locker.TryLock(ctx, lockName, c.lockTTL)
	if lerr != nil {
		c.log.Warn("rebuild lock unavailable", Fields{"key": key, "err": lerr})
		return v, true, nil
	}
	if won {
		if !c.schedule(func() { c.rebuild(id, key, lockName, token, load) }) {
			// pool saturated; free the lock so another reader can win later
			_ = c.locker.Unlock(context.Background(), lockName, token)
			c.log.Warn("rebuild queue full", Fields{"key": key})
		}
	}
	return v, true, nil
}

func (c *cache[V]) Set(ctx context.Context, id string, value V) error {
	payload, err := c.codec.Encode(value)
	if err != nil {
		return err
	}
	if len(payload) == 0 {
		// the empty payload is the null sentinel; storing it as a value would
		// make the entry read back as "absent"
		return fmt.Errorf("surge: codec produced empty payload for id %q", id)
	}
	key := c.keyPrefix + id
	ok, err := c.store.Set(ctx, key, payload, c.ttl)
	if err != nil {
		return err
	}
	if !ok {
		c.log.Debug("Set rejected by store (pressure)", Fields{"key": key})
	}
	return nil
}

func (c *cache[V]) SetLogical(ctx context.Context, id string, value V) error {
	payload, err := c.codec.Encode(value)
	if err != nil {
		return err
	}
	key := c.keyPrefix + id
	// no store-level TTL: staleness is decided by the envelope at read time
	ok, err := c.store.Set(ctx, key, wire.EncodeEnvelope(time.Now().Add(c.ttl), payload), 0)
	if err != nil {
		return err
	}
	if !ok {
		c.log.Debug("SetLogical rejected by store (pressure)", Fields{"key": key})
	}
	return nil
}

func (c *cache[V]) Invalidate(ctx context.Context, id string) error {
	return c.store.Del(ctx, c.keyPrefix+id)
}

func (c *cache[V]) schedule(f func()) bool {
	c.qMu.Lock()
	defer c.qMu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.rebuildq <- f:
		return true
	default:
		return false
	}
}

// rebuild runs on the pool with the rebuild lock held. The lock is released
// on every exit path; its TTL covers a crashed worker, and releasing with
// the acquisition's own token means a rebuild that outlived the TTL cannot
// free a lock some newer rebuilder has since won.
func (c *cache[V]) rebuild(id, key, lockName, token string, load Loader[V]) {
	ctx := context.Background()
	defer func() {
		if err := c.locker.Unlock(ctx, lockName, token); err != nil {
			c.log.Warn("rebuild unlock failed", Fields{"key": key, "err": err})
		}
	}()

	// another process may have refreshed the entry between our stale read
	// and winning the lock; re-check before paying a loader round-trip
	if raw, hit, err := c.store.Get(ctx, key); err == nil && hit {
		if exp, _, derr := wire.DecodeEnvelope(raw); derr == nil && time.Now().Before(exp) {
			return
		}
	}

	v, found, err := load(ctx, id)
	if err != nil {
		c.log.Error("hot key rebuild failed", Fields{"key": key, "err": &RebuildError{Key: key, LoadErr: err}})
		return
	}
	if !found {
		// the record is gone from the durable store; stop serving it
		_ = c.store.Del(ctx, key)
		return
	}
	if err := c.SetLogical(ctx, id, v); err != nil {
		c.log.Error("hot key rebuild failed", Fields{"key": key, "err": &RebuildError{Key: key, SetErr: err}})
	}
}
