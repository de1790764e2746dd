// Package ident mints globally unique, roughly time-ordered identifiers
// backed by the shared fast store's atomic counter.
//
// An id is (seconds since epoch) << 32 | counter. The counter is a per
// business-key, per-UTC-day INCR, so it can never repeat within a timestamp
// bucket as long as fewer than 2^32 ids are minted per key per day. Ids from
// different processes sharing the same store never collide.
package ident

import (
	"context"
	"fmt"
	"time"
)

const counterBits = 32

// defaultEpoch is 2022-01-01T00:00:00Z.
var defaultEpoch = time.Date(2022, time.January, 1, 0, 0, 0, 0, time.UTC)

// Counter is the single store capability the generator needs.
// store.Atomic satisfies it.
type Counter interface {
	Incr(ctx context.Context, key string) (int64, error)
}

type Generator struct {
	store Counter
	epoch int64 // unix seconds
	now   func() time.Time
}

type Option func(*Generator)

// WithEpoch overrides the id epoch. All producers sharing a store must agree
// on it.
func WithEpoch(t time.Time) Option {
	return func(g *Generator) { g.epoch = t.Unix() }
}

func New(store Counter, opts ...Option) (*Generator, error) {
	if store == nil {
		return nil, fmt.Errorf("ident: store is required")
	}
	g := &Generator{store: store, epoch: defaultEpoch.Unix(), now: time.Now}
	for _, o := range opts {
		o(g)
	}
	return g, nil
}

// Next mints the next id for the business key. A store failure propagates:
// ids are money-affecting and must not be minted without the shared counter.
func (g *Generator) Next(ctx context.Context, key string) (int64, error) {
	now := g.now().UTC()
	seconds := now.Unix() - g.epoch

	// keying the counter by calendar day bounds its magnitude; uniqueness
	// only needs it to never repeat within one timestamp bucket
	n, err := g.store.Incr(ctx, "icr:"+key+":"+now.Format("2006:01:02"))
	if err != nil {
		return 0, fmt.Errorf("ident: counter increment: %w", err)
	}
	return seconds<<counterBits | n, nil
}
