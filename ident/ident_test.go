package ident

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

type memCounter struct {
	mu   sync.Mutex
	m    map[string]int64
	keys []string
	fail error
}

func newMemCounter() *memCounter { return &memCounter{m: make(map[string]int64)} }

func (c *memCounter) Incr(_ context.Context, key string) (int64, error) {
	if c.fail != nil {
		return 0, c.fail
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.m[key]; !ok {
		c.keys = append(c.keys, key)
	}
	c.m[key]++
	return c.m[key], nil
}

func TestNextLayout(t *testing.T) {
	ctx := context.Background()
	g, err := New(newMemCounter())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	at := time.Date(2026, time.March, 5, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return at }

	id, err := g.Next(ctx, "order")
	if err != nil {
		t.Fatalf("Next: %v", err)
	}

	wantSeconds := at.Unix() - defaultEpoch.Unix()
	if got := id >> counterBits; got != wantSeconds {
		t.Fatalf("timestamp part = %d, want %d", got, wantSeconds)
	}
	if got := id & (1<<counterBits - 1); got != 1 {
		t.Fatalf("counter part = %d, want 1", got)
	}
}

func TestNextCounterKeyedByDay(t *testing.T) {
	ctx := context.Background()
	ctr := newMemCounter()
	g, _ := New(ctr)
	at := time.Date(2026, time.March, 5, 23, 59, 59, 0, time.UTC)
	g.now = func() time.Time { return at }

	if _, err := g.Next(ctx, "order"); err != nil {
		t.Fatalf("Next: %v", err)
	}
	// midnight rolls the counter key over
	at = at.Add(2 * time.Second)
	if _, err := g.Next(ctx, "order"); err != nil {
		t.Fatalf("Next: %v", err)
	}

	if len(ctr.keys) != 2 {
		t.Fatalf("expected two distinct counter keys across midnight, got %v", ctr.keys)
	}
	for _, k := range ctr.keys {
		if !strings.HasPrefix(k, "icr:order:") {
			t.Fatalf("unexpected counter key %q", k)
		}
	}
}

func TestNextUnique(t *testing.T) {
	ctx := context.Background()
	g, _ := New(newMemCounter())

	const (
		workers = 50
		perG    = 200
	)
	ids := make(chan int64, workers*perG)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perG; j++ {
				id, err := g.Next(ctx, "order")
				if err != nil {
					t.Errorf("Next: %v", err)
					return
				}
				ids <- id
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[int64]struct{}, workers*perG)
	for id := range ids {
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %d", id)
		}
		seen[id] = struct{}{}
	}
	if len(seen) != workers*perG {
		t.Fatalf("expected %d ids, got %d", workers*perG, len(seen))
	}
}

// TestNextMonotonicAcrossSeconds: a later timestamp bucket always yields a
// larger id than any id from an earlier bucket.
func TestNextMonotonicAcrossSeconds(t *testing.T) {
	ctx := context.Background()
	g, _ := New(newMemCounter())
	at := time.Date(2026, time.March, 5, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return at }

	var early int64
	for i := 0; i < 100; i++ {
		id, err := g.Next(ctx, "order")
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if id > early {
			early = id
		}
	}

	at = at.Add(time.Second)
	late, err := g.Next(ctx, "order")
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if late <= early {
		t.Fatalf("id from later second (%d) not greater than earlier max (%d)", late, early)
	}
}

func TestNextCounterFailure(t *testing.T) {
	ctr := newMemCounter()
	ctr.fail = errors.New("store down")
	g, _ := New(ctr)

	if _, err := g.Next(context.Background(), "order"); !errors.Is(err, ctr.fail) {
		t.Fatalf("counter failure must propagate, got %v", err)
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatalf("nil store should error")
	}
}

func TestWithEpoch(t *testing.T) {
	epoch := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	g, err := New(newMemCounter(), WithEpoch(epoch))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	at := epoch.Add(10 * time.Second)
	g.now = func() time.Time { return at }

	id, err := g.Next(context.Background(), "order")
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if got := id >> counterBits; got != 10 {
		t.Fatalf("timestamp part = %d, want 10", got)
	}
}
