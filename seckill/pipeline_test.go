package seckill

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/unkn0wn-root/surge/lock"
)

// memOrderStore is the durable side for tests: records Persist calls in order
// and can be made to block, fail, or report pre-existing orders.
type memOrderStore struct {
	mu        sync.Mutex
	persisted []OrderTask
	existing  map[[2]int64]bool // (resource, user) -> already ordered

	persistErr error
	hasErr     error
	block      chan struct{} // non-nil: Persist waits until closed
	started    chan struct{} // non-nil: closed when Persist is first entered
	startOnce  sync.Once
}

func newMemOrderStore() *memOrderStore {
	return &memOrderStore{existing: make(map[[2]int64]bool)}
}

func (s *memOrderStore) HasOrder(_ context.Context, resourceID, userID int64) (bool, error) {
	if s.hasErr != nil {
		return false, s.hasErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.existing[[2]int64{resourceID, userID}], nil
}

func (s *memOrderStore) Persist(_ context.Context, t OrderTask) error {
	if s.started != nil {
		s.startOnce.Do(func() { close(s.started) })
	}
	if s.block != nil {
		<-s.block
	}
	if s.persistErr != nil {
		return s.persistErr
	}
	s.mu.Lock()
	s.persisted = append(s.persisted, t)
	s.existing[[2]int64{t.ResourceID, t.UserID}] = true
	s.mu.Unlock()
	return nil
}

func (s *memOrderStore) orders() []OrderTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]OrderTask, len(s.persisted))
	copy(out, s.persisted)
	return out
}

func newTestPipeline(t *testing.T, store OrderStore, tune func(*PipelineOptions)) (*Pipeline, *captureLogger) {
	t.Helper()
	locks, err := lock.NewManager(newFakeAtomic())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	log := &captureLogger{}
	opts := PipelineOptions{
		Store:       store,
		Locks:       locks,
		Logger:      log,
		LockBackoff: time.Millisecond,
	}
	if tune != nil {
		tune(&opts)
	}
	p, err := NewPipeline(opts)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	return p, log
}

func TestPipelinePersistsInOrder(t *testing.T) {
	store := newMemOrderStore()
	p, _ := newTestPipeline(t, store, nil)

	want := []OrderTask{
		{OrderID: 101, UserID: 1, ResourceID: 7},
		{OrderID: 102, UserID: 2, ResourceID: 7},
		{OrderID: 103, UserID: 3, ResourceID: 7},
	}
	for _, task := range want {
		if err := p.Enqueue(task); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	p.Close()

	got := store.orders()
	if len(got) != len(want) {
		t.Fatalf("persisted %d orders, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order %d persisted as %+v, want %+v", i, got[i], want[i])
		}
	}
}

// TestEnqueueBackpressure: with the worker stuck in Persist and the queue at
// capacity, Enqueue rejects instead of blocking the request path.
func TestEnqueueBackpressure(t *testing.T) {
	store := newMemOrderStore()
	store.block = make(chan struct{})
	store.started = make(chan struct{})
	p, _ := newTestPipeline(t, store, func(o *PipelineOptions) { o.QueueSize = 1 })

	if err := p.Enqueue(OrderTask{OrderID: 1, UserID: 1, ResourceID: 7}); err != nil {
		t.Fatalf("Enqueue 1: %v", err)
	}
	<-store.started // worker is now inside Persist

	if err := p.Enqueue(OrderTask{OrderID: 2, UserID: 2, ResourceID: 7}); err != nil {
		t.Fatalf("Enqueue 2 should fill the queue: %v", err)
	}
	if err := p.Enqueue(OrderTask{OrderID: 3, UserID: 3, ResourceID: 7}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Enqueue 3 = %v, want ErrQueueFull", err)
	}

	close(store.block)
	p.Close()

	if got := store.orders(); len(got) != 2 {
		t.Fatalf("persisted %d orders after drain, want 2", len(got))
	}
}

func TestEnqueueAfterClose(t *testing.T) {
	p, _ := newTestPipeline(t, newMemOrderStore(), nil)
	p.Close()
	if err := p.Enqueue(OrderTask{OrderID: 1, UserID: 1, ResourceID: 7}); !errors.Is(err, ErrPipelineClosed) {
		t.Fatalf("Enqueue after Close = %v, want ErrPipelineClosed", err)
	}
	p.Close() // idempotent
}

// TestDuplicateSkipped: the durable store is the final dedup authority; a task
// for a user who already has an order is skipped, not persisted twice.
func TestDuplicateSkipped(t *testing.T) {
	store := newMemOrderStore()
	store.existing[[2]int64{7, 1}] = true
	p, log := newTestPipeline(t, store, nil)

	if err := p.Enqueue(OrderTask{OrderID: 1, UserID: 1, ResourceID: 7}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	p.Close()

	if got := store.orders(); len(got) != 0 {
		t.Fatalf("duplicate was persisted: %+v", got)
	}
	if entries := log.find("info"); len(entries) != 1 || !strings.Contains(entries[0].msg, "skipping") {
		t.Fatalf("expected one skip log, got %+v", entries)
	}
}

// TestPersistFailureLogged: a failed durable write after admission is an
// inconsistency and must surface in the error log with the order identity.
func TestPersistFailureLogged(t *testing.T) {
	store := newMemOrderStore()
	store.persistErr = errors.New("db down")
	p, log := newTestPipeline(t, store, nil)

	if err := p.Enqueue(OrderTask{OrderID: 1, UserID: 1, ResourceID: 7}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	p.Close()

	entries := log.find("error")
	if len(entries) != 1 {
		t.Fatalf("expected one error log, got %+v", entries)
	}
	e := entries[0]
	if !strings.Contains(e.msg, "reconcile") {
		t.Fatalf("error log %q does not call for reconciliation", e.msg)
	}
	if e.f["order"] != int64(1) || e.f["user"] != int64(1) || e.f["resource"] != int64(7) {
		t.Fatalf("error log missing order identity: %+v", e.f)
	}
}

func TestStockDepletedLogged(t *testing.T) {
	store := newMemOrderStore()
	store.persistErr = ErrStockDepleted
	p, log := newTestPipeline(t, store, nil)

	if err := p.Enqueue(OrderTask{OrderID: 1, UserID: 1, ResourceID: 7}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	p.Close()

	entries := log.find("error")
	if len(entries) != 1 || !strings.Contains(entries[0].msg, "durable stock") {
		t.Fatalf("expected a durable-stock error log, got %+v", entries)
	}
}

func TestPipelineValidation(t *testing.T) {
	locks, _ := lock.NewManager(newFakeAtomic())
	if _, err := NewPipeline(PipelineOptions{Locks: locks}); err == nil {
		t.Fatalf("missing store should error")
	}
	if _, err := NewPipeline(PipelineOptions{Store: newMemOrderStore()}); err == nil {
		t.Fatalf("missing lock manager should error")
	}
}
