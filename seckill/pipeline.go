package seckill

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/unkn0wn-root/surge"
	"github.com/unkn0wn-root/surge/lock"
)

var (
	// ErrQueueFull signals backpressure: the admission stands in the fast
	// store, but the order could not be queued. Retriable by the caller.
	ErrQueueFull = errors.New("seckill: order queue full")

	// ErrStockDepleted is returned by an OrderStore when the durable
	// conditional decrement matched no rows.
	ErrStockDepleted = errors.New("seckill: durable stock depleted")

	// ErrPipelineClosed is returned by Enqueue after Close.
	ErrPipelineClosed = errors.New("seckill: pipeline closed")
)

// OrderTask is one admitted order awaiting durable persistence.
type OrderTask struct {
	OrderID    int64
	UserID     int64
	ResourceID int64
}

// OrderStore is the durable side of the purchase path. The fast store decides
// admission; the durable store is the final authority on committed orders.
type OrderStore interface {
	// HasOrder reports whether an order already exists for (resource, user).
	HasOrder(ctx context.Context, resourceID, userID int64) (bool, error)

	// Persist decrements durable stock conditionally (stock > 0) and inserts
	// the order row in one transaction. Returns ErrStockDepleted when the
	// decrement matched nothing.
	Persist(ctx context.Context, t OrderTask) error
}

const (
	defaultQueueSize    = 1024
	defaultLockTTL      = 10 * time.Second
	defaultLockAttempts = 3
	defaultLockBackoff  = 50 * time.Millisecond
)

// PipelineOptions tune the ingestion pipeline. Store and Locks are required.
type PipelineOptions struct {
	Store OrderStore
	Locks *lock.Manager

	Logger surge.Logger

	QueueSize    int           // bounded task capacity; 0 => 1024
	LockTTL      time.Duration // per-user lock TTL; 0 => 10s
	LockAttempts int           // bounded retry on user lock; 0 => 3
	LockBackoff  time.Duration // sleep between lock attempts; 0 => 50ms
}

// Pipeline decouples the latency-critical admission decision from durable
// order persistence. Enqueue never blocks: at capacity it rejects with
// ErrQueueFull. A single worker drains the queue FIFO, serializing each
// task's persistence under a per-user distributed lock.
type Pipeline struct {
	store OrderStore
	locks *lock.Manager
	log   surge.Logger

	lockTTL      time.Duration
	lockAttempts int
	lockBackoff  time.Duration

	tasks     chan OrderTask
	stopCh    chan struct{}
	closeWg   sync.WaitGroup
	closeOnce sync.Once
	qMu       sync.Mutex
	closed    bool
}

func NewPipeline(opts PipelineOptions) (*Pipeline, error) {
	if opts.Store == nil {
		return nil, errors.New("seckill: order store is required")
	}
	if opts.Locks == nil {
		return nil, errors.New("seckill: lock manager is required")
	}

	p := &Pipeline{
		store:        opts.Store,
		locks:        opts.Locks,
		log:          opts.Logger,
		lockTTL:      opts.LockTTL,
		lockAttempts: opts.LockAttempts,
		lockBackoff:  opts.LockBackoff,
		stopCh:       make(chan struct{}),
	}
	if p.log == nil {
		p.log = surge.NopLogger{}
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if p.lockTTL <= 0 {
		p.lockTTL = defaultLockTTL
	}
	if p.lockAttempts <= 0 {
		p.lockAttempts = defaultLockAttempts
	}
	if p.lockBackoff <= 0 {
		p.lockBackoff = defaultLockBackoff
	}
	p.tasks = make(chan OrderTask, opts.QueueSize)

	p.closeWg.Add(1)
	go p.run()
	return p, nil
}

// Enqueue hands an admitted order to the worker. It must stay cheap on the
// request path, so a full queue rejects immediately instead of blocking.
func (p *Pipeline) Enqueue(t OrderTask) error {
	p.qMu.Lock()
	defer p.qMu.Unlock()
	if p.closed {
		return ErrPipelineClosed
	}
	select {
	case p.tasks <- t:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops the worker after draining tasks already queued.
func (p *Pipeline) Close() {
	p.closeOnce.Do(func() {
		p.qMu.Lock()
		p.closed = true
		p.qMu.Unlock()
		close(p.stopCh)
		p.closeWg.Wait()
	})
}

func (p *Pipeline) run() {
	defer p.closeWg.Done()
	for {
		select {
		case t := <-p.tasks:
			p.process(t)
		case <-p.stopCh:
			// drain what was accepted before shutdown
			for {
				select {
				case t := <-p.tasks:
					p.process(t)
				default:
					return
				}
			}
		}
	}
}

// process persists one admitted order. Every failure after fast-store
// admission is an inconsistency; it is logged with enough detail to
// reconcile, never swallowed.
func (p *Pipeline) process(t OrderTask) {
	ctx := context.Background()
	f := surge.Fields{"order": t.OrderID, "user": t.UserID, "resource": t.ResourceID}

	name := "order" + strconv.FormatInt(t.UserID, 10)
	token, got, err := p.locks.TryLockRetry(ctx, name, p.lockTTL, p.lockAttempts, p.lockBackoff)
	if err != nil {
		f["err"] = err
		p.log.Error("user lock failed; order not persisted, reconcile required", f)
		return
	}
	if !got {
		p.log.Error("user lock busy; order not persisted, reconcile required", f)
		return
	}
	defer func() {
		if uerr := p.locks.Unlock(ctx, name, token); uerr != nil {
			f["err"] = uerr
			p.log.Warn("user lock release failed", f)
		}
	}()

	// the fast-store admission set may have been lost; the durable store is
	// the final authority on one-order-per-user
	dup, err := p.store.HasOrder(ctx, t.ResourceID, t.UserID)
	if err != nil {
		f["err"] = err
		p.log.Error("dedup check failed; order not persisted, reconcile required", f)
		return
	}
	if dup {
		p.log.Info("order already persisted for user; skipping", f)
		return
	}

	if err := p.store.Persist(ctx, t); err != nil {
		f["err"] = err
		if errors.Is(err, ErrStockDepleted) {
			p.log.Error("admitted order exceeds durable stock; reconcile required", f)
			return
		}
		p.log.Error("order persistence failed; reconcile required", f)
		return
	}
	p.log.Debug("order persisted", f)
}
