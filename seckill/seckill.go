package seckill

import (
	"context"
	"errors"
	"time"

	"github.com/unkn0wn-root/surge"
	"github.com/unkn0wn-root/surge/ident"
)

// Resource describes one limited-inventory item and its sale window.
// Resource metadata lives with the caller (entity lookup, cache); only the
// window is checked here, before the atomic gate is paid.
type Resource struct {
	ID    int64
	Begin time.Time
	End   time.Time // zero means no end
}

// ServiceOptions wire the purchase path. Gate, IDs and Pipeline are required.
type ServiceOptions struct {
	Gate     *Gate
	IDs      *ident.Generator
	Pipeline *Pipeline
	Logger   surge.Logger
}

// Service runs the full purchase flow: window pre-check, atomic admission,
// ID minting and enqueue for durable persistence. The caller gets an order id
// immediately; the durable write happens on the pipeline worker.
type Service struct {
	gate *Gate
	ids  *ident.Generator
	pipe *Pipeline
	log  surge.Logger
}

func NewService(opts ServiceOptions) (*Service, error) {
	if opts.Gate == nil || opts.IDs == nil || opts.Pipeline == nil {
		return nil, errors.New("seckill: gate, id generator and pipeline are required")
	}
	s := &Service{gate: opts.Gate, ids: opts.IDs, pipe: opts.Pipeline, log: opts.Logger}
	if s.log == nil {
		s.log = surge.NopLogger{}
	}
	return s, nil
}

// Purchase attempts to claim one unit of res for userID.
// Business outcomes (NotStarted, Ended, InsufficientStock, DuplicateOrder)
// come back as Outcome values with a nil error; a non-nil error always means
// infrastructure failure, never "you cannot buy this".
func (s *Service) Purchase(ctx context.Context, res Resource, userID int64) (int64, Outcome, error) {
	now := time.Now()
	if now.Before(res.Begin) {
		return 0, NotStarted, nil
	}
	if !res.End.IsZero() && now.After(res.End) {
		return 0, Ended, nil
	}

	out, err := s.gate.Admit(ctx, res.ID, userID)
	if err != nil {
		return 0, OutcomeUnknown, err
	}
	if out != Admitted {
		return 0, out, nil
	}

	orderID, err := s.ids.Next(ctx, "order")
	if err != nil {
		// admission already recorded in the fast store, no order minted
		s.log.Error("admitted but id minting failed; reconcile required",
			surge.Fields{"user": userID, "resource": res.ID, "err": err})
		return 0, OutcomeUnknown, err
	}

	t := OrderTask{OrderID: orderID, UserID: userID, ResourceID: res.ID}
	if err := s.pipe.Enqueue(t); err != nil {
		s.log.Error("admitted but order not enqueued; reconcile required",
			surge.Fields{"order": orderID, "user": userID, "resource": res.ID, "err": err})
		return 0, OutcomeUnknown, err
	}
	return orderID, Admitted, nil
}
