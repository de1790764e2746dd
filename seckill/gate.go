// Package seckill implements the high-contention purchase path: an atomic
// stock-admission gate executed server-side in the fast store, and a bounded
// asynchronous pipeline that persists admitted orders.
package seckill

import (
	"context"
	"fmt"
	"strconv"

	st "github.com/unkn0wn-root/surge/store"
)

// admitScript is the whole admission decision in one server-side script:
// stock check, per-user dedup and decrement happen with no interleaving, so
// two requests can never both pass the stock check before either decrements.
//
// KEYS[1] = stock counter, KEYS[2] = admitted-user set, ARGV[1] = user id.
// A missing stock counter reads as 0: unseeded resources fail closed.
const admitScript = `
if tonumber(redis.call('get', KEYS[1]) or '0') <= 0 then
    return 1
end
if redis.call('sismember', KEYS[2], ARGV[1]) == 1 then
    return 2
end
redis.call('incrby', KEYS[1], -1)
redis.call('sadd', KEYS[2], ARGV[1])
return 0
`

// Outcome is a business decision, not an error. Store failures are returned
// separately so callers can tell "you cannot buy this" from "the system is
// broken". The zero value is OutcomeUnknown, never a decision: an outcome
// read without checking the error cannot be mistaken for an admission.
type Outcome int

const (
	OutcomeUnknown Outcome = iota
	Admitted
	InsufficientStock
	DuplicateOrder
	NotStarted
	Ended
)

func (o Outcome) String() string {
	switch o {
	case Admitted:
		return "admitted"
	case InsufficientStock:
		return "insufficient stock"
	case DuplicateOrder:
		return "duplicate order"
	case NotStarted:
		return "not started"
	case Ended:
		return "ended"
	default:
		return "unknown"
	}
}

// Gate is the atomic admission decision for one fast store.
type Gate struct {
	store st.Atomic
}

func NewGate(s st.Atomic) (*Gate, error) {
	if s == nil {
		return nil, fmt.Errorf("seckill: store is required")
	}
	return &Gate{store: s}, nil
}

func stockKey(resourceID int64) string {
	return "seckill:stock:" + strconv.FormatInt(resourceID, 10)
}

func orderSetKey(resourceID int64) string {
	return "seckill:order:" + strconv.FormatInt(resourceID, 10)
}

// Admit decides, atomically, whether userID may claim one unit of resourceID.
// Exactly one of the three business outcomes is returned per call; the same
// user is Admitted at most once per resource regardless of remaining stock.
func (g *Gate) Admit(ctx context.Context, resourceID, userID int64) (Outcome, error) {
	res, err := g.store.Eval(ctx, admitScript,
		[]string{stockKey(resourceID), orderSetKey(resourceID)},
		strconv.FormatInt(userID, 10),
	)
	if err != nil {
		return OutcomeUnknown, fmt.Errorf("seckill: admission script: %w", err)
	}
	switch res {
	case 0:
		return Admitted, nil
	case 1:
		return InsufficientStock, nil
	case 2:
		return DuplicateOrder, nil
	default:
		return OutcomeUnknown, fmt.Errorf("seckill: admission script returned %d", res)
	}
}

// SeedStock pre-warms the stock counter for a resource. Call when the
// resource is published; an unseeded resource admits nobody.
func (g *Gate) SeedStock(ctx context.Context, resourceID int64, stock int64) error {
	if stock < 0 {
		return fmt.Errorf("seckill: negative stock %d", stock)
	}
	ok, err := g.store.Set(ctx, stockKey(resourceID), []byte(strconv.FormatInt(stock, 10)), 0)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("seckill: store rejected stock seed for resource %d", resourceID)
	}
	return nil
}
