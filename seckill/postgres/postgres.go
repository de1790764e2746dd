// Package postgres implements seckill.OrderStore on PostgreSQL.
//
// Expected schema:
//
//	CREATE TABLE seckill_stock (
//	    resource_id BIGINT PRIMARY KEY,
//	    stock       BIGINT NOT NULL CHECK (stock >= 0)
//	);
//	CREATE TABLE seckill_order (
//	    id          BIGINT PRIMARY KEY,
//	    user_id     BIGINT NOT NULL,
//	    resource_id BIGINT NOT NULL,
//	    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
//	    UNIQUE (user_id, resource_id)
//	);
package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/unkn0wn-root/surge/seckill"
)

type Store struct {
	pool *pgxpool.Pool
}

var _ seckill.OrderStore = (*Store)(nil)

func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// NewWithPool wraps an existing pool; the caller keeps ownership.
func NewWithPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) HasOrder(ctx context.Context, resourceID, userID int64) (bool, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT count(1) FROM seckill_order WHERE resource_id = $1 AND user_id = $2`,
		resourceID, userID,
	).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Persist runs the conditional stock decrement and the order insert in one
// transaction. The WHERE stock > 0 guard makes the decrement an optimistic
// lock: durable stock can never go negative even if the fast store lied.
func (s *Store) Persist(ctx context.Context, t seckill.OrderTask) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if tx != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	ct, err := tx.Exec(ctx,
		`UPDATE seckill_stock SET stock = stock - 1 WHERE resource_id = $1 AND stock > 0`,
		t.ResourceID,
	)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return seckill.ErrStockDepleted
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO seckill_order (id, user_id, resource_id) VALUES ($1, $2, $3)`,
		t.OrderID, t.UserID, t.ResourceID,
	)
	if err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	tx = nil
	return nil
}
