package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/pillshop/internal/domain/payment"
	"github.com/xenking/pillshop/internal/domain/pill"
)

var (
	_ payment.Store = (*PaymentStore)(nil)
	_ payment.Tx    = paymentTx{}
)

const (
	lockPaymentPillSQL = `SELECT p.id, p.number, p.paid, p.status, a.pill_id IS NOT NULL, COALESCE(a.name, ''), COALESCE(a.phone, '')
FROM pills p
LEFT JOIN pill_addresses a ON a.pill_id = p.id
WHERE p.id = $1
FOR UPDATE OF p`

	lockPayRequestSQL = `SELECT id, pill_id, reference, applied, created_at, applied_at
FROM pay_requests WHERE id = $1 FOR UPDATE`

	insertPayRequestSQL = `INSERT INTO pay_requests (pill_id, reference, created_at) VALUES ($1, $2, $3)
RETURNING id`

	markPayRequestAppliedSQL = `UPDATE pay_requests SET applied = true, applied_at = $2 WHERE id = $1`

	markPillPaidSQL = `UPDATE pills SET paid = true, status = $2 WHERE id = $1`
)

// PaymentStore implements payment.Store backed by PostgreSQL.
type PaymentStore struct {
	pool *pgxpool.Pool
}

// NewPaymentStore returns a PaymentStore that uses the given pool.
func NewPaymentStore(pool *pgxpool.Pool) *PaymentStore {
	return &PaymentStore{pool: pool}
}

// Atomic runs fn inside a transaction.
func (s *PaymentStore) Atomic(ctx context.Context, fn func(ctx context.Context, tx payment.Tx) error) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return fn(ctx, paymentTx{q: tx})
	})
}

type paymentTx struct {
	q querier
}

func (t paymentTx) LockPill(ctx context.Context, pillID int64) (*payment.PillState, error) {
	var (
		p      payment.PillState
		status string
	)
	err := t.q.QueryRow(ctx, lockPaymentPillSQL, pillID).Scan(&p.ID, &p.Number, &p.Paid, &status, &p.HasAddress, &p.Name, &p.Phone)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, payment.ErrPillNotFound
		}
		return nil, fmt.Errorf("locking pill %d: %w", pillID, err)
	}
	p.Status = pill.Status(status)
	return &p, nil
}

func (t paymentTx) LockRequest(ctx context.Context, id int64) (*payment.Request, error) {
	var r payment.Request
	err := t.q.QueryRow(ctx, lockPayRequestSQL, id).Scan(
		&r.ID, &r.PillID, &r.Reference, &r.Applied, &r.CreatedAt, &r.AppliedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, payment.ErrNotFound
		}
		return nil, fmt.Errorf("locking pay request %d: %w", id, err)
	}
	return &r, nil
}

func (t paymentTx) Insert(ctx context.Context, r *payment.Request) error {
	if err := t.q.QueryRow(ctx, insertPayRequestSQL, r.PillID, r.Reference, r.CreatedAt).Scan(&r.ID); err != nil {
		return fmt.Errorf("inserting pay request: %w", err)
	}
	return nil
}

func (t paymentTx) MarkApplied(ctx context.Context, id int64, at time.Time) error {
	if _, err := t.q.Exec(ctx, markPayRequestAppliedSQL, id, at); err != nil {
		return fmt.Errorf("applying pay request %d: %w", id, err)
	}
	return nil
}

func (t paymentTx) MarkPaid(ctx context.Context, pillID int64, status pill.Status) error {
	if _, err := t.q.Exec(ctx, markPillPaidSQL, pillID, string(status)); err != nil {
		return fmt.Errorf("marking pill %d paid: %w", pillID, err)
	}
	return nil
}
