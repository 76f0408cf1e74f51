package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/pillshop/internal/domain/coupon"
)

var (
	_ coupon.Store = (*CouponStore)(nil)
	_ coupon.Tx    = couponTx{}
)

const (
	getCouponByCodeSQL = `SELECT id, code, percent, valid_from, valid_until, remaining_uses, created_at
FROM coupons WHERE code = $1`

	lockPillCouponSQL = `SELECT coupon_id FROM pills WHERE id = $1 FOR UPDATE`

	consumeCouponUseSQL = `UPDATE coupons SET remaining_uses = remaining_uses - 1
WHERE id = $1 AND remaining_uses > 0`

	attachCouponSQL = `UPDATE pills SET coupon_id = $2, coupon_discount = $3
WHERE id = $1 AND coupon_id IS NULL`

	insertCouponSQL = `INSERT INTO coupons (code, percent, valid_from, valid_until, remaining_uses)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, created_at`

	createCouponStagingSQL = `CREATE TEMP TABLE coupon_staging (
    code TEXT, percent NUMERIC(5, 2), valid_from TIMESTAMPTZ, valid_until TIMESTAMPTZ, remaining_uses INT
) ON COMMIT DROP`

	mergeCouponStagingSQL = `INSERT INTO coupons (code, percent, valid_from, valid_until, remaining_uses)
SELECT DISTINCT ON (code) code, percent, valid_from, valid_until, remaining_uses FROM coupon_staging
ON CONFLICT (code) DO NOTHING`
)

// CouponStore implements coupon.Store backed by PostgreSQL.
type CouponStore struct {
	pool *pgxpool.Pool
}

// NewCouponStore returns a CouponStore that uses the given pool.
func NewCouponStore(pool *pgxpool.Pool) *CouponStore {
	return &CouponStore{pool: pool}
}

// Atomic runs fn inside a transaction.
func (s *CouponStore) Atomic(ctx context.Context, fn func(ctx context.Context, tx coupon.Tx) error) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return fn(ctx, couponTx{q: tx})
	})
}

// Create inserts a new coupon. Returns coupon.ErrCodeTaken on a duplicate code.
func (s *CouponStore) Create(ctx context.Context, c *coupon.Coupon) error {
	err := s.pool.QueryRow(ctx, insertCouponSQL,
		c.Code, c.Percent, c.ValidFrom, c.ValidUntil, c.RemainingUses,
	).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		if isUniqueViolation(err, "coupons_code_key") {
			return coupon.ErrCodeTaken
		}
		return fmt.Errorf("inserting coupon %q: %w", c.Code, err)
	}
	return nil
}

// Import bulk-loads coupons, skipping codes that already exist, and returns
// the number of rows inserted.
func (s *CouponStore) Import(ctx context.Context, coupons []coupon.Coupon) (int64, error) {
	var inserted int64
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, createCouponStagingSQL); err != nil {
			return fmt.Errorf("creating staging table: %w", err)
		}
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"coupon_staging"},
			[]string{"code", "percent", "valid_from", "valid_until", "remaining_uses"},
			pgx.CopyFromSlice(len(coupons), func(i int) ([]any, error) {
				c := coupons[i]
				return []any{c.Code, c.Percent, c.ValidFrom, c.ValidUntil, c.RemainingUses}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("copying coupons: %w", err)
		}
		tag, err := tx.Exec(ctx, mergeCouponStagingSQL)
		if err != nil {
			return fmt.Errorf("merging coupons: %w", err)
		}
		inserted = tag.RowsAffected()
		return nil
	})
	return inserted, err
}

type couponTx struct {
	q querier
}

func (t couponTx) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	var c coupon.Coupon
	err := t.q.QueryRow(ctx, getCouponByCodeSQL, code).Scan(
		&c.ID, &c.Code, &c.Percent, &c.ValidFrom, &c.ValidUntil, &c.RemainingUses, &c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrCouponNotFound
		}
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}
	return &c, nil
}

func (t couponTx) LockPill(ctx context.Context, pillID int64) (*int64, error) {
	var attached *int64
	if err := t.q.QueryRow(ctx, lockPillCouponSQL, pillID).Scan(&attached); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrPillNotFound
		}
		return nil, fmt.Errorf("locking pill %d: %w", pillID, err)
	}
	return attached, nil
}

func (t couponTx) ConsumeUse(ctx context.Context, couponID int64) (bool, error) {
	tag, err := t.q.Exec(ctx, consumeCouponUseSQL, couponID)
	if err != nil {
		return false, fmt.Errorf("decrementing coupon %d: %w", couponID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t couponTx) Attach(ctx context.Context, pillID, couponID int64, amount decimal.Decimal) error {
	tag, err := t.q.Exec(ctx, attachCouponSQL, pillID, couponID, amount)
	if err != nil {
		return fmt.Errorf("attaching coupon to pill %d: %w", pillID, err)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrCouponAlreadyApplied
	}
	return nil
}

