package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/pillshop/internal/domain/pill"
)

var _ pill.Repository = (*PillStore)(nil)

const (
	insertPillSQL = `INSERT INTO pills (number, user_id, status) VALUES ($1, $2, $3)
RETURNING id, created_at`

	selectPillSQL = `SELECT p.id, p.number, p.user_id, p.status, p.paid,
       p.coupon_id, c.code, c.percent, p.coupon_discount, p.created_at,
       a.name, a.email, a.phone, a.street, a.region, a.pay_method
FROM pills p
LEFT JOIN coupons c ON c.id = p.coupon_id
LEFT JOIN pill_addresses a ON a.pill_id = p.id`

	getPillSQL = selectPillSQL + ` WHERE p.id = $1`

	listPillsByUserSQL = selectPillSQL + ` WHERE p.user_id = $1 ORDER BY p.created_at DESC, p.id DESC LIMIT $2`

	pillItemsSQL = `SELECT pill_id, product_id, quantity, size, color
FROM pill_items WHERE pill_id = ANY($1) ORDER BY id`

	lockPillStatusSQL = `SELECT status FROM pills WHERE id = $1 FOR UPDATE`

	setPillStatusSQL = `UPDATE pills SET status = $2 WHERE id = $1`

	upsertAddressSQL = `INSERT INTO pill_addresses (pill_id, name, email, phone, street, region, pay_method)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (pill_id) DO UPDATE SET
    name = EXCLUDED.name, email = EXCLUDED.email, phone = EXCLUDED.phone,
    street = EXCLUDED.street, region = EXCLUDED.region, pay_method = EXCLUDED.pay_method`

	pillNumbersSQL = `SELECT number FROM pills`
)

// PillStore implements pill.Repository backed by PostgreSQL.
type PillStore struct {
	pool *pgxpool.Pool
}

// NewPillStore returns a PillStore that uses the given pool.
func NewPillStore(pool *pgxpool.Pool) *PillStore {
	return &PillStore{pool: pool}
}

// Create inserts the pill and its items in one transaction.
func (s *PillStore) Create(ctx context.Context, p *pill.Pill) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, insertPillSQL, p.Number, p.UserID, string(p.Status)).Scan(&p.ID, &p.CreatedAt)
		if err != nil {
			if isUniqueViolation(err, "pills_number_key") {
				return pill.ErrNumberTaken
			}
			return fmt.Errorf("inserting pill: %w", err)
		}

		if len(p.Items) == 0 {
			return nil
		}
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"pill_items"},
			[]string{"pill_id", "product_id", "quantity", "size", "color"},
			pgx.CopyFromSlice(len(p.Items), func(i int) ([]any, error) {
				it := p.Items[i]
				return []any{p.ID, it.ProductID, it.Quantity, string(it.Size), it.Color}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("copying pill items: %w", err)
		}
		return nil
	})
}

// Get returns a pill with items, coupon and address.
func (s *PillStore) Get(ctx context.Context, id int64) (*pill.Pill, error) {
	rows, err := s.pool.Query(ctx, getPillSQL, id)
	if err != nil {
		return nil, fmt.Errorf("querying pill %d: %w", id, err)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanPill)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pill.ErrNotFound
		}
		return nil, fmt.Errorf("scanning pill %d: %w", id, err)
	}

	pills := []pill.Pill{p}
	if err := s.loadItems(ctx, pills); err != nil {
		return nil, err
	}
	return &pills[0], nil
}

// ListByUser returns the newest pills of a user.
func (s *PillStore) ListByUser(ctx context.Context, userID int64, limit int) ([]pill.Pill, error) {
	rows, err := s.pool.Query(ctx, listPillsByUserSQL, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing pills of user %d: %w", userID, err)
	}
	pills, err := pgx.CollectRows(rows, scanPill)
	if err != nil {
		return nil, fmt.Errorf("scanning pills: %w", err)
	}
	if err := s.loadItems(ctx, pills); err != nil {
		return nil, err
	}
	return pills, nil
}

func (s *PillStore) loadItems(ctx context.Context, pills []pill.Pill) error {
	if len(pills) == 0 {
		return nil
	}
	ids := make([]int64, len(pills))
	index := make(map[int64]int, len(pills))
	for i, p := range pills {
		ids[i] = p.ID
		index[p.ID] = i
	}

	rows, err := s.pool.Query(ctx, pillItemsSQL, ids)
	if err != nil {
		return fmt.Errorf("querying pill items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			pillID int64
			it     pill.Item
			size   string
		)
		if err := rows.Scan(&pillID, &it.ProductID, &it.Quantity, &size, &it.Color); err != nil {
			return fmt.Errorf("scanning pill item: %w", err)
		}
		it.Size = pill.Size(size)
		i := index[pillID]
		pills[i].Items = append(pills[i].Items, it)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("reading pill items: %w", err)
	}
	return nil
}

func scanPill(row pgx.CollectableRow) (pill.Pill, error) {
	var (
		p             pill.Pill
		status        string
		couponID      *int64
		couponCode    *string
		couponPercent decimal.NullDecimal
		name, email   *string
		phone, street *string
		region, pay   *string
	)
	err := row.Scan(
		&p.ID, &p.Number, &p.UserID, &status, &p.Paid,
		&couponID, &couponCode, &couponPercent, &p.CouponDiscount, &p.CreatedAt,
		&name, &email, &phone, &street, &region, &pay,
	)
	if err != nil {
		return p, err
	}
	p.Status = pill.Status(status)
	if couponID != nil && couponCode != nil && couponPercent.Valid {
		p.Coupon = &pill.AppliedCoupon{ID: *couponID, Code: *couponCode, Percent: couponPercent.Decimal}
	}
	if name != nil {
		p.Address = &pill.Address{
			Name:      *name,
			Email:     deref(email),
			Phone:     deref(phone),
			Street:    deref(street),
			Region:    deref(region),
			PayMethod: pill.PayMethod(deref(pay)),
		}
	}
	return p, nil
}

// SaveAddress upserts the address and moves the pill to the status chosen by next.
func (s *PillStore) SaveAddress(ctx context.Context, id int64, addr pill.Address, next func(pill.Status) (pill.Status, error)) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		status, err := transition(ctx, tx, id, next)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, upsertAddressSQL,
			id, addr.Name, addr.Email, addr.Phone, addr.Street, addr.Region, string(addr.PayMethod),
		)
		if err != nil {
			return fmt.Errorf("upserting address of pill %d: %w", id, err)
		}
		if _, err := tx.Exec(ctx, setPillStatusSQL, id, string(status)); err != nil {
			return fmt.Errorf("updating status of pill %d: %w", id, err)
		}
		return nil
	})
}

// UpdateStatus stores the status chosen by next.
func (s *PillStore) UpdateStatus(ctx context.Context, id int64, next func(pill.Status) (pill.Status, error)) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		status, err := transition(ctx, tx, id, next)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, setPillStatusSQL, id, string(status)); err != nil {
			return fmt.Errorf("updating status of pill %d: %w", id, err)
		}
		return nil
	})
}

func transition(ctx context.Context, q querier, id int64, next func(pill.Status) (pill.Status, error)) (pill.Status, error) {
	var current string
	if err := q.QueryRow(ctx, lockPillStatusSQL, id).Scan(&current); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", pill.ErrNotFound
		}
		return "", fmt.Errorf("locking pill %d: %w", id, err)
	}
	return next(pill.Status(current))
}

// Numbers returns every issued pill number.
func (s *PillStore) Numbers(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, pillNumbersSQL)
	if err != nil {
		return nil, fmt.Errorf("querying pill numbers: %w", err)
	}
	numbers, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scanning pill numbers: %w", err)
	}
	return numbers, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
