package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/pillshop/internal/domain/shipping"
)

var _ shipping.Repository = (*ShippingStore)(nil)

const (
	getShippingRateSQL   = `SELECT region, name, fee FROM shipping_rates WHERE region = $1`
	listShippingRatesSQL = `SELECT region, name, fee FROM shipping_rates ORDER BY region`
	upsertShippingSQL    = `INSERT INTO shipping_rates (region, name, fee) VALUES ($1, $2, $3)
ON CONFLICT (region) DO UPDATE SET name = EXCLUDED.name, fee = EXCLUDED.fee`
)

// ShippingStore implements shipping.Repository backed by PostgreSQL.
type ShippingStore struct {
	pool *pgxpool.Pool
}

// NewShippingStore returns a ShippingStore that uses the given pool.
func NewShippingStore(pool *pgxpool.Pool) *ShippingStore {
	return &ShippingStore{pool: pool}
}

// Rate returns the rate for region or shipping.ErrUnknownRegion.
func (s *ShippingStore) Rate(ctx context.Context, region string) (*shipping.Rate, error) {
	var r shipping.Rate
	if err := s.pool.QueryRow(ctx, getShippingRateSQL, region).Scan(&r.Region, &r.Name, &r.Fee); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shipping.ErrUnknownRegion
		}
		return nil, fmt.Errorf("getting shipping rate %q: %w", region, err)
	}
	return &r, nil
}

// List returns all rates ordered by region.
func (s *ShippingStore) List(ctx context.Context) ([]shipping.Rate, error) {
	rows, err := s.pool.Query(ctx, listShippingRatesSQL)
	if err != nil {
		return nil, fmt.Errorf("listing shipping rates: %w", err)
	}
	rates, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (shipping.Rate, error) {
		var r shipping.Rate
		err := row.Scan(&r.Region, &r.Name, &r.Fee)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning shipping rates: %w", err)
	}
	return rates, nil
}

// Upsert creates or updates a rate.
func (s *ShippingStore) Upsert(ctx context.Context, r shipping.Rate) error {
	if _, err := s.pool.Exec(ctx, upsertShippingSQL, r.Region, r.Name, r.Fee); err != nil {
		return fmt.Errorf("upserting shipping rate %q: %w", r.Region, err)
	}
	return nil
}
