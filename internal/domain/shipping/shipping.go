// Package shipping maps delivery regions to flat shipping fees.
package shipping

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrUnknownRegion is returned when no rate is configured for a region.
var ErrUnknownRegion = errors.New("unknown shipping region")

// Rate is the flat fee charged for deliveries to a region.
type Rate struct {
	Region string
	Name   string
	Fee    decimal.Decimal
}

// Repository provides shipping rates.
type Repository interface {
	// Rate returns the rate for region or ErrUnknownRegion.
	Rate(ctx context.Context, region string) (*Rate, error)
	// List returns every configured rate ordered by region.
	List(ctx context.Context) ([]Rate, error)
}

// Lookup answers shipping cost questions for pills.
type Lookup struct {
	repo Repository
}

// NewLookup creates a Lookup backed by repo.
func NewLookup(repo Repository) *Lookup {
	return &Lookup{repo: repo}
}

// Price returns the shipping fee for region. A pill without an address has
// no region yet and ships for free.
func (l *Lookup) Price(ctx context.Context, region string) (decimal.Decimal, error) {
	if region == "" {
		return decimal.Zero, nil
	}
	rate, err := l.repo.Rate(ctx, region)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "rate for region %q", region)
	}
	return rate.Fee, nil
}

// Exists reports whether a rate is configured for region.
func (l *Lookup) Exists(ctx context.Context, region string) (bool, error) {
	_, err := l.repo.Rate(ctx, region)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrUnknownRegion):
		return false, nil
	default:
		return false, errors.Wrapf(err, "rate for region %q", region)
	}
}

// Rates lists every region with its fee.
func (l *Lookup) Rates(ctx context.Context) ([]Rate, error) {
	rates, err := l.repo.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list rates")
	}
	return rates, nil
}
