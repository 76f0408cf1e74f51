// Package pricing resolves effective product prices from active discounts
// and sums them into pill subtotals.
package pricing

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/pillshop/internal/domain/catalog"
)

// Policy selects one discount when several of the same target kind are
// active at once.
type Policy string

const (
	// PolicyLastCreated picks the most recently created discount.
	PolicyLastCreated Policy = "last"
	// PolicyDeepest picks the discount with the largest percentage.
	PolicyDeepest Policy = "deepest"
)

// ParsePolicy validates a configured policy name. Empty means PolicyLastCreated.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PolicyLastCreated:
		return PolicyLastCreated, nil
	case PolicyDeepest:
		return PolicyDeepest, nil
	default:
		return "", errors.Errorf("unknown discount policy %q", s)
	}
}

var hundred = decimal.NewFromInt(100)

// Resolver computes the effective unit price of a product.
type Resolver struct {
	policy Policy
}

// NewResolver returns a Resolver applying policy to overlapping discounts.
func NewResolver(policy Policy) *Resolver {
	if policy == "" {
		policy = PolicyLastCreated
	}
	return &Resolver{policy: policy}
}

// Resolve returns the lower of the product-discounted and the
// category-discounted price of p at instant at, rounded to cents. Discounts
// not targeting p or its category are ignored.
func (r *Resolver) Resolve(p catalog.Product, discounts []catalog.Discount, at time.Time) decimal.Decimal {
	var byProduct, byCategory *catalog.Discount
	for i := range discounts {
		d := &discounts[i]
		if !d.ActiveAt(at) || !d.Target.Matches(p) {
			continue
		}
		switch d.Target.Kind() {
		case catalog.TargetProduct:
			byProduct = r.pick(byProduct, d)
		case catalog.TargetCategory:
			byCategory = r.pick(byCategory, d)
		}
	}

	price := applyPercent(p.Price, byProduct)
	if c := applyPercent(p.Price, byCategory); c.LessThan(price) {
		price = c
	}
	if price.IsNegative() {
		price = decimal.Zero
	}
	return price.Round(2)
}

func (r *Resolver) pick(current, candidate *catalog.Discount) *catalog.Discount {
	if current == nil {
		return candidate
	}
	switch r.policy {
	case PolicyDeepest:
		if c := candidate.Percent.Cmp(current.Percent); c > 0 || (c == 0 && candidate.ID > current.ID) {
			return candidate
		}
	default:
		if candidate.ID > current.ID {
			return candidate
		}
	}
	return current
}

func applyPercent(price decimal.Decimal, d *catalog.Discount) decimal.Decimal {
	if d == nil {
		return price
	}
	keep := hundred.Sub(d.Percent).Div(hundred)
	return price.Mul(keep)
}
