// Package catalog holds products, categories and the time-bounded
// percentage discounts attached to them.
package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrProductNotFound is returned when a requested product does not exist.
	ErrProductNotFound = errors.New("product not found")
	// ErrInvalidDiscount is returned for discounts with an out-of-range
	// percentage or an inverted time window.
	ErrInvalidDiscount = errors.New("invalid discount")
)

var hundred = decimal.NewFromInt(100)

// ProductNotFoundError names the missing product.
type ProductNotFoundError struct {
	ProductID int64
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %d not found", e.ProductID)
}

// Is makes errors.Is(err, ErrProductNotFound) match.
func (e *ProductNotFoundError) Is(target error) bool {
	return target == ErrProductNotFound
}

// Category groups products for category-wide discounts.
type Category struct {
	ID   int64
	Name string
}

// Product is a sellable catalog item with a non-negative base price.
type Product struct {
	ID         int64
	Name       string
	CategoryID *int64
	Price      decimal.Decimal
}

// TargetKind tells which kind of entity a discount applies to.
type TargetKind uint8

const (
	// TargetProduct applies the discount to a single product.
	TargetProduct TargetKind = iota + 1
	// TargetCategory applies the discount to every product in a category.
	TargetCategory
)

func (k TargetKind) String() string {
	switch k {
	case TargetProduct:
		return "product"
	case TargetCategory:
		return "category"
	default:
		return "unknown"
	}
}

// DiscountTarget is exactly one product or exactly one category. The zero
// value is invalid; use ProductTarget or CategoryTarget.
type DiscountTarget struct {
	kind TargetKind
	id   int64
}

// ProductTarget targets a single product.
func ProductTarget(id int64) DiscountTarget {
	return DiscountTarget{kind: TargetProduct, id: id}
}

// CategoryTarget targets a category.
func CategoryTarget(id int64) DiscountTarget {
	return DiscountTarget{kind: TargetCategory, id: id}
}

// Kind returns the target kind.
func (t DiscountTarget) Kind() TargetKind { return t.kind }

// ID returns the product or category id.
func (t DiscountTarget) ID() int64 { return t.id }

// Valid reports whether the target was built by one of the constructors.
func (t DiscountTarget) Valid() bool {
	return t.kind == TargetProduct || t.kind == TargetCategory
}

// Matches reports whether the target covers product p.
func (t DiscountTarget) Matches(p Product) bool {
	switch t.kind {
	case TargetProduct:
		return p.ID == t.id
	case TargetCategory:
		return p.CategoryID != nil && *p.CategoryID == t.id
	default:
		return false
	}
}

// Discount is a percentage reduction active in [Start, End], both inclusive.
// Percent may carry up to two decimal places.
type Discount struct {
	ID      int64
	Target  DiscountTarget
	Percent decimal.Decimal
	Start   time.Time
	End     time.Time
}

// NewDiscount validates and builds a discount.
func NewDiscount(id int64, target DiscountTarget, percent decimal.Decimal, start, end time.Time) (Discount, error) {
	d := Discount{ID: id, Target: target, Percent: percent, Start: start, End: end}
	if err := d.Validate(); err != nil {
		return Discount{}, err
	}
	return d, nil
}

// Validate checks the discount invariants.
func (d Discount) Validate() error {
	switch {
	case !d.Target.Valid():
		return errors.Wrap(ErrInvalidDiscount, "target must be a product or a category")
	case d.Percent.IsNegative() || d.Percent.GreaterThan(hundred):
		return errors.Wrapf(ErrInvalidDiscount, "percent %s out of range", d.Percent)
	case !d.Percent.Equal(d.Percent.Round(2)):
		return errors.Wrapf(ErrInvalidDiscount, "percent %s has more than two decimal places", d.Percent)
	case d.Start.After(d.End):
		return errors.Wrap(ErrInvalidDiscount, "start is after end")
	}
	return nil
}

// ActiveAt reports whether t falls inside the discount window.
func (d Discount) ActiveAt(t time.Time) bool {
	return !t.Before(d.Start) && !t.After(d.End)
}

// Repository provides read access to products and their discounts.
type Repository interface {
	// GetProducts returns the products with the given ids; missing ids are
	// simply absent from the result.
	GetProducts(ctx context.Context, ids []int64) ([]Product, error)
	// DiscountsFor returns every discount targeting one of the products or
	// one of their categories, regardless of its window.
	DiscountsFor(ctx context.Context, products []Product) ([]Discount, error)
}
