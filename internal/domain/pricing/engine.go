package pricing

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/pillshop/internal/domain/catalog"
)

// Line is one product and quantity in a pill.
type Line struct {
	ProductID int64
	Quantity  int
}

// ProductPrice is a product with its effective price at a given instant.
type ProductPrice struct {
	Product         catalog.Product
	DiscountedPrice decimal.Decimal
}

// HasDiscount reports whether any discount lowered the price.
func (p ProductPrice) HasDiscount() bool {
	return p.DiscountedPrice.LessThan(p.Product.Price)
}

// Engine sums resolved unit prices over pill lines.
type Engine struct {
	catalog  catalog.Repository
	resolver *Resolver
	now      func() time.Time
}

// NewEngine creates an Engine reading products and discounts from repo.
func NewEngine(repo catalog.Repository, resolver *Resolver) *Engine {
	return &Engine{catalog: repo, resolver: resolver, now: time.Now}
}

// Prices resolves the effective price of every requested product at the
// current instant. A missing product yields *catalog.ProductNotFoundError.
func (e *Engine) Prices(ctx context.Context, ids []int64) (map[int64]ProductPrice, error) {
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return map[int64]ProductPrice{}, nil
	}

	products, err := e.catalog.GetProducts(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	byID := make(map[int64]catalog.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	for _, id := range ids {
		if _, ok := byID[id]; !ok {
			return nil, &catalog.ProductNotFoundError{ProductID: id}
		}
	}

	discounts, err := e.catalog.DiscountsFor(ctx, products)
	if err != nil {
		return nil, errors.Wrap(err, "get discounts")
	}

	at := e.now()
	prices := make(map[int64]ProductPrice, len(products))
	for _, p := range products {
		prices[p.ID] = ProductPrice{
			Product:         p,
			DiscountedPrice: e.resolver.Resolve(p, discounts, at),
		}
	}
	return prices, nil
}

// Price resolves a single product.
func (e *Engine) Price(ctx context.Context, id int64) (*ProductPrice, error) {
	prices, err := e.Prices(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	p := prices[id]
	return &p, nil
}

// Subtotal returns the sum of resolved unit price times quantity over lines,
// before any coupon. An empty pill costs zero.
func (e *Engine) Subtotal(ctx context.Context, lines []Line) (decimal.Decimal, error) {
	if len(lines) == 0 {
		return decimal.Zero, nil
	}

	ids := make([]int64, len(lines))
	for i, l := range lines {
		ids[i] = l.ProductID
	}
	prices, err := e.Prices(ctx, ids)
	if err != nil {
		return decimal.Zero, err
	}

	subtotal := decimal.Zero
	for _, l := range lines {
		unit := prices[l.ProductID].DiscountedPrice
		subtotal = subtotal.Add(unit.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	return subtotal.Round(2), nil
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
