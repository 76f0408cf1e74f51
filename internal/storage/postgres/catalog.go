package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/pillshop/internal/domain/catalog"
)

var _ catalog.Repository = (*CatalogStore)(nil)

const (
	getProductsSQL = `SELECT id, name, category_id, price FROM products WHERE id = ANY($1)`

	discountsForSQL = `SELECT id, product_id, category_id, percent, starts_at, ends_at
FROM discounts
WHERE product_id = ANY($1) OR category_id = ANY($2)`

	upsertCategorySQL = `INSERT INTO categories (name) VALUES ($1)
ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
RETURNING id`

	upsertProductSQL = `INSERT INTO products (id, name, category_id, price) VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, category_id = EXCLUDED.category_id, price = EXCLUDED.price`

	insertDiscountSQL = `INSERT INTO discounts (product_id, category_id, percent, starts_at, ends_at)
VALUES ($1, $2, $3, $4, $5)
RETURNING id`

	hasDiscountsSQL = `SELECT EXISTS (SELECT 1 FROM discounts)`

	syncProductSeqSQL = `SELECT setval(pg_get_serial_sequence('products', 'id'), COALESCE(MAX(id), 1)) FROM products`
)

// CatalogStore implements catalog.Repository backed by PostgreSQL.
type CatalogStore struct {
	pool *pgxpool.Pool
}

// NewCatalogStore returns a CatalogStore that uses the given pool.
func NewCatalogStore(pool *pgxpool.Pool) *CatalogStore {
	return &CatalogStore{pool: pool}
}

// GetProducts returns the products with the given ids.
func (s *CatalogStore) GetProducts(ctx context.Context, ids []int64) ([]catalog.Product, error) {
	rows, err := s.pool.Query(ctx, getProductsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("querying products: %w", err)
	}
	products, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (catalog.Product, error) {
		var p catalog.Product
		err := row.Scan(&p.ID, &p.Name, &p.CategoryID, &p.Price)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning products: %w", err)
	}
	return products, nil
}

// DiscountsFor returns every discount targeting the products or their categories.
func (s *CatalogStore) DiscountsFor(ctx context.Context, products []catalog.Product) ([]catalog.Discount, error) {
	productIDs := make([]int64, 0, len(products))
	categoryIDs := make([]int64, 0, len(products))
	for _, p := range products {
		productIDs = append(productIDs, p.ID)
		if p.CategoryID != nil {
			categoryIDs = append(categoryIDs, *p.CategoryID)
		}
	}

	rows, err := s.pool.Query(ctx, discountsForSQL, productIDs, categoryIDs)
	if err != nil {
		return nil, fmt.Errorf("querying discounts: %w", err)
	}
	discounts, err := pgx.CollectRows(rows, scanDiscount)
	if err != nil {
		return nil, fmt.Errorf("scanning discounts: %w", err)
	}
	return discounts, nil
}

func scanDiscount(row pgx.CollectableRow) (catalog.Discount, error) {
	var (
		d          catalog.Discount
		productID  *int64
		categoryID *int64
	)
	if err := row.Scan(&d.ID, &productID, &categoryID, &d.Percent, &d.Start, &d.End); err != nil {
		return d, err
	}
	switch {
	case productID != nil:
		d.Target = catalog.ProductTarget(*productID)
	case categoryID != nil:
		d.Target = catalog.CategoryTarget(*categoryID)
	}
	return d, nil
}

// UpsertCategory creates the category if missing and returns its id.
func (s *CatalogStore) UpsertCategory(ctx context.Context, name string) (int64, error) {
	var id int64
	if err := s.pool.QueryRow(ctx, upsertCategorySQL, name).Scan(&id); err != nil {
		return 0, fmt.Errorf("upserting category %q: %w", name, err)
	}
	return id, nil
}

// UpsertProduct creates or updates a product under its explicit id.
func (s *CatalogStore) UpsertProduct(ctx context.Context, p catalog.Product) error {
	if _, err := s.pool.Exec(ctx, upsertProductSQL, p.ID, p.Name, p.CategoryID, p.Price); err != nil {
		return fmt.Errorf("upserting product %d: %w", p.ID, err)
	}
	if _, err := s.pool.Exec(ctx, syncProductSeqSQL); err != nil {
		return fmt.Errorf("syncing product sequence: %w", err)
	}
	return nil
}

// InsertDiscount stores a validated discount and returns its id.
func (s *CatalogStore) InsertDiscount(ctx context.Context, d catalog.Discount) (int64, error) {
	if err := d.Validate(); err != nil {
		return 0, err
	}
	var productID, categoryID *int64
	id := d.Target.ID()
	switch d.Target.Kind() {
	case catalog.TargetProduct:
		productID = &id
	case catalog.TargetCategory:
		categoryID = &id
	}

	var newID int64
	err := s.pool.QueryRow(ctx, insertDiscountSQL, productID, categoryID, d.Percent, d.Start, d.End).Scan(&newID)
	if err != nil {
		return 0, fmt.Errorf("inserting discount: %w", err)
	}
	return newID, nil
}


// HasDiscounts reports whether any discount row exists.
func (s *CatalogStore) HasDiscounts(ctx context.Context) (bool, error) {
	var ok bool
	if err := s.pool.QueryRow(ctx, hasDiscountsSQL).Scan(&ok); err != nil {
		return false, fmt.Errorf("checking discounts: %w", err)
	}
	return ok, nil
}
