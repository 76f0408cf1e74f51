package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/pillshop/internal/domain/auth"
	"github.com/xenking/pillshop/internal/domain/catalog"
	"github.com/xenking/pillshop/internal/domain/coupon"
	"github.com/xenking/pillshop/internal/domain/shipping"
	"github.com/xenking/pillshop/internal/storage/postgres"
)

type seedFile struct {
	Categories []string       `json:"categories"`
	Products   []productJSON  `json:"products"`
	Discounts  []discountJSON `json:"discounts"`
	Shipping   []shippingJSON `json:"shipping"`
	Coupons    []couponJSON   `json:"coupons"`
}

type productJSON struct {
	ID       int64           `json:"id"`
	Name     string          `json:"name"`
	Category string          `json:"category"`
	Price    decimal.Decimal `json:"price"`
}

// discountJSON targets either a product id or a category name and runs for
// Days from the moment of seeding.
type discountJSON struct {
	Product  int64           `json:"product"`
	Category string          `json:"category"`
	Percent  decimal.Decimal `json:"percent"`
	Days     int             `json:"days"`
}

type shippingJSON struct {
	Region string          `json:"region"`
	Name   string          `json:"name"`
	Fee    decimal.Decimal `json:"fee"`
}

type couponJSON struct {
	Code    string          `json:"code"`
	Percent decimal.Decimal `json:"percent"`
	Uses    int             `json:"uses"`
	Days    int             `json:"days"`
}

func main() {
	var (
		databaseURL string
		seedPath    string
		jwtSecret   string
		adminID     int64
	)

	_ = godotenv.Load()

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or PILL_DATABASE_URL env)")
	flag.StringVar(&seedPath, "seed-file", "db/seed/catalog.json", "path to catalog seed JSON")
	flag.StringVar(&jwtSecret, "jwt-secret", "", "print an admin token signed with this secret (or PILL_JWT_SECRET env)")
	flag.Int64Var(&adminID, "admin-id", 1, "user id embedded in the printed admin token")
	flag.Parse()

	lg, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("PILL_DATABASE_URL")
	}
	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or PILL_DATABASE_URL")
	}
	if jwtSecret == "" {
		jwtSecret = os.Getenv("PILL_JWT_SECRET")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, databaseURL, seedPath); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}

	if jwtSecret != "" {
		token, err := auth.NewTokens([]byte(jwtSecret)).Issue(auth.Principal{UserID: adminID, Role: auth.RoleAdmin}, 24*time.Hour)
		if err != nil {
			lg.Fatal("Issue admin token", zap.Error(err))
		}
		lg.Info("Admin token (24h)", zap.Int64("user_id", adminID), zap.String("token", token))
	}

	lg.Info("Seed completed")
}

func run(ctx context.Context, lg *zap.Logger, databaseURL, seedPath string) error {
	data, err := os.ReadFile(seedPath)
	if err != nil {
		return errors.Wrapf(err, "read %s", seedPath)
	}
	var seed seedFile
	if err := json.Unmarshal(data, &seed); err != nil {
		return errors.Wrapf(err, "decode %s", seedPath)
	}

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	var (
		catalogs = postgres.NewCatalogStore(pool)
		rates    = postgres.NewShippingStore(pool)
		ledger   = coupon.NewLedger(postgres.NewCouponStore(pool))
	)

	categories := make(map[string]int64, len(seed.Categories))
	for _, name := range seed.Categories {
		id, err := catalogs.UpsertCategory(ctx, name)
		if err != nil {
			return err
		}
		categories[name] = id
	}
	lg.Info("Seeded categories", zap.Int("count", len(categories)))

	for _, p := range seed.Products {
		product := catalog.Product{ID: p.ID, Name: p.Name, Price: p.Price}
		if p.Category != "" {
			id, ok := categories[p.Category]
			if !ok {
				return errors.Errorf("product %d: unknown category %q", p.ID, p.Category)
			}
			product.CategoryID = &id
		}
		if err := catalogs.UpsertProduct(ctx, product); err != nil {
			return err
		}
	}
	lg.Info("Seeded products", zap.Int("count", len(seed.Products)))

	if err := seedDiscounts(ctx, lg, catalogs, categories, seed.Discounts); err != nil {
		return err
	}

	for _, r := range seed.Shipping {
		if err := rates.Upsert(ctx, shipping.Rate{Region: r.Region, Name: r.Name, Fee: r.Fee}); err != nil {
			return err
		}
	}
	lg.Info("Seeded shipping rates", zap.Int("count", len(seed.Shipping)))

	now := time.Now()
	for _, c := range seed.Coupons {
		_, err := ledger.Issue(ctx, coupon.IssueRequest{
			Code:       c.Code,
			Percent:    c.Percent,
			ValidFrom:  now,
			ValidUntil: now.AddDate(0, 0, c.Days),
			Uses:       c.Uses,
		})
		switch {
		case errors.Is(err, coupon.ErrCodeTaken):
			lg.Info("Coupon exists, skipping", zap.String("code", c.Code))
		case err != nil:
			return errors.Wrapf(err, "issue coupon %s", c.Code)
		}
	}
	lg.Info("Seeded coupons", zap.Int("count", len(seed.Coupons)))

	return nil
}

// seedDiscounts inserts discounts only into an empty table so reruns do not
// stack duplicates.
func seedDiscounts(
	ctx context.Context,
	lg *zap.Logger,
	store *postgres.CatalogStore,
	categories map[string]int64,
	discounts []discountJSON,
) error {
	exists, err := store.HasDiscounts(ctx)
	if err != nil {
		return err
	}
	if exists {
		lg.Info("Discounts already present, skipping")
		return nil
	}

	now := time.Now()
	for i, d := range discounts {
		var target catalog.DiscountTarget
		switch {
		case d.Product != 0:
			target = catalog.ProductTarget(d.Product)
		case d.Category != "":
			id, ok := categories[d.Category]
			if !ok {
				return errors.Errorf("discount %d: unknown category %q", i, d.Category)
			}
			target = catalog.CategoryTarget(id)
		default:
			return errors.Errorf("discount %d: no target", i)
		}

		discount, err := catalog.NewDiscount(0, target, d.Percent, now, now.AddDate(0, 0, d.Days))
		if err != nil {
			return errors.Wrapf(err, "discount %d", i)
		}
		if _, err := store.InsertDiscount(ctx, discount); err != nil {
			return err
		}
	}
	lg.Info("Seeded discounts", zap.Int("count", len(discounts)))
	return nil
}
