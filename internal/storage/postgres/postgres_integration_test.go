//go:build integration

package postgres

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xenking/pillshop/internal/domain/catalog"
	"github.com/xenking/pillshop/internal/domain/coupon"
	"github.com/xenking/pillshop/internal/domain/payment"
	"github.com/xenking/pillshop/internal/domain/pill"
	"github.com/xenking/pillshop/internal/domain/pricing"
	"github.com/xenking/pillshop/internal/domain/shipping"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "pill",
				"POSTGRES_PASSWORD": "pill",
				"POSTGRES_DB":       "pill",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}
	defer func() { _ = container.Terminate(context.Background()) }()

	host, err := container.Host(ctx)
	if err != nil {
		log.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		log.Fatalf("mapped port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://pill:pill@%s:%s/pill?sslmode=disable", host, port.Port())
	testPool, err = NewPool(ctx, dsn)
	if err != nil {
		log.Fatalf("pool: %v", err)
	}
	defer testPool.Close()

	if err := RunMigrations(ctx, testPool); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	return m.Run()
}

type seeded struct {
	shirt    catalog.Product
	hat      catalog.Product
	category int64
}

func seedCatalog(t *testing.T, prefix string) seeded {
	t.Helper()
	ctx := context.Background()
	store := NewCatalogStore(testPool)

	catID, err := store.UpsertCategory(ctx, prefix+"-clothes")
	require.NoError(t, err)

	base := time.Now().UnixNano() % 1_000_000_000
	shirt := catalog.Product{ID: base, Name: prefix + " shirt", CategoryID: &catID, Price: decimal.NewFromInt(100)}
	hat := catalog.Product{ID: base + 1, Name: prefix + " hat", Price: decimal.NewFromInt(25)}
	require.NoError(t, store.UpsertProduct(ctx, shirt))
	require.NoError(t, store.UpsertProduct(ctx, hat))

	require.NoError(t, NewShippingStore(testPool).Upsert(ctx, shipping.Rate{
		Region: "1", Name: "Cairo", Fee: decimal.NewFromInt(20),
	}))
	return seeded{shirt: shirt, hat: hat, category: catID}
}

func newPillService() *pill.Service {
	shippingLookup := shipping.NewLookup(NewShippingStore(testPool))
	engine := pricing.NewEngine(NewCatalogStore(testPool), pricing.NewResolver(pricing.PolicyLastCreated))
	return pill.NewService(
		NewPillStore(testPool),
		engine,
		coupon.NewLedger(NewCouponStore(testPool)),
		shippingLookup,
		pill.NewNumberGenerator(),
	)
}

func issueCoupon(t *testing.T, code, percent string, uses int) {
	t.Helper()
	_, err := coupon.NewLedger(NewCouponStore(testPool)).Issue(context.Background(), coupon.IssueRequest{
		Code:       code,
		Percent:    decimal.RequireFromString(percent),
		ValidFrom:  time.Now().Add(-time.Hour),
		ValidUntil: time.Now().Add(time.Hour),
		Uses:       uses,
	})
	require.NoError(t, err)
}

func TestCatalogStore_DiscountedPrice(t *testing.T) {
	ctx := context.Background()
	s := seedCatalog(t, "discount")
	store := NewCatalogStore(testPool)

	now := time.Now()
	_, err := store.InsertDiscount(ctx, catalog.Discount{
		Target: catalog.ProductTarget(s.shirt.ID), Percent: decimal.NewFromInt(20), Start: now.Add(-time.Hour), End: now.Add(time.Hour),
	})
	require.NoError(t, err)
	_, err = store.InsertDiscount(ctx, catalog.Discount{
		Target: catalog.CategoryTarget(s.category), Percent: decimal.NewFromInt(10), Start: now.Add(-time.Hour), End: now.Add(time.Hour),
	})
	require.NoError(t, err)

	engine := pricing.NewEngine(store, pricing.NewResolver(pricing.PolicyLastCreated))
	got, err := engine.Price(ctx, s.shirt.ID)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(80).Equal(got.DiscountedPrice), got.DiscountedPrice.String())
}

func TestPillFlow_CouponAddressShipping(t *testing.T) {
	ctx := context.Background()
	s := seedCatalog(t, "flow")
	svc := newPillService()
	issueCoupon(t, "FLOW10", "10", 1)

	d, err := svc.Create(ctx, nil, []pill.Item{
		{ProductID: s.shirt.ID, Quantity: 1, Size: "m", Color: "blue"},
		{ProductID: s.hat.ID, Quantity: 2},
	})
	require.NoError(t, err)
	assert.Equal(t, pill.StatusInitiated, d.Pill.Status)

	applied, err := svc.ApplyCoupon(ctx, d.Pill.ID, "FLOW10")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(15).Equal(applied.Quote.CouponDiscount))
	assert.True(t, decimal.NewFromInt(135).Equal(applied.Quote.PriceAfterCouponDiscount))

	_, err = svc.ApplyCoupon(ctx, d.Pill.ID, "FLOW10")
	require.ErrorIs(t, err, coupon.ErrCouponAlreadyApplied)

	got, err := svc.AttachAddress(ctx, d.Pill.ID, pill.Address{
		Name: "Mona", Phone: "0100", Street: "1 Nile St", Region: "1",
	})
	require.NoError(t, err)
	assert.Equal(t, pill.StatusWaiting, got.Pill.Status)
	assert.True(t, decimal.NewFromInt(155).Equal(got.Quote.FinalPrice), got.Quote.FinalPrice.String())
	require.NotNil(t, got.Pill.Coupon)
	assert.Equal(t, "FLOW10", got.Pill.Coupon.Code)
	require.Len(t, got.Pill.Items, 2)
	assert.Equal(t, pill.Size("m"), got.Pill.Items[0].Size)

	second, err := svc.Create(ctx, nil, []pill.Item{{ProductID: s.hat.ID, Quantity: 1}})
	require.NoError(t, err)
	_, err = svc.ApplyCoupon(ctx, second.Pill.ID, "FLOW10")
	require.ErrorIs(t, err, coupon.ErrCouponExhausted)
}

func TestPillFlow_FractionalCoupon(t *testing.T) {
	ctx := context.Background()
	s := seedCatalog(t, "half")
	svc := newPillService()
	issueCoupon(t, "HALF125", "12.5", 1)

	d, err := svc.Create(ctx, nil, []pill.Item{{ProductID: s.shirt.ID, Quantity: 1}})
	require.NoError(t, err)

	applied, err := svc.ApplyCoupon(ctx, d.Pill.ID, "HALF125")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("12.5").Equal(applied.Quote.CouponDiscount), applied.Quote.CouponDiscount.String())

	got, err := svc.Get(ctx, d.Pill.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Pill.Coupon)
	assert.True(t, decimal.RequireFromString("12.5").Equal(got.Pill.Coupon.Percent), got.Pill.Coupon.Percent.String())
}

func TestCouponStore_ConcurrentApplyNeverOverdraws(t *testing.T) {
	ctx := context.Background()
	s := seedCatalog(t, "rush")
	svc := newPillService()
	const (
		uses  = 3
		pills = 12
	)
	issueCoupon(t, "RUSH3", "10", uses)

	ids := make([]int64, pills)
	for i := range pills {
		d, err := svc.Create(ctx, nil, []pill.Item{{ProductID: s.hat.ID, Quantity: 1}})
		require.NoError(t, err)
		ids[i] = d.Pill.ID
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		exhausted int
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, err := svc.ApplyCoupon(ctx, id, "RUSH3")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, coupon.ErrCouponExhausted):
				exhausted++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(id)
	}
	wg.Wait()

	assert.Equal(t, uses, succeeded)
	assert.Equal(t, pills-uses, exhausted)

	var remaining int
	require.NoError(t, testPool.QueryRow(ctx, `SELECT remaining_uses FROM coupons WHERE code = 'RUSH3'`).Scan(&remaining))
	assert.Equal(t, 0, remaining)
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []payment.Notice
}

func (r *recordingNotifier) PaymentApproved(_ context.Context, n payment.Notice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
	return nil
}

func TestPaymentStore_ApproveOnce(t *testing.T) {
	ctx := context.Background()
	s := seedCatalog(t, "pay")
	svc := newPillService()
	notifier := &recordingNotifier{}
	ledger := payment.NewLedger(NewPaymentStore(testPool), notifier)

	d, err := svc.Create(ctx, nil, []pill.Item{{ProductID: s.hat.ID, Quantity: 1}})
	require.NoError(t, err)
	_, err = svc.AttachAddress(ctx, d.Pill.ID, pill.Address{Name: "Mona", Phone: "0100", Street: "1 Nile St", Region: "1"})
	require.NoError(t, err)

	var reqs []*payment.Request
	for range 5 {
		r, err := ledger.Create(ctx, d.Pill.ID, "")
		require.NoError(t, err)
		reqs = append(reqs, r)
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for _, r := range reqs {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			if _, err := ledger.Approve(ctx, id); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}(r.ID)
	}
	wg.Wait()
	assert.Equal(t, 1, ok)

	got, err := svc.Get(ctx, d.Pill.ID)
	require.NoError(t, err)
	assert.True(t, got.Pill.Paid)
	assert.Equal(t, pill.StatusPaid, got.Pill.Status)
	require.Len(t, notifier.notices, 1)
	assert.Equal(t, "0100", notifier.notices[0].Phone)

	_, err = ledger.Create(ctx, d.Pill.ID, "")
	require.ErrorIs(t, err, payment.ErrAlreadyPaid)
}

func TestPaymentStore_RequiresAddress(t *testing.T) {
	ctx := context.Background()
	s := seedCatalog(t, "noaddr")
	svc := newPillService()
	ledger := payment.NewLedger(NewPaymentStore(testPool), &recordingNotifier{})

	d, err := svc.Create(ctx, nil, []pill.Item{{ProductID: s.hat.ID, Quantity: 1}})
	require.NoError(t, err)

	_, err = ledger.Create(ctx, d.Pill.ID, "")
	require.ErrorIs(t, err, payment.ErrAddressRequired)

	got, err := svc.Get(ctx, d.Pill.ID)
	require.NoError(t, err)
	assert.False(t, got.Pill.Paid)
	assert.Equal(t, pill.StatusInitiated, got.Pill.Status)
}

func TestPillStore_NumberUnique(t *testing.T) {
	ctx := context.Background()
	store := NewPillStore(testPool)

	first := &pill.Pill{Number: "990000000001", Status: pill.StatusInitiated}
	require.NoError(t, store.Create(ctx, first))

	dup := &pill.Pill{Number: "990000000001", Status: pill.StatusInitiated}
	require.ErrorIs(t, store.Create(ctx, dup), pill.ErrNumberTaken)

	numbers, err := store.Numbers(ctx)
	require.NoError(t, err)
	assert.Contains(t, numbers, "990000000001")
}

func TestCouponStore_Import(t *testing.T) {
	ctx := context.Background()
	store := NewCouponStore(testPool)
	now := time.Now()

	batch := []coupon.Coupon{
		{Code: "IMP-1", Percent: decimal.NewFromInt(5), ValidFrom: now, ValidUntil: now.Add(time.Hour), RemainingUses: 1},
		{Code: "IMP-2", Percent: decimal.RequireFromString("7.25"), ValidFrom: now, ValidUntil: now.Add(time.Hour), RemainingUses: 1},
	}
	n, err := store.Import(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.NoError(t, store.Atomic(ctx, func(ctx context.Context, tx coupon.Tx) error {
		c, err := tx.FindByCode(ctx, "IMP-2")
		require.NoError(t, err)
		assert.True(t, decimal.RequireFromString("7.25").Equal(c.Percent), c.Percent.String())
		return nil
	}))

	n, err = store.Import(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}
