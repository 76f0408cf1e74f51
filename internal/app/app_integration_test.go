//go:build integration

package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/xenking/pillshop/internal/domain/auth"
	"github.com/xenking/pillshop/internal/domain/catalog"
	"github.com/xenking/pillshop/internal/domain/coupon"
	"github.com/xenking/pillshop/internal/domain/payment"
	"github.com/xenking/pillshop/internal/domain/pill"
	"github.com/xenking/pillshop/internal/domain/shipping"
	"github.com/xenking/pillshop/internal/storage/postgres"
)

const testSecret = "integration-secret"

var (
	baseURL  string
	notices  = &recordingNotifier{}
	tokens   = auth.NewTokens([]byte(testSecret))
	client   = &http.Client{Timeout: 10 * time.Second}
	testPool *pgxpool.Pool
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []payment.Notice
}

func (r *recordingNotifier) PaymentApproved(_ context.Context, n payment.Notice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

func (r *recordingNotifier) all() []payment.Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]payment.Notice(nil), r.sent...)
}

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithCancel(context.Background())
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

	testPool, err = postgres.NewPool(ctx, fmt.Sprintf("postgres://pill:pill@%s:%s/pill?sslmode=disable", host, port.Port()))
	if err != nil {
		log.Fatalf("pool: %v", err)
	}
	defer testPool.Close()

	if err := postgres.RunMigrations(ctx, testPool); err != nil {
		log.Fatalf("migrations: %v", err)
	}
	if err := seed(ctx, testPool); err != nil {
		log.Fatalf("seed: %v", err)
	}

	cfg := &Config{
		JWTSecret: testSecret,
		Pricing:   PricingConfig{DiscountPolicy: "last"},
		RateLimit: RateLimitConfig{Max: 10_000, Window: time.Minute},
		CORS:      CORSConfig{Origins: []string{"*"}},
	}
	e, err := buildAPI(ctx, zap.NewNop(), noop.NewMeterProvider(), cfg, testPool, postgres.NewShippingStore(testPool), notices)
	if err != nil {
		log.Fatalf("build api: %v", err)
	}

	srv := httptest.NewServer(e)
	defer srv.Close()
	baseURL = srv.URL + "/api"

	return m.Run()
}

func seed(ctx context.Context, pool *pgxpool.Pool) error {
	catalogs := postgres.NewCatalogStore(pool)
	category, err := catalogs.UpsertCategory(ctx, "Shirts")
	if err != nil {
		return err
	}
	if err := catalogs.UpsertProduct(ctx, catalog.Product{
		ID: 1, Name: "Oxford Shirt", CategoryID: &category, Price: decimal.NewFromInt(100),
	}); err != nil {
		return err
	}
	now := time.Now()
	discount, err := catalog.NewDiscount(0, catalog.ProductTarget(1), 20, now.Add(-time.Hour), now.Add(24*time.Hour))
	if err != nil {
		return err
	}
	if _, err := catalogs.InsertDiscount(ctx, discount); err != nil {
		return err
	}

	if err := postgres.NewShippingStore(pool).Upsert(ctx, shipping.Rate{
		Region: "1", Name: "Cairo", Fee: decimal.NewFromInt(20),
	}); err != nil {
		return err
	}

	_, err = coupon.NewLedger(postgres.NewCouponStore(pool)).Issue(ctx, coupon.IssueRequest{
		Code:       "E2E-10",
		Percent:    decimal.NewFromInt(10),
		ValidUntil: now.Add(24 * time.Hour),
		Uses:       5,
	})
	return err
}

func token(t *testing.T, p auth.Principal) string {
	t.Helper()
	raw, err := tokens.Issue(p, time.Hour)
	require.NoError(t, err)
	return raw
}

func do(t *testing.T, method, path, bearer string, body any, out any) int {
	t.Helper()

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequest(method, baseURL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

type pillResponse struct {
	ID                       int64  `json:"id"`
	Number                   string `json:"number"`
	Status                   string `json:"status"`
	Paid                     bool   `json:"paid"`
	PriceWithoutCoupons      string `json:"price_without_coupons"`
	CouponDiscount           string `json:"coupon_discount"`
	PriceAfterCouponDiscount string `json:"price_after_coupon_discount"`
	ShippingPrice            string `json:"shipping_price"`
	FinalPrice               string `json:"final_price"`
}

type errorResponse struct {
	Code  int    `json:"code"`
	Error string `json:"error"`
}

func TestCatalogEndpoints(t *testing.T) {
	var product struct {
		Price           string `json:"price"`
		DiscountedPrice string `json:"discounted_price"`
		HasDiscount     bool   `json:"has_discount"`
	}
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, "/products/1", "", nil, &product))
	assert.Equal(t, "100.00", product.Price)
	assert.Equal(t, "80.00", product.DiscountedPrice)
	assert.True(t, product.HasDiscount)

	var missing errorResponse
	require.Equal(t, http.StatusNotFound, do(t, http.MethodGet, "/products/999", "", nil, &missing))
	assert.Equal(t, "not_found", missing.Error)

	var rates []struct {
		Region string `json:"region"`
		Fee    string `json:"fee"`
	}
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, "/shipping", "", nil, &rates))
	require.NotEmpty(t, rates)
	assert.Equal(t, "1", rates[0].Region)
	assert.Equal(t, "20.00", rates[0].Fee)
}

func TestPillCheckoutFlow(t *testing.T) {
	var (
		owner = token(t, auth.Principal{UserID: 42, Role: auth.RoleUser})
		other = token(t, auth.Principal{UserID: 7, Role: auth.RoleUser})
		admin = token(t, auth.Principal{UserID: 1, Role: auth.RoleAdmin})
	)

	var p pillResponse
	status := do(t, http.MethodPost, "/pills", owner, map[string]any{
		"items": []map[string]any{{"product": 1, "quantity": 2, "size": "m"}},
	}, &p)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "initiated", p.Status)
	assert.Len(t, p.Number, pill.NumberLength)
	assert.Equal(t, "160.00", p.PriceWithoutCoupons)
	assert.Equal(t, "160.00", p.FinalPrice)

	pillPath := fmt.Sprintf("/pills/%d", p.ID)

	t.Run("access control", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, do(t, http.MethodGet, pillPath, "", nil, nil))
		assert.Equal(t, http.StatusForbidden, do(t, http.MethodGet, pillPath, other, nil, nil))
		assert.Equal(t, http.StatusOK, do(t, http.MethodGet, pillPath, admin, nil, nil))
		assert.Equal(t, http.StatusUnauthorized, do(t, http.MethodGet, pillPath, "garbage", nil, nil))
	})

	var quote pillResponse
	require.Equal(t, http.StatusOK, do(t, http.MethodPatch, pillPath+"/coupon", owner, map[string]string{"coupon": "E2E-10"}, &quote))
	assert.Equal(t, "16.00", quote.CouponDiscount)
	assert.Equal(t, "144.00", quote.PriceAfterCouponDiscount)

	var again errorResponse
	require.Equal(t, http.StatusBadRequest, do(t, http.MethodPatch, pillPath+"/coupon", owner, map[string]string{"coupon": "E2E-10"}, &again))
	assert.Equal(t, "coupon_already_applied", again.Error)

	require.Equal(t, http.StatusOK, do(t, http.MethodPost, pillPath+"/address", owner, map[string]string{
		"name":    "Mona",
		"phone":   "+201000000000",
		"address": "12 Nile St",
		"region":  "1",
	}, &p))
	assert.Equal(t, "waiting", p.Status)
	assert.Equal(t, "20.00", p.ShippingPrice)
	assert.Equal(t, "164.00", p.FinalPrice)

	var req struct {
		ID      int64 `json:"id"`
		Applied bool  `json:"is_applied"`
	}
	require.Equal(t, http.StatusCreated, do(t, http.MethodPost, "/pay-requests", owner, map[string]any{"pill": p.ID}, &req))
	assert.False(t, req.Applied)

	applyPath := fmt.Sprintf("/pay-requests/%d/apply", req.ID)
	assert.Equal(t, http.StatusForbidden, do(t, http.MethodPost, applyPath, owner, nil, nil))

	require.Equal(t, http.StatusOK, do(t, http.MethodPost, applyPath, admin, nil, &p))
	assert.True(t, p.Paid)
	assert.Equal(t, "paid", p.Status)

	var dup errorResponse
	require.Equal(t, http.StatusBadRequest, do(t, http.MethodPost, applyPath, admin, nil, &dup))
	assert.Equal(t, "already_applied", dup.Error)

	sent := notices.all()
	require.Len(t, sent, 1)
	assert.Equal(t, p.ID, sent[0].PillID)
	assert.Equal(t, "+201000000000", sent[0].Phone)

	var locked errorResponse
	require.Equal(t, http.StatusBadRequest, do(t, http.MethodPut, pillPath+"/address", owner, map[string]string{
		"name": "Mona", "phone": "+201000000000", "address": "elsewhere", "region": "1",
	}, &locked))
	assert.Equal(t, "address_locked", locked.Error)

	require.Equal(t, http.StatusOK, do(t, http.MethodPatch, pillPath+"/status", admin, map[string]string{"status": "under_delivery"}, &p))
	assert.Equal(t, "under_delivery", p.Status)

	var list []pillResponse
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, "/pills", owner, nil, &list))
	require.NotEmpty(t, list)
	assert.Equal(t, p.ID, list[0].ID)
}

func TestUnknownRoute(t *testing.T) {
	var resp errorResponse
	require.Equal(t, http.StatusNotFound, do(t, http.MethodGet, "/nope", "", nil, &resp))
	assert.Equal(t, http.StatusNotFound, resp.Code)
}
