package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/pillshop/internal/domain/auth"
	"github.com/xenking/pillshop/internal/domain/coupon"
	"github.com/xenking/pillshop/internal/domain/payment"
	"github.com/xenking/pillshop/internal/domain/pill"
	"github.com/xenking/pillshop/internal/domain/pricing"
	"github.com/xenking/pillshop/internal/domain/shipping"
	"github.com/xenking/pillshop/internal/handler"
	"github.com/xenking/pillshop/internal/notify"
	"github.com/xenking/pillshop/internal/storage/postgres"
	redisstore "github.com/xenking/pillshop/internal/storage/redis"
	"github.com/xenking/pillshop/pkg/health"
	"github.com/xenking/pillshop/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server and the notification
// pipeline, and handles graceful shutdown. It is the single wiring point for
// the API process.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	shippingStore := postgres.NewShippingStore(pool)
	var rates shipping.Repository = shippingStore
	if cfg.Redis.Addr != "" {
		client, err := redisstore.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return errors.Wrap(err, "connect redis")
		}
		defer func() { _ = client.Close() }()

		rates = redisstore.NewShippingCache(client, shippingStore, cfg.Redis.TTL)
		healthSvc.AddReadinessCheck("redis", time.Second, health.ErrCheck(func(ctx context.Context) *redis.StatusCmd {
			return client.Ping(ctx)
		}))
		lg.Info("Shipping cache enabled", zap.String("redis", cfg.Redis.Addr))
	}

	g, gctx := errgroup.WithContext(ctx)

	// The queue is stopped after server shutdown, not with gctx.
	queueCtx, stopQueue := context.WithCancel(context.WithoutCancel(ctx))
	defer stopQueue()

	var notifier payment.Notifier
	if cfg.Kafka.Enabled() {
		publisher := notify.NewPublisher(cfg.Kafka)
		defer func() { _ = publisher.Close() }()
		notifier = publisher
		lg.Info("Notifications go to kafka", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	} else {
		queue := notify.NewQueue(
			notify.NewDeliverer(cfg.Notify.Sender(), cfg.Notify.Retry),
			cfg.Notify.QueueSize,
			cfg.Notify.Workers,
		)
		g.Go(func() error { return queue.Run(queueCtx) })
		notifier = queue
		lg.Info("Notifications use in-process queue", zap.Int("workers", cfg.Notify.Workers))
	}

	e, err := buildAPI(gctx, lg, m.MeterProvider(), cfg, pool, rates, notifier)
	if err != nil {
		return err
	}
	healthSvc.Register(e)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: otelhttp.NewHandler(e, "pill-api",
			otelhttp.WithTracerProvider(m.TracerProvider()),
			otelhttp.WithMeterProvider(m.MeterProvider()),
		),
	}

	lg.Info("Health checks registered",
		zap.Strings("liveness", healthSvc.Names(health.Liveness)),
		zap.Strings("readiness", healthSvc.Names(health.Readiness)),
	)
	healthSvc.Start(gctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	g.Go(func() error {
		<-gctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		stopQueue()
		healthSvc.Stop()
		return nil
	})
	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	return g.Wait()
}

// buildAPI wires the domain services over pool and mounts them under /api.
func buildAPI(
	ctx context.Context,
	lg *zap.Logger,
	mp metric.MeterProvider,
	cfg *Config,
	pool *pgxpool.Pool,
	rates shipping.Repository,
	notifier payment.Notifier,
) (*echo.Echo, error) {
	policy, err := pricing.ParsePolicy(cfg.Pricing.DiscountPolicy)
	if err != nil {
		return nil, errors.Wrap(err, "discount policy")
	}
	engine := pricing.NewEngine(postgres.NewCatalogStore(pool), pricing.NewResolver(policy))
	lookup := shipping.NewLookup(rates)
	coupons := coupon.NewLedger(postgres.NewCouponStore(pool))
	pills := pill.NewService(
		postgres.NewPillStore(pool),
		engine,
		coupons,
		lookup,
		pill.NewNumberGenerator(),
	)
	if err := pills.WarmNumbers(ctx); err != nil {
		return nil, errors.Wrap(err, "warm pill numbers")
	}

	h := handler.New(handler.Deps{
		Pills:    pills,
		Payments: payment.NewLedger(postgres.NewPaymentStore(pool), notifier),
		Coupons:  coupons,
		Prices:   engine,
		Shipping: lookup,
		Tokens:   auth.NewTokens([]byte(cfg.JWTSecret)),
	})

	e, err := newEcho(ctx, lg, mp, cfg)
	if err != nil {
		return nil, err
	}
	h.Register(e.Group("/api"))
	return e, nil
}

func newEcho(ctx context.Context, lg *zap.Logger, mp metric.MeterProvider, cfg *Config) (*echo.Echo, error) {
	instrument, err := httpmiddleware.Instrument(mp.Meter("pillshop/http"))
	if err != nil {
		return nil, errors.Wrap(err, "instrument")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(
		httpmiddleware.Recovery(),
		middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins:     cfg.CORS.Origins,
			AllowHeaders:     []string{echo.HeaderContentType, echo.HeaderAuthorization, httpmiddleware.HeaderRequestID},
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           86400,
		}),
		httpmiddleware.RateLimit(ctx, httpmiddleware.RateLimitConfig{
			Max:    cfg.RateLimit.Max,
			Window: cfg.RateLimit.Window,
		}),
		httpmiddleware.RequestID(lg),
		httpmiddleware.LogRequests(),
		instrument,
	)
	e.RouteNotFound("/*", handler.NotFound)
	return e, nil
}
