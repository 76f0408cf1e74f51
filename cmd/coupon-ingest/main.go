package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"sort"

	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/xenking/pillshop/internal/storage/postgres"
)

const (
	bloomCapacity = 10_000_000
	bloomFPR      = 0.001
)

func main() {
	var (
		dataDir     string
		databaseURL string
		batchSize   int
	)

	_ = godotenv.Load()

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing *.csv.gz coupon files")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or PILL_DATABASE_URL env)")
	flag.IntVar(&batchSize, "batch-size", 5_000, "coupons per COPY batch")
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

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, dataDir, databaseURL, batchSize); err != nil {
		lg.Fatal("Coupon ingest failed", zap.Error(err))
	}
}

func run(ctx context.Context, lg *zap.Logger, dataDir, databaseURL string, batchSize int) error {
	files, err := filepath.Glob(filepath.Join(dataDir, "*.csv.gz"))
	if err != nil {
		return errors.Wrap(err, "list coupon files")
	}
	if len(files) == 0 {
		return errors.Errorf("no *.csv.gz files in %s", dataDir)
	}
	sort.Strings(files)

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	in := newIngester(lg, postgres.NewCouponStore(pool), batchSize, bloomCapacity, bloomFPR)
	stats, err := in.Run(ctx, files)
	if err != nil {
		return err
	}

	lg.Info("Coupon ingest completed",
		zap.Int("files", len(files)),
		zap.Uint64("rows", stats.Rows),
		zap.Uint64("malformed", stats.Malformed),
		zap.Int("cross_file_codes", stats.Candidates),
		zap.Int64("inserted", stats.Inserted),
	)
	return nil
}
