package main

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/pillshop/internal/domain/coupon"
)

const dateLayout = "2006-01-02"

// importer bulk-loads coupons, skipping codes that already exist.
type importer interface {
	Import(ctx context.Context, coupons []coupon.Coupon) (int64, error)
}

// Stats summarizes one ingest run.
type Stats struct {
	Rows       uint64
	Malformed  uint64
	Candidates int
	Inserted   int64
}

// winner is the row kept for a code seen in more than one file: the one
// from the lowest file index.
type winner struct {
	file int
	row  coupon.Coupon
}

// ingester streams gzip CSV coupon files into the store. Codes are deduped
// across files with one bloom filter per file: a code absent from every
// other filter is unique and imported straight away, the rest are resolved
// exactly before a final import.
type ingester struct {
	lg        *zap.Logger
	store     importer
	batchSize int
	capacity  uint
	fpr       float64

	rows      atomic.Uint64
	malformed atomic.Uint64
	inserted  atomic.Int64

	mu      sync.Mutex
	winners map[string]winner
}

func newIngester(lg *zap.Logger, store importer, batchSize int, capacity uint, fpr float64) *ingester {
	if batchSize <= 0 {
		batchSize = 5_000
	}
	return &ingester{
		lg:        lg,
		store:     store,
		batchSize: batchSize,
		capacity:  capacity,
		fpr:       fpr,
		winners:   make(map[string]winner),
	}
}

func (in *ingester) Run(ctx context.Context, files []string) (Stats, error) {
	in.lg.Info("Pass 1: building bloom filters", zap.Int("files", len(files)))
	filters, err := in.buildFilters(ctx, files)
	if err != nil {
		return Stats{}, errors.Wrap(err, "build bloom filters")
	}

	in.lg.Info("Pass 2: importing unique codes")
	g, gctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			if err := in.importFile(gctx, i, path, filters); err != nil {
				return errors.Wrapf(err, "import %s", path)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Stats{}, err
	}

	rows := make([]coupon.Coupon, 0, len(in.winners))
	for _, w := range in.winners {
		rows = append(rows, w.row)
	}
	in.lg.Info("Importing cross-file codes", zap.Int("count", len(rows)))
	for start := 0; start < len(rows); start += in.batchSize {
		end := min(start+in.batchSize, len(rows))
		if err := in.flush(ctx, rows[start:end]); err != nil {
			return Stats{}, err
		}
	}

	return Stats{
		Rows:       in.rows.Load(),
		Malformed:  in.malformed.Load(),
		Candidates: len(in.winners),
		Inserted:   in.inserted.Load(),
	}, nil
}

func (in *ingester) buildFilters(ctx context.Context, files []string) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(in.capacity, in.fpr)
			var count int
			err := streamFile(ctx, path, func(c coupon.Coupon) error {
				filter.AddString(c.Code)
				count++
				return nil
			}, nil)
			if err != nil {
				return errors.Wrapf(err, "scan %s", path)
			}
			in.lg.Info("Filter built", zap.String("file", path), zap.Int("codes", count))
			filters[i] = filter
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filters, nil
}

func (in *ingester) importFile(ctx context.Context, idx int, path string, filters []*bloom.BloomFilter) error {
	batch := make([]coupon.Coupon, 0, in.batchSize)
	err := streamFile(ctx, path, func(c coupon.Coupon) error {
		in.rows.Add(1)
		if seenElsewhere(c.Code, idx, filters) {
			in.keep(idx, c)
			return nil
		}
		batch = append(batch, c)
		if len(batch) < in.batchSize {
			return nil
		}
		err := in.flush(ctx, batch)
		batch = batch[:0]
		return err
	}, func(row int, err error) {
		in.malformed.Add(1)
		in.lg.Warn("Skipping malformed row",
			zap.String("file", path),
			zap.Int("row", row),
			zap.Error(err),
		)
	})
	if err != nil {
		return err
	}
	return in.flush(ctx, batch)
}

func seenElsewhere(code string, idx int, filters []*bloom.BloomFilter) bool {
	for j, f := range filters {
		if j != idx && f.TestString(code) {
			return true
		}
	}
	return false
}

func (in *ingester) keep(idx int, c coupon.Coupon) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if w, ok := in.winners[c.Code]; ok && w.file <= idx {
		return
	}
	in.winners[c.Code] = winner{file: idx, row: c}
}

func (in *ingester) flush(ctx context.Context, batch []coupon.Coupon) error {
	if len(batch) == 0 {
		return nil
	}
	n, err := in.store.Import(ctx, batch)
	if err != nil {
		return errors.Wrap(err, "import batch")
	}
	in.inserted.Add(n)
	return nil
}

// streamFile decodes a gzip CSV file of code,percent,valid_from,valid_until,uses
// rows and calls fn for each valid coupon. An optional header row is skipped.
// Rows that fail to parse go to bad when it is set.
func streamFile(ctx context.Context, path string, fn func(coupon.Coupon) error, bad func(row int, err error)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	r := csv.NewReader(gz)
	r.FieldsPerRecord = -1
	r.ReuseRecord = true
	r.TrimLeadingSpace = true

	for row := 1; ; row++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				if bad != nil {
					bad(row, err)
				}
				continue
			}
			return errors.Wrapf(err, "read %s", path)
		}
		if row == 1 && strings.EqualFold(record[0], "code") {
			continue
		}
		c, err := parseRecord(record)
		if err != nil {
			if bad != nil {
				bad(row, err)
			}
			continue
		}
		if err := fn(c); err != nil {
			return err
		}
	}
}

func parseRecord(record []string) (coupon.Coupon, error) {
	if len(record) != 5 {
		return coupon.Coupon{}, errors.Errorf("expected 5 fields, got %d", len(record))
	}
	percent, err := decimal.NewFromString(strings.TrimSpace(record[1]))
	if err != nil {
		return coupon.Coupon{}, errors.Wrap(err, "percent")
	}
	from, err := parseTime(record[2], false)
	if err != nil {
		return coupon.Coupon{}, errors.Wrap(err, "valid_from")
	}
	until, err := parseTime(record[3], true)
	if err != nil {
		return coupon.Coupon{}, errors.Wrap(err, "valid_until")
	}
	uses, err := strconv.Atoi(record[4])
	if err != nil {
		return coupon.Coupon{}, errors.Wrap(err, "uses")
	}

	c := coupon.Coupon{
		Code:          strings.TrimSpace(record[0]),
		Percent:       percent,
		ValidFrom:     from,
		ValidUntil:    until,
		RemainingUses: uses,
	}
	if err := c.Validate(); err != nil {
		return coupon.Coupon{}, err
	}
	return c, nil
}

// parseTime accepts RFC 3339 timestamps or bare UTC dates. A bare date used
// as an upper bound covers the whole day.
func parseTime(s string, endOfDay bool) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Second)
	}
	return t, nil
}
