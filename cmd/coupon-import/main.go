// Command coupon-import bulk-loads promotional coupon codes from
// gzip-compressed code dumps. A code is accepted only when it appears in at
// least two of the supplied files; every accepted code gets the same rule
// template given on the command line.
package main

import (
	"bufio"
	"context"
	"flag"
	"log/slog"
	"math/bits"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/veleda/stemshop/internal/domain/coupon"
	"github.com/veleda/stemshop/internal/repository"
)

const (
	bloomCapacity = 120_000_000
	bloomFPR      = 0.001
	progressEvery = 10_000_000
	minCodeLen    = 8
	maxCodeLen    = 10
	writeBatch    = 500
)

// ruleTemplate is the coupon rule applied to every imported code.
type ruleTemplate struct {
	typ         coupon.Type
	value       decimal.Decimal
	maxDiscount decimal.Decimal
	minOrder    decimal.Decimal
	perUser     int
}

// fileResult holds candidate codes found in a single file during pass 2.
type fileResult struct {
	candidates map[string]uint
}

func main() {
	var (
		dataGlob    string
		databaseURL string
		typ         string
		value       string
		maxDiscount string
		minOrder    string
		perUser     int
	)

	flag.StringVar(&dataGlob, "data-glob", "data/codes*.gz", "glob of gzip code dump files")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&typ, "type", "PERCENTAGE", "coupon type: PERCENTAGE or FIXED_AMOUNT")
	flag.StringVar(&value, "value", "10", "discount value (percent or amount)")
	flag.StringVar(&maxDiscount, "max-discount", "0", "discount cap for percentage coupons, 0 for none")
	flag.StringVar(&minOrder, "min-order", "0", "minimum order subtotal, 0 for none")
	flag.IntVar(&perUser, "per-user", 1, "max uses per user, 0 for unlimited")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	tmpl, err := parseTemplate(typ, value, maxDiscount, minOrder, perUser)
	if err != nil {
		slog.Error("invalid rule template", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, dataGlob, databaseURL, tmpl); err != nil {
		slog.Error("coupon import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("coupon import completed successfully")
}

func parseTemplate(typ, value, maxDiscount, minOrder string, perUser int) (ruleTemplate, error) {
	t := coupon.Type(typ)
	if t != coupon.TypePercentage && t != coupon.TypeFixedAmount {
		return ruleTemplate{}, errors.Errorf("unknown coupon type %q", typ)
	}

	v, err := decimal.NewFromString(value)
	if err != nil || !v.IsPositive() {
		return ruleTemplate{}, errors.Errorf("value %q must be a positive decimal", value)
	}
	maxD, err := decimal.NewFromString(maxDiscount)
	if err != nil || maxD.IsNegative() {
		return ruleTemplate{}, errors.Errorf("max-discount %q must be a non-negative decimal", maxDiscount)
	}
	minO, err := decimal.NewFromString(minOrder)
	if err != nil || minO.IsNegative() {
		return ruleTemplate{}, errors.Errorf("min-order %q must be a non-negative decimal", minOrder)
	}

	return ruleTemplate{typ: t, value: v, maxDiscount: maxD, minOrder: minO, perUser: perUser}, nil
}

func run(ctx context.Context, dataGlob, databaseURL string, tmpl ruleTemplate) error {
	files, err := filepath.Glob(dataGlob)
	if err != nil {
		return errors.Wrapf(err, "expand glob %q", dataGlob)
	}
	if len(files) < 2 {
		return errors.Errorf("need at least 2 code files to cross-check, glob %q matched %d", dataGlob, len(files))
	}

	// Pass 1: build one bloom filter per file, concurrently.
	slog.Info("pass 1: building bloom filters", slog.Int("files", len(files)))

	filters, err := buildBloomFilters(ctx, files)
	if err != nil {
		return errors.Wrap(err, "build bloom filters")
	}

	// Pass 2: find codes appearing in 2+ files.
	slog.Info("pass 2: finding candidate codes")

	validCodes, err := findValidCodes(ctx, files, filters)
	if err != nil {
		return errors.Wrap(err, "find valid codes")
	}

	slog.Info("valid codes found", slog.Int("count", len(validCodes)))

	if len(validCodes) == 0 {
		slog.Info("no valid codes to insert")
		return nil
	}

	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := writeCoupons(ctx, pool, validCodes, tmpl); err != nil {
		return errors.Wrap(err, "write coupons to database")
	}

	return nil
}

// buildBloomFilters creates one bloom filter per file, concurrently.
func buildBloomFilters(ctx context.Context, files []string) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(buildFilterForFile(ctx, i, f, filters))
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return filters, nil
}

func buildFilterForFile(ctx context.Context, idx int, path string, filters []*bloom.BloomFilter) func() error {
	return func() error {
		filter := bloom.NewWithEstimates(bloomCapacity, bloomFPR)
		var count uint64

		if err := streamGzFile(ctx, path, func(code string) {
			if len(code) >= minCodeLen && len(code) <= maxCodeLen {
				filter.AddString(code)
				count++
				if count%progressEvery == 0 {
					slog.Info("pass 1 progress",
						slog.Int("file", idx+1),
						slog.Uint64("codes", count),
					)
				}
			}
		}); err != nil {
			return errors.Wrapf(err, "build filter for file %d", idx+1)
		}

		slog.Info("pass 1 complete",
			slog.Int("file", idx+1),
			slog.Uint64("total_codes", count),
		)

		filters[idx] = filter
		return nil
	}
}

// findValidCodes re-streams each file and checks codes against the OTHER
// files' bloom filters. A code is valid when it appears in 2 or more files.
func findValidCodes(ctx context.Context, files []string, filters []*bloom.BloomFilter) ([]string, error) {
	results := make([]fileResult, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(findCandidatesInFile(ctx, i, f, filters, results))
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Merge per-file occurrence bitmasks.
	merged := make(map[string]uint)
	for _, r := range results {
		for code, mask := range r.candidates {
			merged[code] |= mask
		}
	}

	var valid []string
	for code, mask := range merged {
		if bits.OnesCount(mask) >= 2 {
			valid = append(valid, code)
		}
	}

	return valid, nil
}

func findCandidatesInFile(
	ctx context.Context,
	idx int,
	path string,
	filters []*bloom.BloomFilter,
	results []fileResult,
) func() error {
	return func() error {
		candidates := make(map[string]uint)
		fileBit := uint(1) << uint(idx)
		var count uint64

		if err := streamGzFile(ctx, path, func(code string) {
			if len(code) < minCodeLen || len(code) > maxCodeLen {
				return
			}

			count++
			if count%progressEvery == 0 {
				slog.Info("pass 2 progress",
					slog.Int("file", idx+1),
					slog.Uint64("codes", count),
				)
			}

			for j, f := range filters {
				if j == idx {
					continue
				}
				if f.TestString(code) {
					candidates[code] |= fileBit
					break
				}
			}
		}); err != nil {
			return errors.Wrapf(err, "scan file %d for candidates", idx+1)
		}

		slog.Info("pass 2 complete",
			slog.Int("file", idx+1),
			slog.Uint64("total_codes", count),
			slog.Int("candidates", len(candidates)),
		)

		results[idx] = fileResult{candidates: candidates}
		return nil
	}
}

// streamGzFile opens a gzip-compressed file and calls fn for each line.
func streamGzFile(ctx context.Context, path string, fn func(code string)) error {
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

	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		fn(scanner.Text())
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}

	return nil
}

const importCouponSQL = `INSERT INTO coupons
	(code, type, value, max_discount, min_order_value, max_uses_per_user, active)
	VALUES ($1, $2, $3, $4, $5, $6, TRUE)
	ON CONFLICT (code) DO UPDATE SET type = $2, value = $3, max_discount = $4,
		min_order_value = $5, max_uses_per_user = $6, active = TRUE`

// writeCoupons upserts all valid codes with the shared rule template, in
// batches to keep round trips down.
func writeCoupons(ctx context.Context, pool *pgxpool.Pool, codes []string, tmpl ruleTemplate) error {
	slog.Info("writing coupons to database", slog.Int("count", len(codes)))

	for start := 0; start < len(codes); start += writeBatch {
		end := min(start+writeBatch, len(codes))

		batch := &pgx.Batch{}
		for _, code := range codes[start:end] {
			batch.Queue(importCouponSQL,
				code, tmpl.typ, tmpl.value, tmpl.maxDiscount, tmpl.minOrder, tmpl.perUser,
			)
		}
		if err := pool.SendBatch(ctx, batch).Close(); err != nil {
			return errors.Wrapf(err, "write batch starting at %d", start)
		}

		slog.Info("write progress", slog.Int("written", end), slog.Int("total", len(codes)))
	}

	return nil
}
