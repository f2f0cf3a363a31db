// Command coupon-bulkload imports coupon definitions from gzipped JSON-Lines
// files into PostgreSQL. Files are scanned concurrently; codes already seen
// (in the database or earlier in the input) are skipped, using a bloom filter
// as a cheap prefilter in front of an exact set.
package main

import (
	"bufio"
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/google/uuid"
	"github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/coupon-rules-service/internal/domain/coupon"
	"github.com/xenking/coupon-rules-service/internal/storage/postgres"
)

const (
	bloomCapacity = 10_000_000
	bloomFPR      = 0.001
	progressEvery = 100_000
)

func main() {
	var databaseURL string
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	files := flag.Args()
	if len(files) == 0 {
		slog.Error("no input files: pass one or more .jsonl.gz paths")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, files, databaseURL); err != nil {
		slog.Error("coupon bulkload failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("coupon bulkload completed")
}

func run(ctx context.Context, files []string, databaseURL string) error {
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}
	repo := postgres.NewCouponRepository(pool)

	records := make(chan *coupon.Coupon, 1024)

	g, gctx := errgroup.WithContext(ctx)
	for _, file := range files {
		g.Go(func() error {
			return scanFile(gctx, file, records)
		})
	}
	go func() {
		// Close the channel once every scanner is done; the collector drains
		// it and the scan error, if any, surfaces from g.Wait below.
		_ = g.Wait()
		close(records)
	}()

	stats := collect(ctx, repo, records)
	if err := g.Wait(); err != nil {
		return errors.Wrap(err, "scan input files")
	}

	slog.Info("bulkload summary",
		slog.Int("created", stats.created),
		slog.Int("duplicates", stats.duplicates),
		slog.Int("invalid", stats.invalid),
	)
	return nil
}

type collectStats struct {
	created    int
	duplicates int
	invalid    int
}

// collect is the single writer: it owns the dedup state and inserts valid,
// first-seen coupons. A bloom hit alone is not proof of a duplicate (false
// positives), so hits are confirmed against an exact set.
func collect(ctx context.Context, repo *postgres.CouponRepository, records <-chan *coupon.Coupon) collectStats {
	filter := bloom.NewWithEstimates(bloomCapacity, bloomFPR)
	seen := make(map[string]struct{})
	var stats collectStats

	for c := range records {
		key := strings.ToUpper(c.Code)

		if filter.TestString(key) {
			if _, dup := seen[key]; dup {
				stats.duplicates++
				continue
			}
		}
		filter.AddString(key)
		seen[key] = struct{}{}

		if err := coupon.ValidateCoupon(c); err != nil {
			stats.invalid++
			slog.Warn("skipping invalid coupon", slog.String("code", c.Code), slog.String("error", err.Error()))
			continue
		}

		switch err := repo.Create(ctx, c); {
		case err == nil:
			stats.created++
		case errors.Is(err, coupon.ErrCodeExists):
			stats.duplicates++
		default:
			stats.invalid++
			slog.Warn("insert failed", slog.String("code", c.Code), slog.String("error", err.Error()))
		}

		if total := stats.created + stats.duplicates + stats.invalid; total%progressEvery == 0 {
			slog.Info("progress", slog.Int("processed", total))
		}
	}
	return stats
}

// scanFile reads one gzipped JSON-Lines file and sends decoded coupons on out.
func scanFile(ctx context.Context, path string, out chan<- *coupon.Coupon) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "gzip %s", path)
	}
	defer gz.Close()

	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 0, 1<<20), 1<<20)

	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		c, err := decodeCoupon(raw)
		if err != nil {
			return errors.Wrapf(err, "%s line %d", path, line)
		}

		select {
		case out <- c:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return errors.Wrapf(scanner.Err(), "read %s", path)
}

// decodeCoupon parses one JSON record of the form
//
//	{"code":"SAVE10","type":"cart-wise","details":{...},"expires_at":"...","repetition_limit":5}
//
// into a coupon with fresh id and timestamps.
func decodeCoupon(raw []byte) (*coupon.Coupon, error) {
	now := time.Now().UTC()
	c := &coupon.Coupon{
		ID:        uuid.New().String(),
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	var details *detailsRecord

	d := jx.DecodeBytes(raw)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "code":
			v, err := d.Str()
			c.Code = v
			return err
		case "type":
			v, err := d.Str()
			c.Type = coupon.Type(v)
			return err
		case "is_active":
			v, err := d.Bool()
			c.IsActive = v
			return err
		case "expires_at":
			v, err := d.Str()
			if err != nil {
				return err
			}
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return errors.Wrap(err, "expires_at")
			}
			c.ExpiresAt = t.UTC()
			return nil
		case "repetition_limit":
			v, err := d.Int()
			c.RepetitionLimit = v
			return err
		case "details":
			rec, err := decodeDetails(d)
			details = rec
			return err
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return nil, err
	}

	attachDetails(c, details)
	return c, nil
}

// detailsRecord accumulates whichever payload fields the record carries.
type detailsRecord struct {
	threshold       decimal.Decimal
	discount        decimal.Decimal
	productID       string
	buyProducts     []coupon.BxGyLine
	getProducts     []coupon.BxGyLine
	repetitionLimit int
}

func decodeDetails(d *jx.Decoder) (*detailsRecord, error) {
	rec := &detailsRecord{}
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "threshold":
			v, err := decodeDecimal(d)
			rec.threshold = v
			return err
		case "discount":
			v, err := decodeDecimal(d)
			rec.discount = v
			return err
		case "product_id":
			v, err := d.Str()
			rec.productID = v
			return err
		case "buy_products":
			lines, err := decodeLines(d)
			rec.buyProducts = lines
			return err
		case "get_products":
			lines, err := decodeLines(d)
			rec.getProducts = lines
			return err
		case "repetition_limit":
			v, err := d.Int()
			rec.repetitionLimit = v
			return err
		default:
			return d.Skip()
		}
	})
	return rec, err
}

func decodeLines(d *jx.Decoder) ([]coupon.BxGyLine, error) {
	var lines []coupon.BxGyLine
	err := d.Arr(func(d *jx.Decoder) error {
		var line coupon.BxGyLine
		err := d.Obj(func(d *jx.Decoder, key string) error {
			switch key {
			case "product_id":
				v, err := d.Str()
				line.ProductID = v
				return err
			case "quantity":
				v, err := d.Int()
				line.Quantity = v
				return err
			default:
				return d.Skip()
			}
		})
		lines = append(lines, line)
		return err
	})
	return lines, err
}

func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	num, err := d.Num()
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(strings.Trim(num.String(), `"`))
}

func attachDetails(c *coupon.Coupon, rec *detailsRecord) {
	if rec == nil {
		return
	}
	switch c.Type {
	case coupon.TypeCartWise:
		c.CartWise = &coupon.CartWiseDetails{
			Threshold:       rec.threshold,
			DiscountPercent: rec.discount,
		}
	case coupon.TypeProductWise:
		c.ProductWise = &coupon.ProductWiseDetails{
			ProductID:       rec.productID,
			DiscountPercent: rec.discount,
		}
	case coupon.TypeBxGy:
		c.BxGy = &coupon.BxGyDetails{
			BuyProducts:     rec.buyProducts,
			GetProducts:     rec.getProducts,
			RepetitionLimit: rec.repetitionLimit,
		}
	}
}
