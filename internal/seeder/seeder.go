package seeder

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/orderpipe/internal/entity"
	"github.com/Additional-Code/orderpipe/pkg/errorbank"
)

// Module provides the seeder to Fx.
var Module = fx.Provide(New)

const timestampLayout = "2006-01-02 15:04:05"

// Header is the Olist orders header written by the seeder.
var Header = []string{
	entity.ColumnOrderID,
	"customer_id",
	entity.ColumnOrderStatus,
	entity.ColumnPurchaseTime,
	"order_approved_at",
	"order_delivered_carrier_date",
	entity.ColumnDeliveredTime,
	"order_estimated_delivery_date",
}

var otherStatuses = []string{"shipped", "canceled", "unavailable", "invoiced", "processing", "created", "approved"}

// Options controls the shape of a generated dataset. Rates are in [0,1].
type Options struct {
	Rows                int
	Seed                int64
	DeliveredRate       float64
	DuplicateRate       float64
	MissingDeliveryRate float64
	BadTimestampRate    float64
	NegativeRate        float64
	Start               time.Time
}

// DefaultOptions resembles the public Olist dataset.
func DefaultOptions() Options {
	return Options{
		Rows:                1000,
		Seed:                1,
		DeliveredRate:       0.9,
		DuplicateRate:       0.02,
		MissingDeliveryRate: 0.01,
		BadTimestampRate:    0.005,
		NegativeRate:        0.002,
		Start:               time.Date(2017, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// Result counts what was generated.
type Result struct {
	Rows            int `json:"rows"`
	Duplicates      int `json:"duplicates"`
	MissingDelivery int `json:"missing_delivery"`
	BadTimestamps   int `json:"bad_timestamps"`
	Negative        int `json:"negative"`
}

// Seeder generates synthetic order datasets for local runs and tests.
type Seeder struct {
	logger *zap.Logger
}

// New constructs a Seeder.
func New(logger *zap.Logger) *Seeder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Seeder{logger: logger}
}

// Orders writes a generated dataset to path, creating parent directories.
func (s *Seeder) Orders(ctx context.Context, path string, opts Options) (Result, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Result{}, errorbank.Sink("create seed directory", errorbank.WithCause(err), errorbank.WithDetail("path", path))
	}
	f, err := os.Create(path)
	if err != nil {
		return Result{}, errorbank.Sink("create seed file", errorbank.WithCause(err), errorbank.WithDetail("path", path))
	}
	defer f.Close()

	res, err := Generate(ctx, f, opts)
	if err != nil {
		return res, err
	}
	if err := f.Close(); err != nil {
		return res, errorbank.Sink("close seed file", errorbank.WithCause(err), errorbank.WithDetail("path", path))
	}

	s.logger.Info("seeded orders",
		zap.String("path", path),
		zap.Int("count", res.Rows),
		zap.Int("duplicates", res.Duplicates),
		zap.Int("missing_delivery", res.MissingDelivery),
		zap.Int("bad_timestamps", res.BadTimestamps),
	)
	return res, nil
}

// Generate writes a deterministic dataset for opts.Seed to w.
func Generate(ctx context.Context, w io.Writer, opts Options) (Result, error) {
	if opts.Rows < 0 {
		return Result{}, errorbank.BadRequest("rows must not be negative", errorbank.WithDetail("rows", opts.Rows))
	}
	if opts.Start.IsZero() {
		opts.Start = DefaultOptions().Start
	}
	rng := rand.New(rand.NewSource(opts.Seed))
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return Result{}, errorbank.Sink("write seed header", errorbank.WithCause(err))
	}

	var (
		res     Result
		history [][]string
	)
	for i := 0; i < opts.Rows; i++ {
		if i%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return res, err
			}
		}

		var record []string
		if len(history) > 0 && rng.Float64() < opts.DuplicateRate {
			record = append([]string(nil), history[rng.Intn(len(history))]...)
			res.Duplicates++
		} else {
			r, err := row(rng, opts, &res)
			if err != nil {
				return res, err
			}
			record = r
			history = append(history, record)
		}

		if err := cw.Write(record); err != nil {
			return res, errorbank.Sink("write seed row", errorbank.WithCause(err))
		}
		res.Rows++
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return res, errorbank.Sink("flush seed rows", errorbank.WithCause(err))
	}
	return res, nil
}

func row(rng *rand.Rand, opts Options, res *Result) ([]string, error) {
	orderID, err := hexID(rng)
	if err != nil {
		return nil, err
	}
	customerID, err := hexID(rng)
	if err != nil {
		return nil, err
	}

	purchased := opts.Start.Add(time.Duration(rng.Int63n(int64(2 * 365 * 24 * time.Hour)))).Truncate(time.Second)
	approved := purchased.Add(time.Duration(rng.Int63n(int64(48 * time.Hour)))).Truncate(time.Second)
	carrier := approved.Add(time.Duration(24+rng.Intn(96)) * time.Hour)
	estimated := purchased.Add(time.Duration(10+rng.Intn(30)) * 24 * time.Hour)

	status := "delivered"
	if rng.Float64() >= opts.DeliveredRate {
		status = otherStatuses[rng.Intn(len(otherStatuses))]
	}

	purchaseField := purchased.Format(timestampLayout)
	deliveredField := ""
	if status == "delivered" {
		delivered := carrier.Add(time.Duration(rng.Int63n(int64(20 * 24 * time.Hour)))).Truncate(time.Second)
		switch {
		case rng.Float64() < opts.MissingDeliveryRate:
			res.MissingDelivery++
		case rng.Float64() < opts.NegativeRate:
			delivered = purchased.Add(-time.Duration(1+rng.Intn(72)) * time.Hour)
			deliveredField = delivered.Format(timestampLayout)
			res.Negative++
		default:
			deliveredField = delivered.Format(timestampLayout)
		}
		if rng.Float64() < opts.BadTimestampRate {
			purchaseField = "not-a-date"
			res.BadTimestamps++
		}
	}

	return []string{
		orderID,
		customerID,
		status,
		purchaseField,
		approved.Format(timestampLayout),
		carrier.Format(timestampLayout),
		deliveredField,
		estimated.Format("2006-01-02") + " 00:00:00",
	}, nil
}

// hexID renders a random UUID the way Olist stores ids: 32 hex characters.
func hexID(rng *rand.Rand) (string, error) {
	id, err := uuid.NewRandomFromReader(rng)
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return strings.ReplaceAll(id.String(), "-", ""), nil
}
