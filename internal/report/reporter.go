package report

import (
	"time"

	"go.uber.org/zap"

	"github.com/Additional-Code/orderpipe/internal/entity"
	"github.com/Additional-Code/orderpipe/internal/metrics"
	"github.com/Additional-Code/orderpipe/pkg/errorbank"
)

// Stats counts rows at every stage boundary of one run.
type Stats struct {
	Loaded       int `json:"loaded"`
	Malformed    int `json:"malformed"`
	NotDelivered int `json:"not_delivered"`
	Duplicates   int `json:"duplicates"`
	Filtered     int `json:"filtered"`
	Derived      int `json:"derived"`
	Unavailable  int `json:"unavailable"`
	Negative     int `json:"negative"`
	Skipped      int `json:"skipped"`
	Written      int `json:"written"`
	Batches      int `json:"batches"`
}

// Reporter collects progress and row errors for a single run. It is not
// shared between runs or goroutines.
type Reporter struct {
	logger   *zap.Logger
	metrics  *metrics.Registry
	strategy string
	started  time.Time
	stats    Stats
}

// New creates a Reporter. reg may be nil.
func New(logger *zap.Logger, reg *metrics.Registry, strategy string) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{
		logger:   logger.With(zap.String("strategy", strategy)),
		metrics:  reg,
		strategy: strategy,
		started:  time.Now(),
	}
}

// Logger returns the run-scoped logger.
func (r *Reporter) Logger() *zap.Logger { return r.logger }

// Stats returns a copy of the current counters.
func (r *Reporter) Stats() Stats { return r.stats }

// Elapsed is the time since the reporter was created.
func (r *Reporter) Elapsed() time.Duration { return time.Since(r.started) }

func (r *Reporter) count(outcome string, n int) {
	if r.metrics == nil || n == 0 {
		return
	}
	r.metrics.Rows.WithLabelValues(r.strategy, outcome).Add(float64(n))
}

// Loaded records rows read from the source.
func (r *Reporter) Loaded(n int) {
	r.stats.Loaded += n
	r.count(metrics.OutcomeLoaded, n)
}

// Malformed records a row the loader could not use.
func (r *Reporter) Malformed(err error) {
	r.stats.Malformed++
	r.count(metrics.OutcomeMalformed, 1)
	r.rowError("skipping malformed row", err)
}

// NotDelivered records a row dropped for its status.
func (r *Reporter) NotDelivered(o entity.Order) {
	r.stats.NotDelivered++
	r.count(metrics.OutcomeNotDelivered, 1)
}

// Duplicate records a delivered row whose id was already kept.
func (r *Reporter) Duplicate(o entity.Order) {
	r.stats.Duplicates++
	r.count(metrics.OutcomeDuplicate, 1)
	r.logger.Debug("duplicate order dropped", zap.String("order_id", o.ID), zap.Int("line", o.Line))
}

// Kept records a row that survived the filter.
func (r *Reporter) Kept(n int) {
	r.stats.Filtered += n
}

// Derived records the outcome of delivery time derivation for one row.
func (r *Reporter) Derived(c entity.CleanOrder) {
	if c.DeliveryDays == nil {
		r.stats.Unavailable++
		r.count(metrics.OutcomeUnavailable, 1)
		return
	}
	r.stats.Derived++
	r.count(metrics.OutcomeDerived, 1)
	if r.metrics != nil {
		r.metrics.DeliveryDays.Observe(*c.DeliveryDays)
	}
	if *c.DeliveryDays < 0 {
		r.stats.Negative++
		r.count(metrics.OutcomeNegative, 1)
		r.logger.Debug("delivery precedes purchase",
			zap.String("order_id", c.ID),
			zap.Float64("delivery_time_days", *c.DeliveryDays),
		)
	}
}

// Skipped records a delivered row dropped for a bad purchase timestamp.
func (r *Reporter) Skipped(err error) {
	r.stats.Skipped++
	r.count(metrics.OutcomeSkipped, 1)
	r.rowError("skipping row with invalid purchase timestamp", err)
}

// Written records rows handed to the writer.
func (r *Reporter) Written(n int) {
	r.stats.Written += n
	r.count(metrics.OutcomeWritten, n)
}

// Batch records a processed input batch. seen is the number of distinct
// delivered order ids so far.
func (r *Reporter) Batch(index, in, out, seen int) {
	r.stats.Batches++
	if r.metrics != nil {
		r.metrics.Batches.WithLabelValues(r.strategy).Inc()
	}
	r.logger.Debug("processed chunk",
		zap.Int("chunk", index+1),
		zap.Int("rows_in", in),
		zap.Int("rows_out", out),
		zap.Int("seen_ids", seen),
	)
}

func (r *Reporter) rowError(msg string, err error) {
	fields := []zap.Field{zap.Error(err)}
	if appErr := errorbank.From(err); len(appErr.Details()) > 0 {
		fields = append(fields, zap.Any("details", appErr.Details()))
	}
	r.logger.Warn(msg, fields...)
}

// Summary logs the stage counts of a finished run.
func (r *Reporter) Summary(input, output string) {
	s := r.stats
	r.logger.Info("loaded rows", zap.String("input", input), zap.Int("rows", s.Loaded), zap.Int("malformed", s.Malformed))
	r.logger.Info("cleaned data",
		zap.Int("rows", s.Filtered),
		zap.Int("removed", s.NotDelivered+s.Duplicates),
		zap.Int("duplicates", s.Duplicates),
		zap.Int("not_delivered", s.NotDelivered),
	)
	r.logger.Info("calculated delivery times",
		zap.Int("with_times", s.Derived),
		zap.Int("not_available", s.Unavailable),
		zap.Int("negative", s.Negative),
		zap.Int("skipped", s.Skipped),
	)
	if s.Written == 0 {
		r.logger.Warn("no data to save", zap.String("output", output))
	}
	r.logger.Info("saved rows", zap.String("output", output), zap.Int("rows", s.Written))
	r.logger.Info("pipeline completed", zap.Duration("elapsed", r.Elapsed()), zap.Int("chunks", s.Batches))
}
