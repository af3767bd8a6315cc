package order

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/orderpipe/internal/cache"
	"github.com/Additional-Code/orderpipe/internal/config"
	"github.com/Additional-Code/orderpipe/internal/dto"
	"github.com/Additional-Code/orderpipe/internal/messaging"
	"github.com/Additional-Code/orderpipe/internal/metrics"
	"github.com/Additional-Code/orderpipe/internal/pipeline"
	"github.com/Additional-Code/orderpipe/internal/report"
	repo "github.com/Additional-Code/orderpipe/internal/repository/order"
	"github.com/Additional-Code/orderpipe/pkg/errorbank"
)

var serviceTracer = otel.Tracer("github.com/Additional-Code/orderpipe/service/order")

// LastRunKey is the cache key holding the most recent run summary.
const LastRunKey = "runs:last"

// Service runs the cleaning pipeline and reports on it.
type Service struct {
	defaults  config.Pipeline
	cache     cache.Store
	cacheTTL  time.Duration
	logger    *zap.Logger
	metrics   *metrics.Registry
	publisher messaging.Client
	messaging messagingConfig
	newID     func() string
	now       func() time.Time
}

// messagingConfig contains messaging specific knobs we care about.
type messagingConfig struct {
	enabled bool
	topic   string
}

// Params defines dependencies for constructing Service.
type Params struct {
	fx.In

	Config    config.Config
	Cache     cache.Store
	Logger    *zap.Logger
	Metrics   *metrics.Registry
	Publisher messaging.Client
}

// NewService wires a new Service instance.
func NewService(p Params) *Service {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		defaults:  p.Config.Pipeline,
		cache:     p.Cache,
		cacheTTL:  p.Config.Cache.DefaultTTL,
		logger:    logger,
		metrics:   p.Metrics,
		publisher: p.Publisher,
		messaging: messagingConfig{
			enabled: p.Config.Messaging.Enabled,
			topic:   p.Config.Messaging.Kafka.Topic,
		},
		newID: uuid.NewString,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Defaults returns the pipeline settings loaded from configuration.
func (s *Service) Defaults() config.Pipeline {
	p := s.defaults
	p.TimestampLayouts = append([]string(nil), s.defaults.TimestampLayouts...)
	return p
}

// Clean runs one pass of load, filter, derive and write. The returned
// summary is filled in even when the run fails.
func (s *Service) Clean(ctx context.Context, p config.Pipeline) (dto.RunSummary, error) {
	if err := p.Validate(); err != nil {
		return dto.RunSummary{}, errorbank.BadRequest("invalid pipeline settings", errorbank.WithCause(err))
	}
	strategy, err := pipeline.New(p)
	if err != nil {
		return dto.RunSummary{}, err
	}

	summary := dto.RunSummary{
		RunID:     s.newID(),
		Status:    dto.RunSucceeded,
		Strategy:  strategy.Name(),
		Input:     p.InputPath,
		Output:    p.OutputPath,
		StartedAt: s.now(),
	}
	ctx, span := serviceTracer.Start(ctx, "PipelineService.Clean", trace.WithAttributes(
		attribute.String("run.id", summary.RunID),
		attribute.String("pipeline.strategy", summary.Strategy),
		attribute.String("pipeline.input", p.InputPath),
		attribute.String("pipeline.output", p.OutputPath),
	))
	defer span.End()

	rep := report.New(s.logger.With(zap.String("run_id", summary.RunID)), s.metrics, strategy.Name())
	rep.Logger().Info("pipeline started", zap.String("input", p.InputPath), zap.String("output", p.OutputPath))

	err = s.run(ctx, p, strategy, rep)

	summary.Stats = rep.Stats()
	summary.FinishedAt = s.now()
	summary.Elapsed = rep.Elapsed()
	s.metrics.ObserveRun(strategy.Name(), summary.Elapsed, err)
	span.SetAttributes(
		attribute.Int("pipeline.rows.loaded", summary.Stats.Loaded),
		attribute.Int("pipeline.rows.written", summary.Stats.Written),
	)

	if err != nil {
		appErr := errorbank.From(err)
		summary.Status = dto.RunFailed
		summary.Error = err.Error()
		summary.ErrorKind = string(appErr.Kind())
		span.RecordError(err)
		span.SetStatus(codes.Error, appErr.Message())
		rep.Logger().Error("pipeline failed", zap.Error(err), zap.String("kind", summary.ErrorKind))
	} else {
		rep.Summary(p.InputPath, p.OutputPath)
	}

	if ferr := s.metrics.Flush(ctx); ferr != nil {
		s.logger.Warn("metrics flush failed", zap.Error(ferr))
	}
	s.publishRunFinished(ctx, summary)
	if cerr := s.storeInCache(ctx, summary); cerr != nil {
		s.logger.Warn("run summary cache write failed", zap.String("run_id", summary.RunID), zap.Error(cerr))
	}
	return summary, err
}

func (s *Service) run(ctx context.Context, p config.Pipeline, strategy pipeline.Strategy, rep *report.Reporter) error {
	src, err := repo.Open(ctx, p.InputPath)
	if err != nil {
		return err
	}
	w, err := repo.Create(ctx, p.OutputPath, src.Header(), repo.WriterOptions{RequiredOnly: p.RequiredOnly})
	if err != nil {
		return err
	}
	defer w.Abort()

	for rows, err := range strategy.Clean(ctx, src, rep) {
		if err != nil {
			return err
		}
		if err := w.Write(rows); err != nil {
			return err
		}
		rep.Written(len(rows))
	}
	return w.Commit()
}

// Compare checks whether two pipeline outputs are equivalent.
func (s *Service) Compare(ctx context.Context, left, right string, tolerance float64) (dto.CompareResponse, error) {
	_, span := serviceTracer.Start(ctx, "PipelineService.Compare", trace.WithAttributes(
		attribute.String("compare.left", left),
		attribute.String("compare.right", right),
	))
	defer span.End()

	if tolerance < 0 {
		tolerance = s.defaults.CompareTolerance
	}
	cmp, err := pipeline.Compare(left, right, tolerance)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "compare failed")
		return dto.CompareResponse{}, err
	}

	res := dto.CompareResponse{
		Left:      left,
		Right:     right,
		Equal:     cmp.Equal(),
		LeftRows:  cmp.LeftRows,
		RightRows: cmp.RightRows,
	}
	for _, m := range cmp.Mismatches {
		res.Mismatches = append(res.Mismatches, dto.Mismatch{Row: m.Row, Column: m.Column, Left: m.Left, Right: m.Right})
	}
	s.logger.Info("compared outputs",
		zap.String("left", left),
		zap.String("right", right),
		zap.Bool("equal", res.Equal),
		zap.Int("mismatches", len(res.Mismatches)),
	)
	return res, nil
}

// CompareStrategies runs the scalar and chunked strategies over the same
// input into a scratch directory and compares their outputs and counters.
// These runs are not published or cached.
func (s *Service) CompareStrategies(ctx context.Context, p config.Pipeline) (dto.CompareResponse, error) {
	ctx, span := serviceTracer.Start(ctx, "PipelineService.CompareStrategies", trace.WithAttributes(
		attribute.String("pipeline.input", p.InputPath),
	))
	defer span.End()

	scratch, err := os.MkdirTemp("", "orderpipe-compare-*")
	if err != nil {
		return dto.CompareResponse{}, errorbank.Sink("create scratch directory", errorbank.WithCause(err))
	}
	defer os.RemoveAll(scratch)

	var (
		outputs [2]string
		stats   [2]report.Stats
	)
	for i, name := range []string{config.StrategyScalar, config.StrategyChunked} {
		run := p
		run.Strategy = name
		run.OutputPath = filepath.Join(scratch, name+".csv")
		if err := run.Validate(); err != nil {
			return dto.CompareResponse{}, errorbank.BadRequest("invalid pipeline settings", errorbank.WithCause(err))
		}
		strategy, err := pipeline.New(run)
		if err != nil {
			return dto.CompareResponse{}, err
		}
		rep := report.New(s.logger.With(zap.String("compare", name)), nil, name)
		if err := s.run(ctx, run, strategy, rep); err != nil {
			rep.Logger().Error("strategy run failed", zap.Error(err), zap.String("kind", string(errorbank.From(err).Kind())))
			span.RecordError(err)
			span.SetStatus(codes.Error, "strategy run failed")
			return dto.CompareResponse{}, err
		}
		outputs[i], stats[i] = run.OutputPath, rep.Stats()
	}

	res, err := s.Compare(ctx, outputs[0], outputs[1], p.CompareTolerance)
	if err != nil {
		return dto.CompareResponse{}, err
	}
	res.Left, res.Right = config.StrategyScalar, config.StrategyChunked
	res.LeftStats, res.RightStats = &stats[0], &stats[1]
	// Only the chunked strategy counts batches.
	left, right := stats[0], stats[1]
	left.Batches, right.Batches = 0, 0
	if left != right {
		res.Equal = false
	}
	return res, nil
}

// LastRun returns the most recently cached run summary. ok is false when
// nothing is cached.
func (s *Service) LastRun(ctx context.Context) (summary dto.RunSummary, ok bool, err error) {
	if s.cache == nil {
		return dto.RunSummary{}, false, nil
	}
	err = cache.GetJSON(ctx, s.cache, LastRunKey, &summary)
	if errors.Is(err, cache.ErrCacheMiss) {
		return dto.RunSummary{}, false, nil
	}
	if err != nil {
		return dto.RunSummary{}, false, errorbank.Internal("read last run", errorbank.WithCause(err))
	}
	return summary, true, nil
}

func (s *Service) publishRunFinished(ctx context.Context, summary dto.RunSummary) {
	if !s.messaging.enabled || s.publisher == nil {
		return
	}
	payload, err := json.Marshal(summary)
	if err != nil {
		s.logger.Error("marshal run summary", zap.Error(err))
		return
	}
	msg := messaging.Message{
		Key:   []byte(summary.RunID),
		Value: payload,
		Headers: map[string]string{
			"event":    "pipeline.run.finished",
			"status":   summary.Status,
			"strategy": summary.Strategy,
		},
	}
	if err := s.publisher.Publish(ctx, msg); err != nil {
		s.logger.Error("publish run summary", zap.String("topic", s.messaging.topic), zap.Error(err))
	}
}

func (s *Service) storeInCache(ctx context.Context, summary dto.RunSummary) error {
	if s.cache == nil {
		return nil
	}
	return cache.SetJSON(ctx, s.cache, LastRunKey, summary, s.cacheTTL)
}
