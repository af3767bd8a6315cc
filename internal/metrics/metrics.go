package metrics

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/orderpipe/internal/config"
)

// Row outcomes recorded on orderpipe_rows_total.
const (
	OutcomeLoaded       = "loaded"
	OutcomeMalformed    = "malformed"
	OutcomeNotDelivered = "not_delivered"
	OutcomeDuplicate    = "duplicate"
	OutcomeDerived      = "derived"
	OutcomeUnavailable  = "unavailable"
	OutcomeNegative     = "negative"
	OutcomeSkipped      = "skipped"
	OutcomeWritten      = "written"
)

// Module provides the metrics registry to Fx.
var Module = fx.Provide(New)

// Registry holds the batch job collectors on a private registry.
type Registry struct {
	reg          *prometheus.Registry
	Rows         *prometheus.CounterVec
	Runs         *prometheus.CounterVec
	Batches      *prometheus.CounterVec
	RunSeconds   *prometheus.GaugeVec
	LastSuccess  prometheus.Gauge
	DeliveryDays prometheus.Histogram

	enabled  bool
	textfile string
	pushURL  string
	job      string
	logger   *zap.Logger
}

// NewRegistry creates the collectors without any flush target.
func NewRegistry() *Registry {
	r := prometheus.NewRegistry()
	rows := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orderpipe_rows_total",
		Help: "Rows seen per pipeline outcome.",
	}, []string{"strategy", "outcome"})
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orderpipe_runs_total",
		Help: "Pipeline runs by final status.",
	}, []string{"strategy", "status"})
	batches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orderpipe_batches_total",
		Help: "Input batches processed.",
	}, []string{"strategy"})
	runSeconds := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "orderpipe_last_run_duration_seconds",
		Help: "Wall time of the last run.",
	}, []string{"strategy"})
	lastSuccess := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orderpipe_last_success_timestamp_seconds",
		Help: "Unix time of the last successful run.",
	})
	deliveryDays := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "orderpipe_delivery_time_days",
		Help:    "Derived delivery times in days.",
		Buckets: []float64{0, 1, 3, 7, 14, 21, 30, 60},
	})

	r.MustRegister(rows, runs, batches, runSeconds, lastSuccess, deliveryDays)
	return &Registry{
		reg:          r,
		Rows:         rows,
		Runs:         runs,
		Batches:      batches,
		RunSeconds:   runSeconds,
		LastSuccess:  lastSuccess,
		DeliveryDays: deliveryDays,
		enabled:      true,
		job:          "orderpipe",
		logger:       zap.NewNop(),
	}
}

// New wires the registry with the configured flush targets.
func New(cfg config.Config, logger *zap.Logger) *Registry {
	r := NewRegistry()
	r.enabled = cfg.Observability.EnableMetrics
	r.textfile = cfg.Observability.MetricsTextfile
	r.pushURL = cfg.Observability.PushgatewayURL
	r.job = cfg.Observability.ServiceName
	if logger != nil {
		r.logger = logger
	}
	return r
}

// Gatherer exposes the underlying registry, mainly for tests.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// ObserveRun records the outcome of one run.
func (r *Registry) ObserveRun(strategy string, elapsed time.Duration, err error) {
	if r == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	r.Runs.WithLabelValues(strategy, status).Inc()
	r.RunSeconds.WithLabelValues(strategy).Set(elapsed.Seconds())
	if err == nil {
		r.LastSuccess.SetToCurrentTime()
	}
}

// Flush writes the collected metrics to the textfile collector path and/or
// pushes them to a Pushgateway. A batch job has no scrape endpoint.
func (r *Registry) Flush(ctx context.Context) error {
	if r == nil || !r.enabled {
		return nil
	}
	if r.textfile != "" {
		if err := os.MkdirAll(filepath.Dir(r.textfile), 0o755); err != nil {
			return fmt.Errorf("metrics textfile dir: %w", err)
		}
		if err := prometheus.WriteToTextfile(r.textfile, r.reg); err != nil {
			return fmt.Errorf("metrics textfile: %w", err)
		}
		r.logger.Debug("metrics written", zap.String("path", r.textfile))
	}
	if r.pushURL != "" {
		if err := push.New(r.pushURL, r.job).Gatherer(r.reg).PushContext(ctx); err != nil {
			return fmt.Errorf("metrics push: %w", err)
		}
		r.logger.Debug("metrics pushed", zap.String("url", r.pushURL))
	}
	return nil
}
