package report

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Additional-Code/orderpipe/internal/entity"
	"github.com/Additional-Code/orderpipe/internal/metrics"
	"github.com/Additional-Code/orderpipe/pkg/errorbank"
)

func days(v float64) *float64 { return &v }

func TestReporter_CountsAndMetrics(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	reg := metrics.NewRegistry()
	r := New(zap.New(core), reg, "scalar")

	r.Loaded(6)
	r.Malformed(errorbank.RowParse("wrong column count", errorbank.WithDetail("line", 4)))
	r.NotDelivered(entity.Order{ID: "o1"})
	r.Duplicate(entity.Order{ID: "o2", Line: 5})
	r.Kept(3)
	r.Derived(entity.CleanOrder{Order: entity.Order{ID: "o3"}, DeliveryDays: days(3)})
	r.Derived(entity.CleanOrder{Order: entity.Order{ID: "o4"}, DeliveryDays: days(-1)})
	r.Derived(entity.CleanOrder{Order: entity.Order{ID: "o5"}})
	r.Skipped(errorbank.RowParse("invalid purchase timestamp"))
	r.Written(3)
	r.Batch(0, 6, 3, 4)

	want := Stats{
		Loaded: 6, Malformed: 1, NotDelivered: 1, Duplicates: 1, Filtered: 3,
		Derived: 2, Unavailable: 1, Negative: 1, Skipped: 1, Written: 3, Batches: 1,
	}
	if got := r.Stats(); got != want {
		t.Fatalf("stats = %+v, want %+v", got, want)
	}

	if got := testutil.ToFloat64(reg.Rows.WithLabelValues("scalar", metrics.OutcomeDerived)); got != 2 {
		t.Fatalf("derived counter = %v", got)
	}
	if got := testutil.ToFloat64(reg.Rows.WithLabelValues("scalar", metrics.OutcomeNegative)); got != 1 {
		t.Fatalf("negative counter = %v", got)
	}

	chunks := logs.FilterMessage("processed chunk").All()
	if len(chunks) != 1 || chunks[0].ContextMap()["seen_ids"] != int64(4) {
		t.Fatalf("chunk line must carry the seen id count: %v", chunks)
	}

	warns := logs.FilterLevelExact(zapcore.WarnLevel).All()
	if len(warns) != 2 {
		t.Fatalf("expected 2 row warnings, got %d", len(warns))
	}
	if warns[0].ContextMap()["strategy"] != "scalar" {
		t.Fatalf("row warnings must carry the strategy: %v", warns[0].ContextMap())
	}
}

func TestReporter_SummaryWarnsOnEmptyOutput(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	r := New(zap.New(core), nil, "chunked")
	r.Summary("in.csv", "out.csv")

	if logs.FilterMessage("no data to save").Len() != 1 {
		t.Fatalf("expected empty output warning")
	}
	if logs.FilterMessage("pipeline completed").Len() != 1 {
		t.Fatalf("expected completion line")
	}
}
