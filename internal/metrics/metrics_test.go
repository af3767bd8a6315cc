package metrics

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Additional-Code/orderpipe/internal/config"
)

func TestObserveRun(t *testing.T) {
	r := NewRegistry()
	r.ObserveRun("scalar", 2*time.Second, nil)
	r.ObserveRun("scalar", time.Second, errors.New("boom"))

	if got := testutil.ToFloat64(r.Runs.WithLabelValues("scalar", "success")); got != 1 {
		t.Fatalf("success runs = %v", got)
	}
	if got := testutil.ToFloat64(r.Runs.WithLabelValues("scalar", "failure")); got != 1 {
		t.Fatalf("failure runs = %v", got)
	}
	if got := testutil.ToFloat64(r.RunSeconds.WithLabelValues("scalar")); got != 1 {
		t.Fatalf("last duration = %v, want 1", got)
	}
	if testutil.ToFloat64(r.LastSuccess) == 0 {
		t.Fatalf("last success timestamp not set")
	}
}

func TestFlush_Textfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "textfile", "orderpipe.prom")
	cfg := config.Config{Observability: config.Observability{
		ServiceName:     "orderpipe",
		EnableMetrics:   true,
		MetricsTextfile: path,
	}}
	r := New(cfg, nil)
	r.Rows.WithLabelValues("chunked", OutcomeWritten).Add(5)

	if err := r.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read textfile: %v", err)
	}
	if !strings.Contains(string(data), `orderpipe_rows_total{outcome="written",strategy="chunked"} 5`) {
		t.Fatalf("textfile missing counter:\n%s", data)
	}
}

func TestFlush_DisabledIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orderpipe.prom")
	cfg := config.Config{Observability: config.Observability{MetricsTextfile: path}}
	if err := New(cfg, nil).Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("disabled metrics must not write, stat err = %v", err)
	}
	var nilRegistry *Registry
	if err := nilRegistry.Flush(context.Background()); err != nil {
		t.Fatalf("nil registry flush: %v", err)
	}
}
