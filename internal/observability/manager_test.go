package observability

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Additional-Code/orderpipe/internal/config"
)

func TestManager_TracingDisabled(t *testing.T) {
	mgr, err := newManager(context.Background(), config.Observability{}, nil, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("newManager: %v", err)
	}
	if mgr.TracingEnabled() {
		t.Fatalf("tracing should be disabled")
	}
	if err := mgr.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestManager_StdoutExporterWritesSpans(t *testing.T) {
	var out bytes.Buffer
	cfg := config.Observability{ServiceName: "orderpipe", EnableTracing: true, TraceExporter: "stdout"}
	mgr, err := newManager(context.Background(), cfg, zap.NewNop(), &out)
	if err != nil {
		t.Fatalf("newManager: %v", err)
	}
	if !mgr.TracingEnabled() {
		t.Fatalf("tracing should be enabled")
	}

	_, span := mgr.tracerProvider.Tracer("test").Start(context.Background(), "PipelineService.Clean")
	span.End()
	if err := mgr.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if !strings.Contains(out.String(), "PipelineService.Clean") {
		t.Fatalf("expected exported span, got %q", out.String())
	}
}

func TestManager_UnsupportedExporter(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	cfg := config.Observability{EnableTracing: true, TraceExporter: "jaeger"}
	mgr, err := newManager(context.Background(), cfg, zap.New(core), &bytes.Buffer{})
	if err != nil {
		t.Fatalf("newManager: %v", err)
	}
	if mgr.TracingEnabled() || logs.Len() != 1 {
		t.Fatalf("expected tracing off with one warning, got %d logs", logs.Len())
	}

	cfg.TraceExporter = "otlp"
	if _, err := newManager(context.Background(), cfg, zap.NewNop(), &bytes.Buffer{}); err == nil {
		t.Fatalf("expected otlp without endpoint to fail")
	}
}
