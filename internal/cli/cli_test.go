package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Additional-Code/orderpipe/pkg/errorbank"
)

func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("OBS_LOG_FILE", filepath.Join(dir, "logs", "pipeline.log"))
	t.Setenv("OBS_LOG_LEVEL", "error")
	t.Setenv("OBS_ENABLE_METRICS", "false")
	t.Setenv("OBS_ENABLE_TRACING", "false")
	t.Setenv("CACHE_ENABLED", "false")
	t.Setenv("MESSAGING_ENABLED", "false")
	t.Setenv("PIPELINE_INPUT_PATH", filepath.Join(dir, "raw", "orders.csv"))
	t.Setenv("PIPELINE_OUTPUT_PATH", filepath.Join(dir, "processed", "orders.csv"))
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := NewRootCommand()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCLI_GenerateRunCompare(t *testing.T) {
	dir := setupEnv(t)

	out, err := execute(t, "generate", "--rows", "300", "--duplicate-rate", "0.1")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.Contains(out, "generated 300 rows") {
		t.Fatalf("unexpected generate output: %q", out)
	}

	scalar := filepath.Join(dir, "processed", "scalar.csv")
	chunked := filepath.Join(dir, "processed", "chunked.csv")
	if _, err := execute(t, "run", "-o", scalar); err != nil {
		t.Fatalf("run scalar: %v", err)
	}
	out, err = execute(t, "clean", "-o", chunked, "--strategy", "chunked", "--chunk-size", "17", "--dedupe-store", "pebble")
	if err != nil {
		t.Fatalf("run chunked: %v", err)
	}
	if !strings.Contains(out, "(chunked, run ") {
		t.Fatalf("unexpected run output: %q", out)
	}

	out, err = execute(t, "compare", scalar, chunked)
	if err != nil {
		t.Fatalf("compare: %v\n%s", err, out)
	}
	if !strings.Contains(out, `"equal": true`) {
		t.Fatalf("expected equal outputs: %s", out)
	}

	out, err = execute(t, "compare", "--chunk-size", "7")
	if err != nil {
		t.Fatalf("compare strategies: %v\n%s", err, out)
	}
	if !strings.Contains(out, `"left": "scalar"`) || !strings.Contains(out, `"right_stats"`) {
		t.Fatalf("unexpected strategy comparison: %s", out)
	}
}

func TestCLI_RequiredOnlyAndWholeDays(t *testing.T) {
	dir := setupEnv(t)
	in := filepath.Join(dir, "in.csv")
	content := "order_id,customer_id,order_status,order_purchase_timestamp,order_delivered_customer_date\n" +
		"A,c1,delivered,2023-01-01 10:00:00,2023-01-03 22:00:00\n"
	if err := os.WriteFile(in, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	outPath := filepath.Join(dir, "out.csv")
	if _, err := execute(t, "run", "-i", in, "-o", outPath, "--required-only", "--precision", "whole"); err != nil {
		t.Fatalf("run: %v", err)
	}
	data, _ := os.ReadFile(outPath)
	want := "order_id,order_status,order_purchase_timestamp,order_delivered_customer_date,delivery_time_days\n" +
		"A,delivered,2023-01-01 10:00:00,2023-01-03 22:00:00,2\n"
	if string(data) != want {
		t.Fatalf("output mismatch:\n%s", data)
	}
}

func TestCLI_ExitCodes(t *testing.T) {
	dir := setupEnv(t)

	tests := []struct {
		name string
		args []string
		code int
	}{
		{name: "missing input", args: []string{"run", "-i", filepath.Join(dir, "nope.csv")}, code: errorbank.ExitNoInput},
		{name: "unknown flag", args: []string{"run", "--bogus"}, code: errorbank.ExitUsage},
		{name: "bad strategy", args: []string{"run", "--strategy", "parallel"}, code: errorbank.ExitUsage},
		{name: "compare arity", args: []string{"compare", "a.csv"}, code: errorbank.ExitUsage},
		{name: "unexpected arg", args: []string{"last-run", "extra"}, code: errorbank.ExitUsage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			if got := errorbank.ExitCode(err); got != tt.code {
				t.Fatalf("exit code = %d, want %d (err %v)", got, tt.code, err)
			}
		})
	}
}

func TestCLI_ExitCodeCantCreate(t *testing.T) {
	dir := setupEnv(t)
	if _, err := execute(t, "generate", "--rows", "5"); err != nil {
		t.Fatalf("generate: %v", err)
	}
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}
	_, err := execute(t, "run", "-o", filepath.Join(blocker, "out.csv"))
	if got := errorbank.ExitCode(err); got != errorbank.ExitCantCreate {
		t.Fatalf("exit code = %d, want %d (err %v)", got, errorbank.ExitCantCreate, err)
	}
}

func TestCLI_LastRunWithoutCache(t *testing.T) {
	setupEnv(t)
	out, err := execute(t, "last-run")
	if err != nil {
		t.Fatalf("last-run: %v", err)
	}
	if strings.TrimSpace(out) != "no run recorded" {
		t.Fatalf("unexpected output: %q", out)
	}
}
