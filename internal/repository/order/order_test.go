package order

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/Additional-Code/orderpipe/internal/entity"
	"github.com/Additional-Code/orderpipe/internal/report"
	"github.com/Additional-Code/orderpipe/pkg/errorbank"
)

const header = "order_id,customer_id,order_status,order_purchase_timestamp,order_delivered_customer_date\n"

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "orders.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	return path
}

func newReporter() *report.Reporter {
	return report.New(zap.NewNop(), nil, "test")
}

func collect(t *testing.T, r *Reader, rep *report.Reporter) []entity.Order {
	t.Helper()
	var out []entity.Order
	for o, err := range r.Rows(context.Background(), rep) {
		if err != nil {
			t.Fatalf("Rows error: %v", err)
		}
		out = append(out, o)
	}
	return out
}

func TestOpen_Errors(t *testing.T) {
	tests := []struct {
		name    string
		path    func(t *testing.T) string
		message string
	}{
		{
			name:    "missing file",
			path:    func(t *testing.T) string { return filepath.Join(t.TempDir(), "nope.csv") },
			message: "input file not found",
		},
		{
			name:    "empty file",
			path:    func(t *testing.T) string { return writeFile(t, "") },
			message: "no data found",
		},
		{
			name:    "header only",
			path:    func(t *testing.T) string { return writeFile(t, header) },
			message: "no data found",
		},
		{
			name:    "missing columns",
			path:    func(t *testing.T) string { return writeFile(t, "order_id,order_status\n1,delivered\n") },
			message: "missing required fields",
		},
		{
			name:    "directory",
			path:    func(t *testing.T) string { return t.TempDir() },
			message: "read input header",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Open(context.Background(), tt.path(t))
			if !errorbank.Is(err, errorbank.KindDataSource) {
				t.Fatalf("expected data source error, got %v", err)
			}
			if errorbank.From(err).Message() != tt.message {
				t.Fatalf("message = %q, want %q", errorbank.From(err).Message(), tt.message)
			}
		})
	}
}

func TestOpen_MalformedFirstRowIsData(t *testing.T) {
	path := writeFile(t, header+"A,\"bad,delivered\n")
	r, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	rep := newReporter()
	if rows := collect(t, r, rep); len(rows) != 0 || rep.Stats().Malformed != 1 {
		t.Fatalf("expected one malformed row, got %d rows and %+v", len(rows), rep.Stats())
	}
}

func TestOpen_MissingColumnsListed(t *testing.T) {
	path := writeFile(t, "order_id,order_status\n")
	_, err := Open(context.Background(), path)
	missing, _ := errorbank.From(err).Details()["missing"].([]string)
	if len(missing) != 2 || missing[0] != entity.ColumnPurchaseTime || missing[1] != entity.ColumnDeliveredTime {
		t.Fatalf("unexpected missing list: %v", missing)
	}
}

func TestRows_SkipsMalformedRows(t *testing.T) {
	content := "\ufeff" + header +
		"o1,c1,delivered,2023-01-01 10:00:00,2023-01-04 10:00:00\n" +
		"o2,c2,delivered,2023-01-01 10:00:00\n" + // wrong column count
		",c3,delivered,2023-01-01 10:00:00,\n" + // missing id
		"o4,c4,\"ship\"ped,2023-01-01 10:00:00,\n" + // bare quote
		"o5,c5,shipped,2023-01-02 10:00:00,\n"
	r, err := Open(context.Background(), writeFile(t, content))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if r.Header()[0] != entity.ColumnOrderID {
		t.Fatalf("BOM not stripped: %q", r.Header()[0])
	}

	rep := newReporter()
	rows := collect(t, r, rep)
	if len(rows) != 2 || rows[0].ID != "o1" || rows[1].ID != "o5" {
		t.Fatalf("unexpected rows: %+v", rows)
	}
	if rows[0].Line != 2 || rows[1].Line != 6 {
		t.Fatalf("unexpected line numbers: %d, %d", rows[0].Line, rows[1].Line)
	}
	if rows[1].Status != "shipped" || rows[1].DeliveredCustomer != "" || len(rows[1].Fields) != 5 {
		t.Fatalf("fields not mapped by header: %+v", rows[1])
	}
	if s := rep.Stats(); s.Loaded != 2 || s.Malformed != 3 {
		t.Fatalf("stats = %+v", s)
	}
}

func TestRows_RestartableAndBatched(t *testing.T) {
	var b strings.Builder
	b.WriteString(header)
	for i := 0; i < 7; i++ {
		b.WriteString("o" + string(rune('a'+i)) + ",c,delivered,2023-01-01 10:00:00,\n")
	}
	r, err := Open(context.Background(), writeFile(t, b.String()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	first := collect(t, r, newReporter())
	second := collect(t, r, newReporter())
	if len(first) != 7 || len(second) != 7 || first[0].ID != second[0].ID {
		t.Fatalf("re-ranging must restart from the first row: %d vs %d", len(first), len(second))
	}

	var sizes []int
	for batch, err := range r.Batches(context.Background(), 3, newReporter()) {
		if err != nil {
			t.Fatalf("Batches: %v", err)
		}
		sizes = append(sizes, len(batch))
	}
	if len(sizes) != 3 || sizes[0] != 3 || sizes[1] != 3 || sizes[2] != 1 {
		t.Fatalf("unexpected batch sizes: %v", sizes)
	}
}

func TestRows_CanceledContext(t *testing.T) {
	r, err := Open(context.Background(), writeFile(t, header+"o1,c,delivered,2023-01-01 10:00:00,\n"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for _, err := range r.Rows(ctx, newReporter()) {
		if err == nil {
			t.Fatalf("expected context error")
		}
		return
	}
	t.Fatalf("sequence yielded nothing")
}

func day(v float64) *float64 { return &v }

func TestWriter_CreatesParentsAndFormats(t *testing.T) {
	out := filepath.Join(t.TempDir(), "processed", "nested", "orders.csv")
	in := []string{"order_id", "customer_id", "order_status", "order_purchase_timestamp", "order_delivered_customer_date"}

	w, err := Create(context.Background(), out, in, WriterOptions{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer w.Abort()

	rows := []entity.CleanOrder{
		{Order: entity.Order{ID: "o1", Fields: []string{"o1", "c1", "delivered", "2023-01-01 10:00:00", "2023-01-04 10:00:00"}}, DeliveryDays: day(3)},
		{Order: entity.Order{ID: "o2", Fields: []string{"o2", "c,2", "delivered", "2023-01-01 10:00:00", ""}}},
		{Order: entity.Order{ID: "o3", Fields: []string{"o3", "c3", "delivered", "2023-01-02 10:00:00", "2023-01-01 22:00:00"}}, DeliveryDays: day(-0.5)},
	}
	if err := w.Write(rows); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Fatalf("output must not appear before commit")
	}
	if err := w.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	want := "order_id,customer_id,order_status,order_purchase_timestamp,order_delivered_customer_date,delivery_time_days\n" +
		"o1,c1,delivered,2023-01-01 10:00:00,2023-01-04 10:00:00,3\n" +
		"o2,\"c,2\",delivered,2023-01-01 10:00:00,,N/A\n" +
		"o3,c3,delivered,2023-01-02 10:00:00,2023-01-01 22:00:00,-0.5\n"
	if string(data) != want {
		t.Fatalf("output mismatch:\n%s\nwant:\n%s", data, want)
	}
	if w.Rows() != 3 {
		t.Fatalf("Rows = %d", w.Rows())
	}
	entries, _ := os.ReadDir(filepath.Dir(out))
	if len(entries) != 1 {
		t.Fatalf("temp file left behind: %v", entries)
	}
}

func TestWriter_RequiredOnlyAndExistingDerivedColumn(t *testing.T) {
	out := filepath.Join(t.TempDir(), "orders.csv")
	in := []string{"customer_id", "order_id", "delivery_time_days", "order_status", "order_purchase_timestamp", "order_delivered_customer_date"}

	w, err := Create(context.Background(), out, in, WriterOptions{RequiredOnly: true})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	row := entity.CleanOrder{Order: entity.Order{ID: "o1", Fields: []string{"c1", "o1", "9", "delivered", "2023-01-01 10:00:00", ""}}}
	if err := w.Write([]entity.CleanOrder{row}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	data, _ := os.ReadFile(out)
	want := "order_id,order_status,order_purchase_timestamp,order_delivered_customer_date,delivery_time_days\n" +
		"o1,delivered,2023-01-01 10:00:00,,N/A\n"
	if string(data) != want {
		t.Fatalf("output mismatch:\n%s", data)
	}

	full, err := Create(context.Background(), out, in, WriterOptions{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := full.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	data, _ = os.ReadFile(out)
	if string(data) != "customer_id,order_id,order_status,order_purchase_timestamp,order_delivered_customer_date,delivery_time_days\n" {
		t.Fatalf("derived column must not be duplicated:\n%s", data)
	}
}

func TestWriter_SinkErrors(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if _, err := Create(context.Background(), filepath.Join(blocker, "out.csv"), []string{"order_id"}, WriterOptions{}); !errorbank.Is(err, errorbank.KindSink) {
		t.Fatalf("expected sink error for parent file, got %v", err)
	}

	target := filepath.Join(dir, "target")
	if err := os.MkdirAll(filepath.Join(target, "child"), 0o755); err != nil {
		t.Fatalf("setup: %v", err)
	}
	w, err := Create(context.Background(), target, []string{"order_id"}, WriterOptions{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := w.Commit(); !errorbank.Is(err, errorbank.KindSink) {
		t.Fatalf("expected sink error when target is a directory, got %v", err)
	}
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".target.tmp-") {
			t.Fatalf("temp file left behind after failed commit: %s", e.Name())
		}
	}
}

func TestWriter_AbortRemovesTemp(t *testing.T) {
	dir := t.TempDir()
	w, err := Create(context.Background(), filepath.Join(dir, "out.csv"), []string{"order_id"}, WriterOptions{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := w.Abort(); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if err := w.Abort(); err != nil {
		t.Fatalf("second Abort must be a no-op: %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("expected empty dir, got %v", entries)
	}
}

func TestFormatDays(t *testing.T) {
	if FormatDays(nil) != NotAvailable {
		t.Fatalf("nil must render N/A")
	}
	for v, want := range map[float64]string{3: "3", 2.5: "2.5", -1: "-1", 0: "0"} {
		if got := FormatDays(&v); got != want {
			t.Fatalf("FormatDays(%v) = %q, want %q", v, got, want)
		}
	}
}
