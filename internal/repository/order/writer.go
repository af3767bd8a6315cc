package order

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/orderpipe/internal/entity"
	"github.com/Additional-Code/orderpipe/pkg/errorbank"
)

// NotAvailable is written when no delivery time could be derived.
const NotAvailable = "N/A"

// WriterOptions selects the output columns.
type WriterOptions struct {
	// RequiredOnly drops pass-through columns and keeps the four required ones.
	RequiredOnly bool
}

// Writer streams cleaned orders into a temporary file next to the target
// and moves it into place on Commit.
type Writer struct {
	path    string
	tmp     *os.File
	cw      *csv.Writer
	columns []int
	rows    int
	done    bool
}

// Create prepares the output, creating missing parent directories, and
// writes the header derived from the input header.
func Create(ctx context.Context, path string, inputHeader []string, opts WriterOptions) (*Writer, error) {
	_, span := repoTracer.Start(ctx, "OrderWriter.Create", trace.WithAttributes(attribute.String("file.path", path)))
	defer span.End()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "mkdir failed")
		return nil, errorbank.Sink("create output directory", errorbank.WithCause(err), errorbank.WithDetail("path", dir))
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create failed")
		return nil, errorbank.Sink("create output file", errorbank.WithCause(err), errorbank.WithDetail("path", path))
	}

	columns := outputColumns(inputHeader, opts)
	header := make([]string, 0, len(columns)+1)
	for _, pos := range columns {
		header = append(header, inputHeader[pos])
	}
	header = append(header, entity.ColumnDeliveryTimeDays)

	w := &Writer{path: path, tmp: tmp, cw: csv.NewWriter(tmp), columns: columns}
	if err := w.cw.Write(header); err != nil {
		_ = w.Abort()
		return nil, errorbank.Sink("write output header", errorbank.WithCause(err), errorbank.WithDetail("path", path))
	}
	return w, nil
}

func outputColumns(header []string, opts WriterOptions) []int {
	if opts.RequiredOnly {
		cols := make([]int, 0, len(entity.RequiredColumns))
		for _, want := range entity.RequiredColumns {
			for i, name := range header {
				if name == want {
					cols = append(cols, i)
					break
				}
			}
		}
		return cols
	}
	cols := make([]int, 0, len(header))
	for i, name := range header {
		// An existing derived column is recomputed, not duplicated.
		if name == entity.ColumnDeliveryTimeDays {
			continue
		}
		cols = append(cols, i)
	}
	return cols
}

// Write appends rows in the order given.
func (w *Writer) Write(rows []entity.CleanOrder) error {
	for _, row := range rows {
		record := make([]string, 0, len(w.columns)+1)
		for _, pos := range w.columns {
			record = append(record, row.Fields[pos])
		}
		record = append(record, FormatDays(row.DeliveryDays))
		if err := w.cw.Write(record); err != nil {
			return errorbank.Sink("write output row",
				errorbank.WithCause(err),
				errorbank.WithDetail("path", w.path),
				errorbank.WithDetail("order_id", row.ID),
			)
		}
		w.rows++
	}
	return nil
}

// Rows returns the number of data rows written so far.
func (w *Writer) Rows() int { return w.rows }

// Commit flushes the data and atomically replaces the target file.
func (w *Writer) Commit() error {
	if w.done {
		return nil
	}
	w.cw.Flush()
	err := w.cw.Error()
	if err == nil {
		err = w.tmp.Chmod(0o644)
	}
	if err == nil {
		err = w.tmp.Sync()
	}
	if err != nil {
		_ = w.Abort()
		return errorbank.Sink("flush output", errorbank.WithCause(err), errorbank.WithDetail("path", w.path))
	}
	w.done = true
	if err := w.tmp.Close(); err != nil {
		_ = os.Remove(w.tmp.Name())
		return errorbank.Sink("close output", errorbank.WithCause(err), errorbank.WithDetail("path", w.path))
	}
	if err := os.Rename(w.tmp.Name(), w.path); err != nil {
		_ = os.Remove(w.tmp.Name())
		return errorbank.Sink("replace output", errorbank.WithCause(err), errorbank.WithDetail("path", w.path))
	}
	return nil
}

// Abort discards the temporary file. It is a no-op after Commit, so it is
// safe to defer.
func (w *Writer) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	return errors.Join(w.tmp.Close(), os.Remove(w.tmp.Name()))
}

// FormatDays renders a derived delivery time for the CSV output.
func FormatDays(days *float64) string {
	if days == nil {
		return NotAvailable
	}
	return strconv.FormatFloat(*days, 'f', -1, 64)
}
