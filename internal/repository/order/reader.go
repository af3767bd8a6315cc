package order

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"iter"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/orderpipe/internal/entity"
	"github.com/Additional-Code/orderpipe/internal/report"
	"github.com/Additional-Code/orderpipe/pkg/errorbank"
)

var repoTracer = otel.Tracer("github.com/Additional-Code/orderpipe/repository/order")

const utf8BOM = "\ufeff"

// Reader loads order rows from a CSV file with a header line.
type Reader struct {
	path   string
	header []string

	idPos, statusPos, purchasePos, deliveredPos int
}

// Open validates that path is a readable CSV carrying the required columns.
// Rows are not read until Rows or Batches is ranged over.
func Open(ctx context.Context, path string) (*Reader, error) {
	_, span := repoTracer.Start(ctx, "OrderReader.Open", trace.WithAttributes(attribute.String("file.path", path)))
	defer span.End()

	f, cr, err := openCSV(path)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "open failed")
		return nil, err
	}
	defer f.Close()

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, errorbank.DataSource("no data found", errorbank.WithDetail("path", path))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read header failed")
		return nil, errorbank.DataSource("read input header", errorbank.WithCause(err), errorbank.WithDetail("path", path))
	}
	header = normalizeHeader(header)

	positions := make(map[string]int, len(header))
	for i, name := range header {
		if _, dup := positions[name]; !dup {
			positions[name] = i
		}
	}
	var missing []string
	for _, col := range entity.RequiredColumns {
		if _, ok := positions[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, errorbank.DataSource("missing required fields",
			errorbank.WithDetail("path", path),
			errorbank.WithDetail("missing", missing),
		)
	}

	// A malformed first row still counts as data; Rows reports it.
	var parseErr *csv.ParseError
	if _, err := cr.Read(); errors.Is(err, io.EOF) {
		return nil, errorbank.DataSource("no data found", errorbank.WithDetail("path", path))
	} else if err != nil && !errors.As(err, &parseErr) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read input failed")
		return nil, errorbank.DataSource("read input", errorbank.WithCause(err), errorbank.WithDetail("path", path))
	}

	return &Reader{
		path:         path,
		header:       header,
		idPos:        positions[entity.ColumnOrderID],
		statusPos:    positions[entity.ColumnOrderStatus],
		purchasePos:  positions[entity.ColumnPurchaseTime],
		deliveredPos: positions[entity.ColumnDeliveredTime],
	}, nil
}

// Header returns the normalised input header.
func (r *Reader) Header() []string {
	return append([]string(nil), r.header...)
}

// Rows yields orders in file order. Malformed rows are reported to rep and
// skipped; a non-nil error ends the sequence and is fatal. Every call
// re-opens the file, so ranging again restarts from the first row.
func (r *Reader) Rows(ctx context.Context, rep *report.Reporter) iter.Seq2[entity.Order, error] {
	return func(yield func(entity.Order, error) bool) {
		f, cr, err := openCSV(r.path)
		if err != nil {
			yield(entity.Order{}, err)
			return
		}
		defer f.Close()

		if _, err := cr.Read(); err != nil {
			yield(entity.Order{}, errorbank.DataSource("read input header", errorbank.WithCause(err), errorbank.WithDetail("path", r.path)))
			return
		}

		for {
			if err := ctx.Err(); err != nil {
				yield(entity.Order{}, err)
				return
			}
			record, err := cr.Read()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				var parseErr *csv.ParseError
				if errors.As(err, &parseErr) {
					rep.Malformed(errorbank.RowParse("malformed csv row",
						errorbank.WithCause(err),
						errorbank.WithDetail("line", parseErr.StartLine),
					))
					continue
				}
				yield(entity.Order{}, errorbank.DataSource("read input", errorbank.WithCause(err), errorbank.WithDetail("path", r.path)))
				return
			}

			line, _ := cr.FieldPos(0)
			if len(record) != len(r.header) {
				rep.Malformed(errorbank.RowParse("wrong column count",
					errorbank.WithDetail("line", line),
					errorbank.WithDetail("want", len(r.header)),
					errorbank.WithDetail("got", len(record)),
				))
				continue
			}

			o := entity.Order{
				Line:              line,
				ID:                record[r.idPos],
				Status:            record[r.statusPos],
				PurchaseTimestamp: record[r.purchasePos],
				DeliveredCustomer: record[r.deliveredPos],
				Fields:            record,
			}
			if strings.TrimSpace(o.ID) == "" {
				rep.Malformed(errorbank.RowParse("missing order_id", errorbank.WithDetail("line", line)))
				continue
			}

			rep.Loaded(1)
			if !yield(o, nil) {
				return
			}
		}
	}
}

// Batches groups Rows into consecutive slices of at most size orders.
func (r *Reader) Batches(ctx context.Context, size int, rep *report.Reporter) iter.Seq2[[]entity.Order, error] {
	if size <= 0 {
		size = 1
	}
	return func(yield func([]entity.Order, error) bool) {
		batch := make([]entity.Order, 0, size)
		for o, err := range r.Rows(ctx, rep) {
			if err != nil {
				yield(nil, err)
				return
			}
			batch = append(batch, o)
			if len(batch) == size {
				if !yield(batch, nil) {
					return
				}
				batch = make([]entity.Order, 0, size)
			}
		}
		if len(batch) > 0 {
			yield(batch, nil)
		}
	}
}

func openCSV(path string) (*os.File, *csv.Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		msg := "open input"
		if errors.Is(err, os.ErrNotExist) {
			msg = "input file not found"
		}
		return nil, nil, errorbank.DataSource(msg, errorbank.WithCause(err), errorbank.WithDetail("path", path))
	}
	cr := csv.NewReader(f)
	cr.FieldsPerRecord = -1
	return f, cr, nil
}

func normalizeHeader(header []string) []string {
	out := make([]string, len(header))
	for i, name := range header {
		if i == 0 {
			name = strings.TrimPrefix(name, utf8BOM)
		}
		out[i] = strings.TrimSpace(name)
	}
	return out
}
