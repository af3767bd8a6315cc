package pipeline

import (
	"context"
	"iter"
	"math"
	"time"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"

	"github.com/Additional-Code/orderpipe/internal/config"
	"github.com/Additional-Code/orderpipe/internal/entity"
	"github.com/Additional-Code/orderpipe/internal/report"
	"github.com/Additional-Code/orderpipe/pkg/errorbank"
)

const (
	defaultChunkSize = 10000
	rowColumn        = "_row"
)

// Chunked processes the input in fixed-size batches, applying each stage to
// whole columns of a batch frame.
type Chunked struct {
	deriver *Deriver
	store   seenStore
	size    int
}

func (c *Chunked) Name() string { return config.StrategyChunked }

func (c *Chunked) Clean(ctx context.Context, src Source, rep *report.Reporter) iter.Seq2[[]entity.CleanOrder, error] {
	return func(yield func([]entity.CleanOrder, error) bool) {
		seen, err := c.store.open()
		if err != nil {
			yield(nil, err)
			return
		}
		defer seen.Close()
		filter := NewFilter(seen, rep)

		index := 0
		for batch, err := range src.Batches(ctx, c.size, rep) {
			if err != nil {
				yield(nil, err)
				return
			}
			out, err := c.process(batch, filter, rep)
			if err != nil {
				yield(nil, err)
				return
			}
			rep.Batch(index, len(batch), len(out), seen.Len())
			index++
			if len(out) == 0 {
				continue
			}
			if !yield(out, nil) {
				return
			}
		}
	}
}

func (c *Chunked) process(batch []entity.Order, filter *Filter, rep *report.Reporter) ([]entity.CleanOrder, error) {
	frame := batchFrame(batch)
	if frame.Err != nil {
		return nil, frameError("build batch frame", frame.Err)
	}

	mask := frame.Col(entity.ColumnOrderStatus).Compare(series.Eq, entity.StatusDelivered)
	if mask.Err != nil {
		return nil, frameError("filter status", mask.Err)
	}
	delivered, err := mask.Bool()
	if err != nil {
		return nil, frameError("filter status", err)
	}

	keep := make([]int, 0, len(batch))
	for i, o := range batch {
		if !delivered[i] {
			rep.NotDelivered(o)
			continue
		}
		ok, err := filter.first(o)
		if err != nil {
			return nil, err
		}
		if ok {
			keep = append(keep, i)
		}
	}
	if len(keep) == 0 {
		return nil, nil
	}

	kept := frame.Subset(keep)
	if kept.Err != nil {
		return nil, frameError("subset batch", kept.Err)
	}
	purchased, purchaseOK := c.parseColumn(kept.Col(entity.ColumnPurchaseTime))
	deliveredAt, deliveredOK := c.parseColumn(kept.Col(entity.ColumnDeliveredTime))

	days := make([]float64, len(keep))
	for i := range days {
		days[i] = math.NaN()
		if purchaseOK[i] && deliveredOK[i] {
			days[i] = c.deriver.Days(purchased[i], deliveredAt[i])
		}
	}
	kept = kept.Mutate(series.New(days, series.Float, entity.ColumnDeliveryTimeDays))
	if kept.Err != nil {
		return nil, frameError("derive delivery time", kept.Err)
	}
	rows, err := kept.Col(rowColumn).Int()
	if err != nil {
		return nil, frameError("read row index", err)
	}
	values := kept.Col(entity.ColumnDeliveryTimeDays).Float()

	out := make([]entity.CleanOrder, 0, len(rows))
	for i, row := range rows {
		o := batch[row]
		if !purchaseOK[i] {
			rep.Skipped(purchaseError(o))
			continue
		}
		clean := entity.CleanOrder{Order: o, PurchasedAt: purchased[i]}
		if !math.IsNaN(values[i]) {
			at, v := deliveredAt[i], values[i]
			clean.DeliveredAt = &at
			clean.DeliveryDays = &v
		}
		rep.Derived(clean)
		out = append(out, clean)
	}
	return out, nil
}

// batchFrame holds the columns the pipeline inspects plus the position of
// each row inside the batch.
func batchFrame(batch []entity.Order) dataframe.DataFrame {
	rows := make([]int, len(batch))
	statuses := make([]string, len(batch))
	purchases := make([]string, len(batch))
	delivered := make([]string, len(batch))
	for i, o := range batch {
		rows[i] = i
		statuses[i] = o.Status
		purchases[i] = o.PurchaseTimestamp
		delivered[i] = o.DeliveredCustomer
	}
	return dataframe.New(
		series.New(rows, series.Int, rowColumn),
		series.New(statuses, series.String, entity.ColumnOrderStatus),
		series.New(purchases, series.String, entity.ColumnPurchaseTime),
		series.New(delivered, series.String, entity.ColumnDeliveredTime),
	)
}

func (c *Chunked) parseColumn(col series.Series) ([]time.Time, []bool) {
	records := col.Records()
	times := make([]time.Time, len(records))
	ok := make([]bool, len(records))
	for i, raw := range records {
		times[i], ok[i] = c.deriver.Parse(raw)
	}
	return times, ok
}

func frameError(msg string, err error) error {
	return errorbank.Internal(msg, errorbank.WithCause(err))
}
