package pipeline

import (
	"context"
	"iter"

	"github.com/Additional-Code/orderpipe/internal/config"
	"github.com/Additional-Code/orderpipe/internal/entity"
	"github.com/Additional-Code/orderpipe/internal/report"
	"github.com/Additional-Code/orderpipe/internal/state"
	"github.com/Additional-Code/orderpipe/pkg/errorbank"
)

// Source is a restartable supply of raw orders.
type Source interface {
	Rows(ctx context.Context, rep *report.Reporter) iter.Seq2[entity.Order, error]
	Batches(ctx context.Context, size int, rep *report.Reporter) iter.Seq2[[]entity.Order, error]
}

// Strategy runs filter and derivation over a Source. Both implementations
// produce the same rows in the same order and the same counters.
type Strategy interface {
	Name() string
	// Clean yields cleaned rows in input order. A non-nil error is fatal and
	// ends the sequence.
	Clean(ctx context.Context, src Source, rep *report.Reporter) iter.Seq2[[]entity.CleanOrder, error]
}

// New returns the strategy selected by cfg.
func New(cfg config.Pipeline) (Strategy, error) {
	deriver := NewDeriver(cfg.TimestampLayouts, cfg.Precision)
	store := seenStore{backend: cfg.DedupeStore, dir: cfg.DedupeDir}

	switch cfg.Strategy {
	case "", config.StrategyScalar:
		return &Scalar{deriver: deriver, store: store}, nil
	case config.StrategyChunked:
		size := cfg.ChunkSize
		if size <= 0 {
			size = defaultChunkSize
		}
		return &Chunked{deriver: deriver, store: store, size: size}, nil
	default:
		return nil, errorbank.BadRequest("unsupported strategy", errorbank.WithDetail("strategy", cfg.Strategy))
	}
}

type seenStore struct {
	backend string
	dir     string
}

func (s seenStore) open() (state.SeenSet, error) {
	seen, err := state.Open(s.backend, s.dir)
	if err != nil {
		return nil, errorbank.Internal("open dedupe store", errorbank.WithCause(err), errorbank.WithDetail("store", s.backend))
	}
	return seen, nil
}

// flushEvery bounds the rows the scalar strategy buffers before yielding.
const flushEvery = 1024

// Scalar processes one row at a time.
type Scalar struct {
	deriver *Deriver
	store   seenStore
}

func (s *Scalar) Name() string { return config.StrategyScalar }

func (s *Scalar) Clean(ctx context.Context, src Source, rep *report.Reporter) iter.Seq2[[]entity.CleanOrder, error] {
	return func(yield func([]entity.CleanOrder, error) bool) {
		seen, err := s.store.open()
		if err != nil {
			yield(nil, err)
			return
		}
		defer seen.Close()
		filter := NewFilter(seen, rep)

		buf := make([]entity.CleanOrder, 0, flushEvery)
		for o, err := range src.Rows(ctx, rep) {
			if err != nil {
				yield(nil, err)
				return
			}
			keep, err := filter.Keep(o)
			if err != nil {
				yield(nil, err)
				return
			}
			if !keep {
				continue
			}
			c, err := s.deriver.Derive(o)
			if err != nil {
				rep.Skipped(err)
				continue
			}
			rep.Derived(c)
			buf = append(buf, c)
			if len(buf) == flushEvery {
				if !yield(buf, nil) {
					return
				}
				buf = make([]entity.CleanOrder, 0, flushEvery)
			}
		}
		if len(buf) > 0 {
			yield(buf, nil)
		}
	}
}
