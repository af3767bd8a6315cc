package pipeline

import (
	"github.com/Additional-Code/orderpipe/internal/entity"
	"github.com/Additional-Code/orderpipe/internal/report"
	"github.com/Additional-Code/orderpipe/internal/state"
	"github.com/Additional-Code/orderpipe/pkg/errorbank"
)

// Filter keeps delivered orders whose id has not been kept before. The seen
// set spans the whole input, so the result does not depend on chunking.
type Filter struct {
	seen state.SeenSet
	rep  *report.Reporter
}

func NewFilter(seen state.SeenSet, rep *report.Reporter) *Filter {
	return &Filter{seen: seen, rep: rep}
}

// Keep reports whether o survives the filter.
func (f *Filter) Keep(o entity.Order) (bool, error) {
	if !o.Delivered() {
		f.rep.NotDelivered(o)
		return false, nil
	}
	return f.first(o)
}

// first applies the dedupe step to an order already known to be delivered.
func (f *Filter) first(o entity.Order) (bool, error) {
	fresh, err := f.seen.Add(o.ID)
	if err != nil {
		return false, errorbank.Internal("record order id", errorbank.WithCause(err), errorbank.WithDetail("order_id", o.ID))
	}
	if !fresh {
		f.rep.Duplicate(o)
		return false, nil
	}
	f.rep.Kept(1)
	return true, nil
}

// FilterDelivered returns the delivered orders of a complete table with
// duplicate ids removed, keeping the first occurrence.
func FilterDelivered(orders []entity.Order) []entity.Order {
	f := NewFilter(state.NewInMemorySet(), report.New(nil, nil, ""))
	out := make([]entity.Order, 0, len(orders))
	for _, o := range orders {
		// The in-memory set never fails.
		if ok, _ := f.Keep(o); ok {
			out = append(out, o)
		}
	}
	return out
}
