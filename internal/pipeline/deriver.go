package pipeline

import (
	"math"
	"strings"
	"time"

	"github.com/Additional-Code/orderpipe/internal/config"
	"github.com/Additional-Code/orderpipe/internal/entity"
	"github.com/Additional-Code/orderpipe/pkg/errorbank"
)

const day = 24 * time.Hour

// Deriver turns a delivered order into a CleanOrder with its delivery time.
type Deriver struct {
	layouts []string
	whole   bool
}

// NewDeriver builds a Deriver. Empty layouts fall back to the defaults.
func NewDeriver(layouts []string, precision string) *Deriver {
	if len(layouts) == 0 {
		layouts = config.DefaultTimestampLayouts
	}
	return &Deriver{
		layouts: layouts,
		whole:   precision == config.PrecisionWhole,
	}
}

// Parse reads a timestamp in UTC using the first matching layout.
func (d *Deriver) Parse(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range d.layouts {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Days returns the span between two instants in days.
func (d *Deriver) Days(purchased, delivered time.Time) float64 {
	days := float64(delivered.Sub(purchased)) / float64(day)
	if d.whole {
		return math.Floor(days)
	}
	return days
}

// Derive computes the delivery time of o. A missing or unparseable delivery
// date yields a CleanOrder without DeliveryDays; a missing or unparseable
// purchase timestamp is a row error.
func (d *Deriver) Derive(o entity.Order) (entity.CleanOrder, error) {
	purchased, ok := d.Parse(o.PurchaseTimestamp)
	if !ok {
		return entity.CleanOrder{}, purchaseError(o)
	}
	return d.annotate(o, purchased, o.DeliveredCustomer), nil
}

func (d *Deriver) annotate(o entity.Order, purchased time.Time, deliveredRaw string) entity.CleanOrder {
	c := entity.CleanOrder{Order: o, PurchasedAt: purchased}
	if delivered, ok := d.Parse(deliveredRaw); ok {
		days := d.Days(purchased, delivered)
		c.DeliveredAt = &delivered
		c.DeliveryDays = &days
	}
	return c
}

func purchaseError(o entity.Order) error {
	msg := "invalid purchase timestamp"
	if strings.TrimSpace(o.PurchaseTimestamp) == "" {
		msg = "missing purchase timestamp"
	}
	return errorbank.RowParse(msg,
		errorbank.WithDetail("order_id", o.ID),
		errorbank.WithDetail("line", o.Line),
		errorbank.WithDetail("value", o.PurchaseTimestamp),
	)
}
