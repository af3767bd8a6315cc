package entity

import "time"

// Column names of the Olist orders dataset used by the pipeline.
const (
	ColumnOrderID          = "order_id"
	ColumnOrderStatus      = "order_status"
	ColumnPurchaseTime     = "order_purchase_timestamp"
	ColumnDeliveredTime    = "order_delivered_customer_date"
	ColumnDeliveryTimeDays = "delivery_time_days"
)

// RequiredColumns must be present in every input header.
var RequiredColumns = []string{
	ColumnOrderID,
	ColumnOrderStatus,
	ColumnPurchaseTime,
	ColumnDeliveredTime,
}

// StatusDelivered is the only status retained by the pipeline.
const StatusDelivered = "delivered"

// Order is one raw row of the source table.
type Order struct {
	// Line is the 1-based line in the source file where the row starts.
	Line int

	ID                string
	Status            string
	PurchaseTimestamp string
	DeliveredCustomer string

	// Fields holds the whole row in header order for pass-through output.
	Fields []string
}

// Delivered reports whether the order carries the delivered status.
func (o Order) Delivered() bool {
	return o.Status == StatusDelivered
}

// CleanOrder is a delivered order annotated with its delivery time.
type CleanOrder struct {
	Order

	PurchasedAt time.Time
	// DeliveredAt is nil when the customer delivery date is missing or invalid.
	DeliveredAt *time.Time
	// DeliveryDays is nil when the delivery time is not available.
	DeliveryDays *float64
}

// DeliveryAvailable reports whether a delivery time was derived.
func (c CleanOrder) DeliveryAvailable() bool {
	return c.DeliveryDays != nil
}
