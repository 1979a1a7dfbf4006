package models

import "time"

// Event types published to the order event stream.
const (
	EventTypeOrderPlaced      = "ORDER_PLACED"
	EventTypePaymentCompleted = "PAYMENT_COMPLETED"
	EventTypePaymentFailed    = "PAYMENT_FAILED"
	EventTypeOrderShipped     = "ORDER_SHIPPED"
	EventTypeOrderCancelled   = "ORDER_CANCELLED"
)

// BaseEvent contains common fields for all events.
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderLineData carries line snapshots inside events.
type OrderLineData struct {
	ProductTitle string `json:"product_title"`
	ProductSKU   string `json:"product_sku"`
	Quantity     int    `json:"quantity"`
	UnitPrice    int64  `json:"unit_price"`
}

// OrderPlacedEvent is published after the checkout transaction commits. The
// mail worker consumes it to send the confirmation email; delivery is
// best-effort and never blocks checkout.
type OrderPlacedEvent struct {
	BaseEvent
	OrderCode string          `json:"order_code"`
	Email     string          `json:"email"`
	FullName  string          `json:"full_name"`
	Total     int64           `json:"total"`
	Items     []OrderLineData `json:"items"`
}

// PaymentCompletedEvent is published on verified provider confirmation.
type PaymentCompletedEvent struct {
	BaseEvent
	OrderCode     string `json:"order_code"`
	PaymentCode   string `json:"payment_code"`
	Amount        int64  `json:"amount"`
	TransactionID string `json:"transaction_id"`
	Email         string `json:"email"`
}

// PaymentFailedEvent is published when a provider rejects a payment.
type PaymentFailedEvent struct {
	BaseEvent
	OrderCode   string `json:"order_code"`
	PaymentCode string `json:"payment_code"`
	Reason      string `json:"reason"`
}

// OrderShippedEvent is published when fulfillment marks an order shipped.
type OrderShippedEvent struct {
	BaseEvent
	OrderCode      string `json:"order_code"`
	Email          string `json:"email"`
	FullName       string `json:"full_name"`
	Carrier        string `json:"carrier,omitempty"`
	TrackingNumber string `json:"tracking_number,omitempty"`
}

// OrderCancelledEvent is published when fulfillment cancels an order.
type OrderCancelledEvent struct {
	BaseEvent
	OrderCode string `json:"order_code"`
	Reason    string `json:"reason,omitempty"`
}
