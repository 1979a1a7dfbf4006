package models

// OrderStatus is the customer-facing order state.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusRefunded   OrderStatus = "refunded"
)

// Valid reports whether s is a known order status.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusCancelled, OrderStatusRefunded:
		return true
	}
	return false
}

// PaymentStatus is the state of the external payment.
type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusCompleted  PaymentStatus = "completed"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusRefunded   PaymentStatus = "refunded"
)

// PaymentMethod selects how an order is paid.
type PaymentMethod string

const (
	PaymentMethodPayPal         PaymentMethod = "paypal"
	PaymentMethodStripe         PaymentMethod = "stripe"
	PaymentMethodBankTransfer   PaymentMethod = "bank_transfer"
	PaymentMethodCashOnDelivery PaymentMethod = "cash_on_delivery"
)

// Valid reports whether m is a known payment method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodPayPal, PaymentMethodStripe,
		PaymentMethodBankTransfer, PaymentMethodCashOnDelivery:
		return true
	}
	return false
}

// FulfillmentStatus is the staff-facing preparation state. Transitions are
// one-directional: to_prepare -> preparing -> ready -> shipped -> delivered,
// with cancelled reachable from any non-terminal state.
type FulfillmentStatus string

const (
	FulfillmentToPrepare FulfillmentStatus = "to_prepare"
	FulfillmentPreparing FulfillmentStatus = "preparing"
	FulfillmentReady     FulfillmentStatus = "ready"
	FulfillmentShipped   FulfillmentStatus = "shipped"
	FulfillmentDelivered FulfillmentStatus = "delivered"
	FulfillmentCancelled FulfillmentStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed from s.
func (s FulfillmentStatus) Terminal() bool {
	return s == FulfillmentDelivered || s == FulfillmentCancelled
}

var fulfillmentNext = map[FulfillmentStatus]FulfillmentStatus{
	FulfillmentToPrepare: FulfillmentPreparing,
	FulfillmentPreparing: FulfillmentReady,
	FulfillmentReady:     FulfillmentShipped,
	FulfillmentShipped:   FulfillmentDelivered,
}

// CanTransitionFulfillment reports whether from -> to is a legal fulfillment
// transition. Backward moves are never legal.
func CanTransitionFulfillment(from, to FulfillmentStatus) bool {
	if to == FulfillmentCancelled {
		return !from.Terminal()
	}
	return fulfillmentNext[from] == to
}

// OrderStatusAfterFulfillment maps a fulfillment state onto the order status
// it forward-propagates to. The zero value means the order status is left
// untouched: fulfillment drives order status one way, never the reverse.
func OrderStatusAfterFulfillment(s FulfillmentStatus) OrderStatus {
	switch s {
	case FulfillmentReady:
		return OrderStatusProcessing
	case FulfillmentShipped:
		return OrderStatusShipped
	case FulfillmentDelivered:
		return OrderStatusDelivered
	case FulfillmentCancelled:
		return OrderStatusCancelled
	}
	return ""
}

// MovementType classifies a stock ledger entry.
type MovementType string

const (
	MovementStockOut   MovementType = "stock_out"
	MovementStockIn    MovementType = "stock_in"
	MovementAdjustment MovementType = "adjustment"
)
