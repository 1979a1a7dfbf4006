package models

import (
	"database/sql"
	"time"
)

// All monetary amounts are stored in euro cents.

// Product represents a catalog product. Catalog CRUD lives elsewhere; the
// order core only reads price/stock and writes stock_count through the
// stock ledger.
type Product struct {
	ID         int64     `db:"id" json:"id"`
	SKU        string    `db:"sku" json:"sku"`
	Title      string    `db:"title" json:"title"`
	Price      int64     `db:"price" json:"price"`
	StockCount int       `db:"stock_count" json:"stock_count"`
	Published  bool      `db:"published" json:"published"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Cart is the mutable pre-order basket. Exactly one of UserID/SessionKey is
// set: carts belong either to an authenticated user or an anonymous session.
type Cart struct {
	ID         int64          `db:"id" json:"id"`
	CartCode   string         `db:"cart_code" json:"cart_code"`
	UserID     sql.NullInt64  `db:"user_id" json:"user_id,omitempty"`
	SessionKey sql.NullString `db:"session_key" json:"-"`
	CreatedAt  time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time      `db:"updated_at" json:"updated_at"`
}

// CartItem holds a product with a unit-price snapshot taken when the line was
// first added. At most one line per product per cart; adds merge quantities.
type CartItem struct {
	ID        int64     `db:"id" json:"id"`
	CartID    int64     `db:"cart_id" json:"cart_id"`
	ProductID int64     `db:"product_id" json:"product_id"`
	Quantity  int       `db:"quantity" json:"quantity"`
	UnitPrice int64     `db:"unit_price" json:"unit_price"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Total returns the line total in cents.
func (ci *CartItem) Total() int64 {
	return ci.UnitPrice * int64(ci.Quantity)
}

// Order is immutable once placed. Customer and address fields are snapshots;
// totals are written only by the checkout transaction.
type Order struct {
	ID        int64         `db:"id" json:"id"`
	OrderCode string        `db:"order_code" json:"order_code"`
	UserID    sql.NullInt64 `db:"user_id" json:"user_id,omitempty"`

	Email    string `db:"email" json:"email"`
	FullName string `db:"full_name" json:"full_name"`
	Phone    string `db:"phone" json:"phone"`

	ShippingAddress    string `db:"shipping_address" json:"shipping_address"`
	ShippingCity       string `db:"shipping_city" json:"shipping_city"`
	ShippingState      string `db:"shipping_state" json:"shipping_state"`
	ShippingPostalCode string `db:"shipping_postal_code" json:"shipping_postal_code"`
	ShippingCountry    string `db:"shipping_country" json:"shipping_country"`

	BillingAddress    string `db:"billing_address" json:"billing_address,omitempty"`
	BillingCity       string `db:"billing_city" json:"billing_city,omitempty"`
	BillingState      string `db:"billing_state" json:"billing_state,omitempty"`
	BillingPostalCode string `db:"billing_postal_code" json:"billing_postal_code,omitempty"`
	BillingCountry    string `db:"billing_country" json:"billing_country,omitempty"`

	Subtotal     int64 `db:"subtotal" json:"subtotal"`
	ShippingCost int64 `db:"shipping_cost" json:"shipping_cost"`
	Tax          int64 `db:"tax" json:"tax"`
	Total        int64 `db:"total" json:"total"`

	Status     OrderStatus `db:"status" json:"status"`
	OrderNotes string      `db:"order_notes" json:"order_notes,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// OrderItem is a line snapshot: title, SKU and unit price are copied from the
// product at checkout and never recomputed. ProductID goes NULL if the
// product is later deleted from the catalog.
type OrderItem struct {
	ID           int64         `db:"id" json:"id"`
	OrderID      int64         `db:"order_id" json:"order_id"`
	ProductID    sql.NullInt64 `db:"product_id" json:"product_id,omitempty"`
	ProductTitle string        `db:"product_title" json:"product_title"`
	ProductSKU   string        `db:"product_sku" json:"product_sku"`
	Quantity     int           `db:"quantity" json:"quantity"`
	UnitPrice    int64         `db:"unit_price" json:"unit_price"`
}

// Total returns the line total in cents.
func (oi *OrderItem) Total() int64 {
	return oi.UnitPrice * int64(oi.Quantity)
}

// Payment is the one-to-one companion of an Order tracking external provider
// state. RawResponse stores the provider payload verbatim for audit/replay.
type Payment struct {
	ID          int64         `db:"id" json:"id"`
	PaymentCode string        `db:"payment_code" json:"payment_code"`
	OrderID     int64         `db:"order_id" json:"order_id"`
	Method      PaymentMethod `db:"method" json:"method"`
	Status      PaymentStatus `db:"status" json:"status"`
	Amount      int64         `db:"amount" json:"amount"`

	TransactionID     sql.NullString `db:"transaction_id" json:"transaction_id,omitempty"`
	ProviderSessionID sql.NullString `db:"provider_session_id" json:"provider_session_id,omitempty"`
	RawResponse       []byte         `db:"raw_response" json:"-"`

	CreatedAt time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt time.Time    `db:"updated_at" json:"updated_at"`
	PaidAt    sql.NullTime `db:"paid_at" json:"paid_at,omitempty"`
}

// OrderFulfillment is the staff-facing preparation tracker, one per order,
// created lazily on first staff interaction. Milestone timestamps are set
// exactly once when the corresponding state is entered.
type OrderFulfillment struct {
	ID            int64             `db:"id" json:"id"`
	OrderID       int64             `db:"order_id" json:"order_id"`
	Status        FulfillmentStatus `db:"status" json:"status"`
	ItemsVerified bool              `db:"items_verified" json:"items_verified"`
	AssignedTo    sql.NullInt64     `db:"assigned_to" json:"assigned_to,omitempty"`
	InternalNotes string            `db:"internal_notes" json:"internal_notes,omitempty"`

	StartedAt   sql.NullTime `db:"started_at" json:"started_at,omitempty"`
	ReadyAt     sql.NullTime `db:"ready_at" json:"ready_at,omitempty"`
	ShippedAt   sql.NullTime `db:"shipped_at" json:"shipped_at,omitempty"`
	DeliveredAt sql.NullTime `db:"delivered_at" json:"delivered_at,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// OrderItemVerification is the warehouse checklist entry for one order line.
// VerifiedQuantity may be lower than the ordered quantity to record a
// shortage.
type OrderItemVerification struct {
	ID               int64         `db:"id" json:"id"`
	OrderItemID      int64         `db:"order_item_id" json:"order_item_id"`
	Verified         bool          `db:"verified" json:"verified"`
	VerifiedQuantity int           `db:"verified_quantity" json:"verified_quantity"`
	VerifiedBy       sql.NullInt64 `db:"verified_by" json:"verified_by,omitempty"`
	VerifiedAt       sql.NullTime  `db:"verified_at" json:"verified_at,omitempty"`
	Notes            string        `db:"notes" json:"notes,omitempty"`
}

// StockMovement is one row of the append-only stock ledger. Quantity is a
// signed delta and stock_after must always equal stock_before + quantity.
// ProductTitle is denormalized so the row survives product deletion.
type StockMovement struct {
	ID           int64         `db:"id" json:"id"`
	ProductID    sql.NullInt64 `db:"product_id" json:"product_id,omitempty"`
	ProductTitle string        `db:"product_title" json:"product_title"`
	OrderID      sql.NullInt64 `db:"order_id" json:"order_id,omitempty"`
	OrderItemID  sql.NullInt64 `db:"order_item_id" json:"order_item_id,omitempty"`
	MovementType MovementType  `db:"movement_type" json:"movement_type"`
	Quantity     int           `db:"quantity" json:"quantity"`
	StockBefore  int           `db:"stock_before" json:"stock_before"`
	StockAfter   int           `db:"stock_after" json:"stock_after"`
	CreatedBy    sql.NullInt64 `db:"created_by" json:"created_by,omitempty"`
	Notes        string        `db:"notes" json:"notes,omitempty"`
	CreatedAt    time.Time     `db:"created_at" json:"created_at"`
}

// OrderNote is an append-only staff annotation on an order.
type OrderNote struct {
	ID          int64     `db:"id" json:"id"`
	OrderID     int64     `db:"order_id" json:"order_id"`
	UserID      int64     `db:"user_id" json:"user_id"`
	Note        string    `db:"note" json:"note"`
	IsImportant bool      `db:"is_important" json:"is_important"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// DeliveryNote accompanies a shipment, one per order.
type DeliveryNote struct {
	ID             int64         `db:"id" json:"id"`
	OrderID        int64         `db:"order_id" json:"order_id"`
	NoteNumber     string        `db:"note_number" json:"note_number"`
	Carrier        string        `db:"carrier" json:"carrier,omitempty"`
	TrackingNumber string        `db:"tracking_number" json:"tracking_number,omitempty"`
	PackagesCount  int           `db:"packages_count" json:"packages_count"`
	Notes          string        `db:"notes" json:"notes,omitempty"`
	DeliveryDate   sql.NullTime  `db:"delivery_date" json:"delivery_date,omitempty"`
	CreatedBy      sql.NullInt64 `db:"created_by" json:"created_by,omitempty"`
	CreatedAt      time.Time     `db:"created_at" json:"created_at"`
}

// ProcessedEvent records handled event ids for idempotent consumption.
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
