package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"storefront/internal/models"
	"storefront/internal/store"
	"storefront/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OrderStore is the persistence surface the order service needs.
type OrderStore interface {
	GetCartItems(ctx context.Context, cartID int64) ([]models.CartItem, error)
	GetProductByID(ctx context.Context, id int64) (*models.Product, error)
	CheckoutTx(ctx context.Context, order *models.Order, items []models.OrderItem, payment *models.Payment, cartID int64) error
	GetOrderByCode(ctx context.Context, orderCode string) (*models.Order, error)
	GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error)
	GetOrdersByUserID(ctx context.Context, userID int64) ([]models.Order, error)
	ListOrders(ctx context.Context, f store.OrderFilter) ([]models.Order, error)
	GetPaymentByOrderID(ctx context.Context, orderID int64) (*models.Payment, error)
	AddOrderNote(ctx context.Context, note *models.OrderNote) error
	GetOrderNotes(ctx context.Context, orderID int64) ([]models.OrderNote, error)
	GetImportantNotes(ctx context.Context, limit int) ([]models.OrderNote, error)
	CountOrdersByStatus(ctx context.Context) (map[models.OrderStatus]int, error)
	ListFulfillmentsByStatus(ctx context.Context, status models.FulfillmentStatus, limit int) ([]models.OrderFulfillment, error)
	ListStockMovements(ctx context.Context, f store.StockMovementFilter) ([]models.StockMovement, error)
}

// OrderPublisher publishes order lifecycle events.
type OrderPublisher interface {
	PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error
}

// OrderService converts carts into orders and serves order lookups.
type OrderService struct {
	store     OrderStore
	publisher OrderPublisher
	pricer    Pricer
	logger    *zap.Logger
}

// NewOrderService creates a new order service
func NewOrderService(store OrderStore, publisher OrderPublisher, pricer Pricer) *OrderService {
	return &OrderService{
		store:     store,
		publisher: publisher,
		pricer:    pricer,
		logger:    util.GetLogger(),
	}
}

// CheckoutRequest carries the customer fields submitted at checkout.
type CheckoutRequest struct {
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`

	ShippingAddress    string `json:"shipping_address"`
	ShippingCity       string `json:"shipping_city"`
	ShippingState      string `json:"shipping_state"`
	ShippingPostalCode string `json:"shipping_postal_code"`
	ShippingCountry    string `json:"shipping_country"`

	BillingAddress    string `json:"billing_address"`
	BillingCity       string `json:"billing_city"`
	BillingState      string `json:"billing_state"`
	BillingPostalCode string `json:"billing_postal_code"`
	BillingCountry    string `json:"billing_country"`

	PaymentMethod models.PaymentMethod `json:"payment_method"`
	OrderNotes    string               `json:"order_notes"`
}

func (r *CheckoutRequest) validate() error {
	required := map[string]string{
		"full_name":            r.FullName,
		"email":                r.Email,
		"phone":                r.Phone,
		"shipping_address":     r.ShippingAddress,
		"shipping_city":        r.ShippingCity,
		"shipping_state":       r.ShippingState,
		"shipping_postal_code": r.ShippingPostalCode,
	}
	for field, value := range required {
		if value == "" {
			return fmt.Errorf("%s: %w", field, models.ErrMissingField)
		}
	}
	if !r.PaymentMethod.Valid() {
		return fmt.Errorf("%q: %w", r.PaymentMethod, models.ErrInvalidPaymentMethod)
	}
	return nil
}

// CheckoutResult is what a successful checkout produced.
type CheckoutResult struct {
	Order   *models.Order
	Payment *models.Payment
	Items   []models.OrderItem
	// Warning is a non-blocking problem (e.g. the confirmation mail could
	// not be queued); the checkout itself succeeded.
	Warning string
}

// Checkout converts the cart into an immutable order with a pending payment,
// exactly once and atomically: order, line snapshots and payment become
// visible together and the cart is cleared in the same transaction. The
// confirmation notification is queued after commit and is best-effort.
func (os *OrderService) Checkout(ctx context.Context, cart *models.Cart, userID int64, req *CheckoutRequest) (*CheckoutResult, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Checkout")
	defer span.End()

	if err := req.validate(); err != nil {
		util.CheckoutFailedTotal.WithLabelValues("validation").Inc()
		return nil, err
	}

	cartItems, err := os.store.GetCartItems(ctx, cart.ID)
	if err != nil {
		return nil, err
	}
	if len(cartItems) == 0 {
		util.CheckoutFailedTotal.WithLabelValues("empty_cart").Inc()
		return nil, models.ErrEmptyCart
	}

	// snapshot title and SKU from the live product, price from the cart line
	orderItems := make([]models.OrderItem, 0, len(cartItems))
	for _, ci := range cartItems {
		product, err := os.store.GetProductByID(ctx, ci.ProductID)
		if err != nil {
			util.CheckoutFailedTotal.WithLabelValues("product_missing").Inc()
			return nil, fmt.Errorf("cart references product %d: %w", ci.ProductID, err)
		}
		orderItems = append(orderItems, models.OrderItem{
			ProductID:    sql.NullInt64{Int64: product.ID, Valid: true},
			ProductTitle: product.Title,
			ProductSKU:   product.SKU,
			Quantity:     ci.Quantity,
			UnitPrice:    ci.UnitPrice,
		})
	}

	totals := os.pricer.ComputeTotals(LinesFromCartItems(cartItems))

	order := &models.Order{
		OrderCode: models.NewOrderCode(),
		Email:     req.Email,
		FullName:  req.FullName,
		Phone:     req.Phone,

		ShippingAddress:    req.ShippingAddress,
		ShippingCity:       req.ShippingCity,
		ShippingState:      req.ShippingState,
		ShippingPostalCode: req.ShippingPostalCode,
		ShippingCountry:    defaultStr(req.ShippingCountry, "Italia"),

		BillingAddress:    defaultStr(req.BillingAddress, req.ShippingAddress),
		BillingCity:       defaultStr(req.BillingCity, req.ShippingCity),
		BillingState:      defaultStr(req.BillingState, req.ShippingState),
		BillingPostalCode: defaultStr(req.BillingPostalCode, req.ShippingPostalCode),
		BillingCountry:    defaultStr(req.BillingCountry, defaultStr(req.ShippingCountry, "Italia")),

		Subtotal:     totals.Subtotal,
		ShippingCost: totals.ShippingCost,
		Tax:          totals.Tax,
		Total:        totals.Total,

		Status:     models.OrderStatusPending,
		OrderNotes: req.OrderNotes,
	}
	if userID != 0 {
		order.UserID = sql.NullInt64{Int64: userID, Valid: true}
	}

	paymentRec := &models.Payment{
		PaymentCode: models.NewPaymentCode(),
		Method:      req.PaymentMethod,
		Status:      models.PaymentStatusPending,
		Amount:      order.Total,
	}

	if err := os.store.CheckoutTx(ctx, order, orderItems, paymentRec, cart.ID); err != nil {
		util.CheckoutFailedTotal.WithLabelValues("db_error").Inc()
		return nil, fmt.Errorf("checkout failed: %w", err)
	}

	util.OrdersPlacedTotal.Inc()
	os.logger.Info("Order placed",
		zap.String("order_code", order.OrderCode),
		zap.Int64("total", order.Total),
		zap.String("method", string(req.PaymentMethod)))

	result := &CheckoutResult{Order: order, Payment: paymentRec, Items: orderItems}

	lines := make([]models.OrderLineData, 0, len(orderItems))
	for _, item := range orderItems {
		lines = append(lines, models.OrderLineData{
			ProductTitle: item.ProductTitle,
			ProductSKU:   item.ProductSKU,
			Quantity:     item.Quantity,
			UnitPrice:    item.UnitPrice,
		})
	}
	event := &models.OrderPlacedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderPlaced,
			Timestamp: time.Now(),
		},
		OrderCode: order.OrderCode,
		Email:     order.Email,
		FullName:  order.FullName,
		Total:     order.Total,
		Items:     lines,
	}
	if err := os.publisher.PublishOrderPlaced(ctx, event); err != nil {
		// the order is already committed; a lost notification never fails
		// the checkout
		os.logger.Error("Failed to publish OrderPlaced event",
			zap.String("order_code", order.OrderCode), zap.Error(err))
		result.Warning = "order placed, but the confirmation email may be delayed"
	}

	return result, nil
}

func defaultStr(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}

// OrderDetail bundles an order with its lines and payment.
type OrderDetail struct {
	Order   *models.Order      `json:"order"`
	Items   []models.OrderItem `json:"items"`
	Payment *models.Payment    `json:"payment"`
}

// GetOrderByCode retrieves an order by its code. The code is unguessable and
// acts as the capability for guest lookups; owner checks are the caller's
// concern for listing.
func (os *OrderService) GetOrderByCode(ctx context.Context, orderCode string) (*OrderDetail, error) {
	order, err := os.store.GetOrderByCode(ctx, orderCode)
	if err != nil {
		return nil, err
	}
	items, err := os.store.GetOrderItemsByOrderID(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	payment, err := os.store.GetPaymentByOrderID(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	return &OrderDetail{Order: order, Items: items, Payment: payment}, nil
}

// ListOrdersByUser retrieves the authenticated owner's orders.
func (os *OrderService) ListOrdersByUser(ctx context.Context, userID int64) ([]models.Order, error) {
	return os.store.GetOrdersByUserID(ctx, userID)
}

// ListOrders retrieves orders for staff with filters.
func (os *OrderService) ListOrders(ctx context.Context, f store.OrderFilter) ([]models.Order, error) {
	return os.store.ListOrders(ctx, f)
}

// ListNotes retrieves the staff notes on an order, newest first.
func (os *OrderService) ListNotes(ctx context.Context, orderID int64) ([]models.OrderNote, error) {
	return os.store.GetOrderNotes(ctx, orderID)
}

// ListStockMovements retrieves stock ledger entries for staff review.
func (os *OrderService) ListStockMovements(ctx context.Context, f store.StockMovementFilter) ([]models.StockMovement, error) {
	return os.store.ListStockMovements(ctx, f)
}

// AddNote appends a staff note to an order.
func (os *OrderService) AddNote(ctx context.Context, orderCode string, staffID int64, text string, important bool) (*models.OrderNote, error) {
	order, err := os.store.GetOrderByCode(ctx, orderCode)
	if err != nil {
		return nil, err
	}
	note := &models.OrderNote{
		OrderID:     order.ID,
		UserID:      staffID,
		Note:        text,
		IsImportant: important,
	}
	if err := os.store.AddOrderNote(ctx, note); err != nil {
		return nil, err
	}
	return note, nil
}

// Dashboard aggregates the staff landing-page queues and stats.
type Dashboard struct {
	OrderCounts     map[models.OrderStatus]int `json:"order_counts"`
	ToPrepare       []models.OrderFulfillment  `json:"to_prepare"`
	Preparing       []models.OrderFulfillment  `json:"preparing"`
	RecentMovements []models.StockMovement     `json:"recent_movements"`
	ImportantNotes  []models.OrderNote         `json:"important_notes"`
}

// GetDashboard loads the staff dashboard.
func (os *OrderService) GetDashboard(ctx context.Context) (*Dashboard, error) {
	counts, err := os.store.CountOrdersByStatus(ctx)
	if err != nil {
		return nil, err
	}
	toPrepare, err := os.store.ListFulfillmentsByStatus(ctx, models.FulfillmentToPrepare, 10)
	if err != nil {
		return nil, err
	}
	preparing, err := os.store.ListFulfillmentsByStatus(ctx, models.FulfillmentPreparing, 10)
	if err != nil {
		return nil, err
	}
	movements, err := os.store.ListStockMovements(ctx, store.StockMovementFilter{Limit: 10})
	if err != nil {
		return nil, err
	}
	notes, err := os.store.GetImportantNotes(ctx, 5)
	if err != nil {
		return nil, err
	}
	return &Dashboard{
		OrderCounts:     counts,
		ToPrepare:       toPrepare,
		Preparing:       preparing,
		RecentMovements: movements,
		ImportantNotes:  notes,
	}, nil
}
