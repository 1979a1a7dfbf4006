package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"storefront/internal/models"
	"storefront/internal/store"
)

// fakeStore is an in-memory stand-in for the persistence layer. The
// transactional methods reproduce the same semantics as the SQL ones:
// idempotent completion, transition checks, verification diffs.
type fakeStore struct {
	products      map[int64]*models.Product
	carts         map[int64]*models.Cart
	cartItems     map[int64]*models.CartItem
	orders        map[int64]*models.Order
	orderItems    map[int64]*models.OrderItem
	payments      map[int64]*models.Payment // keyed by order id
	fulfillments  map[int64]*models.OrderFulfillment // keyed by order id
	verifications map[int64]*models.OrderItemVerification // keyed by order item id
	movements     []models.StockMovement
	notes         []models.OrderNote
	deliveryNotes map[int64]*models.DeliveryNote // keyed by order id
	processed     map[string]bool

	nextID      int64
	checkoutErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		products:      make(map[int64]*models.Product),
		carts:         make(map[int64]*models.Cart),
		cartItems:     make(map[int64]*models.CartItem),
		orders:        make(map[int64]*models.Order),
		orderItems:    make(map[int64]*models.OrderItem),
		payments:      make(map[int64]*models.Payment),
		fulfillments:  make(map[int64]*models.OrderFulfillment),
		verifications: make(map[int64]*models.OrderItemVerification),
		deliveryNotes: make(map[int64]*models.DeliveryNote),
		processed:     make(map[string]bool),
	}
}

func (f *fakeStore) id() int64 {
	f.nextID++
	return f.nextID
}

func (f *fakeStore) addProduct(sku, title string, price int64, stock int) *models.Product {
	p := &models.Product{ID: f.id(), SKU: sku, Title: title, Price: price, StockCount: stock, Published: true}
	f.products[p.ID] = p
	return p
}

func (f *fakeStore) GetProductByID(_ context.Context, id int64) (*models.Product, error) {
	p, ok := f.products[id]
	if !ok {
		return nil, fmt.Errorf("product %d: %w", id, models.ErrNotFound)
	}
	return p, nil
}

func (f *fakeStore) GetOrCreateCartByUser(_ context.Context, userID int64) (*models.Cart, error) {
	for _, c := range f.carts {
		if c.UserID.Valid && c.UserID.Int64 == userID {
			return c, nil
		}
	}
	c := &models.Cart{ID: f.id(), CartCode: models.NewCartCode(), UserID: sql.NullInt64{Int64: userID, Valid: true}}
	f.carts[c.ID] = c
	return c, nil
}

func (f *fakeStore) GetOrCreateCartBySession(_ context.Context, sessionKey string) (*models.Cart, error) {
	for _, c := range f.carts {
		if c.SessionKey.Valid && c.SessionKey.String == sessionKey {
			return c, nil
		}
	}
	c := &models.Cart{ID: f.id(), CartCode: models.NewCartCode(), SessionKey: sql.NullString{String: sessionKey, Valid: true}}
	f.carts[c.ID] = c
	return c, nil
}

func (f *fakeStore) GetCartItems(_ context.Context, cartID int64) ([]models.CartItem, error) {
	var items []models.CartItem
	for _, item := range f.cartItems {
		if item.CartID == cartID {
			items = append(items, *item)
		}
	}
	return items, nil
}

func (f *fakeStore) GetCartItem(_ context.Context, cartID, productID int64) (*models.CartItem, error) {
	for _, item := range f.cartItems {
		if item.CartID == cartID && item.ProductID == productID {
			return item, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) GetCartItemByID(_ context.Context, cartID, itemID int64) (*models.CartItem, error) {
	item, ok := f.cartItems[itemID]
	if !ok || item.CartID != cartID {
		return nil, fmt.Errorf("cart item %d: %w", itemID, models.ErrNotFound)
	}
	return item, nil
}

func (f *fakeStore) UpsertCartItem(_ context.Context, cartID, productID int64, quantity int, unitPrice int64) (*models.CartItem, error) {
	for _, item := range f.cartItems {
		if item.CartID == cartID && item.ProductID == productID {
			item.Quantity += quantity
			return item, nil
		}
	}
	item := &models.CartItem{ID: f.id(), CartID: cartID, ProductID: productID, Quantity: quantity, UnitPrice: unitPrice}
	f.cartItems[item.ID] = item
	return item, nil
}

func (f *fakeStore) SetCartItemQuantity(_ context.Context, itemID int64, quantity int) error {
	item, ok := f.cartItems[itemID]
	if !ok {
		return models.ErrNotFound
	}
	item.Quantity = quantity
	return nil
}

func (f *fakeStore) DeleteCartItem(_ context.Context, cartID, itemID int64) error {
	delete(f.cartItems, itemID)
	return nil
}

func (f *fakeStore) ClearCart(_ context.Context, cartID int64) error {
	for id, item := range f.cartItems {
		if item.CartID == cartID {
			delete(f.cartItems, id)
		}
	}
	return nil
}

func (f *fakeStore) CheckoutTx(_ context.Context, order *models.Order, items []models.OrderItem, payment *models.Payment, cartID int64) error {
	if f.checkoutErr != nil {
		return f.checkoutErr
	}
	if len(items) == 0 {
		return models.ErrEmptyCart
	}
	order.ID = f.id()
	order.CreatedAt = time.Now()
	f.orders[order.ID] = order
	for i := range items {
		items[i].ID = f.id()
		items[i].OrderID = order.ID
		copied := items[i]
		f.orderItems[copied.ID] = &copied
	}
	payment.ID = f.id()
	payment.OrderID = order.ID
	f.payments[order.ID] = payment
	for id, item := range f.cartItems {
		if item.CartID == cartID {
			delete(f.cartItems, id)
		}
	}
	return nil
}

func (f *fakeStore) GetOrderByCode(_ context.Context, orderCode string) (*models.Order, error) {
	for _, o := range f.orders {
		if o.OrderCode == orderCode {
			return o, nil
		}
	}
	return nil, fmt.Errorf("order %s: %w", orderCode, models.ErrNotFound)
}

func (f *fakeStore) GetOrderItemsByOrderID(_ context.Context, orderID int64) ([]models.OrderItem, error) {
	var items []models.OrderItem
	for _, item := range f.orderItems {
		if item.OrderID == orderID {
			items = append(items, *item)
		}
	}
	return items, nil
}

func (f *fakeStore) GetOrdersByUserID(_ context.Context, userID int64) ([]models.Order, error) {
	var orders []models.Order
	for _, o := range f.orders {
		if o.UserID.Valid && o.UserID.Int64 == userID {
			orders = append(orders, *o)
		}
	}
	return orders, nil
}

func (f *fakeStore) ListOrders(_ context.Context, filter store.OrderFilter) ([]models.Order, error) {
	var orders []models.Order
	for _, o := range f.orders {
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		orders = append(orders, *o)
	}
	return orders, nil
}

func (f *fakeStore) GetPaymentByOrderID(_ context.Context, orderID int64) (*models.Payment, error) {
	p, ok := f.payments[orderID]
	if !ok {
		return nil, fmt.Errorf("payment for order %d: %w", orderID, models.ErrNotFound)
	}
	return p, nil
}

func (f *fakeStore) SetPaymentProviderRefs(_ context.Context, paymentID int64, transactionID, sessionID string, raw []byte) error {
	for _, p := range f.payments {
		if p.ID == paymentID {
			if transactionID != "" {
				p.TransactionID = sql.NullString{String: transactionID, Valid: true}
			}
			if sessionID != "" {
				p.ProviderSessionID = sql.NullString{String: sessionID, Valid: true}
			}
			p.RawResponse = raw
			return nil
		}
	}
	return models.ErrNotFound
}

func (f *fakeStore) CompletePaymentTx(ctx context.Context, orderCode, transactionID string, raw []byte) (bool, *models.Payment, *models.Order, error) {
	order, err := f.GetOrderByCode(ctx, orderCode)
	if err != nil {
		return false, nil, nil, err
	}
	payment := f.payments[order.ID]
	if payment.Status == models.PaymentStatusCompleted {
		return false, payment, order, nil
	}
	payment.Status = models.PaymentStatusCompleted
	payment.TransactionID = sql.NullString{String: transactionID, Valid: true}
	payment.RawResponse = raw
	payment.PaidAt = sql.NullTime{Time: time.Now(), Valid: true}
	if order.Status == models.OrderStatusPending {
		order.Status = models.OrderStatusProcessing
	}
	return true, payment, order, nil
}

func (f *fakeStore) FailPayment(_ context.Context, paymentID int64, raw []byte) error {
	for _, p := range f.payments {
		if p.ID == paymentID && p.Status != models.PaymentStatusCompleted {
			p.Status = models.PaymentStatusFailed
			p.RawResponse = raw
		}
	}
	return nil
}

func (f *fakeStore) AddOrderNote(_ context.Context, note *models.OrderNote) error {
	note.ID = f.id()
	note.CreatedAt = time.Now()
	f.notes = append(f.notes, *note)
	return nil
}

func (f *fakeStore) GetOrderNotes(_ context.Context, orderID int64) ([]models.OrderNote, error) {
	var notes []models.OrderNote
	for _, n := range f.notes {
		if n.OrderID == orderID {
			notes = append(notes, n)
		}
	}
	return notes, nil
}

func (f *fakeStore) GetImportantNotes(_ context.Context, limit int) ([]models.OrderNote, error) {
	var notes []models.OrderNote
	for _, n := range f.notes {
		if n.IsImportant {
			notes = append(notes, n)
		}
	}
	return notes, nil
}

func (f *fakeStore) CountOrdersByStatus(_ context.Context) (map[models.OrderStatus]int, error) {
	counts := make(map[models.OrderStatus]int)
	for _, o := range f.orders {
		counts[o.Status]++
	}
	return counts, nil
}

func (f *fakeStore) ListFulfillmentsByStatus(_ context.Context, status models.FulfillmentStatus, limit int) ([]models.OrderFulfillment, error) {
	var out []models.OrderFulfillment
	for _, ff := range f.fulfillments {
		if ff.Status == status {
			out = append(out, *ff)
		}
	}
	return out, nil
}

func (f *fakeStore) EnsureFulfillment(_ context.Context, orderID int64) (*models.OrderFulfillment, error) {
	if ff, ok := f.fulfillments[orderID]; ok {
		return ff, nil
	}
	ff := &models.OrderFulfillment{ID: f.id(), OrderID: orderID, Status: models.FulfillmentToPrepare}
	f.fulfillments[orderID] = ff
	return ff, nil
}

func (f *fakeStore) TransitionFulfillmentTx(ctx context.Context, orderID int64, to models.FulfillmentStatus, staffID int64) (*models.OrderFulfillment, *models.Order, error) {
	ff, err := f.EnsureFulfillment(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	if !models.CanTransitionFulfillment(ff.Status, to) {
		return nil, nil, fmt.Errorf("%s -> %s: %w", ff.Status, to, models.ErrInvalidTransition)
	}
	ff.Status = to
	now := time.Now()
	switch to {
	case models.FulfillmentPreparing:
		ff.StartedAt = sql.NullTime{Time: now, Valid: true}
		if !ff.AssignedTo.Valid && staffID != 0 {
			ff.AssignedTo = sql.NullInt64{Int64: staffID, Valid: true}
		}
	case models.FulfillmentReady:
		ff.ReadyAt = sql.NullTime{Time: now, Valid: true}
	case models.FulfillmentShipped:
		ff.ShippedAt = sql.NullTime{Time: now, Valid: true}
	case models.FulfillmentDelivered:
		ff.DeliveredAt = sql.NullTime{Time: now, Valid: true}
	}
	order := f.orders[orderID]
	if next := models.OrderStatusAfterFulfillment(to); next != "" {
		order.Status = next
	}
	if to == models.FulfillmentCancelled {
		f.restock(orderID, staffID)
	}
	return ff, order, nil
}

// restock mirrors the cancellation path: every previously applied verified
// quantity comes back as a stock_in movement.
func (f *fakeStore) restock(orderID, staffID int64) {
	for itemID, v := range f.verifications {
		item := f.orderItems[itemID]
		if item == nil || item.OrderID != orderID || v.VerifiedQuantity == 0 {
			continue
		}
		if item.ProductID.Valid {
			if p, ok := f.products[item.ProductID.Int64]; ok {
				f.appendMovement(p, item, v.VerifiedQuantity, models.MovementStockIn, staffID)
			}
		}
		v.VerifiedQuantity = 0
		v.Verified = false
	}
}

func (f *fakeStore) appendMovement(p *models.Product, item *models.OrderItem, delta int, mtype models.MovementType, staffID int64) {
	before := p.StockCount
	p.StockCount += delta
	f.movements = append(f.movements, models.StockMovement{
		ID:           f.id(),
		ProductID:    sql.NullInt64{Int64: p.ID, Valid: true},
		ProductTitle: p.Title,
		OrderID:      sql.NullInt64{Int64: item.OrderID, Valid: true},
		OrderItemID:  sql.NullInt64{Int64: item.ID, Valid: true},
		MovementType: mtype,
		Quantity:     delta,
		StockBefore:  before,
		StockAfter:   p.StockCount,
		CreatedBy:    sql.NullInt64{Int64: staffID, Valid: staffID != 0},
		CreatedAt:    time.Now(),
	})
}

func (f *fakeStore) VerifyItemTx(ctx context.Context, orderItemID int64, verified bool, verifiedQuantity int, staffID int64, notes string) (*store.VerifyItemResult, error) {
	item, ok := f.orderItems[orderItemID]
	if !ok {
		return nil, fmt.Errorf("order item %d: %w", orderItemID, models.ErrNotFound)
	}
	ff, err := f.EnsureFulfillment(ctx, item.OrderID)
	if err != nil {
		return nil, err
	}
	if ff.Status == models.FulfillmentCancelled {
		return &store.VerifyItemResult{Skipped: true}, nil
	}

	v, ok := f.verifications[orderItemID]
	if !ok {
		v = &models.OrderItemVerification{ID: f.id(), OrderItemID: orderItemID}
		f.verifications[orderItemID] = v
	}

	applied := 0
	if verified {
		applied = verifiedQuantity
	}
	delta := applied - v.VerifiedQuantity

	var movement *models.StockMovement
	if delta != 0 && item.ProductID.Valid {
		if p, exists := f.products[item.ProductID.Int64]; exists {
			mtype := models.MovementStockOut
			if delta < 0 {
				mtype = models.MovementStockIn
			}
			f.appendMovement(p, item, -delta, mtype, staffID)
			movement = &f.movements[len(f.movements)-1]
		}
	}

	v.Verified = verified
	v.VerifiedQuantity = applied
	v.VerifiedBy = sql.NullInt64{Int64: staffID, Valid: staffID != 0}
	v.VerifiedAt = sql.NullTime{Time: time.Now(), Valid: true}
	v.Notes = notes

	allVerified := true
	for _, oi := range f.orderItems {
		if oi.OrderID != item.OrderID {
			continue
		}
		other, ok := f.verifications[oi.ID]
		if !ok || !other.Verified {
			allVerified = false
			break
		}
	}
	ff.ItemsVerified = allVerified

	copied := *v
	return &store.VerifyItemResult{Verification: &copied, Movement: movement, ItemsVerified: allVerified}, nil
}

func (f *fakeStore) GetVerificationsByOrderID(_ context.Context, orderID int64) (map[int64]models.OrderItemVerification, error) {
	out := make(map[int64]models.OrderItemVerification)
	for itemID, v := range f.verifications {
		if item := f.orderItems[itemID]; item != nil && item.OrderID == orderID {
			out[itemID] = *v
		}
	}
	return out, nil
}

func (f *fakeStore) CreateDeliveryNote(_ context.Context, note *models.DeliveryNote) error {
	if _, exists := f.deliveryNotes[note.OrderID]; exists {
		return fmt.Errorf("delivery note for order %d: %w", note.OrderID, models.ErrAlreadyExists)
	}
	note.ID = f.id()
	note.NoteNumber = fmt.Sprintf("BDC-%d-%05d", time.Now().Year(), len(f.deliveryNotes)+1)
	note.CreatedAt = time.Now()
	f.deliveryNotes[note.OrderID] = note
	return nil
}

func (f *fakeStore) GetDeliveryNoteByOrderID(_ context.Context, orderID int64) (*models.DeliveryNote, error) {
	return f.deliveryNotes[orderID], nil
}

func (f *fakeStore) ListStockMovements(_ context.Context, filter store.StockMovementFilter) ([]models.StockMovement, error) {
	var out []models.StockMovement
	for _, m := range f.movements {
		if filter.OrderID != 0 && (!m.OrderID.Valid || m.OrderID.Int64 != filter.OrderID) {
			continue
		}
		if filter.MovementType != "" && m.MovementType != filter.MovementType {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (f *fakeStore) IsEventProcessed(_ context.Context, eventID string) (bool, error) {
	return f.processed[eventID], nil
}

func (f *fakeStore) MarkEventProcessed(_ context.Context, eventID, eventType string) error {
	f.processed[eventID] = true
	return nil
}

// fakePublisher records published events and can be told to fail.
type fakePublisher struct {
	placed    []*models.OrderPlacedEvent
	completed []*models.PaymentCompletedEvent
	failed    []*models.PaymentFailedEvent
	shipped   []*models.OrderShippedEvent
	cancelled []*models.OrderCancelledEvent
	err       error
}

var errPublish = errors.New("broker unavailable")

func (p *fakePublisher) PublishOrderPlaced(_ context.Context, e *models.OrderPlacedEvent) error {
	if p.err != nil {
		return p.err
	}
	p.placed = append(p.placed, e)
	return nil
}

func (p *fakePublisher) PublishPaymentCompleted(_ context.Context, e *models.PaymentCompletedEvent) error {
	if p.err != nil {
		return p.err
	}
	p.completed = append(p.completed, e)
	return nil
}

func (p *fakePublisher) PublishPaymentFailed(_ context.Context, e *models.PaymentFailedEvent) error {
	if p.err != nil {
		return p.err
	}
	p.failed = append(p.failed, e)
	return nil
}

func (p *fakePublisher) PublishOrderShipped(_ context.Context, e *models.OrderShippedEvent) error {
	if p.err != nil {
		return p.err
	}
	p.shipped = append(p.shipped, e)
	return nil
}

func (p *fakePublisher) PublishOrderCancelled(_ context.Context, e *models.OrderCancelledEvent) error {
	if p.err != nil {
		return p.err
	}
	p.cancelled = append(p.cancelled, e)
	return nil
}
