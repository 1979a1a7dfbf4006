package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"storefront/internal/models"
)

// CheckoutTx atomically creates the order with its line snapshots and pending
// payment, and clears the cart. Either everything becomes visible together or
// nothing is persisted; no reader ever observes an order without lines.
func (s *Store) CheckoutTx(ctx context.Context, order *models.Order, items []models.OrderItem, payment *models.Payment, cartID int64) error {
	if len(items) == 0 {
		return models.ErrEmptyCart
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	orderQuery := `
		INSERT INTO orders (
			order_code, user_id, email, full_name, phone,
			shipping_address, shipping_city, shipping_state, shipping_postal_code, shipping_country,
			billing_address, billing_city, billing_state, billing_postal_code, billing_country,
			subtotal, shipping_cost, tax, total, status, order_notes
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21
		)
		RETURNING id, created_at, updated_at`

	if err := tx.QueryRowxContext(ctx, orderQuery,
		order.OrderCode, order.UserID, order.Email, order.FullName, order.Phone,
		order.ShippingAddress, order.ShippingCity, order.ShippingState, order.ShippingPostalCode, order.ShippingCountry,
		order.BillingAddress, order.BillingCity, order.BillingState, order.BillingPostalCode, order.BillingCountry,
		order.Subtotal, order.ShippingCost, order.Tax, order.Total, order.Status, order.OrderNotes,
	).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt); err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}

	itemQuery := `
		INSERT INTO order_items (order_id, product_id, product_title, product_sku, quantity, unit_price)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`
	for i := range items {
		items[i].OrderID = order.ID
		if err := tx.QueryRowxContext(ctx, itemQuery,
			items[i].OrderID, items[i].ProductID, items[i].ProductTitle,
			items[i].ProductSKU, items[i].Quantity, items[i].UnitPrice,
		).Scan(&items[i].ID); err != nil {
			return fmt.Errorf("failed to create order item: %w", err)
		}
	}

	paymentQuery := `
		INSERT INTO payments (payment_code, order_id, method, status, amount)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`
	payment.OrderID = order.ID
	if err := tx.QueryRowxContext(ctx, paymentQuery,
		payment.PaymentCode, payment.OrderID, payment.Method, payment.Status, payment.Amount,
	).Scan(&payment.ID, &payment.CreatedAt, &payment.UpdatedAt); err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM cart_items WHERE cart_id = $1", cartID); err != nil {
		return fmt.Errorf("failed to clear cart: %w", err)
	}

	return tx.Commit()
}

// GetOrderByCode retrieves an order by its code.
func (s *Store) GetOrderByCode(ctx context.Context, orderCode string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE order_code = $1", orderCode)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", orderCode, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderItemsByOrderID retrieves all lines of an order.
func (s *Store) GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY id", orderID)
	return items, err
}

// GetOrderItemByID retrieves a single order line.
func (s *Store) GetOrderItemByID(ctx context.Context, itemID int64) (*models.OrderItem, error) {
	var item models.OrderItem
	err := s.db.GetContext(ctx, &item, "SELECT * FROM order_items WHERE id = $1", itemID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order item %d: %w", itemID, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// GetOrdersByUserID retrieves a user's orders, newest first.
func (s *Store) GetOrdersByUserID(ctx context.Context, userID int64) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE user_id = $1 ORDER BY created_at DESC", userID)
	return orders, err
}

// OrderFilter narrows the staff order listing.
type OrderFilter struct {
	Search        string
	Status        models.OrderStatus
	PaymentMethod models.PaymentMethod
	DateFrom      time.Time
	DateTo        time.Time
	Limit         int
}

// ListOrders retrieves orders for staff with optional filters.
func (s *Store) ListOrders(ctx context.Context, f OrderFilter) ([]models.Order, error) {
	query := "SELECT o.* FROM orders o"
	var conds []string
	var args []interface{}

	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.PaymentMethod != "" {
		query += " JOIN payments p ON p.order_id = o.id"
		conds = append(conds, "p.method = "+arg(f.PaymentMethod))
	}
	if f.Search != "" {
		p := arg("%" + f.Search + "%")
		conds = append(conds, fmt.Sprintf("(o.order_code ILIKE %s OR o.full_name ILIKE %s OR o.email ILIKE %s)", p, p, p))
	}
	if f.Status != "" {
		conds = append(conds, "o.status = "+arg(f.Status))
	}
	if !f.DateFrom.IsZero() {
		conds = append(conds, "o.created_at >= "+arg(f.DateFrom))
	}
	if !f.DateTo.IsZero() {
		conds = append(conds, "o.created_at <= "+arg(f.DateTo))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY o.created_at DESC"
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}

	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders, query, args...)
	return orders, err
}

// GetPaymentByOrderID retrieves the payment of an order.
func (s *Store) GetPaymentByOrderID(ctx context.Context, orderID int64) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.GetContext(ctx, &payment,
		"SELECT * FROM payments WHERE order_id = $1", orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("payment for order %d: %w", orderID, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// SetPaymentProviderRefs persists the provider session/transaction ids
// obtained when a payment is initiated. The payment stays pending.
func (s *Store) SetPaymentProviderRefs(ctx context.Context, paymentID int64, transactionID, sessionID string, raw []byte) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE payments
		SET transaction_id = NULLIF($1, ''),
		    provider_session_id = NULLIF($2, ''),
		    raw_response = COALESCE($3, raw_response),
		    updated_at = NOW()
		WHERE id = $4`,
		transactionID, sessionID, raw, paymentID)
	return err
}

// CompletePaymentTx transitions a payment to completed and its order to
// processing, under a row lock. paid_at is set exactly once, on the first
// transition; replays of an already-completed payment are a no-op and return
// completedNow=false.
func (s *Store) CompletePaymentTx(ctx context.Context, orderCode, transactionID string, raw []byte) (completedNow bool, payment *models.Payment, order *models.Order, err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, nil, nil, err
	}
	defer tx.Rollback()

	var o models.Order
	err = tx.GetContext(ctx, &o,
		"SELECT * FROM orders WHERE order_code = $1 FOR UPDATE", orderCode)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil, nil, fmt.Errorf("order %s: %w", orderCode, models.ErrNotFound)
	}
	if err != nil {
		return false, nil, nil, err
	}

	var p models.Payment
	err = tx.GetContext(ctx, &p,
		"SELECT * FROM payments WHERE order_id = $1 FOR UPDATE", o.ID)
	if err != nil {
		return false, nil, nil, fmt.Errorf("payment for order %s: %w", orderCode, err)
	}

	if p.Status == models.PaymentStatusCompleted {
		// replayed confirmation, nothing to do
		return false, &p, &o, tx.Commit()
	}

	err = tx.GetContext(ctx, &p, `
		UPDATE payments
		SET status = $1,
		    transaction_id = COALESCE(NULLIF($2, ''), transaction_id),
		    raw_response = COALESCE($3, raw_response),
		    paid_at = NOW(),
		    updated_at = NOW()
		WHERE id = $4
		RETURNING *`,
		models.PaymentStatusCompleted, transactionID, raw, p.ID)
	if err != nil {
		return false, nil, nil, fmt.Errorf("failed to complete payment: %w", err)
	}

	if o.Status == models.OrderStatusPending {
		err = tx.GetContext(ctx, &o,
			"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2 RETURNING *",
			models.OrderStatusProcessing, o.ID)
		if err != nil {
			return false, nil, nil, fmt.Errorf("failed to update order status: %w", err)
		}
	}

	return true, &p, &o, tx.Commit()
}

// FailPayment marks a payment as failed unless it already completed.
func (s *Store) FailPayment(ctx context.Context, paymentID int64, raw []byte) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE payments
		SET status = $1, raw_response = COALESCE($2, raw_response), updated_at = NOW()
		WHERE id = $3 AND status <> $4`,
		models.PaymentStatusFailed, raw, paymentID, models.PaymentStatusCompleted)
	return err
}

// AddOrderNote appends a staff note to an order.
func (s *Store) AddOrderNote(ctx context.Context, note *models.OrderNote) error {
	query := `
		INSERT INTO order_notes (order_id, user_id, note, is_important)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`
	return s.db.QueryRowxContext(ctx, query,
		note.OrderID, note.UserID, note.Note, note.IsImportant,
	).Scan(&note.ID, &note.CreatedAt)
}

// GetOrderNotes retrieves the notes of an order, newest first.
func (s *Store) GetOrderNotes(ctx context.Context, orderID int64) ([]models.OrderNote, error) {
	var notes []models.OrderNote
	err := s.db.SelectContext(ctx, &notes,
		"SELECT * FROM order_notes WHERE order_id = $1 ORDER BY created_at DESC", orderID)
	return notes, err
}

// GetImportantNotes retrieves the most recent important notes across orders.
func (s *Store) GetImportantNotes(ctx context.Context, limit int) ([]models.OrderNote, error) {
	var notes []models.OrderNote
	err := s.db.SelectContext(ctx, &notes,
		"SELECT * FROM order_notes WHERE is_important ORDER BY created_at DESC LIMIT $1", limit)
	return notes, err
}

// CountOrdersByStatus returns order counts keyed by status.
func (s *Store) CountOrdersByStatus(ctx context.Context) (map[models.OrderStatus]int, error) {
	rows, err := s.db.QueryxContext(ctx,
		"SELECT status, COUNT(*) FROM orders GROUP BY status")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[models.OrderStatus]int)
	for rows.Next() {
		var status models.OrderStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
