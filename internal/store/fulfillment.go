package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"storefront/internal/models"

	"github.com/jmoiron/sqlx"
)

// EnsureFulfillment returns the fulfillment tracker of an order, creating it
// in to_prepare on first staff interaction.
func (s *Store) EnsureFulfillment(ctx context.Context, orderID int64) (*models.OrderFulfillment, error) {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO order_fulfillments (order_id) VALUES ($1) ON CONFLICT (order_id) DO NOTHING",
		orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure fulfillment: %w", err)
	}

	var f models.OrderFulfillment
	if err := s.db.GetContext(ctx, &f,
		"SELECT * FROM order_fulfillments WHERE order_id = $1", orderID); err != nil {
		return nil, err
	}
	return &f, nil
}

// GetFulfillmentByOrderID retrieves an order's fulfillment tracker, if any.
func (s *Store) GetFulfillmentByOrderID(ctx context.Context, orderID int64) (*models.OrderFulfillment, error) {
	var f models.OrderFulfillment
	err := s.db.GetContext(ctx, &f,
		"SELECT * FROM order_fulfillments WHERE order_id = $1", orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// ListFulfillmentsByStatus retrieves trackers in a given state, newest first.
func (s *Store) ListFulfillmentsByStatus(ctx context.Context, status models.FulfillmentStatus, limit int) ([]models.OrderFulfillment, error) {
	var fs []models.OrderFulfillment
	err := s.db.SelectContext(ctx, &fs,
		"SELECT * FROM order_fulfillments WHERE status = $1 ORDER BY updated_at DESC LIMIT $2",
		status, limit)
	return fs, err
}

// TransitionFulfillmentTx advances the fulfillment state machine under a row
// lock, stamps the milestone timestamp exactly once, assigns the acting staff
// member on preparing, and forward-propagates the resulting order status.
// Cancelling after items were verified writes compensating stock_in movements
// so the ledger stays consistent with the live counters.
func (s *Store) TransitionFulfillmentTx(ctx context.Context, orderID int64, to models.FulfillmentStatus, staffID int64) (*models.OrderFulfillment, *models.Order, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO order_fulfillments (order_id) VALUES ($1) ON CONFLICT (order_id) DO NOTHING",
		orderID); err != nil {
		return nil, nil, fmt.Errorf("failed to ensure fulfillment: %w", err)
	}

	var f models.OrderFulfillment
	if err := tx.GetContext(ctx, &f,
		"SELECT * FROM order_fulfillments WHERE order_id = $1 FOR UPDATE", orderID); err != nil {
		return nil, nil, err
	}

	if !models.CanTransitionFulfillment(f.Status, to) {
		return nil, nil, fmt.Errorf("fulfillment %s -> %s: %w", f.Status, to, models.ErrInvalidTransition)
	}

	query := "UPDATE order_fulfillments SET status = $1, updated_at = NOW()"
	args := []interface{}{to}
	switch to {
	case models.FulfillmentPreparing:
		query += ", started_at = COALESCE(started_at, NOW()), assigned_to = COALESCE(assigned_to, $2)"
		args = append(args, staffID)
	case models.FulfillmentReady:
		query += ", ready_at = COALESCE(ready_at, NOW())"
	case models.FulfillmentShipped:
		query += ", shipped_at = COALESCE(shipped_at, NOW())"
	case models.FulfillmentDelivered:
		query += ", delivered_at = COALESCE(delivered_at, NOW())"
	}
	query += fmt.Sprintf(" WHERE id = $%d RETURNING *", len(args)+1)
	args = append(args, f.ID)

	if err := tx.GetContext(ctx, &f, query, args...); err != nil {
		return nil, nil, fmt.Errorf("failed to update fulfillment: %w", err)
	}

	var order models.Order
	if next := models.OrderStatusAfterFulfillment(to); next != "" {
		if err := tx.GetContext(ctx, &order,
			"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2 RETURNING *",
			next, orderID); err != nil {
			return nil, nil, fmt.Errorf("failed to propagate order status: %w", err)
		}
	} else {
		if err := tx.GetContext(ctx, &order,
			"SELECT * FROM orders WHERE id = $1", orderID); err != nil {
			return nil, nil, err
		}
	}

	if to == models.FulfillmentCancelled {
		if err := restockVerifiedItems(ctx, tx, &order, staffID); err != nil {
			return nil, nil, err
		}
	}

	return &f, &order, tx.Commit()
}

// restockVerifiedItems reverses earlier stock_out movements of an order when
// its fulfillment is cancelled.
func restockVerifiedItems(ctx context.Context, tx *sqlx.Tx, order *models.Order, staffID int64) error {
	type verifiedLine struct {
		OrderItemID int64         `db:"order_item_id"`
		ProductID   sql.NullInt64 `db:"product_id"`
		Quantity    int           `db:"verified_quantity"`
	}
	var lines []verifiedLine
	err := tx.SelectContext(ctx, &lines, `
		SELECT v.order_item_id, oi.product_id, v.verified_quantity
		FROM order_item_verifications v
		JOIN order_items oi ON oi.id = v.order_item_id
		WHERE oi.order_id = $1 AND v.verified AND v.verified_quantity > 0
		ORDER BY v.order_item_id`, order.ID)
	if err != nil {
		return fmt.Errorf("failed to load verified lines: %w", err)
	}

	for _, line := range lines {
		if !line.ProductID.Valid {
			continue
		}
		if _, err := applyStockDelta(ctx, tx, stockDelta{
			productID:   line.ProductID.Int64,
			orderID:     order.ID,
			orderItemID: line.OrderItemID,
			delta:       line.Quantity,
			staffID:     staffID,
			notes:       fmt.Sprintf("Restock on cancellation of order %s", order.OrderCode),
		}); err != nil {
			return err
		}
	}
	return nil
}

type stockDelta struct {
	productID   int64
	orderID     int64
	orderItemID int64
	delta       int // signed change to stock_count
	staffID     int64
	notes       string
}

// applyStockDelta locks the product row, moves its counter, and appends the
// matching ledger entry in the same transaction. stock_before/stock_after
// always reflect the actual transition; the ledger for one product serializes
// on the product row lock.
func applyStockDelta(ctx context.Context, tx *sqlx.Tx, d stockDelta) (*models.StockMovement, error) {
	var product models.Product
	err := tx.GetContext(ctx, &product,
		"SELECT * FROM products WHERE id = $1 FOR UPDATE", d.productID)
	if errors.Is(err, sql.ErrNoRows) {
		// product deleted after the order was placed; nothing to move
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock product %d: %w", d.productID, err)
	}

	before := product.StockCount
	after := before + d.delta
	if _, err := tx.ExecContext(ctx,
		"UPDATE products SET stock_count = $1 WHERE id = $2", after, d.productID); err != nil {
		return nil, fmt.Errorf("failed to update stock: %w", err)
	}

	movementType := models.MovementStockIn
	if d.delta < 0 {
		movementType = models.MovementStockOut
	}

	movement := &models.StockMovement{
		ProductID:    sql.NullInt64{Int64: d.productID, Valid: true},
		ProductTitle: product.Title,
		OrderID:      sql.NullInt64{Int64: d.orderID, Valid: d.orderID != 0},
		OrderItemID:  sql.NullInt64{Int64: d.orderItemID, Valid: d.orderItemID != 0},
		MovementType: movementType,
		Quantity:     d.delta,
		StockBefore:  before,
		StockAfter:   after,
		CreatedBy:    sql.NullInt64{Int64: d.staffID, Valid: d.staffID != 0},
		Notes:        d.notes,
	}

	query := `
		INSERT INTO stock_movements (
			product_id, product_title, order_id, order_item_id,
			movement_type, quantity, stock_before, stock_after, created_by, notes
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at`
	if err := tx.QueryRowxContext(ctx, query,
		movement.ProductID, movement.ProductTitle, movement.OrderID, movement.OrderItemID,
		movement.MovementType, movement.Quantity, movement.StockBefore, movement.StockAfter,
		movement.CreatedBy, movement.Notes,
	).Scan(&movement.ID, &movement.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to append stock movement: %w", err)
	}

	return movement, nil
}

// VerifyItemResult reports what a verification changed.
type VerifyItemResult struct {
	Skipped       bool // fulfillment cancelled, nothing applied
	Verification  *models.OrderItemVerification
	Movement      *models.StockMovement // nil when stock did not change
	ItemsVerified bool
}

// VerifyItemTx upserts the verification checklist entry for one order line
// and keeps the stock counter and ledger in step with it, all in one
// transaction. Re-verification is idempotent: the stock adjustment is the
// difference between the previously applied quantity and the new one, so a
// replay with the same quantity moves nothing and a downward correction
// writes a compensating stock_in.
func (s *Store) VerifyItemTx(ctx context.Context, orderItemID int64, verified bool, verifiedQuantity int, staffID int64, notes string) (*VerifyItemResult, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var item models.OrderItem
	err = tx.GetContext(ctx, &item, "SELECT * FROM order_items WHERE id = $1", orderItemID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order item %d: %w", orderItemID, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	var order models.Order
	if err := tx.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", item.OrderID); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO order_fulfillments (order_id) VALUES ($1) ON CONFLICT (order_id) DO NOTHING",
		item.OrderID); err != nil {
		return nil, fmt.Errorf("failed to ensure fulfillment: %w", err)
	}
	var f models.OrderFulfillment
	if err := tx.GetContext(ctx, &f,
		"SELECT * FROM order_fulfillments WHERE order_id = $1 FOR UPDATE", item.OrderID); err != nil {
		return nil, err
	}
	if f.Status == models.FulfillmentCancelled {
		// tolerate retries against cancelled orders without touching stock
		return &VerifyItemResult{Skipped: true}, tx.Commit()
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO order_item_verifications (order_item_id) VALUES ($1) ON CONFLICT (order_item_id) DO NOTHING",
		orderItemID); err != nil {
		return nil, fmt.Errorf("failed to ensure verification: %w", err)
	}
	var prev models.OrderItemVerification
	if err := tx.GetContext(ctx, &prev,
		"SELECT * FROM order_item_verifications WHERE order_item_id = $1 FOR UPDATE", orderItemID); err != nil {
		return nil, err
	}

	prevApplied := 0
	if prev.Verified {
		prevApplied = prev.VerifiedQuantity
	}
	newApplied := 0
	if verified {
		newApplied = verifiedQuantity
	}
	delta := newApplied - prevApplied

	var verification models.OrderItemVerification
	if err := tx.GetContext(ctx, &verification, `
		UPDATE order_item_verifications
		SET verified = $1, verified_quantity = $2, verified_by = $3, verified_at = NOW(), notes = $4
		WHERE order_item_id = $5
		RETURNING *`,
		verified, verifiedQuantity, staffID, notes, orderItemID); err != nil {
		return nil, fmt.Errorf("failed to update verification: %w", err)
	}

	var movement *models.StockMovement
	if delta != 0 && item.ProductID.Valid {
		movement, err = applyStockDelta(ctx, tx, stockDelta{
			productID:   item.ProductID.Int64,
			orderID:     item.OrderID,
			orderItemID: item.ID,
			delta:       -delta,
			staffID:     staffID,
			notes:       fmt.Sprintf("Verification of order %s", order.OrderCode),
		})
		if err != nil {
			return nil, err
		}
	}

	// re-scan every line rather than trusting monotonic progress; quantities
	// can be corrected downward
	var allVerified bool
	if err := tx.GetContext(ctx, &allVerified, `
		SELECT NOT EXISTS (
			SELECT 1 FROM order_items oi
			LEFT JOIN order_item_verifications v ON v.order_item_id = oi.id
			WHERE oi.order_id = $1 AND (v.order_item_id IS NULL OR NOT v.verified)
		)`, item.OrderID); err != nil {
		return nil, fmt.Errorf("failed to recompute items_verified: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE order_fulfillments SET items_verified = $1, updated_at = NOW() WHERE order_id = $2",
		allVerified, item.OrderID); err != nil {
		return nil, fmt.Errorf("failed to update items_verified: %w", err)
	}

	return &VerifyItemResult{
		Verification:  &verification,
		Movement:      movement,
		ItemsVerified: allVerified,
	}, tx.Commit()
}

// GetVerificationsByOrderID retrieves the checklist entries for all lines of
// an order, keyed by order item id.
func (s *Store) GetVerificationsByOrderID(ctx context.Context, orderID int64) (map[int64]models.OrderItemVerification, error) {
	var vs []models.OrderItemVerification
	err := s.db.SelectContext(ctx, &vs, `
		SELECT v.* FROM order_item_verifications v
		JOIN order_items oi ON oi.id = v.order_item_id
		WHERE oi.order_id = $1`, orderID)
	if err != nil {
		return nil, err
	}
	byItem := make(map[int64]models.OrderItemVerification, len(vs))
	for _, v := range vs {
		byItem[v.OrderItemID] = v
	}
	return byItem, nil
}

// StockMovementFilter narrows the ledger listing.
type StockMovementFilter struct {
	MovementType models.MovementType
	ProductID    int64
	OrderID      int64
	Limit        int
}

// ListStockMovements retrieves ledger entries, newest first.
func (s *Store) ListStockMovements(ctx context.Context, f StockMovementFilter) ([]models.StockMovement, error) {
	query := "SELECT * FROM stock_movements WHERE 1=1"
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.MovementType != "" {
		query += " AND movement_type = " + arg(f.MovementType)
	}
	if f.ProductID != 0 {
		query += " AND product_id = " + arg(f.ProductID)
	}
	if f.OrderID != 0 {
		query += " AND order_id = " + arg(f.OrderID)
	}
	query += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}

	var movements []models.StockMovement
	err := s.db.SelectContext(ctx, &movements, query, args...)
	return movements, err
}

// CreateDeliveryNote creates the delivery note of an order with a per-year
// sequential number (BDC-<year>-NNNNN). One note per order.
func (s *Store) CreateDeliveryNote(ctx context.Context, note *models.DeliveryNote) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM delivery_notes WHERE order_id = $1)", note.OrderID); err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("delivery note for order %d: %w", note.OrderID, models.ErrAlreadyExists)
	}

	year := time.Now().Year()
	var seq int
	if err := tx.GetContext(ctx, &seq,
		"SELECT COUNT(*) + 1 FROM delivery_notes WHERE EXTRACT(YEAR FROM created_at) = $1", year); err != nil {
		return err
	}
	note.NoteNumber = fmt.Sprintf("BDC-%d-%05d", year, seq)
	if note.PackagesCount <= 0 {
		note.PackagesCount = 1
	}

	query := `
		INSERT INTO delivery_notes (order_id, note_number, carrier, tracking_number, packages_count, notes, delivery_date, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`
	if err := tx.QueryRowxContext(ctx, query,
		note.OrderID, note.NoteNumber, note.Carrier, note.TrackingNumber,
		note.PackagesCount, note.Notes, note.DeliveryDate, note.CreatedBy,
	).Scan(&note.ID, &note.CreatedAt); err != nil {
		return fmt.Errorf("failed to create delivery note: %w", err)
	}

	return tx.Commit()
}

// GetDeliveryNoteByOrderID retrieves an order's delivery note, if any.
func (s *Store) GetDeliveryNoteByOrderID(ctx context.Context, orderID int64) (*models.DeliveryNote, error) {
	var note models.DeliveryNote
	err := s.db.GetContext(ctx, &note,
		"SELECT * FROM delivery_notes WHERE order_id = $1", orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &note, nil
}
