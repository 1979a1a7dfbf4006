package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"storefront/internal/models"
)

// GetOrCreateCartByUser returns the user's cart, creating it lazily.
func (s *Store) GetOrCreateCartByUser(ctx context.Context, userID int64) (*models.Cart, error) {
	var cart models.Cart
	err := s.db.GetContext(ctx, &cart, "SELECT * FROM carts WHERE user_id = $1", userID)
	if err == nil {
		return &cart, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	query := `
		INSERT INTO carts (cart_code, user_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET updated_at = NOW()
		RETURNING *`
	if err := s.db.GetContext(ctx, &cart, query, models.NewCartCode(), userID); err != nil {
		return nil, fmt.Errorf("failed to create cart: %w", err)
	}
	return &cart, nil
}

// GetOrCreateCartBySession returns the anonymous session's cart, creating it
// lazily.
func (s *Store) GetOrCreateCartBySession(ctx context.Context, sessionKey string) (*models.Cart, error) {
	var cart models.Cart
	err := s.db.GetContext(ctx, &cart, "SELECT * FROM carts WHERE session_key = $1", sessionKey)
	if err == nil {
		return &cart, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	query := `
		INSERT INTO carts (cart_code, session_key)
		VALUES ($1, $2)
		ON CONFLICT (session_key) DO UPDATE SET updated_at = NOW()
		RETURNING *`
	if err := s.db.GetContext(ctx, &cart, query, models.NewCartCode(), sessionKey); err != nil {
		return nil, fmt.Errorf("failed to create cart: %w", err)
	}
	return &cart, nil
}

// GetCartItems retrieves all lines of a cart in insertion order.
func (s *Store) GetCartItems(ctx context.Context, cartID int64) ([]models.CartItem, error) {
	var items []models.CartItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM cart_items WHERE cart_id = $1 ORDER BY id", cartID)
	return items, err
}

// GetCartItem retrieves the line for a product in a cart, if any.
func (s *Store) GetCartItem(ctx context.Context, cartID, productID int64) (*models.CartItem, error) {
	var item models.CartItem
	err := s.db.GetContext(ctx, &item,
		"SELECT * FROM cart_items WHERE cart_id = $1 AND product_id = $2", cartID, productID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// GetCartItemByID retrieves a cart line by id, scoped to the cart.
func (s *Store) GetCartItemByID(ctx context.Context, cartID, itemID int64) (*models.CartItem, error) {
	var item models.CartItem
	err := s.db.GetContext(ctx, &item,
		"SELECT * FROM cart_items WHERE id = $1 AND cart_id = $2", itemID, cartID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("cart item %d: %w", itemID, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// UpsertCartItem merges quantity into the per-product line of a cart. The
// unit price is snapshotted only on first insert; later catalog price changes
// never overwrite an existing snapshot.
func (s *Store) UpsertCartItem(ctx context.Context, cartID, productID int64, quantity int, unitPrice int64) (*models.CartItem, error) {
	query := `
		INSERT INTO cart_items (cart_id, product_id, quantity, unit_price)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (cart_id, product_id) DO UPDATE
			SET quantity = cart_items.quantity + EXCLUDED.quantity,
			    updated_at = NOW()
		RETURNING *`

	var item models.CartItem
	if err := s.db.GetContext(ctx, &item, query, cartID, productID, quantity, unitPrice); err != nil {
		return nil, fmt.Errorf("failed to upsert cart item: %w", err)
	}
	return &item, nil
}

// SetCartItemQuantity overwrites a line's quantity.
func (s *Store) SetCartItemQuantity(ctx context.Context, itemID int64, quantity int) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE cart_items SET quantity = $1, updated_at = NOW() WHERE id = $2",
		quantity, itemID)
	return err
}

// DeleteCartItem removes a line from a cart.
func (s *Store) DeleteCartItem(ctx context.Context, cartID, itemID int64) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM cart_items WHERE id = $1 AND cart_id = $2", itemID, cartID)
	return err
}

// ClearCart deletes all lines; the cart row itself persists.
func (s *Store) ClearCart(ctx context.Context, cartID int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM cart_items WHERE cart_id = $1", cartID)
	return err
}
