package service

import (
	"context"
	"fmt"
	"time"

	"storefront/internal/models"
	"storefront/internal/redisclient"
	"storefront/internal/util"

	"go.uber.org/zap"
)

const cartSummaryTTL = 2 * time.Minute

// CartStore is the persistence surface the cart service needs.
type CartStore interface {
	GetOrCreateCartByUser(ctx context.Context, userID int64) (*models.Cart, error)
	GetOrCreateCartBySession(ctx context.Context, sessionKey string) (*models.Cart, error)
	GetCartItems(ctx context.Context, cartID int64) ([]models.CartItem, error)
	GetCartItem(ctx context.Context, cartID, productID int64) (*models.CartItem, error)
	GetCartItemByID(ctx context.Context, cartID, itemID int64) (*models.CartItem, error)
	UpsertCartItem(ctx context.Context, cartID, productID int64, quantity int, unitPrice int64) (*models.CartItem, error)
	SetCartItemQuantity(ctx context.Context, itemID int64, quantity int) error
	DeleteCartItem(ctx context.Context, cartID, itemID int64) error
	ClearCart(ctx context.Context, cartID int64) error
	GetProductByID(ctx context.Context, id int64) (*models.Product, error)
}

// CartOwner identifies whose cart is addressed: an authenticated user or an
// anonymous session, exactly one.
type CartOwner struct {
	UserID     int64
	SessionKey string
}

// CartService handles basket mutations and the totals preview.
type CartService struct {
	store  CartStore
	cache  *redisclient.Client
	pricer Pricer
	logger *zap.Logger
}

// NewCartService creates a new cart service. cache may be nil; caching is
// then skipped.
func NewCartService(store CartStore, cache *redisclient.Client, pricer Pricer) *CartService {
	return &CartService{
		store:  store,
		cache:  cache,
		pricer: pricer,
		logger: util.GetLogger(),
	}
}

// GetCart returns the owner's cart, creating it lazily on first use.
func (cs *CartService) GetCart(ctx context.Context, owner CartOwner) (*models.Cart, error) {
	if owner.UserID != 0 {
		return cs.store.GetOrCreateCartByUser(ctx, owner.UserID)
	}
	if owner.SessionKey != "" {
		return cs.store.GetOrCreateCartBySession(ctx, owner.SessionKey)
	}
	return nil, fmt.Errorf("cart owner missing")
}

// AddItem merges quantity into the cart's line for a product. The requested
// quantity combined with what is already in the cart must not exceed the
// available stock; the unit price is snapshotted only when the line is first
// created.
func (cs *CartService) AddItem(ctx context.Context, cart *models.Cart, productID int64, quantity int) (*models.CartItem, error) {
	ctx, span := util.StartSpan(ctx, "CartService.AddItem")
	defer span.End()

	if quantity < 1 {
		return nil, fmt.Errorf("quantity must be at least 1")
	}

	product, err := cs.store.GetProductByID(ctx, productID)
	if err != nil {
		return nil, err
	}
	if !product.Published {
		return nil, fmt.Errorf("product %s: %w", product.SKU, models.ErrNotFound)
	}

	existing, err := cs.store.GetCartItem(ctx, cart.ID, productID)
	if err != nil {
		return nil, err
	}
	inCart := 0
	if existing != nil {
		inCart = existing.Quantity
	}
	if inCart+quantity > product.StockCount {
		return nil, fmt.Errorf("only %d units available: %w", product.StockCount, models.ErrOutOfStock)
	}

	item, err := cs.store.UpsertCartItem(ctx, cart.ID, productID, quantity, product.Price)
	if err != nil {
		return nil, err
	}

	util.CartItemsAddedTotal.Inc()
	cs.invalidateSummary(ctx, cart.ID)
	return item, nil
}

// UpdateQuantity overwrites a line's quantity, re-validating against current
// stock. Zero or negative removes the line.
func (cs *CartService) UpdateQuantity(ctx context.Context, cart *models.Cart, itemID int64, quantity int) error {
	ctx, span := util.StartSpan(ctx, "CartService.UpdateQuantity")
	defer span.End()

	item, err := cs.store.GetCartItemByID(ctx, cart.ID, itemID)
	if err != nil {
		return err
	}

	if quantity <= 0 {
		if err := cs.store.DeleteCartItem(ctx, cart.ID, itemID); err != nil {
			return err
		}
		cs.invalidateSummary(ctx, cart.ID)
		return nil
	}

	product, err := cs.store.GetProductByID(ctx, item.ProductID)
	if err != nil {
		return err
	}
	if quantity > product.StockCount {
		return fmt.Errorf("only %d units available: %w", product.StockCount, models.ErrOutOfStock)
	}

	if err := cs.store.SetCartItemQuantity(ctx, itemID, quantity); err != nil {
		return err
	}
	cs.invalidateSummary(ctx, cart.ID)
	return nil
}

// RemoveItem deletes a line from the cart.
func (cs *CartService) RemoveItem(ctx context.Context, cart *models.Cart, itemID int64) error {
	if err := cs.store.DeleteCartItem(ctx, cart.ID, itemID); err != nil {
		return err
	}
	cs.invalidateSummary(ctx, cart.ID)
	return nil
}

// Clear removes all lines; the cart row stays.
func (cs *CartService) Clear(ctx context.Context, cart *models.Cart) error {
	if err := cs.store.ClearCart(ctx, cart.ID); err != nil {
		return err
	}
	cs.invalidateSummary(ctx, cart.ID)
	return nil
}

// Items returns the cart's lines.
func (cs *CartService) Items(ctx context.Context, cart *models.Cart) ([]models.CartItem, error) {
	return cs.store.GetCartItems(ctx, cart.ID)
}

// Summary computes the cart totals, reusing a short-lived cache so cart
// widgets can poll cheaply.
func (cs *CartService) Summary(ctx context.Context, cart *models.Cart) (Totals, error) {
	if cs.cache != nil {
		cached, err := cs.cache.GetCartSummary(ctx, cart.ID)
		if err != nil {
			cs.logger.Warn("Cart summary cache read failed", zap.Int64("cart_id", cart.ID), zap.Error(err))
		} else if cached != nil {
			return Totals{
				ItemCount:    cached.ItemCount,
				Subtotal:     cached.Subtotal,
				ShippingCost: cached.ShippingCost,
				Tax:          cached.Tax,
				Total:        cached.Total,
			}, nil
		}
	}

	items, err := cs.store.GetCartItems(ctx, cart.ID)
	if err != nil {
		return Totals{}, err
	}
	totals := cs.pricer.ComputeTotals(LinesFromCartItems(items))

	if cs.cache != nil {
		err := cs.cache.SetCartSummary(ctx, cart.ID, &redisclient.CartSummary{
			ItemCount:    totals.ItemCount,
			Subtotal:     totals.Subtotal,
			ShippingCost: totals.ShippingCost,
			Tax:          totals.Tax,
			Total:        totals.Total,
		}, cartSummaryTTL)
		if err != nil {
			cs.logger.Warn("Cart summary cache write failed", zap.Int64("cart_id", cart.ID), zap.Error(err))
		}
	}
	return totals, nil
}

func (cs *CartService) invalidateSummary(ctx context.Context, cartID int64) {
	if cs.cache == nil {
		return
	}
	if err := cs.cache.InvalidateCartSummary(ctx, cartID); err != nil {
		cs.logger.Warn("Cart summary invalidation failed", zap.Int64("cart_id", cartID), zap.Error(err))
	}
}
