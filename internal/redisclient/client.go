package redisclient

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/release_lock.lua
var releaseLockScript string

type Client struct {
	rdb           *redis.Client
	releaseScript *redis.Script
}

// NewClient creates a new Redis client
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:           rdb,
		releaseScript: redis.NewScript(releaseLockScript),
	}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// AcquireLock acquires a lock keyed by lockKey, held by token. Used to
// serialize concurrent payment confirmations (webhook replays) per order.
func (c *Client) AcquireLock(ctx context.Context, lockKey, token string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), token, ttl).Result()
}

// ReleaseLock releases a lock only if the caller still holds it, via a
// compare-and-delete Lua script.
func (c *Client) ReleaseLock(ctx context.Context, lockKey, token string) error {
	_, err := c.releaseScript.Run(ctx, c.rdb, []string{fmt.Sprintf("lock:%s", lockKey)}, token).Result()
	if err != nil {
		return fmt.Errorf("release lock script failed: %w", err)
	}
	return nil
}

// CartSummary is the cached totals snapshot returned by cart endpoints.
type CartSummary struct {
	ItemCount    int   `json:"item_count"`
	Subtotal     int64 `json:"subtotal"`
	ShippingCost int64 `json:"shipping_cost"`
	Tax          int64 `json:"tax"`
	Total        int64 `json:"total"`
}

func cartSummaryKey(cartID int64) string {
	return fmt.Sprintf("cart:summary:%d", cartID)
}

// GetCartSummary retrieves a cached cart summary; returns nil on a miss.
func (c *Client) GetCartSummary(ctx context.Context, cartID int64) (*CartSummary, error) {
	data, err := c.rdb.Get(ctx, cartSummaryKey(cartID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var summary CartSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cart summary: %w", err)
	}
	return &summary, nil
}

// SetCartSummary caches a cart summary with a short TTL.
func (c *Client) SetCartSummary(ctx context.Context, cartID int64, summary *CartSummary, ttl time.Duration) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, cartSummaryKey(cartID), data, ttl).Err()
}

// InvalidateCartSummary drops the cached summary after a cart mutation.
func (c *Client) InvalidateCartSummary(ctx context.Context, cartID int64) error {
	return c.rdb.Del(ctx, cartSummaryKey(cartID)).Err()
}
