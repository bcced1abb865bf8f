package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Logical key space. Six structures, addressable by product / order / user id.
const (
	OrdersStreamKey = "orders:stream"
	OrdersIndexKey  = "orders:index"
	LeaderboardKey  = "leaderboard:sales"

	// ConsumerGroup is the settlement workers' consumer group on the
	// pending-orders stream.
	ConsumerGroup = "order-workers"
)

// ProductKey returns the key of a product record.
func ProductKey(productID string) string {
	return fmt.Sprintf("product:%s", productID)
}

// StockKey returns the key of a product's stock counter.
func StockKey(productID string) string {
	return ProductKey(productID) + ":stock"
}

// OrderKey returns the key of a settled order record.
func OrderKey(orderID string) string {
	return fmt.Sprintf("order:%s", orderID)
}

// UserOrdersKey returns the key of a buyer's personal order index.
func UserOrdersKey(userID string) string {
	return fmt.Sprintf("user:%s:orders", userID)
}

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// NewClient creates a Redis client with bounded per-call timeouts. The retry
// budget is intentionally small: admission fails closed instead of queueing
// behind a slow store.
func NewClient(opts Options) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		MaxRetries:   2,
	})
}

// Ping verifies connectivity, retrying while the store comes up.
func Ping(ctx context.Context, client *redis.Client, attempts int, wait time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = client.Ping(ctx).Err(); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return fmt.Errorf("redis not reachable after %d attempts: %w", attempts, err)
}
