package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/lucashsu95/redis-seckill/internal/domain"
	"github.com/lucashsu95/redis-seckill/internal/store"
)

var ErrOrderNotFound = errors.New("order not found")

// Repository reads settled orders and performs the administrative reversal.
type Repository struct {
	client *redis.Client
}

func NewRepository(client *redis.Client) *Repository {
	return &Repository{client: client}
}

// Get fetches one settled order. This is also the reconciliation query for
// ambiguous admission timeouts: an order id whose admission outcome was never
// observed can be looked up here before any retry.
func (r *Repository) Get(ctx context.Context, orderID string) (domain.Order, error) {
	raw, err := r.client.Get(ctx, store.OrderKey(orderID)).Result()
	if err == redis.Nil {
		return domain.Order{}, ErrOrderNotFound
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("failed to fetch order %s: %w", orderID, err)
	}

	var order domain.Order
	if err := json.Unmarshal([]byte(raw), &order); err != nil {
		return domain.Order{}, fmt.Errorf("failed to decode order %s: %w", orderID, err)
	}
	return order, nil
}

// Global returns one page of the global order index, newest first, plus the
// total number of settled orders.
func (r *Repository) Global(ctx context.Context, page, limit int) ([]domain.Order, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}
	start := int64((page - 1) * limit)
	end := start + int64(limit) - 1

	total, err := r.client.ZCard(ctx, store.OrdersIndexKey).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count orders: %w", err)
	}

	ids, err := r.client.ZRevRange(ctx, store.OrdersIndexKey, start, end).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read order index: %w", err)
	}

	orders, err := r.fetch(ctx, ids)
	if err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

// ForUser returns a buyer's orders, newest first.
func (r *Repository) ForUser(ctx context.Context, userID string) ([]domain.Order, error) {
	ids, err := r.client.ZRevRange(ctx, store.UserOrdersKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read orders for user %s: %w", userID, err)
	}
	return r.fetch(ctx, ids)
}

// Leaderboard returns the top n products by cumulative revenue.
func (r *Repository) Leaderboard(ctx context.Context, n int64) ([]domain.LeaderboardEntry, error) {
	if n <= 0 {
		n = 10
	}
	rows, err := r.client.ZRevRangeWithScores(ctx, store.LeaderboardKey, 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read leaderboard: %w", err)
	}

	entries := make([]domain.LeaderboardEntry, 0, len(rows))
	for i, z := range rows {
		entries = append(entries, domain.LeaderboardEntry{
			ProductID: z.Member.(string),
			Revenue:   z.Score,
			Rank:      i + 1,
		})
	}
	return entries, nil
}

// Delete reverses a settled order: removes it from both indices, subtracts
// its revenue from the leaderboard, deletes the record and returns its unit
// of stock, all in one atomic write.
func (r *Repository) Delete(ctx context.Context, orderID string) error {
	order, err := r.Get(ctx, orderID)
	if err != nil {
		return err
	}

	pipe := r.client.TxPipeline()
	pipe.ZRem(ctx, store.OrdersIndexKey, orderID)
	pipe.ZRem(ctx, store.UserOrdersKey(order.UserID), orderID)
	pipe.ZIncrBy(ctx, store.LeaderboardKey, -order.Price, order.ProductID)
	pipe.Del(ctx, store.OrderKey(orderID))
	pipe.Incr(ctx, store.StockKey(order.ProductID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to reverse order %s: %w", orderID, err)
	}
	return nil
}

func (r *Repository) fetch(ctx context.Context, ids []string) ([]domain.Order, error) {
	if len(ids) == 0 {
		return []domain.Order{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = store.OrderKey(id)
	}

	records, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch orders: %w", err)
	}

	orders := make([]domain.Order, 0, len(records))
	for _, raw := range records {
		str, ok := raw.(string)
		if !ok {
			continue
		}
		var order domain.Order
		if err := json.Unmarshal([]byte(str), &order); err != nil {
			continue
		}
		orders = append(orders, order)
	}
	return orders, nil
}
