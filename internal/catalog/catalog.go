package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/lucashsu95/redis-seckill/internal/domain"
	"github.com/lucashsu95/redis-seckill/internal/store"
)

var (
	ErrProductExists   = errors.New("product already exists")
	ErrProductNotFound = errors.New("product not found")
	ErrInvalidProduct  = errors.New("invalid product input")
)

// Service manages product records and their stock counters. It shares the
// stock counter key space with the admission controller: restock here makes
// units admissible there.
type Service struct {
	client *redis.Client
}

func NewService(client *redis.Client) *Service {
	return &Service{client: client}
}

// Create stores a new product and initializes its stock counter in one
// atomic write. Duplicate ids are rejected.
func (s *Service) Create(ctx context.Context, p domain.Product) (domain.Product, error) {
	if p.ID == "" || p.Name == "" || p.Price <= 0 || p.Stock < 0 {
		return domain.Product{}, ErrInvalidProduct
	}

	exists, err := s.client.Exists(ctx, store.ProductKey(p.ID)).Result()
	if err != nil {
		return domain.Product{}, fmt.Errorf("failed to check product %s: %w", p.ID, err)
	}
	if exists > 0 {
		return domain.Product{}, ErrProductExists
	}

	payload, err := json.Marshal(p)
	if err != nil {
		return domain.Product{}, fmt.Errorf("failed to marshal product %s: %w", p.ID, err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, store.ProductKey(p.ID), payload, 0)
	pipe.Set(ctx, store.StockKey(p.ID), p.Stock, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return domain.Product{}, fmt.Errorf("failed to create product %s: %w", p.ID, err)
	}
	return p, nil
}

// Restock adds amount units to an existing product's stock counter and
// returns the new stock level.
func (s *Service) Restock(ctx context.Context, productID string, amount int64) (int64, error) {
	if productID == "" || amount <= 0 {
		return 0, ErrInvalidProduct
	}

	exists, err := s.client.Exists(ctx, store.ProductKey(productID)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to check product %s: %w", productID, err)
	}
	if exists == 0 {
		return 0, ErrProductNotFound
	}

	newStock, err := s.client.IncrBy(ctx, store.StockKey(productID), amount).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to restock product %s: %w", productID, err)
	}
	return newStock, nil
}

// Delete removes a product, its stock counter and its leaderboard row.
// Settled orders for the product are kept; they are history.
func (s *Service) Delete(ctx context.Context, productID string) error {
	exists, err := s.client.Exists(ctx, store.ProductKey(productID)).Result()
	if err != nil {
		return fmt.Errorf("failed to check product %s: %w", productID, err)
	}
	if exists == 0 {
		return ErrProductNotFound
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, store.ProductKey(productID))
	pipe.Del(ctx, store.StockKey(productID))
	pipe.ZRem(ctx, store.LeaderboardKey, productID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete product %s: %w", productID, err)
	}
	return nil
}

// Exists reports whether the product record is present.
func (s *Service) Exists(ctx context.Context, productID string) (bool, error) {
	n, err := s.client.Exists(ctx, store.ProductKey(productID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check product %s: %w", productID, err)
	}
	return n > 0, nil
}

// Stock reads a product's current stock counter. A missing counter reads as
// zero, matching the admission script's sold-out treatment.
func (s *Service) Stock(ctx context.Context, productID string) (int64, error) {
	stock, err := s.client.Get(ctx, store.StockKey(productID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read stock for %s: %w", productID, err)
	}
	return stock, nil
}

// List returns every product with its live stock level.
func (s *Service) List(ctx context.Context) ([]domain.Product, error) {
	productKeys, err := s.scanProductKeys(ctx)
	if err != nil {
		return nil, err
	}
	if len(productKeys) == 0 {
		return []domain.Product{}, nil
	}

	records, err := s.client.MGet(ctx, productKeys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch products: %w", err)
	}

	products := make([]domain.Product, 0, len(records))
	for _, raw := range records {
		str, ok := raw.(string)
		if !ok {
			continue
		}
		var p domain.Product
		if err := json.Unmarshal([]byte(str), &p); err != nil {
			continue
		}
		stock, err := s.Stock(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		p.Stock = stock
		products = append(products, p)
	}
	return products, nil
}

// scanProductKeys walks product:* excluding the :stock counters.
func (s *Service) scanProductKeys(ctx context.Context) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		found, next, err := s.client.Scan(ctx, cursor, "product:*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan products: %w", err)
		}
		for _, key := range found {
			if !strings.HasSuffix(key, ":stock") {
				keys = append(keys, key)
			}
		}
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}

// Seed loads the demo catalog, overwriting existing records.
func (s *Service) Seed(ctx context.Context) error {
	products := []domain.Product{
		{ID: "p1", Name: "2025 Gaming Laptop", Price: 1299, Image: "/modern-laptop-workspace.png", Stock: 4000},
		{ID: "p2", Name: "Wireless Noise-Canceling Headphones", Price: 299, Image: "/diverse-people-listening-headphones.png", Stock: 3000},
		{ID: "p3", Name: "2025 Smart Watch", Price: 399, Image: "/modern-smartwatch.png", Stock: 2000},
		{ID: "p4", Name: "4K Ultra HD Monitor", Price: 450, Image: "/computer-monitor.png", Stock: 600},
	}

	pipe := s.client.TxPipeline()
	for _, p := range products {
		payload, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("failed to marshal seed product %s: %w", p.ID, err)
		}
		pipe.Set(ctx, store.ProductKey(p.ID), payload, 0)
		pipe.Set(ctx, store.StockKey(p.ID), p.Stock, 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to seed products: %w", err)
	}
	return nil
}
