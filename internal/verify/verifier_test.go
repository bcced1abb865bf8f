package verify

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucashsu95/redis-seckill/internal/domain"
	"github.com/lucashsu95/redis-seckill/internal/store"
)

func newTestVerifier(t *testing.T) (*Verifier, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewVerifier(client), client
}

func seedProduct(t *testing.T, client *redis.Client, productID string, stock int64) {
	t.Helper()
	ctx := context.Background()
	payload, err := json.Marshal(domain.Product{ID: productID, Name: productID, Price: 1})
	require.NoError(t, err)
	require.NoError(t, client.Set(ctx, store.ProductKey(productID), payload, 0).Err())
	require.NoError(t, client.Set(ctx, store.StockKey(productID), stock, 0).Err())
}

func seedOrder(t *testing.T, client *redis.Client, orderID, userID, productID string, price float64, createdAt int64) {
	t.Helper()
	ctx := context.Background()
	order := domain.Order{
		ID: orderID, UserID: userID, ProductID: productID,
		Price: price, Status: domain.OrderStatusCompleted, CreatedAt: createdAt,
	}
	payload, err := json.Marshal(order)
	require.NoError(t, err)
	require.NoError(t, client.Set(ctx, store.OrderKey(orderID), payload, 0).Err())
	require.NoError(t, client.ZAdd(ctx, store.OrdersIndexKey, redis.Z{Score: float64(createdAt), Member: orderID}).Err())
	require.NoError(t, client.ZIncrBy(ctx, store.LeaderboardKey, price, productID).Err())
}

func findCheck(t *testing.T, result domain.VerificationResult, name string) domain.Check {
	t.Helper()
	for _, c := range result.Checks {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("check %q not found", name)
	return domain.Check{}
}

func TestVerify_EmptyStore(t *testing.T) {
	v, _ := newTestVerifier(t)

	result, err := v.Verify(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Zero(t, result.Summary.TotalOrders)
	assert.Zero(t, result.Summary.TotalLeaderboardRevenue)
}

func TestVerify_ConsistentState(t *testing.T) {
	v, client := newTestVerifier(t)

	seedProduct(t, client, "p1", 3)
	seedProduct(t, client, "p2", 0)
	seedOrder(t, client, "o1", "u1", "p1", 10, 1000)
	seedOrder(t, client, "o2", "u2", "p1", 10, 2000)
	seedOrder(t, client, "o3", "u1", "p2", 50, 3000)

	result, err := v.Verify(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, int64(3), result.Summary.TotalOrders)
	assert.Equal(t, float64(70), result.Summary.TotalLeaderboardRevenue)
	assert.Equal(t, 2, result.Summary.ProductsChecked)

	revenue := findCheck(t, result, "Orders vs Leaderboard Consistency")
	assert.True(t, revenue.Passed)
	require.NotNil(t, revenue.Expected)
	assert.Equal(t, float64(70), *revenue.Expected)
}

func TestVerify_LeaderboardDrift(t *testing.T) {
	v, client := newTestVerifier(t)

	seedOrder(t, client, "o1", "u1", "p1", 10, 1000)
	// Extra revenue nobody ordered
	require.NoError(t, client.ZIncrBy(context.Background(), store.LeaderboardKey, 5, "p1").Err())

	result, err := v.Verify(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Success)

	revenue := findCheck(t, result, "Orders vs Leaderboard Consistency")
	assert.False(t, revenue.Passed)
	require.NotNil(t, revenue.Expected)
	require.NotNil(t, revenue.Actual)
	assert.Equal(t, float64(10), *revenue.Expected)
	assert.Equal(t, float64(15), *revenue.Actual)
}

func TestVerify_NegativeStock(t *testing.T) {
	v, client := newTestVerifier(t)

	seedProduct(t, client, "p1", 2)
	seedProduct(t, client, "p2", 0)
	require.NoError(t, client.Set(context.Background(), store.StockKey("p2"), -1, 0).Err())

	result, err := v.Verify(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Success)

	bad := findCheck(t, result, "Stock Integrity - p2")
	assert.False(t, bad.Passed)
	require.NotNil(t, bad.Actual)
	assert.Equal(t, float64(-1), *bad.Actual)

	good := findCheck(t, result, "Stock Integrity - p1")
	assert.True(t, good.Passed)
}

func TestVerify_MissingStockCounterIsZero(t *testing.T) {
	v, client := newTestVerifier(t)

	seedProduct(t, client, "p1", 1)
	require.NoError(t, client.Del(context.Background(), store.StockKey("p1")).Err())

	result, err := v.Verify(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestVerify_NeverMutates(t *testing.T) {
	v, client := newTestVerifier(t)
	ctx := context.Background()

	seedProduct(t, client, "p1", 3)
	seedOrder(t, client, "o1", "u1", "p1", 10, 1000)

	before, err := client.Keys(ctx, "*").Result()
	require.NoError(t, err)

	_, err = v.Verify(ctx)
	require.NoError(t, err)

	after, err := client.Keys(ctx, "*").Result()
	require.NoError(t, err)
	assert.ElementsMatch(t, before, after)

	stock, err := client.Get(ctx, store.StockKey("p1")).Int64()
	require.NoError(t, err)
	assert.Equal(t, int64(3), stock)
}
