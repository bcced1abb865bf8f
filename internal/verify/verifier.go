package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lucashsu95/redis-seckill/internal/domain"
	"github.com/lucashsu95/redis-seckill/internal/store"
)

// scoreEpsilon absorbs float drift from accumulated ZINCRBY deltas.
const scoreEpsilon = 1e-6

// Verifier audits the durable state read-only. The leaderboard is
// revenue-scored: its total must equal the summed price of settled orders.
// Discrepancies are reported, never repaired.
type Verifier struct {
	client *redis.Client
}

func NewVerifier(client *redis.Client) *Verifier {
	return &Verifier{client: client}
}

// Verify runs every consistency check and returns the combined report.
func (v *Verifier) Verify(ctx context.Context) (domain.VerificationResult, error) {
	var checks []domain.Check

	orderIDs, err := v.client.ZRange(ctx, store.OrdersIndexKey, 0, -1).Result()
	if err != nil {
		return domain.VerificationResult{}, fmt.Errorf("failed to read order index: %w", err)
	}

	settledRevenue, err := v.settledRevenue(ctx, orderIDs)
	if err != nil {
		return domain.VerificationResult{}, err
	}

	leaderboardRevenue, err := v.leaderboardTotal(ctx)
	if err != nil {
		return domain.VerificationResult{}, err
	}

	checks = append(checks, revenueCheck(settledRevenue, leaderboardRevenue))

	stockChecks, productsChecked, err := v.stockChecks(ctx)
	if err != nil {
		return domain.VerificationResult{}, err
	}
	checks = append(checks, stockChecks...)

	checks = append(checks, duplicateCheck(orderIDs))

	success := true
	for _, c := range checks {
		if !c.Passed {
			success = false
			break
		}
	}

	return domain.VerificationResult{
		Success:   success,
		Timestamp: time.Now().UTC(),
		Checks:    checks,
		Summary: domain.VerificationSummary{
			TotalOrders:             int64(len(orderIDs)),
			TotalLeaderboardRevenue: leaderboardRevenue,
			ProductsChecked:         productsChecked,
		},
	}, nil
}

// settledRevenue sums the price of every order in the global index.
func (v *Verifier) settledRevenue(ctx context.Context, orderIDs []string) (float64, error) {
	if len(orderIDs) == 0 {
		return 0, nil
	}

	keys := make([]string, len(orderIDs))
	for i, id := range orderIDs {
		keys[i] = store.OrderKey(id)
	}

	records, err := v.client.MGet(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to fetch orders: %w", err)
	}

	var total float64
	for _, raw := range records {
		str, ok := raw.(string)
		if !ok {
			continue
		}
		var order domain.Order
		if err := json.Unmarshal([]byte(str), &order); err != nil {
			continue
		}
		total += order.Price
	}
	return total, nil
}

func (v *Verifier) leaderboardTotal(ctx context.Context) (float64, error) {
	rows, err := v.client.ZRangeWithScores(ctx, store.LeaderboardKey, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read leaderboard: %w", err)
	}
	var total float64
	for _, z := range rows {
		total += z.Score
	}
	return total, nil
}

func revenueCheck(settled, leaderboard float64) domain.Check {
	passed := math.Abs(settled-leaderboard) < scoreEpsilon
	details := "leaderboard total matches settled order revenue"
	if !passed {
		details = "MISMATCH: leaderboard total does not match settled order revenue"
	}
	return domain.Check{
		Name:     "Orders vs Leaderboard Consistency",
		Passed:   passed,
		Details:  details,
		Expected: f(settled),
		Actual:   f(leaderboard),
	}
}

// stockChecks verifies every product's counter is non-negative.
func (v *Verifier) stockChecks(ctx context.Context) ([]domain.Check, int, error) {
	var checks []domain.Check
	var cursor uint64
	productsChecked := 0

	for {
		found, next, err := v.client.Scan(ctx, cursor, "product:*", 100).Result()
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan products: %w", err)
		}

		for _, key := range found {
			if strings.HasSuffix(key, ":stock") {
				continue
			}
			productID := strings.TrimPrefix(key, "product:")
			productsChecked++

			stock, err := v.client.Get(ctx, key+":stock").Int64()
			if err == redis.Nil {
				stock = 0
			} else if err != nil {
				return nil, 0, fmt.Errorf("failed to read stock for %s: %w", productID, err)
			}

			passed := stock >= 0
			details := fmt.Sprintf("stock is valid: %d", stock)
			if !passed {
				details = fmt.Sprintf("NEGATIVE STOCK DETECTED: %d", stock)
			}
			checks = append(checks, domain.Check{
				Name:    fmt.Sprintf("Stock Integrity - %s", productID),
				Passed:  passed,
				Details: details,
				Actual:  f(float64(stock)),
			})
		}

		cursor = next
		if cursor == 0 {
			return checks, productsChecked, nil
		}
	}
}

func duplicateCheck(orderIDs []string) domain.Check {
	unique := make(map[string]struct{}, len(orderIDs))
	for _, id := range orderIDs {
		unique[id] = struct{}{}
	}

	passed := len(unique) == len(orderIDs)
	details := "all order ids are unique"
	if !passed {
		details = fmt.Sprintf("DUPLICATE ORDERS FOUND: %d duplicates", len(orderIDs)-len(unique))
	}
	return domain.Check{
		Name:     "No Duplicate Orders",
		Passed:   passed,
		Details:  details,
		Expected: f(float64(len(orderIDs))),
		Actual:   f(float64(len(unique))),
	}
}

func f(v float64) *float64 { return &v }
