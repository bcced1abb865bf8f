package settlement

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"

	"github.com/lucashsu95/redis-seckill/internal/domain"
	"github.com/lucashsu95/redis-seckill/internal/middleware"
	"github.com/lucashsu95/redis-seckill/internal/store"
	"github.com/lucashsu95/redis-seckill/internal/telemetry"
)

// DrainResult reports one batch drain cycle.
type DrainResult struct {
	ProcessedCount int      `json:"processedCount"`
	OrderIDs       []string `json:"orderIds"`
}

// Worker is one competing consumer of the pending-orders stream. Each entry
// is delivered to at most one live consumer; entries left unacknowledged past
// ClaimMinIdle are reclaimed, so processing must be idempotent per order id.
type Worker struct {
	client       *redis.Client
	consumer     string
	batchSize    int64
	pollInterval time.Duration
	claimMinIdle time.Duration
	logger       *slog.Logger

	groupOnce sync.Once
	groupErr  error
}

// Options configures a Worker. Consumer is required and must be unique
// across the fleet.
type Options struct {
	Consumer     string
	BatchSize    int64
	PollInterval time.Duration
	ClaimMinIdle time.Duration
}

func NewWorker(client *redis.Client, opts Options, logger *slog.Logger) (*Worker, error) {
	if opts.Consumer == "" {
		return nil, fmt.Errorf("settlement worker requires an externally assigned consumer identity")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 200
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.ClaimMinIdle <= 0 {
		opts.ClaimMinIdle = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		client:       client,
		consumer:     opts.Consumer,
		batchSize:    opts.BatchSize,
		pollInterval: opts.PollInterval,
		claimMinIdle: opts.ClaimMinIdle,
		logger:       logger,
	}, nil
}

// ensureGroup creates the consumer group, tolerating a previously created one.
func (w *Worker) ensureGroup(ctx context.Context) error {
	w.groupOnce.Do(func() {
		err := w.client.XGroupCreateMkStream(ctx, store.OrdersStreamKey, store.ConsumerGroup, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			w.groupErr = fmt.Errorf("failed to create consumer group: %w", err)
		}
	})
	return w.groupErr
}

// Run polls until ctx is canceled, backing off when the stream is idle and
// when a drain fails. Failed batches stay pending and are redelivered.
func (w *Worker) Run(ctx context.Context) {
	w.logger.InfoContext(ctx, "settlement worker started",
		slog.String("consumer", w.consumer),
		slog.Int64("batch_size", w.batchSize))

	for {
		res, err := w.DrainBatch(ctx, w.batchSize)
		if err != nil {
			if ctx.Err() != nil {
				w.logger.InfoContext(ctx, "settlement worker stopped")
				return
			}
			w.logger.ErrorContext(ctx, "drain failed, backing off", slog.Any("error", err))
		}
		if err == nil && res.ProcessedCount > 0 {
			continue
		}
		select {
		case <-ctx.Done():
			w.logger.InfoContext(ctx, "settlement worker stopped")
			return
		case <-time.After(w.pollInterval):
		}
	}
}

// DrainBatch pulls up to maxItems pending admissions assigned to this
// consumer and materializes them in one atomic batch write: order records,
// both order indices, per-product leaderboard increments and every
// acknowledgment commit together or not at all.
func (w *Worker) DrainBatch(ctx context.Context, maxItems int64) (DrainResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "settlement.drain")
	defer span.End()

	start := time.Now()
	defer func() {
		middleware.SettlementBatchDuration.Observe(time.Since(start).Seconds())
	}()

	if maxItems <= 0 {
		maxItems = w.batchSize
	}
	if err := w.ensureGroup(ctx); err != nil {
		return DrainResult{}, err
	}

	messages := w.claimStale(ctx, maxItems)

	if remaining := maxItems - int64(len(messages)); remaining > 0 {
		streams, err := w.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    store.ConsumerGroup,
			Consumer: w.consumer,
			Streams:  []string{store.OrdersStreamKey, ">"},
			Count:    remaining,
			Block:    -1,
		}).Result()
		if err != nil && err != redis.Nil {
			return DrainResult{}, fmt.Errorf("failed to read pending orders: %w", err)
		}
		for _, s := range streams {
			messages = append(messages, s.Messages...)
		}
	}

	if len(messages) == 0 {
		return DrainResult{}, nil
	}

	res, err := w.settle(ctx, messages)
	if err == nil {
		span.SetAttributes(attribute.Int("settled", res.ProcessedCount))
	}
	return res, err
}

// claimStale reclaims entries another consumer took but never acknowledged.
// Claim failures are not fatal: the entries stay pending and a later cycle
// retries them.
func (w *Worker) claimStale(ctx context.Context, maxItems int64) []redis.XMessage {
	claimed, _, err := w.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   store.OrdersStreamKey,
		Group:    store.ConsumerGroup,
		Consumer: w.consumer,
		MinIdle:  w.claimMinIdle,
		Start:    "0",
		Count:    maxItems,
	}).Result()
	if err != nil && err != redis.Nil {
		w.logger.WarnContext(ctx, "failed to claim stale entries", slog.Any("error", err))
		return nil
	}
	return claimed
}

func (w *Worker) settle(ctx context.Context, messages []redis.XMessage) (DrainResult, error) {
	pipe := w.client.TxPipeline()

	processed := make([]string, 0, len(messages))
	revenueByProduct := make(map[string]float64)
	seen := make(map[string]bool, len(messages))
	now := time.Now().UnixMilli()

	for _, msg := range messages {
		rec, err := parseAdmission(msg)
		if err != nil {
			// Permanently unprocessable: a missing field can never
			// become valid on redelivery.
			w.logger.WarnContext(ctx, "dropping malformed pending record",
				slog.String("entry_id", msg.ID),
				slog.Any("error", err))
			middleware.SettlementDropped.Inc()
			pipe.XAck(ctx, store.OrdersStreamKey, store.ConsumerGroup, msg.ID)
			continue
		}

		// Redelivered entries must not contribute twice. Index
		// membership is the settlement marker: present means the order
		// and its leaderboard contribution already committed. The seen
		// map covers the same order id appearing twice in one batch.
		if seen[rec.OrderID] {
			pipe.XAck(ctx, store.OrdersStreamKey, store.ConsumerGroup, msg.ID)
			continue
		}
		if _, err := w.client.ZScore(ctx, store.OrdersIndexKey, rec.OrderID).Result(); err == nil {
			pipe.XAck(ctx, store.OrdersStreamKey, store.ConsumerGroup, msg.ID)
			continue
		} else if err != redis.Nil {
			return DrainResult{}, fmt.Errorf("failed to check order %s: %w", rec.OrderID, err)
		}

		order := domain.Order{
			ID:          rec.OrderID,
			UserID:      rec.UserID,
			ProductID:   rec.ProductID,
			Price:       rec.Price,
			Status:      domain.OrderStatusCompleted,
			CreatedAt:   rec.Timestamp,
			ProcessedAt: now,
		}
		payload, err := json.Marshal(order)
		if err != nil {
			return DrainResult{}, fmt.Errorf("failed to marshal order %s: %w", rec.OrderID, err)
		}

		pipe.Set(ctx, store.OrderKey(rec.OrderID), payload, 0)
		pipe.ZAdd(ctx, store.OrdersIndexKey, redis.Z{Score: float64(order.CreatedAt), Member: rec.OrderID})
		pipe.ZAdd(ctx, store.UserOrdersKey(rec.UserID), redis.Z{Score: float64(order.CreatedAt), Member: rec.OrderID})
		revenueByProduct[rec.ProductID] += rec.Price

		pipe.XAck(ctx, store.OrdersStreamKey, store.ConsumerGroup, msg.ID)
		seen[rec.OrderID] = true
		processed = append(processed, rec.OrderID)
	}

	// One increment per product, not per order.
	for productID, revenue := range revenueByProduct {
		pipe.ZIncrBy(ctx, store.LeaderboardKey, revenue, productID)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		// Nothing applied, nothing acknowledged; the whole batch stays
		// pending for redelivery.
		return DrainResult{}, fmt.Errorf("failed to commit settlement batch: %w", err)
	}

	middleware.SettlementProcessed.Add(float64(len(processed)))

	return DrainResult{ProcessedCount: len(processed), OrderIDs: processed}, nil
}

// parseAdmission extracts a pending admission from a stream entry. Every
// field is required; price and timestamp must be numeric.
func parseAdmission(msg redis.XMessage) (domain.PendingAdmission, error) {
	get := func(field string) string {
		if v, ok := msg.Values[field].(string); ok {
			return v
		}
		return ""
	}

	rec := domain.PendingAdmission{
		UserID:    get("userId"),
		ProductID: get("productId"),
		OrderID:   get("orderId"),
	}
	if rec.OrderID == "" || rec.UserID == "" || rec.ProductID == "" {
		return domain.PendingAdmission{}, fmt.Errorf("missing required fields in entry %s", msg.ID)
	}

	price, err := strconv.ParseFloat(get("price"), 64)
	if err != nil {
		return domain.PendingAdmission{}, fmt.Errorf("unparsable price in entry %s: %w", msg.ID, err)
	}
	rec.Price = price

	ts, err := strconv.ParseInt(get("timestamp"), 10, 64)
	if err != nil {
		return domain.PendingAdmission{}, fmt.Errorf("unparsable timestamp in entry %s: %w", msg.ID, err)
	}
	rec.Timestamp = ts

	return rec, nil
}
