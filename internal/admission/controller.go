package admission

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"

	"github.com/lucashsu95/redis-seckill/internal/middleware"
	"github.com/lucashsu95/redis-seckill/internal/store"
	"github.com/lucashsu95/redis-seckill/internal/telemetry"
)

// ErrInvalidInput is returned for empty ids or non-positive prices. It is the
// only error Attempt surfaces; store failures resolve to a rejection.
var ErrInvalidInput = errors.New("invalid admission input")

// admitScript is the single serialization point for stock correctness. It
// checks and decrements the stock counter and appends the pending admission
// record as one indivisible unit; no client-side locking is involved.
//
// KEYS[1] = stock counter, KEYS[2] = pending-orders stream.
// Returns 1 on admission, 0 when sold out (no mutation).
var admitScript = redis.NewScript(`
local stock = tonumber(redis.call("GET", KEYS[1]))
if not stock or stock <= 0 then
    return 0
end

redis.call("DECR", KEYS[1])

redis.call("XADD", KEYS[2], "*",
    "userId", ARGV[1],
    "productId", ARGV[2],
    "orderId", ARGV[3],
    "price", ARGV[4],
    "timestamp", ARGV[5]
)

return 1
`)

// Result is the synchronous outcome of a purchase attempt.
type Result struct {
	Accepted bool   `json:"accepted"`
	OrderID  string `json:"orderId,omitempty"`
}

// Controller decides purchase admissions. It is stateless apart from the
// advisory cooldown cache and safe for unbounded concurrent use.
type Controller struct {
	client         *redis.Client
	cooldown       *cooldownCache
	cooldownTTL    time.Duration
	attemptTimeout time.Duration
	retries        int
	logger         *slog.Logger
}

// Options configures a Controller. Zero values get production defaults.
type Options struct {
	CooldownTTL    time.Duration
	AttemptTimeout time.Duration
	Retries        int
}

func NewController(client *redis.Client, opts Options, logger *slog.Logger) *Controller {
	if opts.CooldownTTL <= 0 {
		opts.CooldownTTL = 5 * time.Second
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = 500 * time.Millisecond
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		client:         client,
		cooldown:       newCooldownCache(),
		cooldownTTL:    opts.CooldownTTL,
		attemptTimeout: opts.AttemptTimeout,
		retries:        opts.Retries,
		logger:         logger,
	}
}

// Attempt runs one purchase admission. Accepted attempts decrement stock and
// append exactly one pending admission record; rejected attempts leave no
// durable trace. Store errors after the retry budget fail closed as a
// rejection and never reach the caller as an error.
func (c *Controller) Attempt(ctx context.Context, userID, productID string, price float64) (Result, error) {
	if userID == "" || productID == "" || price <= 0 {
		return Result{}, ErrInvalidInput
	}

	ctx, span := telemetry.StartSpan(ctx, "admission.attempt")
	defer span.End()
	span.SetAttributes(attribute.String("product_id", productID))

	if c.cooldown.Active(productID) {
		middleware.AdmissionAttempts.WithLabelValues("cooldown").Inc()
		return Result{Accepted: false}, nil
	}

	// The order id is generated before the atomic operation so the pending
	// record carries it. A timed-out attempt never reuses the id.
	orderID := uuid.NewString()
	now := time.Now().UnixMilli()

	admitted, err := c.runScript(ctx, userID, productID, orderID, price, now)
	if err != nil {
		// Fail closed. The entry either never committed, or committed
		// and will settle; the caller reconciles via the order query,
		// never by retrying with a fresh id on our behalf.
		c.logger.WarnContext(ctx, "admission store call failed, rejecting",
			slog.String("product_id", productID),
			slog.Any("error", err))
		middleware.AdmissionAttempts.WithLabelValues("error").Inc()
		return Result{Accepted: false}, nil
	}

	if !admitted {
		c.cooldown.Set(productID, c.cooldownTTL)
		middleware.AdmissionAttempts.WithLabelValues("sold_out").Inc()
		return Result{Accepted: false}, nil
	}

	c.cooldown.Clear(productID)
	middleware.AdmissionAttempts.WithLabelValues("accepted").Inc()
	return Result{Accepted: true, OrderID: orderID}, nil
}

func (c *Controller) runScript(ctx context.Context, userID, productID, orderID string, price float64, ts int64) (bool, error) {
	keys := []string{store.StockKey(productID), store.OrdersStreamKey}
	args := []interface{}{
		userID,
		productID,
		orderID,
		strconv.FormatFloat(price, 'f', -1, 64),
		strconv.FormatInt(ts, 10),
	}

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
		n, err := admitScript.Run(callCtx, c.client, keys, args...).Int()
		cancel()
		if err == nil {
			return n == 1, nil
		}
		lastErr = err
		// A deadline hit after the command was sent is ambiguous: the
		// script may have committed. Re-running it would decrement the
		// counter a second time, so only pre-send failures are retried.
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			break
		}
		time.Sleep(time.Duration(attempt+1) * 20 * time.Millisecond)
	}
	return false, lastErr
}
