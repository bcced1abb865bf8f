package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestDuration tracks request latency by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"method", "path", "status"},
	)

	// AdmissionAttempts counts purchase attempts by outcome.
	// Outcomes: accepted, sold_out, cooldown, error.
	AdmissionAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seckill_admission_attempts_total",
			Help: "Total purchase admission attempts by outcome",
		},
		[]string{"outcome"},
	)

	// SettlementProcessed counts orders materialized by the worker.
	SettlementProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "seckill_settlement_orders_total",
			Help: "Total orders settled by the worker",
		},
	)

	// SettlementDropped counts malformed pending entries discarded.
	SettlementDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "seckill_settlement_dropped_total",
			Help: "Total malformed pending entries acknowledged and dropped",
		},
	)

	// SettlementBatchDuration tracks drain cycle latency.
	SettlementBatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "seckill_settlement_batch_duration_seconds",
			Help:    "Settlement batch drain duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
	)
)

// PrometheusMiddleware records request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start).Seconds()

		HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			strconv.Itoa(c.Writer.Status()),
		).Observe(duration)
	}
}
