package domain

import "time"

// OrderStatus is the lifecycle state of a settled order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusFailed    OrderStatus = "failed"
)

// Order is the durable record materialized by the settlement worker.
// CreatedAt is the admission timestamp, ProcessedAt the settlement timestamp,
// both in Unix milliseconds.
type Order struct {
	ID          string      `json:"id"`
	UserID      string      `json:"userId"`
	ProductID   string      `json:"productId"`
	Price       float64     `json:"price"`
	Status      OrderStatus `json:"status"`
	CreatedAt   int64       `json:"createdAt"`
	ProcessedAt int64       `json:"processedAt,omitempty"`
}

// Product is the catalog record. Stock lives in a separate counter key so the
// admission script can decrement it without touching the record.
type Product struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Price float64 `json:"price"`
	Image string  `json:"image,omitempty"`
	Stock int64   `json:"stock"`
}

// PendingAdmission is one entry of the pending-orders stream, written by the
// admission script and consumed by the settlement worker.
type PendingAdmission struct {
	UserID    string
	ProductID string
	OrderID   string
	Price     float64
	Timestamp int64
}

// LeaderboardEntry is one row of the revenue leaderboard.
type LeaderboardEntry struct {
	ProductID string  `json:"productId"`
	Revenue   float64 `json:"revenue"`
	Rank      int     `json:"rank"`
}

// Check is a single verifier assertion. Expected and Actual are pointers so
// checks without a numeric expectation omit them from the report.
type Check struct {
	Name     string   `json:"name"`
	Passed   bool     `json:"passed"`
	Details  string   `json:"details"`
	Expected *float64 `json:"expected,omitempty"`
	Actual   *float64 `json:"actual,omitempty"`
}

// VerificationSummary aggregates the verifier's counters.
type VerificationSummary struct {
	TotalOrders             int64   `json:"totalOrders"`
	TotalLeaderboardRevenue float64 `json:"totalLeaderboardRevenue"`
	ProductsChecked         int     `json:"productsChecked"`
}

// VerificationResult is the full consistency report.
type VerificationResult struct {
	Success   bool                `json:"success"`
	Timestamp time.Time           `json:"timestamp"`
	Checks    []Check             `json:"checks"`
	Summary   VerificationSummary `json:"summary"`
}
