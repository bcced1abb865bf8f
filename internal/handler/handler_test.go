package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucashsu95/redis-seckill/internal/admission"
	"github.com/lucashsu95/redis-seckill/internal/catalog"
	"github.com/lucashsu95/redis-seckill/internal/orders"
	"github.com/lucashsu95/redis-seckill/internal/settlement"
	"github.com/lucashsu95/redis-seckill/internal/verify"
)

func newTestRouter(t *testing.T, drainToken string) (*gin.Engine, *redis.Client) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	controller := admission.NewController(client, admission.Options{
		CooldownTTL:    time.Minute,
		AttemptTimeout: time.Second,
	}, nil)
	worker, err := settlement.NewWorker(client, settlement.Options{
		Consumer:  "worker-test",
		BatchSize: 100,
	}, nil)
	require.NoError(t, err)

	h := NewHandler(
		controller,
		worker,
		verify.NewVerifier(client),
		catalog.NewService(client),
		orders.NewRepository(client),
		drainToken,
	)

	r := gin.New()
	h.RegisterRoutes(r)
	return r, client
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func createProduct(t *testing.T, r *gin.Engine, id string, price float64, stock int64) {
	t.Helper()
	w := doJSON(t, r, http.MethodPost, "/v1/admin/products", map[string]interface{}{
		"id": id, "name": "Product " + id, "price": price, "stock": stock,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestPurchase_Validation(t *testing.T) {
	r, _ := newTestRouter(t, "")

	w := doJSON(t, r, http.MethodPost, "/v1/purchase", map[string]interface{}{"userId": "u1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, r, http.MethodPost, "/v1/purchase", map[string]interface{}{
		"userId": "u1", "productId": "p1", "price": -1,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPurchase_RejectionIsConflictNotError(t *testing.T) {
	r, _ := newTestRouter(t, "")
	createProduct(t, r, "p1", 10, 0)

	w := doJSON(t, r, http.MethodPost, "/v1/purchase", map[string]interface{}{
		"userId": "u1", "productId": "p1", "price": 10,
	})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, false, decode(t, w)["accepted"])
}

func TestDrain_TokenGuard(t *testing.T) {
	r, _ := newTestRouter(t, "secret")

	req := httptest.NewRequest(http.MethodPost, "/v1/worker/drain", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/v1/worker/drain", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGetOrder_NotFound(t *testing.T) {
	r, _ := newTestRouter(t, "")

	w := doJSON(t, r, http.MethodGet, "/v1/orders/ghost", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// TestFlashSaleFlow drives the full path: stock 5, 20 purchase attempts,
// one drain, then the queries and the verifier agree on the outcome.
func TestFlashSaleFlow(t *testing.T) {
	r, _ := newTestRouter(t, "")
	createProduct(t, r, "p1", 10, 5)

	accepted := []string{}
	rejected := 0
	for i := 0; i < 20; i++ {
		w := doJSON(t, r, http.MethodPost, "/v1/purchase", map[string]interface{}{
			"userId": fmt.Sprintf("u%d", i), "productId": "p1", "price": 10,
		})
		switch w.Code {
		case http.StatusOK:
			accepted = append(accepted, decode(t, w)["orderId"].(string))
		case http.StatusConflict:
			rejected++
		default:
			t.Fatalf("unexpected status %d: %s", w.Code, w.Body.String())
		}
	}
	require.Len(t, accepted, 5)
	require.Equal(t, 15, rejected)

	// Settle
	w := doJSON(t, r, http.MethodPost, "/v1/worker/drain?max=50", nil)
	require.Equal(t, http.StatusOK, w.Code)
	drain := decode(t, w)
	assert.Equal(t, float64(5), drain["processedCount"])

	// Global index has exactly the settled set
	w = doJSON(t, r, http.MethodGet, "/v1/orders", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(5), decode(t, w)["total"])

	// Stock is exhausted
	w = doJSON(t, r, http.MethodGet, "/v1/products", nil)
	require.Equal(t, http.StatusOK, w.Code)
	products := decode(t, w)["products"].([]interface{})
	require.Len(t, products, 1)
	assert.Equal(t, float64(0), products[0].(map[string]interface{})["stock"])

	// Revenue-scored leaderboard: 5 orders x 10
	w = doJSON(t, r, http.MethodGet, "/v1/leaderboard", nil)
	require.Equal(t, http.StatusOK, w.Code)
	lb := decode(t, w)["leaderboard"].([]interface{})
	require.Len(t, lb, 1)
	top := lb[0].(map[string]interface{})
	assert.Equal(t, "p1", top["productId"])
	assert.Equal(t, float64(50), top["revenue"])

	// Reconciliation query resolves an accepted id
	w = doJSON(t, r, http.MethodGet, "/v1/orders/"+accepted[0], nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "completed", decode(t, w)["status"])

	// Verifier signs off
	w = doJSON(t, r, http.MethodGet, "/v1/verify", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["success"])

	// Administrative reversal returns the unit of stock
	w = doJSON(t, r, http.MethodDelete, "/v1/admin/orders/"+accepted[0], nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodGet, "/v1/orders", nil)
	assert.Equal(t, float64(4), decode(t, w)["total"])

	w = doJSON(t, r, http.MethodGet, "/v1/leaderboard", nil)
	lb = decode(t, w)["leaderboard"].([]interface{})
	assert.Equal(t, float64(40), lb[0].(map[string]interface{})["revenue"])

	w = doJSON(t, r, http.MethodGet, "/v1/products", nil)
	products = decode(t, w)["products"].([]interface{})
	assert.Equal(t, float64(1), products[0].(map[string]interface{})["stock"])

	// Still consistent after the reversal
	w = doJSON(t, r, http.MethodGet, "/v1/verify", nil)
	assert.Equal(t, true, decode(t, w)["success"])
}
