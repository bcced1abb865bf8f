package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/lucashsu95/redis-seckill/internal/admission"
	"github.com/lucashsu95/redis-seckill/internal/catalog"
	"github.com/lucashsu95/redis-seckill/internal/domain"
	"github.com/lucashsu95/redis-seckill/internal/orders"
	"github.com/lucashsu95/redis-seckill/internal/settlement"
	"github.com/lucashsu95/redis-seckill/internal/verify"
)

// Handler holds the HTTP handler dependencies.
type Handler struct {
	controller *admission.Controller
	worker     *settlement.Worker
	verifier   *verify.Verifier
	catalog    *catalog.Service
	orders     *orders.Repository
	drainToken string
}

// NewHandler creates a new Handler. drainToken, when non-empty, guards the
// worker drain endpoint.
func NewHandler(
	controller *admission.Controller,
	worker *settlement.Worker,
	verifier *verify.Verifier,
	catalogSvc *catalog.Service,
	ordersRepo *orders.Repository,
	drainToken string,
) *Handler {
	return &Handler{
		controller: controller,
		worker:     worker,
		verifier:   verifier,
		catalog:    catalogSvc,
		orders:     ordersRepo,
		drainToken: drainToken,
	}
}

// RegisterRoutes sets up the Gin routes.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)

	v1 := r.Group("/v1")
	{
		v1.POST("/purchase", h.Purchase)
		v1.POST("/worker/drain", h.Drain)
		v1.GET("/verify", h.Verify)

		v1.GET("/products", h.ListProducts)
		v1.GET("/leaderboard", h.Leaderboard)

		v1.GET("/orders", h.GlobalOrders)
		v1.GET("/orders/:id", h.GetOrder)
		v1.GET("/users/:id/orders", h.UserOrders)

		admin := v1.Group("/admin")
		{
			admin.POST("/products", h.CreateProduct)
			admin.POST("/products/:id/restock", h.Restock)
			admin.DELETE("/products/:id", h.DeleteProduct)
			admin.DELETE("/orders/:id", h.DeleteOrder)
			admin.POST("/seed", h.Seed)
		}
	}
}

// Health returns a health check response.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "seckill",
	})
}

// PurchaseRequest is the request body for a purchase attempt.
type PurchaseRequest struct {
	UserID    string  `json:"userId" binding:"required"`
	ProductID string  `json:"productId" binding:"required"`
	Price     float64 `json:"price" binding:"required,gt=0"`
}

// Purchase handles POST /v1/purchase. Rejection is a normal outcome, not an
// error: sold-out and shed attempts answer 409 with accepted=false.
func (h *Handler) Purchase(c *gin.Context) {
	var req PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.controller.Attempt(c.Request.Context(), req.UserID, req.ProductID, req.Price)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !result.Accepted {
		c.JSON(http.StatusConflict, gin.H{"accepted": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"accepted": true, "orderId": result.OrderID})
}

// Drain handles POST /v1/worker/drain, the externally scheduled settlement
// trigger.
func (h *Handler) Drain(c *gin.Context) {
	if h.drainToken != "" && c.GetHeader("Authorization") != "Bearer "+h.drainToken {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	maxItems, _ := strconv.ParseInt(c.DefaultQuery("max", "50"), 10, 64)
	result, err := h.worker.DrainBatch(c.Request.Context(), maxItems)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// Verify handles GET /v1/verify.
func (h *Handler) Verify(c *gin.Context) {
	result, err := h.verifier.Verify(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// ListProducts handles GET /v1/products.
func (h *Handler) ListProducts(c *gin.Context) {
	products, err := h.catalog.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products})
}

// Leaderboard handles GET /v1/leaderboard.
func (h *Handler) Leaderboard(c *gin.Context) {
	n, _ := strconv.ParseInt(c.DefaultQuery("top", "10"), 10, 64)
	entries, err := h.orders.Leaderboard(c.Request.Context(), n)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"leaderboard": entries})
}

// GlobalOrders handles GET /v1/orders.
func (h *Handler) GlobalOrders(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	list, total, err := h.orders.Global(c.Request.Context(), page, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": list, "total": total})
}

// GetOrder handles GET /v1/orders/:id, the reconciliation query for callers
// whose admission attempt timed out with an unknown outcome.
func (h *Handler) GetOrder(c *gin.Context) {
	order, err := h.orders.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, orders.ErrOrderNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, order)
}

// UserOrders handles GET /v1/users/:id/orders.
func (h *Handler) UserOrders(c *gin.Context) {
	list, err := h.orders.ForUser(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": list})
}

// CreateProduct handles POST /v1/admin/products.
func (h *Handler) CreateProduct(c *gin.Context) {
	var p domain.Product
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	created, err := h.catalog.Create(c.Request.Context(), p)
	if err != nil {
		c.JSON(catalogStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, created)
}

// RestockRequest is the request body for a restock.
type RestockRequest struct {
	Amount int64 `json:"amount" binding:"required,gt=0"`
}

// Restock handles POST /v1/admin/products/:id/restock.
func (h *Handler) Restock(c *gin.Context) {
	var req RestockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	newStock, err := h.catalog.Restock(c.Request.Context(), c.Param("id"), req.Amount)
	if err != nil {
		c.JSON(catalogStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stock": newStock})
}

// DeleteProduct handles DELETE /v1/admin/products/:id.
func (h *Handler) DeleteProduct(c *gin.Context) {
	if err := h.catalog.Delete(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(catalogStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// DeleteOrder handles DELETE /v1/admin/orders/:id, the administrative
// reversal.
func (h *Handler) DeleteOrder(c *gin.Context) {
	if err := h.orders.Delete(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, orders.ErrOrderNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// Seed handles POST /v1/admin/seed.
func (h *Handler) Seed(c *gin.Context) {
	if err := h.catalog.Seed(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"seeded": true})
}

func catalogStatus(err error) int {
	switch {
	case errors.Is(err, catalog.ErrProductNotFound):
		return http.StatusNotFound
	case errors.Is(err, catalog.ErrProductExists):
		return http.StatusConflict
	case errors.Is(err, catalog.ErrInvalidProduct):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
