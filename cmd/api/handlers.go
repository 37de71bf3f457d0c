package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/safar/go-cql-shop/internal/database"
	"github.com/safar/go-cql-shop/internal/metrics"
	"github.com/safar/go-cql-shop/internal/models"
	"github.com/safar/go-cql-shop/internal/store"
	"github.com/shopspring/decimal"
)

type catalogStore interface {
	AddProduct(ctx context.Context, req models.NewProduct) (uuid.UUID, error)
	GetProduct(ctx context.Context, id uuid.UUID) (*models.Product, error)
	GetAllProducts(ctx context.Context) ([]models.Product, error)
	GetProductsByCategory(ctx context.Context, category string) ([]models.Product, error)
}

type orderStore interface {
	AddOrder(ctx context.Context, req models.NewOrder) (*models.Order, error)
	GetOrdersByUser(ctx context.Context, userID uuid.UUID) ([]models.Order, error)
	ListOrdersByUser(ctx context.Context, userID uuid.UUID, cursor string, limit int) (*store.CursorPage, error)
	GetOrdersByStatus(ctx context.Context, status string) ([]models.StatusOrder, error)
	UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, oldStatus, newStatus string) (bool, error)
	DeleteOrder(ctx context.Context, userID, orderID uuid.UUID) (bool, error)
}

type api struct {
	catalog catalogStore
	orders  orderStore
	logger  *slog.Logger
	timeout time.Duration
	metrics *metrics.ServerMetrics
}

func (a *api) routes(r chi.Router) {
	r.Post("/products", a.handleAddProduct)
	r.Get("/products", a.handleListProducts)
	r.Get("/products/{productID}", a.handleGetProduct)

	r.Post("/orders", a.handleAddOrder)
	r.Get("/orders", a.handleOrdersByStatus)
	r.Post("/orders/{orderID}/status", a.handleUpdateStatus)

	r.Get("/users/{userID}/orders", a.handleOrdersByUser)
	r.Delete("/users/{userID}/orders/{orderID}", a.handleDeleteOrder)
}

func (a *api) context(r *http.Request) (context.Context, context.CancelFunc) {
	if a.timeout <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), a.timeout)
}

func (a *api) handleAddProduct(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string            `json:"name"`
		Category    string            `json:"category"`
		Price       decimal.Decimal   `json:"price"`
		Description string            `json:"description"`
		Attributes  map[string]string `json:"attributes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	ctx, cancel := a.context(r)
	defer cancel()

	id, err := a.catalog.AddProduct(ctx, models.NewProduct{
		Name:        req.Name,
		Category:    req.Category,
		Price:       req.Price,
		Description: req.Description,
		Attributes:  models.Attributes(req.Attributes),
	})
	if err != nil {
		a.respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]string{"product_id": id.String()})
}

func (a *api) handleListProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := a.context(r)
	defer cancel()

	var (
		products []models.Product
		err      error
	)
	if category := r.URL.Query().Get("category"); category != "" {
		products, err = a.catalog.GetProductsByCategory(ctx, category)
	} else {
		products, err = a.catalog.GetAllProducts(ctx)
	}
	if err != nil {
		a.respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, products)
}

func (a *api) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "productID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid product ID")
		return
	}

	ctx, cancel := a.context(r)
	defer cancel()

	product, err := a.catalog.GetProduct(ctx, id)
	if err != nil {
		a.respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, product)
}

// handleAddOrder snapshots the product's name and price into the order.
func (a *api) handleAddOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID    string `json:"user_id"`
		ProductID string `json:"product_id"`
		Quantity  int    `json:"quantity"`
		Status    string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	userID := uuid.New()
	if req.UserID != "" {
		parsed, err := uuid.Parse(req.UserID)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid user ID")
			return
		}
		userID = parsed
	}
	productID, err := uuid.Parse(req.ProductID)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid product ID")
		return
	}
	status := req.Status
	if status == "" {
		status = models.OrderStatusPending
	}

	ctx, cancel := a.context(r)
	defer cancel()

	product, err := a.catalog.GetProduct(ctx, productID)
	if err != nil {
		if errors.Is(err, database.ErrProductNotFound) {
			respondError(w, http.StatusUnprocessableEntity, "Unknown product")
			return
		}
		a.respondStoreError(w, err)
		return
	}

	order, err := a.orders.AddOrder(ctx, models.NewOrder{
		UserID:    userID,
		Status:    status,
		ProductID: product.ID,
		Name:      product.Name,
		Quantity:  req.Quantity,
		Price:     product.Price,
	})
	if err != nil {
		a.respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, struct {
		*models.Order
		TotalPrice decimal.Decimal `json:"total_price"`
	}{order, order.TotalPrice()})
}

func (a *api) handleOrdersByUser(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	ctx, cancel := a.context(r)
	defer cancel()

	q := r.URL.Query()
	if q.Has("cursor") || q.Has("limit") {
		limit, _ := strconv.Atoi(q.Get("limit"))
		page, err := a.orders.ListOrdersByUser(ctx, userID, q.Get("cursor"), limit)
		if err != nil {
			a.respondStoreError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, page)
		return
	}

	orders, err := a.orders.GetOrdersByUser(ctx, userID)
	if err != nil {
		a.respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, orders)
}

func (a *api) handleOrdersByStatus(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status == "" {
		status = models.OrderStatusPending
	}

	ctx, cancel := a.context(r)
	defer cancel()

	orders, err := a.orders.GetOrdersByStatus(ctx, status)
	if err != nil {
		a.respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, orders)
}

func (a *api) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "orderID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid order ID")
		return
	}

	var req struct {
		From string `json:"from"`
		To   string `json:"to"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	ctx, cancel := a.context(r)
	defer cancel()

	moved, err := a.orders.UpdateOrderStatus(ctx, orderID, req.From, req.To)
	if err != nil {
		a.respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"order_id": orderID.String(),
		"status":   req.To,
		"moved":    moved,
	})
}

func (a *api) handleDeleteOrder(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}
	orderID, err := uuid.Parse(chi.URLParam(r, "orderID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid order ID")
		return
	}

	ctx, cancel := a.context(r)
	defer cancel()

	deleted, err := a.orders.DeleteOrder(ctx, userID, orderID)
	if err != nil {
		a.respondStoreError(w, err)
		return
	}
	if !deleted {
		respondError(w, http.StatusNotFound, database.ErrOrderNotFound.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (a *api) respondStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrValidation):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, database.ErrProductNotFound), errors.Is(err, database.ErrOrderNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, database.ErrTransitionNotAllowed):
		respondError(w, http.StatusConflict, err.Error())
	case database.IsRetryable(err):
		a.logger.Warn("store operation failed", "error", err, "retryable", true)
		respondError(w, http.StatusServiceUnavailable, "store temporarily unavailable")
	default:
		a.logger.Error("store operation failed", "error", err)
		respondError(w, http.StatusInternalServerError, "store operation failed")
	}
}

// statusRecorder captures the response code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (a *api) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		// Unmatched paths share one label so arbitrary URLs cannot mint series.
		route := r.Method + " unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = r.Method + " " + pattern
			}
		}

		if a.metrics != nil {
			a.metrics.Requests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
			a.metrics.LatencyMS.WithLabelValues(route).Observe(float64(time.Since(start).Microseconds()) / 1000)
		}
		a.logger.Debug("request",
			"route", route,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds())
	})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("encode JSON response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
