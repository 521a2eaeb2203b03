package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/safar/go-checkout/internal/checkout"
	"github.com/safar/go-checkout/internal/database"
	"github.com/safar/go-checkout/internal/models"
	"github.com/safar/go-checkout/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const orderCacheKey = "order:%d"

type checkoutResponse struct {
	Success       bool                    `json:"success"`
	OrderID       int64                   `json:"orderId"`
	Total         decimal.Decimal         `json:"total"`
	Subtotal      decimal.Decimal         `json:"subtotalBeforeDiscount"`
	Discount      decimal.Decimal         `json:"discountTotal"`
	AppliedCoupon *checkout.AppliedCoupon `json:"appliedCoupon"`
}

func (h *Handler) checkout(w http.ResponseWriter, r *http.Request) {
	var req checkout.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION", "invalid request body")
		return
	}

	result, err := h.Checkout.Checkout(r.Context(), buyerIDFromContext(r.Context()), req)
	if err != nil {
		if typed, ok := checkout.AsError(err); ok {
			respondError(w, typed.HTTPStatus(), typed.Code(), typed.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
		return
	}

	respondJSON(w, http.StatusCreated, checkoutResponse{
		Success:       true,
		OrderID:       result.OrderID,
		Total:         result.Total,
		Subtotal:      result.Subtotal,
		Discount:      result.Discount,
		AppliedCoupon: result.AppliedCoupon,
	})
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION", "invalid order id")
		return
	}
	buyerID := buyerIDFromContext(r.Context())

	if cached := h.cachedOrder(r.Context(), id, buyerID); cached != nil {
		respondJSON(w, http.StatusOK, json.RawMessage(cached))
		return
	}

	order, err := store.GetOrder(r.Context(), h.DB, id)
	if errors.Is(err, database.ErrOrderNotFound) {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "order not found")
		return
	}
	if err != nil {
		h.Logger.Error("get order", zap.Int64("order_id", id), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
		return
	}
	if order.UserID != buyerID {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "order not found")
		return
	}

	h.cacheOrder(r.Context(), order)
	respondJSON(w, http.StatusOK, order)
}

// cachedOrder returns the cached JSON for an order if present and owned by
// the caller. Cache failures fall through to the database.
func (h *Handler) cachedOrder(ctx context.Context, orderID, buyerID int64) []byte {
	if h.Redis == nil {
		return nil
	}
	raw, err := h.Redis.Get(ctx, fmt.Sprintf(orderCacheKey, orderID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			h.Logger.Warn("order cache read failed", zap.Int64("order_id", orderID), zap.Error(err))
		}
		return nil
	}

	var order models.Order
	if err := json.Unmarshal(raw, &order); err != nil || order.UserID != buyerID {
		return nil
	}
	return raw
}

func (h *Handler) cacheOrder(ctx context.Context, order *models.Order) {
	if h.Redis == nil {
		return
	}
	raw, err := json.Marshal(order)
	if err != nil {
		return
	}
	if err := h.Redis.Set(ctx, fmt.Sprintf(orderCacheKey, order.ID), raw, h.CacheTTL).Err(); err != nil {
		h.Logger.Warn("order cache write failed", zap.Int64("order_id", order.ID), zap.Error(err))
	}
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 100 {
		limit = 20
	}

	page, err := store.ListOrdersCursor(r.Context(), h.DB, buyerIDFromContext(r.Context()), r.URL.Query().Get("cursor"), limit)
	if err != nil {
		h.Logger.Error("list orders", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
		return
	}

	respondJSON(w, http.StatusOK, page)
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION", "invalid request body")
		return
	}
	if req.Email == "" || req.Name == "" {
		respondError(w, http.StatusBadRequest, "VALIDATION", "email and name are required")
		return
	}

	user, err := store.CreateUser(r.Context(), h.DB, req.Email, req.Name)
	if err != nil {
		h.Logger.Error("create user", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
		return
	}

	respondJSON(w, http.StatusCreated, user)
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION", "invalid user id")
		return
	}

	user, err := store.GetUser(r.Context(), h.DB, id)
	if errors.Is(err, database.ErrUserNotFound) {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "user not found")
		return
	}
	if err != nil {
		h.Logger.Error("get user", zap.Int64("user_id", id), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
		return
	}

	respondJSON(w, http.StatusOK, user)
}

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID int64 `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID <= 0 {
		respondError(w, http.StatusBadRequest, "VALIDATION", "userId is required")
		return
	}

	if _, err := store.GetUser(r.Context(), h.DB, req.UserID); err != nil {
		if errors.Is(err, database.ErrUserNotFound) {
			respondError(w, http.StatusNotFound, "NOT_FOUND", "user not found")
			return
		}
		h.Logger.Error("create session", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
		return
	}

	session, err := store.CreateSession(r.Context(), h.DB, req.UserID, 24*time.Hour)
	if err != nil {
		h.Logger.Error("create session", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
		return
	}

	respondJSON(w, http.StatusCreated, session)
}

func (h *Handler) createProduct(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SKU         string          `json:"sku"`
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Price       decimal.Decimal `json:"price"`
		Stock       int             `json:"stock"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION", "invalid request body")
		return
	}
	if req.SKU == "" || req.Name == "" || req.Price.IsNegative() || req.Stock < 0 {
		respondError(w, http.StatusBadRequest, "VALIDATION", "sku, name, non-negative price and stock are required")
		return
	}

	product, err := store.CreateProduct(r.Context(), h.DB, req.SKU, req.Name, req.Description, req.Price, req.Stock)
	if err != nil {
		h.Logger.Error("create product", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
		return
	}

	respondJSON(w, http.StatusCreated, product)
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION", "invalid product id")
		return
	}

	product, err := store.GetProduct(r.Context(), h.DB, id)
	if errors.Is(err, database.ErrProductNotFound) {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "product not found")
		return
	}
	if err != nil {
		h.Logger.Error("get product", zap.Int64("product_id", id), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
		return
	}

	respondJSON(w, http.StatusOK, product)
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	result, err := store.ListProducts(r.Context(), h.DB, page, pageSize)
	if err != nil {
		h.Logger.Error("list products", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
		return
	}

	respondJSON(w, http.StatusOK, result)
}

func (h *Handler) createCoupon(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code         string          `json:"code"`
		Type         string          `json:"type"`
		Value        decimal.Decimal `json:"value"`
		MinimumOrder decimal.Decimal `json:"minimumOrder"`
		ExpiresAt    *time.Time      `json:"expiresAt,omitempty"`
		MaxUsage     *int            `json:"maxUsage,omitempty"`
		Active       *bool           `json:"active,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION", "invalid request body")
		return
	}
	if req.Code == "" || req.Value.IsNegative() {
		respondError(w, http.StatusBadRequest, "VALIDATION", "code and non-negative value are required")
		return
	}
	if req.Type != models.CouponTypePercentage && req.Type != models.CouponTypeFixedAmount {
		respondError(w, http.StatusBadRequest, "VALIDATION", "type must be percentage or fixed_amount")
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	coupon, err := store.CreateCoupon(r.Context(), h.DB, &models.Coupon{
		Code:         req.Code,
		Type:         req.Type,
		Value:        req.Value,
		MinimumOrder: req.MinimumOrder,
		ExpiresAt:    req.ExpiresAt,
		MaxUsage:     req.MaxUsage,
		Active:       active,
	})
	if err != nil {
		h.Logger.Error("create coupon", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
		return
	}

	respondJSON(w, http.StatusCreated, coupon)
}
