package httpapi

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/safar/go-checkout/internal/checkout"
	"go.uber.org/zap"
)

type Handler struct {
	DB       *sql.DB
	Checkout *checkout.Service
	Redis    *redis.Client
	Auth     Authenticator
	Logger   *zap.Logger
	CacheTTL time.Duration
}

func NewRouter(h *Handler, reg *prometheus.Registry) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	r.Post("/users", h.createUser)
	r.Get("/users/{id}", h.getUser)
	r.Post("/sessions", h.createSession)
	r.Post("/products", h.createProduct)
	r.Get("/products", h.listProducts)
	r.Get("/products/{id}", h.getProduct)
	r.Post("/coupons", h.createCoupon)

	r.Group(func(r chi.Router) {
		r.Use(h.requireAuth)
		r.Post("/checkout", h.checkout)
		r.Get("/orders", h.listOrders)
		r.Get("/orders/{id}", h.getOrder)
	})

	return r
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

type errorResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Success: false, Code: code, Message: message})
}
