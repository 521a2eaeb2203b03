package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	TaxID     string    `json:"tax_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Session struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

type Product struct {
	ID            int64           `json:"id"`
	SKU           string          `json:"sku"`
	Name          string          `json:"name"`
	Description   string          `json:"description,omitempty"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity int             `json:"stock_quantity"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// ProductSnapshot is the price/stock pair observed under a row lock. All
// pricing and stock-sufficiency decisions in a checkout use this value, not
// a later re-read of the catalog.
type ProductSnapshot struct {
	ID            int64           `json:"id"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity int             `json:"stock_quantity"`
}

type Order struct {
	ID                int64           `json:"id"`
	UserID            int64           `json:"user_id"`
	OrderNumber       string          `json:"order_number"`
	PaymentMethod     string          `json:"payment_method"`
	Address           json.RawMessage `json:"address,omitempty"`
	FinancialStatus   string          `json:"financial_status"`
	FulfillmentStatus string          `json:"fulfillment_status"`
	TotalAmount       decimal.Decimal `json:"total_amount"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	Lines             []OrderLine     `json:"lines,omitempty"`
}

type OrderLine struct {
	ID        int64           `json:"id"`
	OrderID   int64           `json:"order_id"`
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	CreatedAt time.Time       `json:"created_at"`
}

type Coupon struct {
	ID           int64           `json:"id"`
	Code         string          `json:"code"`
	Type         string          `json:"type"`
	Value        decimal.Decimal `json:"value"`
	MinimumOrder decimal.Decimal `json:"minimum_order"`
	ExpiresAt    *time.Time      `json:"expires_at,omitempty"`
	UsageCount   int             `json:"usage_count"`
	MaxUsage     *int            `json:"max_usage,omitempty"`
	Active       bool            `json:"active"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

type Cart struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type AbandonedCartRecord struct {
	ID        int64     `json:"id"`
	CartID    int64     `json:"cart_id"`
	Recovered bool      `json:"recovered"`
	UpdatedAt time.Time `json:"updated_at"`
}

const (
	FinancialStatusPending  = "pending"
	FinancialStatusPaid     = "paid"
	FinancialStatusRefunded = "refunded"

	FulfillmentStatusPending   = "pending"
	FulfillmentStatusShipped   = "shipped"
	FulfillmentStatusDelivered = "delivered"
)

const (
	CouponTypePercentage  = "percentage"
	CouponTypeFixedAmount = "fixed_amount"
)

const (
	CartStatusOpen      = "open"
	CartStatusConverted = "converted"
)
