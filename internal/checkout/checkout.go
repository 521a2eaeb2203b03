package checkout

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/safar/go-checkout/internal/database"
	"github.com/safar/go-checkout/internal/metrics"
	"github.com/safar/go-checkout/internal/models"
	"github.com/safar/go-checkout/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const EventOrderCreated = "order.created"

// Notifier dispatches a domain event after the order is durably committed.
// Implementations own their retry/failure handling; the coordinator only
// logs a failed dispatch.
type Notifier interface {
	Notify(ctx context.Context, event string, orderID int64) error
}

type Service struct {
	db       *sql.DB
	logger   *zap.Logger
	notifier Notifier
	metrics  *metrics.CheckoutMetrics
}

func NewService(db *sql.DB, logger *zap.Logger, notifier Notifier, m *metrics.CheckoutMetrics) *Service {
	return &Service{
		db:       db,
		logger:   logger,
		notifier: notifier,
		metrics:  m,
	}
}

type LineRequest struct {
	ProductID int64 `json:"id"`
	Quantity  int   `json:"quantity"`
}

type ProfileFields struct {
	Name  *string `json:"name,omitempty"`
	Email *string `json:"email,omitempty"`
	Phone *string `json:"phone,omitempty"`
	TaxID *string `json:"taxId,omitempty"`
}

type Request struct {
	PaymentMethod string          `json:"paymentMethod"`
	Address       json.RawMessage `json:"address,omitempty"`
	Lines         []LineRequest   `json:"products"`
	CouponCode    string          `json:"couponCode,omitempty"`
	Profile       *ProfileFields  `json:"profileFields,omitempty"`
}

type AppliedCoupon struct {
	ID    int64           `json:"id"`
	Code  string          `json:"code"`
	Type  string          `json:"type"`
	Value decimal.Decimal `json:"value"`
}

type Result struct {
	OrderID       int64           `json:"orderId"`
	Subtotal      decimal.Decimal `json:"subtotalBeforeDiscount"`
	Discount      decimal.Decimal `json:"discountTotal"`
	Total         decimal.Decimal `json:"total"`
	AppliedCoupon *AppliedCoupon  `json:"appliedCoupon"`
}

// Checkout turns the submitted lines into a persisted order inside one
// transaction: lock the product rows, validate and insert every line with
// the snapshot price, decrement stock, apply the coupon, patch the total.
// Best-effort steps (profile update, cart tracking, post-commit
// notification and cart conversion) never decide the outcome.
func (s *Service) Checkout(ctx context.Context, buyerID int64, req Request) (*Result, error) {
	start := time.Now()

	result, err := s.checkout(ctx, buyerID, req)
	if err != nil {
		typed := asTyped(err)
		if typed.Kind == KindInternal {
			s.logger.Error("checkout failed",
				zap.Int64("buyer_id", buyerID),
				zap.Error(err))
		}
		s.metrics.Observe(resultLabel(typed.Kind), time.Since(start))
		return nil, typed
	}

	s.metrics.Observe("success", time.Since(start))
	return result, nil
}

func resultLabel(kind Kind) string {
	switch kind {
	case KindAuth:
		return "auth"
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	default:
		return "internal"
	}
}

func (s *Service) checkout(ctx context.Context, buyerID int64, req Request) (*Result, error) {
	if buyerID <= 0 {
		return nil, AuthError("not authenticated")
	}
	if req.PaymentMethod == "" {
		return nil, ValidationError("paymentMethod", ReasonMissingField, "payment method is required")
	}
	if len(req.Lines) == 0 {
		return nil, ValidationError("products", ReasonMissingField, "at least one product is required")
	}
	for _, line := range req.Lines {
		if line.Quantity <= 0 {
			return nil, ValidationError("products", ReasonInvalidQuantity,
				fmt.Sprintf("quantity for product %d must be positive", line.ProductID))
		}
	}

	var (
		result   *Result
		openCart *models.Cart
	)

	err := database.WithTransaction(ctx, s.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		exists, err := store.UserExists(ctx, tx, buyerID)
		if err != nil {
			return InternalError(err)
		}
		if !exists {
			return AuthError("not authenticated")
		}

		if req.Profile != nil {
			s.bestEffort(ctx, tx, "profile_update", zap.Int64("buyer_id", buyerID), func() error {
				return store.UpdateProfile(ctx, tx, buyerID, store.ProfileUpdate{
					Name:  req.Profile.Name,
					Email: req.Profile.Email,
					Phone: req.Profile.Phone,
					TaxID: req.Profile.TaxID,
				})
			})
		}

		s.bestEffort(ctx, tx, "find_open_cart", zap.Int64("buyer_id", buyerID), func() error {
			cart, err := store.FindOpenCart(ctx, tx, buyerID)
			if errors.Is(err, database.ErrCartNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			openCart = cart
			return nil
		})

		orderID, err := store.InsertOrder(ctx, tx, buyerID, req.PaymentMethod, req.Address)
		if err != nil {
			return InternalError(err)
		}

		snapshot, err := store.LockProducts(ctx, tx, productIDs(req.Lines))
		if err != nil {
			return InternalError(err)
		}

		subtotal := decimal.Zero
		for _, line := range req.Lines {
			snap, ok := snapshot[line.ProductID]
			if !ok {
				return NotFoundError("products", ReasonUnknownProduct,
					fmt.Sprintf("product %d does not exist", line.ProductID))
			}
			if snap.StockQuantity < line.Quantity {
				return ValidationError("products", ReasonInsufficientStock,
					fmt.Sprintf("insufficient stock for product %d: requested %d, available %d",
						line.ProductID, line.Quantity, snap.StockQuantity))
			}

			if err := store.InsertOrderLine(ctx, tx, orderID, line.ProductID, line.Quantity, snap.Price); err != nil {
				return InternalError(err)
			}
			if err := store.DecrementStock(ctx, tx, line.ProductID, line.Quantity); err != nil {
				if errors.Is(err, database.ErrInsufficientStock) {
					return ValidationError("products", ReasonInsufficientStock,
						fmt.Sprintf("insufficient stock for product %d", line.ProductID))
				}
				return InternalError(err)
			}

			subtotal = subtotal.Add(snap.Price.Mul(decimal.NewFromInt(int64(line.Quantity))))
		}

		discount := decimal.Zero
		var applied *AppliedCoupon
		if req.CouponCode != "" {
			coupon, err := store.LockCouponByCode(ctx, tx, req.CouponCode)
			if errors.Is(err, database.ErrCouponNotFound) {
				return ValidationError("couponCode", ReasonCouponNotFound,
					fmt.Sprintf("coupon %q not found", req.CouponCode))
			}
			if err != nil {
				return InternalError(err)
			}
			if verr := ValidateCoupon(coupon, subtotal, time.Now()); verr != nil {
				return verr
			}

			discount = ComputeDiscount(coupon.Type, coupon.Value, subtotal)
			if err := store.IncrementCouponUsage(ctx, tx, coupon.ID); err != nil {
				return InternalError(err)
			}
			applied = &AppliedCoupon{
				ID:    coupon.ID,
				Code:  coupon.Code,
				Type:  coupon.Type,
				Value: coupon.Value,
			}
		}

		total := subtotal.Sub(discount)
		if err := store.SetOrderTotal(ctx, tx, orderID, total); err != nil {
			return InternalError(err)
		}

		if openCart != nil {
			s.bestEffort(ctx, tx, "mark_cart_recovered", zap.Int64("cart_id", openCart.ID), func() error {
				return store.MarkAbandonedRecovered(ctx, tx, openCart.ID)
			})
		}

		result = &Result{
			OrderID:       orderID,
			Subtotal:      subtotal,
			Discount:      discount,
			Total:         total,
			AppliedCoupon: applied,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, result.OrderID, openCart)

	return result, nil
}

func productIDs(lines []LineRequest) []int64 {
	seen := make(map[int64]struct{}, len(lines))
	ids := make([]int64, 0, len(lines))
	for _, line := range lines {
		if _, ok := seen[line.ProductID]; ok {
			continue
		}
		seen[line.ProductID] = struct{}{}
		ids = append(ids, line.ProductID)
	}
	return ids
}

// bestEffort runs an in-transaction step under a savepoint so that a failed
// statement cannot poison the surrounding transaction. The failure is logged
// and discarded.
func (s *Service) bestEffort(ctx context.Context, tx *sql.Tx, step string, field zap.Field, fn func() error) {
	if _, err := tx.ExecContext(ctx, "SAVEPOINT best_effort"); err != nil {
		s.logger.Warn("best-effort step skipped", zap.String("step", step), field, zap.Error(err))
		return
	}

	if err := fn(); err != nil {
		s.logger.Warn("best-effort step failed", zap.String("step", step), field, zap.Error(err))
		if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT best_effort"); rbErr != nil {
			s.logger.Warn("best-effort savepoint rollback failed", zap.String("step", step), zap.Error(rbErr))
		}
		return
	}

	if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT best_effort"); err != nil {
		s.logger.Warn("best-effort savepoint release failed", zap.String("step", step), zap.Error(err))
	}
}

// afterCommit fires the order-created event and converts the buyer's open
// cart. Both run outside the transaction and never gate its outcome.
func (s *Service) afterCommit(ctx context.Context, orderID int64, openCart *models.Cart) {
	if s.notifier != nil {
		if err := s.notifier.Notify(ctx, EventOrderCreated, orderID); err != nil {
			s.logger.Warn("order-created notification failed",
				zap.Int64("order_id", orderID),
				zap.Error(err))
		}
	}

	if openCart == nil {
		return
	}

	err := database.WithRetry(ctx, s.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		return store.ConvertCart(ctx, tx, openCart.ID)
	})
	if err != nil {
		s.logger.Warn("cart conversion failed",
			zap.Int64("cart_id", openCart.ID),
			zap.Int64("order_id", orderID),
			zap.Error(err))
	}
}
