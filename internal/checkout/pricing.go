package checkout

import (
	"fmt"
	"time"

	"github.com/safar/go-checkout/internal/models"
	"github.com/shopspring/decimal"
)

var oneHundred = decimal.NewFromInt(100)

// ValidateCoupon runs the rule chain against the locked coupon row. The
// first violated rule wins: inactive, expired, usage limit reached, then
// minimum order threshold. A nil return means the coupon may be applied to
// the given subtotal.
func ValidateCoupon(coupon *models.Coupon, subtotal decimal.Decimal, now time.Time) *Error {
	if !coupon.Active {
		return ValidationError("couponCode", ReasonCouponInactive,
			fmt.Sprintf("coupon %q is not active", coupon.Code))
	}
	if coupon.ExpiresAt != nil && coupon.ExpiresAt.Before(now) {
		return ValidationError("couponCode", ReasonCouponExpired,
			fmt.Sprintf("coupon %q expired at %s", coupon.Code, coupon.ExpiresAt.Format(time.RFC3339)))
	}
	if coupon.MaxUsage != nil && coupon.UsageCount >= *coupon.MaxUsage {
		return ValidationError("couponCode", ReasonCouponUsageLimit,
			fmt.Sprintf("coupon %q has reached its usage limit", coupon.Code))
	}
	if coupon.MinimumOrder.IsPositive() && subtotal.LessThan(coupon.MinimumOrder) {
		return ValidationError("couponCode", ReasonCouponMinOrder,
			fmt.Sprintf("coupon %q requires a minimum order of %s", coupon.Code, coupon.MinimumOrder))
	}
	return nil
}

// ComputeDiscount derives the discount for a coupon type and value, clamped
// to [0, subtotal] so a fixed discount larger than the subtotal never drives
// the total negative.
func ComputeDiscount(couponType string, value, subtotal decimal.Decimal) decimal.Decimal {
	var discount decimal.Decimal

	switch couponType {
	case models.CouponTypePercentage:
		discount = subtotal.Mul(value).Div(oneHundred)
	case models.CouponTypeFixedAmount:
		discount = value
	default:
		return decimal.Zero
	}

	if discount.IsNegative() {
		return decimal.Zero
	}
	if discount.GreaterThan(subtotal) {
		return subtotal
	}
	return discount
}
