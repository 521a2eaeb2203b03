package checkout

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the closed set of failure categories a checkout can surface.
// Anything not expressible as one of the first three is reported as
// KindInternal with a generic message; the cause stays server-side.
type Kind string

const (
	KindAuth       Kind = "AUTH"
	KindValidation Kind = "VALIDATION"
	KindNotFound   Kind = "NOT_FOUND"
	KindInternal   Kind = "INTERNAL"
)

// Validation reasons carried in Error.Reason.
const (
	ReasonMissingField      = "missing_field"
	ReasonInvalidQuantity   = "invalid_quantity"
	ReasonUnknownProduct    = "unknown_product"
	ReasonInsufficientStock = "insufficient_stock"
	ReasonCouponNotFound    = "coupon_not_found"
	ReasonCouponInactive    = "coupon_inactive"
	ReasonCouponExpired     = "coupon_expired"
	ReasonCouponUsageLimit  = "coupon_usage_limit"
	ReasonCouponMinOrder    = "coupon_minimum_order"
)

type Error struct {
	Kind    Kind
	Field   string
	Reason  string
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Field, e.Message, e.Reason)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// Code is the machine-readable identifier returned to callers.
func (e *Error) Code() string {
	if e.Reason != "" {
		return e.Reason
	}
	return string(e.Kind)
}

func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindAuth:
		return http.StatusUnauthorized
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func AuthError(message string) *Error {
	return &Error{Kind: KindAuth, Message: message}
}

func ValidationError(field, reason, message string) *Error {
	return &Error{Kind: KindValidation, Field: field, Reason: reason, Message: message}
}

func NotFoundError(field, reason, message string) *Error {
	return &Error{Kind: KindNotFound, Field: field, Reason: reason, Message: message}
}

// InternalError hides the cause from callers; it is only logged server-side.
func InternalError(cause error) *Error {
	return &Error{Kind: KindInternal, Message: "internal error", cause: cause}
}

// AsError extracts the typed checkout error, if err carries one.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// asTyped maps an arbitrary failure out of the transaction to the taxonomy:
// typed errors pass through, everything else becomes an internal error.
func asTyped(err error) *Error {
	if e, ok := AsError(err); ok {
		return e
	}
	return InternalError(err)
}
