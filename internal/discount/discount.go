package discount

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/darktidesresearch/storefront/internal/logging"
	"github.com/darktidesresearch/storefront/internal/orders"
)

const (
	InvalidMessage     = "Invalid discount code"
	UnavailableMessage = "Unable to validate discount code, please try again"
)

var ErrNotFound = orders.ErrDiscountNotFound

type Lookup interface {
	FindDiscount(ctx context.Context, code string) (orders.DiscountCode, error)
}

type Result struct {
	Valid          bool                `json:"valid"`
	Code           string              `json:"code,omitempty"`
	DiscountType   orders.DiscountType `json:"discount_type,omitempty"`
	DiscountValue  decimal.Decimal     `json:"discount_value"`
	DiscountAmount decimal.Decimal     `json:"discount_amount"`
	Message        string              `json:"message,omitempty"`
}

type Validator struct {
	lookup Lookup
	log    *zap.Logger
}

func NewValidator(lookup Lookup, log *zap.Logger) *Validator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Validator{lookup: lookup, log: log.Named("discount")}
}

// Validate looks the code up case-insensitively and prices it against
// subtotal. It never touches usage_count.
func (v *Validator) Validate(ctx context.Context, code string, subtotal decimal.Decimal) Result {
	code = strings.TrimSpace(code)
	if code == "" {
		return Result{Message: InvalidMessage}
	}
	d, err := v.lookup.FindDiscount(ctx, code)
	if errors.Is(err, ErrNotFound) {
		return Result{Message: InvalidMessage}
	}
	if err != nil {
		logging.FromContext(ctx, v.log).Error("discount_lookup_failed", zap.Error(err))
		return Result{Message: UnavailableMessage}
	}
	if !d.IsActive || !d.Valid() {
		return Result{Message: InvalidMessage}
	}
	return Result{
		Valid:          true,
		Code:           d.Code,
		DiscountType:   d.DiscountType,
		DiscountValue:  d.DiscountValue,
		DiscountAmount: Compute(d.DiscountType, d.DiscountValue, subtotal),
	}
}

// Compute prices a discount against subtotal, rounded half-up to cents and
// never more than the subtotal.
func Compute(t orders.DiscountType, value, subtotal decimal.Decimal) decimal.Decimal {
	if !subtotal.IsPositive() || !value.IsPositive() {
		return decimal.Zero
	}
	var amount decimal.Decimal
	switch t {
	case orders.DiscountPercentage:
		amount = subtotal.Mul(value).Div(decimal.NewFromInt(100)).Round(2)
	case orders.DiscountFixed:
		amount = decimal.Min(value, subtotal)
	default:
		return decimal.Zero
	}
	return decimal.Min(amount, subtotal)
}
