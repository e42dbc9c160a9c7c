package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-fern/internal/money"
)

// DiscountKind discriminates how a discount value is interpreted.
type DiscountKind string

const (
	// DiscountPercentage treats the value as a percentage of the basis amount.
	DiscountPercentage DiscountKind = "percentage"
	// DiscountFixedAmount treats the value as an absolute amount in the
	// basis currency, capped at the basis so it never discounts below zero.
	DiscountFixedAmount DiscountKind = "fixed_amount"
)

var (
	hundred    = decimal.NewFromInt(100)
	percentMax = decimal.NewFromInt(100)
)

// DiscountResult holds the rounded discount and the remaining amount.
type DiscountResult struct {
	DiscountAmount money.Amount
	FinalAmount    money.Amount
}

// CalculateDiscount computes a discount over the basis amount.
//
// For percentage discounts the value must lie within [0, 100];
// discountAmount = round(amount * value / 100). For fixed-amount discounts
// the value is capped at the basis amount. Either way FinalAmount is the
// basis minus the discount and shares its currency.
func CalculateDiscount(amount money.Amount, kind DiscountKind, value decimal.Decimal) (DiscountResult, error) {
	switch kind {
	case DiscountPercentage:
		if value.IsNegative() || value.GreaterThan(percentMax) {
			return DiscountResult{}, validationErr("discountValue", "percentage must be between 0 and 100, got %s", value)
		}
		discount := money.New(money.RoundToCurrency(amount.Value.Mul(value).Div(hundred)), amount.Currency)
		final, err := amount.Sub(discount)
		if err != nil {
			return DiscountResult{}, err
		}
		return DiscountResult{DiscountAmount: discount, FinalAmount: final}, nil
	case DiscountFixedAmount:
		if value.IsNegative() {
			return DiscountResult{}, validationErr("discountValue", "fixed amount must not be negative, got %s", value)
		}
		capped := value
		if capped.GreaterThan(amount.Value) {
			capped = amount.Value
		}
		discount := money.New(money.RoundToCurrency(capped), amount.Currency)
		final, err := amount.Sub(discount)
		if err != nil {
			return DiscountResult{}, err
		}
		return DiscountResult{DiscountAmount: discount, FinalAmount: final}, nil
	default:
		return DiscountResult{}, validationErr("discountType", "unknown discount type %q", string(kind))
	}
}
