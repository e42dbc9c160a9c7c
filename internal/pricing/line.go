package pricing

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-fern/internal/money"
)

// DefaultTaxRate applies to lines that omit a tax rate, matching the NZ GST
// standard rate.
var DefaultTaxRate = decimal.NewFromInt(15)

// LineItem is the request-scoped input for one quote line. UnitPrice may be
// absent on entry and resolved later against a rate card.
type LineItem struct {
	LineNumber        int
	Description       string
	Quantity          decimal.Decimal
	UnitPrice         *money.Amount
	ItemCode          string
	ServiceCategoryID *uuid.UUID
	Unit              string
	TaxRate           *decimal.Decimal
	TaxExempt         bool
	DiscountKind      DiscountKind
	DiscountValue     decimal.Decimal
}

// EffectiveTaxRate returns 0 for exempt lines, the line's own rate when set,
// and DefaultTaxRate otherwise.
func (li LineItem) EffectiveTaxRate() decimal.Decimal {
	if li.TaxExempt {
		return decimal.Zero
	}
	if li.TaxRate != nil {
		return *li.TaxRate
	}
	return DefaultTaxRate
}

// LineCalculation is the full monetary result for one line. All amounts are
// rounded to currency precision and share the line's currency, so quote-level
// sums reconcile exactly with what each line displays.
type LineCalculation struct {
	Line           LineItem     `json:"lineItem"`
	Subtotal       money.Amount `json:"subtotal"`
	DiscountAmount money.Amount `json:"discountAmount"`
	TaxableAmount  money.Amount `json:"taxableAmount"`
	TaxAmount      money.Amount `json:"taxAmount"`
	TotalAmount    money.Amount `json:"totalAmount"`
}

// CalculateLine computes subtotal, discount, tax and total for one line.
// Rounding happens once per component at line-output time; aggregation later
// sums these already-rounded values rather than re-deriving from unrounded
// intermediates.
func CalculateLine(line LineItem) (LineCalculation, error) {
	if line.UnitPrice == nil {
		return LineCalculation{}, validationErr("unitPrice", "line %d has no unit price", line.LineNumber)
	}
	if line.Quantity.IsNegative() {
		return LineCalculation{}, validationErr("quantity", "line %d quantity must not be negative, got %s", line.LineNumber, line.Quantity)
	}
	unitPrice := *line.UnitPrice
	subtotal := unitPrice.Scale(line.Quantity).Round()

	discount := money.Zero(subtotal.Currency)
	taxable := subtotal
	if line.DiscountKind != "" {
		result, err := CalculateDiscount(subtotal, line.DiscountKind, line.DiscountValue)
		if err != nil {
			return LineCalculation{}, err
		}
		discount = result.DiscountAmount
		taxable = result.FinalAmount
	}

	rate := line.EffectiveTaxRate()
	tax := money.New(money.RoundToCurrency(taxable.Value.Mul(rate).Div(hundred)), taxable.Currency)
	total, err := taxable.Add(tax)
	if err != nil {
		return LineCalculation{}, err
	}
	return LineCalculation{
		Line:           line,
		Subtotal:       subtotal,
		DiscountAmount: discount,
		TaxableAmount:  taxable,
		TaxAmount:      tax,
		TotalAmount:    total,
	}, nil
}
