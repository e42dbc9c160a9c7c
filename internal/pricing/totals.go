package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-fern/internal/money"
)

// QuoteDiscount is a quote-level discount applied on top of line totals.
type QuoteDiscount struct {
	Kind        DiscountKind    `json:"type"`
	Value       decimal.Decimal `json:"value"`
	Description string          `json:"description,omitempty"`
}

// QuoteTotals aggregates line calculations into quote-level amounts. The
// quote discount is applied to the tax-inclusive sum of line totals, so
// TaxableAmount here is that sum after discount and GrandTotal is its
// rounded value.
type QuoteTotals struct {
	Subtotal       money.Amount `json:"subtotal"`
	DiscountAmount money.Amount `json:"discountAmount"`
	TaxableAmount  money.Amount `json:"taxableAmount"`
	TaxAmount      money.Amount `json:"taxAmount"`
	GrandTotal     money.Amount `json:"grandTotal"`
	Currency       string       `json:"currency"`
}

// TotalsWithBreakdown extends QuoteTotals with a per-rate tax breakdown.
type TotalsWithBreakdown struct {
	QuoteTotals
	TaxBreakdown []TaxBand `json:"taxBreakdown"`
}

type aggregation struct {
	subtotal  money.Amount
	tax       money.Amount
	lineTotal money.Amount
	currency  string
}

func aggregate(lines []LineCalculation) (aggregation, error) {
	if len(lines) == 0 {
		return aggregation{}, ErrNoLineItems
	}
	currency := lines[0].Subtotal.Currency
	for _, line := range lines[1:] {
		if line.Subtotal.Currency != currency {
			return aggregation{}, &money.CurrencyMismatchError{Left: currency, Right: line.Subtotal.Currency}
		}
	}
	agg := aggregation{
		subtotal:  money.Zero(currency),
		tax:       money.Zero(currency),
		lineTotal: money.Zero(currency),
		currency:  currency,
	}
	for _, line := range lines {
		var err error
		if agg.subtotal, err = agg.subtotal.Add(line.Subtotal); err != nil {
			return aggregation{}, err
		}
		if agg.tax, err = agg.tax.Add(line.TaxAmount); err != nil {
			return aggregation{}, err
		}
		if agg.lineTotal, err = agg.lineTotal.Add(line.TotalAmount); err != nil {
			return aggregation{}, err
		}
	}
	return agg, nil
}

// CalculateQuoteTotals sums already-rounded line values and applies the
// optional quote-level discount to the tax-inclusive line total.
func CalculateQuoteTotals(lines []LineCalculation, discount *QuoteDiscount) (QuoteTotals, error) {
	agg, err := aggregate(lines)
	if err != nil {
		return QuoteTotals{}, err
	}

	discountAmount := money.Zero(agg.currency)
	taxable := agg.lineTotal
	if discount != nil {
		result, err := CalculateDiscount(agg.lineTotal, discount.Kind, discount.Value)
		if err != nil {
			return QuoteTotals{}, err
		}
		discountAmount = result.DiscountAmount
		taxable = result.FinalAmount
	}

	return QuoteTotals{
		Subtotal:       agg.subtotal,
		DiscountAmount: discountAmount,
		TaxableAmount:  taxable,
		TaxAmount:      agg.tax,
		GrandTotal:     taxable.Round(),
		Currency:       agg.currency,
	}, nil
}

// CalculateQuoteTotalsWithMultipleDiscounts applies quote discounts in two
// ordered passes: every percentage discount first, each compounding against
// the running post-discount amount, then every fixed-amount discount against
// the result. DiscountAmount accumulates across both passes.
func CalculateQuoteTotalsWithMultipleDiscounts(lines []LineCalculation, discounts []QuoteDiscount) (QuoteTotals, error) {
	agg, err := aggregate(lines)
	if err != nil {
		return QuoteTotals{}, err
	}

	running := agg.lineTotal
	totalDiscount := money.Zero(agg.currency)
	for _, pass := range []DiscountKind{DiscountPercentage, DiscountFixedAmount} {
		for _, d := range discounts {
			if d.Kind != pass {
				continue
			}
			result, err := CalculateDiscount(running, d.Kind, d.Value)
			if err != nil {
				return QuoteTotals{}, err
			}
			if totalDiscount, err = totalDiscount.Add(result.DiscountAmount); err != nil {
				return QuoteTotals{}, err
			}
			running = result.FinalAmount
		}
	}

	return QuoteTotals{
		Subtotal:       agg.subtotal,
		DiscountAmount: totalDiscount,
		TaxableAmount:  running,
		TaxAmount:      agg.tax,
		GrandTotal:     running.Round(),
		Currency:       agg.currency,
	}, nil
}

// CalculateQuoteTotalsWithBreakdown additionally reports the tax breakdown
// computed from each line's pre-discount taxable amount and effective rate.
func CalculateQuoteTotalsWithBreakdown(lines []LineCalculation, discount *QuoteDiscount) (TotalsWithBreakdown, error) {
	totals, err := CalculateQuoteTotals(lines, discount)
	if err != nil {
		return TotalsWithBreakdown{}, err
	}
	entries := make([]TaxEntry, 0, len(lines))
	for _, line := range lines {
		entries = append(entries, TaxEntry{
			Amount:    line.TaxableAmount,
			TaxRate:   line.Line.EffectiveTaxRate(),
			TaxExempt: line.Line.TaxExempt,
		})
	}
	breakdown, err := CalculateTaxBreakdown(entries)
	if err != nil {
		return TotalsWithBreakdown{}, err
	}
	return TotalsWithBreakdown{QuoteTotals: totals, TaxBreakdown: breakdown}, nil
}

// ValidateQuoteTotals checks that a QuoteTotals value is self-consistent:
// the discount never exceeds the tax-inclusive basis it was computed
// against, the taxable amount equals that basis minus the discount, the
// grand total is the rounded taxable amount, and every field shares one
// currency. Primarily used by tests and callers asserting invariants.
func ValidateQuoteTotals(t QuoteTotals) bool {
	for _, a := range []money.Amount{t.Subtotal, t.DiscountAmount, t.TaxableAmount, t.TaxAmount, t.GrandTotal} {
		if a.Currency != t.Currency {
			return false
		}
	}
	basis, err := t.Subtotal.Add(t.TaxAmount)
	if err != nil {
		return false
	}
	if t.DiscountAmount.IsNegative() {
		return false
	}
	if cmp, err := t.DiscountAmount.Cmp(basis); err != nil || cmp > 0 {
		return false
	}
	expectedTaxable, err := basis.Sub(t.DiscountAmount)
	if err != nil {
		return false
	}
	if !t.TaxableAmount.Equal(expectedTaxable) {
		return false
	}
	return t.GrandTotal.Equal(t.TaxableAmount.Round())
}
