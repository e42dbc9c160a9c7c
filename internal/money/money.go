package money

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// CurrencyDecimals is the number of fractional digits monetary values are
// finalised to. All supported currencies settle at two decimal places.
const CurrencyDecimals = 2

// ErrNoAmounts is returned when a summation receives no inputs, because no
// currency can be inferred for the result.
var ErrNoAmounts = errors.New("money: no amounts to sum")

// CurrencyMismatchError signals a binary operation across two currencies.
// Amounts are never coerced between currencies.
type CurrencyMismatchError struct {
	Left  string
	Right string
}

func (e *CurrencyMismatchError) Error() string {
	return fmt.Sprintf("money: currency mismatch: %s vs %s", e.Left, e.Right)
}

// Amount pairs an exact decimal value with an ISO-4217 currency code.
// The zero value is 0 in the empty currency and should only appear as a
// placeholder before construction.
type Amount struct {
	Value    decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// New constructs an Amount without rounding the value.
func New(value decimal.Decimal, currency string) Amount {
	return Amount{Value: value, Currency: currency}
}

// FromString parses an exact decimal representation into an Amount.
func FromString(value, currency string) (Amount, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return Amount{}, fmt.Errorf("money: parse amount %q: %w", value, err)
	}
	return Amount{Value: d, Currency: currency}, nil
}

// Zero returns a zero Amount in the given currency.
func Zero(currency string) Amount {
	return Amount{Value: decimal.Zero, Currency: currency}
}

// RoundToCurrency rounds v to the currency precision using round half away
// from zero, which for non-negative monetary values is round half up. Every
// monetary value in the system is finalised with this single mode.
func RoundToCurrency(v decimal.Decimal) decimal.Decimal {
	return v.Round(CurrencyDecimals)
}

// Round returns the amount rounded to the currency precision.
func (a Amount) Round() Amount {
	return Amount{Value: RoundToCurrency(a.Value), Currency: a.Currency}
}

// Add returns a+b, failing when the currencies differ.
func (a Amount) Add(b Amount) (Amount, error) {
	if a.Currency != b.Currency {
		return Amount{}, &CurrencyMismatchError{Left: a.Currency, Right: b.Currency}
	}
	return Amount{Value: a.Value.Add(b.Value), Currency: a.Currency}, nil
}

// Sub returns a-b, failing when the currencies differ.
func (a Amount) Sub(b Amount) (Amount, error) {
	if a.Currency != b.Currency {
		return Amount{}, &CurrencyMismatchError{Left: a.Currency, Right: b.Currency}
	}
	return Amount{Value: a.Value.Sub(b.Value), Currency: a.Currency}, nil
}

// Scale multiplies the amount by an exact decimal factor without rounding.
func (a Amount) Scale(factor decimal.Decimal) Amount {
	return Amount{Value: a.Value.Mul(factor), Currency: a.Currency}
}

// Cmp compares two amounts of the same currency, returning -1, 0 or 1.
func (a Amount) Cmp(b Amount) (int, error) {
	if a.Currency != b.Currency {
		return 0, &CurrencyMismatchError{Left: a.Currency, Right: b.Currency}
	}
	return a.Value.Cmp(b.Value), nil
}

// Equal reports whether the amounts share currency and numeric value.
// 1.5 and 1.50 in the same currency are equal.
func (a Amount) Equal(b Amount) bool {
	return a.Currency == b.Currency && a.Value.Equal(b.Value)
}

// IsNegative reports whether the amount is below zero.
func (a Amount) IsNegative() bool { return a.Value.IsNegative() }

// IsZero reports whether the amount is exactly zero.
func (a Amount) IsZero() bool { return a.Value.IsZero() }

// String renders the amount at currency precision, e.g. "1150.00 NZD".
func (a Amount) String() string {
	return a.Value.StringFixed(CurrencyDecimals) + " " + a.Currency
}

// Sum adds the amounts exactly and returns the shared currency. A mixed
// currency list fails with CurrencyMismatchError naming both currencies.
func Sum(amounts []Amount) (Amount, error) {
	if len(amounts) == 0 {
		return Amount{}, ErrNoAmounts
	}
	total := amounts[0]
	for _, a := range amounts[1:] {
		next, err := total.Add(a)
		if err != nil {
			return Amount{}, err
		}
		total = next
	}
	return total, nil
}
