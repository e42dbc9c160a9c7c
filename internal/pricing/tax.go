package pricing

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-fern/internal/money"
)

// TaxEntry is one amount subject to tax at a nominal rate.
type TaxEntry struct {
	Amount    money.Amount
	TaxRate   decimal.Decimal
	TaxExempt bool
}

// TaxBand aggregates all entries sharing one effective tax rate.
type TaxBand struct {
	Rate          decimal.Decimal `json:"rate"`
	TaxableAmount money.Amount    `json:"taxableAmount"`
	TaxAmount     money.Amount    `json:"taxAmount"`
}

// CalculateTaxBreakdown groups entries by effective tax rate and computes the
// tax owed per band. Exempt entries bucket under rate 0 regardless of their
// nominal rate. Bands are returned sorted by rate ascending.
func CalculateTaxBreakdown(entries []TaxEntry) ([]TaxBand, error) {
	buckets := make(map[string]*TaxBand)
	order := make([]string, 0, len(entries))
	for _, entry := range entries {
		rate := entry.TaxRate
		if entry.TaxExempt {
			rate = decimal.Zero
		}
		key := rate.String()
		bucket, ok := buckets[key]
		if !ok {
			bucket = &TaxBand{Rate: rate, TaxableAmount: money.Zero(entry.Amount.Currency)}
			buckets[key] = bucket
			order = append(order, key)
		}
		sum, err := bucket.TaxableAmount.Add(entry.Amount)
		if err != nil {
			return nil, err
		}
		bucket.TaxableAmount = sum
	}

	bands := make([]TaxBand, 0, len(order))
	for _, key := range order {
		bucket := buckets[key]
		bucket.TaxAmount = money.New(
			money.RoundToCurrency(bucket.TaxableAmount.Value.Mul(bucket.Rate).Div(hundred)),
			bucket.TaxableAmount.Currency,
		)
		bands = append(bands, *bucket)
	}
	sort.Slice(bands, func(i, j int) bool { return bands[i].Rate.LessThan(bands[j].Rate) })
	return bands, nil
}
