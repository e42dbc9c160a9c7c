package quote

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-fern/internal/money"
	"github.com/noah-isme/backend-fern/internal/obs"
	"github.com/noah-isme/backend-fern/internal/pricing"
	"github.com/noah-isme/backend-fern/internal/ratecard"
)

// LineInput is a quote line as submitted by the caller. Prices arrive as
// decimal strings and are bound to the quote currency server-side.
type LineInput struct {
	LineNumber        int              `json:"lineNumber" validate:"required,gt=0"`
	Description       string           `json:"description" validate:"required"`
	Quantity          decimal.Decimal  `json:"quantity" validate:"required"`
	UnitPrice         *decimal.Decimal `json:"unitPrice,omitempty"`
	ItemCode          string           `json:"itemCode,omitempty"`
	ServiceCategoryID *uuid.UUID       `json:"serviceCategoryId,omitempty"`
	Unit              string           `json:"unit,omitempty"`
	TaxRate           *decimal.Decimal `json:"taxRate,omitempty"`
	TaxExempt         bool             `json:"taxExempt,omitempty"`
	DiscountType      string           `json:"discountType,omitempty" validate:"omitempty,oneof=percentage fixed_amount"`
	DiscountValue     decimal.Decimal  `json:"discountValue,omitempty"`
}

// DiscountInput is a quote-level discount.
type DiscountInput struct {
	Type        string          `json:"type" validate:"required,oneof=percentage fixed_amount"`
	Value       decimal.Decimal `json:"value"`
	Description string          `json:"description,omitempty"`
}

// PreviewInput carries priced lines for a totals preview.
type PreviewInput struct {
	Currency  string          `json:"currency" validate:"omitempty,len=3,uppercase"`
	Lines     []LineInput     `json:"lines" validate:"required,min=1,dive"`
	Discounts []DiscountInput `json:"discounts,omitempty" validate:"omitempty,dive"`
}

// PreviewOutput is the fully calculated quote.
type PreviewOutput struct {
	Lines        []pricing.LineCalculation `json:"lines"`
	Totals       pricing.QuoteTotals       `json:"totals"`
	TaxBreakdown []pricing.TaxBand         `json:"taxBreakdown"`
}

// ResolveInput carries unpriced lines for rate resolution.
type ResolveInput struct {
	OrganizationID   uuid.UUID   `json:"organizationId" validate:"required"`
	CanOverridePrice bool        `json:"canOverridePrice"`
	Lines            []LineInput `json:"lines" validate:"required,min=1,dive"`
}

// PriceInput resolves and prices a quote in one pass.
type PriceInput struct {
	OrganizationID   uuid.UUID       `json:"organizationId" validate:"required"`
	CanOverridePrice bool            `json:"canOverridePrice"`
	Currency         string          `json:"currency" validate:"omitempty,len=3,uppercase"`
	Lines            []LineInput     `json:"lines" validate:"required,min=1,dive"`
	Discounts        []DiscountInput `json:"discounts,omitempty" validate:"omitempty,dive"`
}

// PriceOutput pairs the resolution outcome with the priced quote. Preview is
// nil when any line failed to resolve.
type PriceOutput struct {
	Resolution ratecard.BatchResult `json:"resolution"`
	Preview    *PreviewOutput       `json:"preview,omitempty"`
}

// Service orchestrates rate resolution and totals calculation.
type Service struct {
	resolver *ratecard.Resolver
	currency string
	log      zerolog.Logger
}

// ServiceConfig configures the quote Service.
type ServiceConfig struct {
	Resolver *ratecard.Resolver
	// Currency is the default quote currency, e.g. "NZD".
	Currency string
	Logger   zerolog.Logger
}

// NewService constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Resolver == nil {
		return nil, errors.New("quote: resolver is required")
	}
	currency := cfg.Currency
	if currency == "" {
		currency = "NZD"
	}
	return &Service{resolver: cfg.Resolver, currency: currency, log: cfg.Logger}, nil
}

// Preview calculates totals for already-priced lines. Every line must carry
// a unit price; use PriceQuote for lines that still need rate resolution.
func (s *Service) Preview(ctx context.Context, in PreviewInput) (*PreviewOutput, error) {
	start := time.Now()
	out, err := s.preview(in.Currency, in.Lines, in.Discounts)
	recordCalculation("preview", start, err)
	if err != nil {
		s.log.Debug().Err(err).Int("lines", len(in.Lines)).Msg("quote preview rejected")
		return nil, err
	}
	return out, nil
}

// ResolvePricing resolves unit pricing for the lines against the
// organization's active rate card.
func (s *Service) ResolvePricing(ctx context.Context, in ResolveInput) (ratecard.BatchResult, error) {
	return s.resolve(ctx, in.OrganizationID, in.Lines, in.CanOverridePrice, s.currency)
}

func (s *Service) resolve(ctx context.Context, orgID uuid.UUID, lineInputs []LineInput, canOverridePrice bool, currency string) (ratecard.BatchResult, error) {
	lines := make([]pricing.LineItem, 0, len(lineInputs))
	for _, l := range lineInputs {
		lines = append(lines, s.toLineItem(currency, l))
	}
	return s.resolver.ResolveBatch(ctx, orgID, lines, canOverridePrice)
}

// PriceQuote resolves pricing and, when every line resolved, calculates the
// full quote. Resolution failures are reported per line in the result rather
// than as an error.
func (s *Service) PriceQuote(ctx context.Context, in PriceInput) (*PriceOutput, error) {
	start := time.Now()
	currency := in.Currency
	if currency == "" {
		currency = s.currency
	}
	resolution, err := s.resolve(ctx, in.OrganizationID, in.Lines, in.CanOverridePrice, currency)
	if err != nil {
		recordCalculation("price", start, err)
		return nil, err
	}
	out := &PriceOutput{Resolution: resolution}
	if !resolution.Success {
		recordCalculation("price", start, nil)
		return out, nil
	}

	priced, err := applyResolutions(in.Lines, resolution.Resolutions, currency)
	if err != nil {
		recordCalculation("price", start, err)
		return nil, err
	}
	preview, err := s.preview(currency, priced, in.Discounts)
	recordCalculation("price", start, err)
	if err != nil {
		return nil, err
	}
	out.Preview = preview
	return out, nil
}

func (s *Service) preview(currency string, lines []LineInput, discounts []DiscountInput) (*PreviewOutput, error) {
	if currency == "" {
		currency = s.currency
	}
	calcs := make([]pricing.LineCalculation, 0, len(lines))
	for _, l := range lines {
		calc, err := pricing.CalculateLine(s.toLineItem(currency, l))
		if err != nil {
			return nil, err
		}
		calcs = append(calcs, calc)
	}

	switch len(discounts) {
	case 0:
		result, err := pricing.CalculateQuoteTotalsWithBreakdown(calcs, nil)
		if err != nil {
			return nil, err
		}
		return &PreviewOutput{Lines: calcs, Totals: result.QuoteTotals, TaxBreakdown: result.TaxBreakdown}, nil
	case 1:
		discount := toQuoteDiscount(discounts[0])
		result, err := pricing.CalculateQuoteTotalsWithBreakdown(calcs, &discount)
		if err != nil {
			return nil, err
		}
		return &PreviewOutput{Lines: calcs, Totals: result.QuoteTotals, TaxBreakdown: result.TaxBreakdown}, nil
	default:
		quoteDiscounts := make([]pricing.QuoteDiscount, 0, len(discounts))
		for _, d := range discounts {
			quoteDiscounts = append(quoteDiscounts, toQuoteDiscount(d))
		}
		totals, err := pricing.CalculateQuoteTotalsWithMultipleDiscounts(calcs, quoteDiscounts)
		if err != nil {
			return nil, err
		}
		// The breakdown reflects pre-discount tax and is discount-order
		// independent, so the single-discount path's bands are reused.
		withBands, err := pricing.CalculateQuoteTotalsWithBreakdown(calcs, nil)
		if err != nil {
			return nil, err
		}
		return &PreviewOutput{Lines: calcs, Totals: totals, TaxBreakdown: withBands.TaxBreakdown}, nil
	}
}

func (s *Service) toLineItem(currency string, in LineInput) pricing.LineItem {
	item := pricing.LineItem{
		LineNumber:        in.LineNumber,
		Description:       in.Description,
		Quantity:          in.Quantity,
		ItemCode:          in.ItemCode,
		ServiceCategoryID: in.ServiceCategoryID,
		Unit:              in.Unit,
		TaxRate:           in.TaxRate,
		TaxExempt:         in.TaxExempt,
		DiscountKind:      pricing.DiscountKind(in.DiscountType),
		DiscountValue:     in.DiscountValue,
	}
	if in.UnitPrice != nil {
		amount := money.New(*in.UnitPrice, currency)
		item.UnitPrice = &amount
	}
	return item
}

// applyResolutions copies resolved unit prices, tax rates, and units back
// onto the input lines, keyed by line number. A resolved price in a foreign
// currency is a hard error; it is never relabelled into the quote currency.
func applyResolutions(lines []LineInput, resolutions []ratecard.Resolution, currency string) ([]LineInput, error) {
	byLine := make(map[int]ratecard.Resolution, len(resolutions))
	for _, r := range resolutions {
		byLine[r.LineNumber] = r
	}
	out := make([]LineInput, 0, len(lines))
	for _, l := range lines {
		if r, ok := byLine[l.LineNumber]; ok {
			if r.UnitPrice.Currency != currency {
				return nil, &money.CurrencyMismatchError{Left: currency, Right: r.UnitPrice.Currency}
			}
			price := r.UnitPrice.Value
			rate := r.TaxRate
			l.UnitPrice = &price
			l.TaxRate = &rate
			l.TaxExempt = rate.IsZero()
			if l.Unit == "" {
				l.Unit = r.Unit
			}
			if l.ServiceCategoryID == nil {
				l.ServiceCategoryID = r.ServiceCategoryID
			}
		}
		out = append(out, l)
	}
	return out, nil
}

func toQuoteDiscount(in DiscountInput) pricing.QuoteDiscount {
	return pricing.QuoteDiscount{
		Kind:        pricing.DiscountKind(in.Type),
		Value:       in.Value,
		Description: in.Description,
	}
}

func recordCalculation(operation string, start time.Time, err error) {
	if obs.QuoteCalculationTotal == nil || obs.QuoteCalculationLatency == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	obs.QuoteCalculationTotal.WithLabelValues(operation, result).Inc()
	obs.QuoteCalculationLatency.WithLabelValues(operation).Observe(float64(time.Since(start).Milliseconds()))
}
