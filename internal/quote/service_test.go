package quote_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-fern/internal/money"
	"github.com/noah-isme/backend-fern/internal/quote"
	"github.com/noah-isme/backend-fern/internal/ratecard"
)

var testOrgID = uuid.MustParse("aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa")

type stubRepo struct {
	card  *ratecard.RateCard
	items []ratecard.Item
}

func (s *stubRepo) ActiveRateCard(_ context.Context, org uuid.UUID, _ time.Time) (*ratecard.RateCard, error) {
	if s.card == nil || s.card.OrganizationID != org {
		return nil, nil
	}
	return s.card, nil
}

func (s *stubRepo) ItemByCode(_ context.Context, cardID uuid.UUID, code string) (*ratecard.Item, error) {
	for _, item := range s.items {
		if item.RateCardID == cardID && item.ItemCode == code {
			match := item
			return &match, nil
		}
	}
	return nil, nil
}

func (s *stubRepo) Items(_ context.Context, cardID uuid.UUID) ([]ratecard.Item, error) {
	out := make([]ratecard.Item, 0, len(s.items))
	for _, item := range s.items {
		if item.RateCardID == cardID {
			out = append(out, item)
		}
	}
	return out, nil
}

func newService(t *testing.T, repo ratecard.Repository) *quote.Service {
	t.Helper()
	resolver, err := ratecard.NewResolver(ratecard.ResolverConfig{Repo: repo})
	require.NoError(t, err)
	svc, err := quote.NewService(quote.ServiceConfig{Resolver: resolver, Currency: "NZD"})
	require.NoError(t, err)
	return svc
}

func stockedRepo(t *testing.T) *stubRepo {
	t.Helper()
	cardID := uuid.MustParse("bbbbbbbb-bbbb-bbbb-bbbb-bbbbbbbbbbbb")
	rate, err := money.FromString("150.00", "NZD")
	require.NoError(t, err)
	return &stubRepo{
		card: &ratecard.RateCard{ID: cardID, OrganizationID: testOrgID, Name: "Standard", IsActive: true},
		items: []ratecard.Item{{
			ID:          uuid.MustParse("cccccccc-cccc-cccc-cccc-cccccccccccc"),
			RateCardID:  cardID,
			ItemCode:    "DEV-HOURLY",
			Description: "Development (hourly)",
			Unit:        "hour",
			BaseRate:    rate,
			TaxClass:    ratecard.TaxClassStandard,
			IsActive:    true,
		}},
	}
}

func TestPreviewTotals(t *testing.T) {
	svc := newService(t, &stubRepo{})

	price := decimal.RequireFromString("100.00")
	out, err := svc.Preview(context.Background(), quote.PreviewInput{
		Lines: []quote.LineInput{{
			LineNumber:  1,
			Description: "Consulting",
			Quantity:    decimal.NewFromInt(10),
			UnitPrice:   &price,
		}},
	})
	require.NoError(t, err)
	require.Equal(t, "1000.00 NZD", out.Totals.Subtotal.String())
	require.Equal(t, "150.00 NZD", out.Totals.TaxAmount.String())
	require.Equal(t, "1150.00 NZD", out.Totals.GrandTotal.String())
	require.Len(t, out.TaxBreakdown, 1)
	require.Equal(t, "15", out.TaxBreakdown[0].Rate.String())
}

func TestPreviewQuoteDiscount(t *testing.T) {
	svc := newService(t, &stubRepo{})

	price := decimal.RequireFromString("100.00")
	out, err := svc.Preview(context.Background(), quote.PreviewInput{
		Lines: []quote.LineInput{{
			LineNumber:  1,
			Description: "Consulting",
			Quantity:    decimal.NewFromInt(10),
			UnitPrice:   &price,
		}},
		Discounts: []quote.DiscountInput{{Type: "percentage", Value: decimal.NewFromInt(10)}},
	})
	require.NoError(t, err)
	require.Equal(t, "115.00 NZD", out.Totals.DiscountAmount.String())
	require.Equal(t, "1035.00 NZD", out.Totals.GrandTotal.String())
}

func TestPreviewRejectsMissingPrice(t *testing.T) {
	svc := newService(t, &stubRepo{})

	_, err := svc.Preview(context.Background(), quote.PreviewInput{
		Lines: []quote.LineInput{{LineNumber: 1, Description: "Consulting", Quantity: decimal.NewFromInt(1)}},
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "unit price")
}

func TestPriceQuoteEndToEnd(t *testing.T) {
	svc := newService(t, stockedRepo(t))

	out, err := svc.PriceQuote(context.Background(), quote.PriceInput{
		OrganizationID: testOrgID,
		Lines: []quote.LineInput{{
			LineNumber:  1,
			Description: "Development (hourly)",
			ItemCode:    "DEV-HOURLY",
			Quantity:    decimal.NewFromInt(8),
		}},
	})
	require.NoError(t, err)
	require.True(t, out.Resolution.Success)
	require.NotNil(t, out.Preview)
	// 8 x 150.00 plus 15% tax.
	require.Equal(t, "1200.00 NZD", out.Preview.Totals.Subtotal.String())
	require.Equal(t, "180.00 NZD", out.Preview.Totals.TaxAmount.String())
	require.Equal(t, "1380.00 NZD", out.Preview.Totals.GrandTotal.String())
	require.Equal(t, "hour", out.Preview.Lines[0].Line.Unit)
}

func TestPriceQuoteRejectsForeignCurrencyRate(t *testing.T) {
	repo := stockedRepo(t)
	usd, err := money.FromString("150.00", "USD")
	require.NoError(t, err)
	repo.items[0].BaseRate = usd

	svc := newService(t, repo)
	_, err = svc.PriceQuote(context.Background(), quote.PriceInput{
		OrganizationID: testOrgID,
		Lines: []quote.LineInput{{
			LineNumber:  1,
			Description: "Development (hourly)",
			ItemCode:    "DEV-HOURLY",
			Quantity:    decimal.NewFromInt(8),
		}},
	})
	// A USD rate must never be relabelled into an NZD quote.
	require.Error(t, err)
	var mismatch *money.CurrencyMismatchError
	require.ErrorAs(t, err, &mismatch)
	require.Equal(t, "NZD", mismatch.Left)
	require.Equal(t, "USD", mismatch.Right)
}

func TestPriceQuoteReportsFailuresWithoutPreview(t *testing.T) {
	svc := newService(t, stockedRepo(t))

	out, err := svc.PriceQuote(context.Background(), quote.PriceInput{
		OrganizationID: testOrgID,
		Lines: []quote.LineInput{
			{LineNumber: 1, Description: "Development (hourly)", ItemCode: "DEV-HOURLY", Quantity: decimal.NewFromInt(1)},
			{LineNumber: 2, Description: "Skydiving lessons", Quantity: decimal.NewFromInt(1)},
		},
	})
	require.NoError(t, err)
	require.False(t, out.Resolution.Success)
	require.Nil(t, out.Preview)
	require.Len(t, out.Resolution.Resolutions, 1)
	require.Len(t, out.Resolution.Failures, 1)
}

func TestPriceQuoteNoActiveCard(t *testing.T) {
	svc := newService(t, &stubRepo{})

	out, err := svc.PriceQuote(context.Background(), quote.PriceInput{
		OrganizationID: testOrgID,
		Lines:          []quote.LineInput{{LineNumber: 1, Description: "Anything", Quantity: decimal.NewFromInt(1)}},
	})
	require.NoError(t, err)
	require.False(t, out.Resolution.Success)
	require.Equal(t, "No active rate card found for organization", out.Resolution.Failures[0].Reason)
}
