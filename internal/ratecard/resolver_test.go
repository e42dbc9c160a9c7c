package ratecard_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-fern/internal/money"
	"github.com/noah-isme/backend-fern/internal/obs"
	"github.com/noah-isme/backend-fern/internal/pricing"
	"github.com/noah-isme/backend-fern/internal/ratecard"
)

var (
	orgID  = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	cardID = uuid.MustParse("22222222-2222-2222-2222-222222222222")
)

type fakeRepo struct {
	card  *ratecard.RateCard
	items []ratecard.Item

	activeCalls int
	byCodeCalls int
	listCalls   int
}

func (f *fakeRepo) ActiveRateCard(_ context.Context, org uuid.UUID, _ time.Time) (*ratecard.RateCard, error) {
	f.activeCalls++
	if f.card == nil || f.card.OrganizationID != org {
		return nil, nil
	}
	return f.card, nil
}

func (f *fakeRepo) ItemByCode(_ context.Context, rateCardID uuid.UUID, code string) (*ratecard.Item, error) {
	f.byCodeCalls++
	for _, item := range f.items {
		if item.RateCardID == rateCardID && item.ItemCode == code {
			match := item
			return &match, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) Items(_ context.Context, rateCardID uuid.UUID) ([]ratecard.Item, error) {
	f.listCalls++
	out := make([]ratecard.Item, 0, len(f.items))
	for _, item := range f.items {
		if item.RateCardID == rateCardID {
			out = append(out, item)
		}
	}
	return out, nil
}

func newFakeRepo(t *testing.T) *fakeRepo {
	t.Helper()
	devRate, err := money.FromString("150.00", "NZD")
	require.NoError(t, err)
	reviewRate, err := money.FromString("95.00", "NZD")
	require.NoError(t, err)
	exemptRate, err := money.FromString("40.00", "NZD")
	require.NoError(t, err)
	categoryID := uuid.MustParse("33333333-3333-3333-3333-333333333333")

	return &fakeRepo{
		card: &ratecard.RateCard{
			ID:             cardID,
			OrganizationID: orgID,
			Name:           "Standard 2026",
			IsDefault:      true,
			IsActive:       true,
			EffectiveFrom:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		items: []ratecard.Item{
			{
				ID:                uuid.MustParse("44444444-4444-4444-4444-444444444444"),
				RateCardID:        cardID,
				ServiceCategoryID: &categoryID,
				ItemCode:          "DEV-HOURLY",
				Description:       "Development (hourly)",
				Unit:              "hour",
				BaseRate:          devRate,
				TaxClass:          ratecard.TaxClassStandard,
				IsActive:          true,
			},
			{
				ID:          uuid.MustParse("55555555-5555-5555-5555-555555555555"),
				RateCardID:  cardID,
				ItemCode:    "REVIEW",
				Description: "Design review session",
				Unit:        "session",
				BaseRate:    reviewRate,
				TaxClass:    ratecard.TaxClassStandard,
				IsActive:    true,
			},
			{
				ID:          uuid.MustParse("66666666-6666-6666-6666-666666666666"),
				RateCardID:  cardID,
				ItemCode:    "TRAVEL",
				Description: "Travel reimbursement",
				Unit:        "km",
				BaseRate:    exemptRate,
				TaxClass:    ratecard.TaxClassExempt,
				IsActive:    true,
			},
		},
	}
}

func newResolver(t *testing.T, repo ratecard.Repository, cache *ratecard.Cache) *ratecard.Resolver {
	t.Helper()
	resolver, err := ratecard.NewResolver(ratecard.ResolverConfig{
		Repo:  repo,
		Cache: cache,
		Now:   func() time.Time { return time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	return resolver
}

func codeLine(number int, code string) pricing.LineItem {
	return pricing.LineItem{LineNumber: number, Description: strings.ToLower(code), ItemCode: code, Quantity: decimal.NewFromInt(1)}
}

func TestResolveByItemCode(t *testing.T) {
	resolver := newResolver(t, newFakeRepo(t), nil)

	result, err := resolver.ResolveBatch(context.Background(), orgID, []pricing.LineItem{codeLine(1, "DEV-HOURLY")}, false)
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Len(t, result.Resolutions, 1)

	res := result.Resolutions[0]
	require.Equal(t, ratecard.SourceRateCard, res.Source)
	require.Equal(t, "150.00 NZD", res.UnitPrice.String())
	require.Equal(t, "15", res.TaxRate.String())
	require.Equal(t, "hour", res.Unit)
	require.Equal(t, "DEV-HOURLY", res.ItemCode)
	require.NotNil(t, res.RateCardID)
	require.Equal(t, cardID, *res.RateCardID)
	require.NotNil(t, res.RateCardItemID)
	require.NotNil(t, res.ServiceCategoryID)
}

func TestExplicitPriceIgnoredWithoutOverridePermission(t *testing.T) {
	resolver := newResolver(t, newFakeRepo(t), nil)

	explicit, err := money.FromString("200.00", "NZD")
	require.NoError(t, err)
	line := codeLine(1, "DEV-HOURLY")
	line.UnitPrice = &explicit

	result, err := resolver.ResolveBatch(context.Background(), orgID, []pricing.LineItem{line}, false)
	require.NoError(t, err)
	require.True(t, result.Success)
	// The explicit price is silently ignored, not rejected.
	require.Equal(t, ratecard.SourceRateCard, result.Resolutions[0].Source)
	require.Equal(t, "150.00 NZD", result.Resolutions[0].UnitPrice.String())
}

func TestExplicitPriceAcceptedWithOverridePermission(t *testing.T) {
	resolver := newResolver(t, newFakeRepo(t), nil)

	explicit, err := money.FromString("200.00", "NZD")
	require.NoError(t, err)
	line := codeLine(1, "DEV-HOURLY")
	line.UnitPrice = &explicit
	line.Unit = "day"

	result, err := resolver.ResolveBatch(context.Background(), orgID, []pricing.LineItem{line}, true)
	require.NoError(t, err)
	require.True(t, result.Success)

	res := result.Resolutions[0]
	require.Equal(t, ratecard.SourceExplicit, res.Source)
	require.Equal(t, "200.00 NZD", res.UnitPrice.String())
	require.Equal(t, "day", res.Unit)
	require.Nil(t, res.RateCardID)
	// The configured standard rate applies when the line has no rate of its own.
	require.Equal(t, "15", res.TaxRate.String())
}

func TestExplicitOverrideSucceedsWithoutActiveCard(t *testing.T) {
	resolver := newResolver(t, &fakeRepo{}, nil)

	explicit, err := money.FromString("200.00", "NZD")
	require.NoError(t, err)
	priced := pricing.LineItem{LineNumber: 1, Description: "Custom work", Quantity: decimal.NewFromInt(1), UnitPrice: &explicit}
	unpriced := pricing.LineItem{LineNumber: 2, Description: "Anything else", Quantity: decimal.NewFromInt(1)}

	// The rate card is never consulted on the explicit path, so a priced
	// line with override permission resolves even when no card is active.
	result, err := resolver.ResolveBatch(context.Background(), orgID, []pricing.LineItem{priced, unpriced}, true)
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Len(t, result.Resolutions, 1)
	require.Equal(t, ratecard.SourceExplicit, result.Resolutions[0].Source)
	require.Len(t, result.Failures, 1)
	require.Equal(t, "No active rate card found for organization", result.Failures[0].Reason)
}

func TestZeroStandardTaxRateHonoured(t *testing.T) {
	zero := decimal.Zero
	resolver, err := ratecard.NewResolver(ratecard.ResolverConfig{
		Repo:            newFakeRepo(t),
		Now:             func() time.Time { return time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC) },
		StandardTaxRate: &zero,
	})
	require.NoError(t, err)

	result, err := resolver.ResolveBatch(context.Background(), orgID, []pricing.LineItem{codeLine(1, "DEV-HOURLY")}, false)
	require.NoError(t, err)
	require.True(t, result.Success)
	// An explicitly configured zero rate is not a request for the default.
	require.True(t, result.Resolutions[0].TaxRate.IsZero())
}

func TestExemptItemResolvesZeroTaxRate(t *testing.T) {
	resolver := newResolver(t, newFakeRepo(t), nil)

	result, err := resolver.ResolveBatch(context.Background(), orgID, []pricing.LineItem{codeLine(1, "TRAVEL")}, false)
	require.NoError(t, err)
	require.True(t, result.Success)
	require.True(t, result.Resolutions[0].TaxRate.IsZero())
}

func TestDescriptionFallback(t *testing.T) {
	resolver := newResolver(t, newFakeRepo(t), nil)

	line := pricing.LineItem{LineNumber: 1, Description: "design review", Quantity: decimal.NewFromInt(1)}
	result, err := resolver.ResolveBatch(context.Background(), orgID, []pricing.LineItem{line}, false)
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, "REVIEW", result.Resolutions[0].ItemCode)
	require.Equal(t, "session", result.Resolutions[0].Unit)
}

func TestPartialFailureKeepsSuccesses(t *testing.T) {
	resolver := newResolver(t, newFakeRepo(t), nil)

	lines := []pricing.LineItem{
		codeLine(1, "DEV-HOURLY"),
		{LineNumber: 2, Description: "something nobody sells", Quantity: decimal.NewFromInt(1)},
	}
	result, err := resolver.ResolveBatch(context.Background(), orgID, lines, false)
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Len(t, result.Resolutions, 1)
	require.Len(t, result.Failures, 1)
	require.Equal(t, 2, result.Failures[0].LineNumber)
	require.Equal(t, "something nobody sells", result.Failures[0].Description)
	require.Contains(t, result.Failures[0].Reason, "No matching rate found")
}

func TestNoActiveRateCardFailsEveryLine(t *testing.T) {
	resolver := newResolver(t, &fakeRepo{}, nil)

	lines := []pricing.LineItem{codeLine(1, "DEV-HOURLY"), codeLine(2, "REVIEW")}
	result, err := resolver.ResolveBatch(context.Background(), orgID, lines, false)
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Empty(t, result.Resolutions)
	require.Len(t, result.Failures, 2)
	for _, failure := range result.Failures {
		require.Equal(t, "No active rate card found for organization", failure.Reason)
	}
}

func TestResolveBatchUsesCache(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo := newFakeRepo(t)
	cache := ratecard.NewCache(client, time.Minute)
	resolver := newResolver(t, repo, cache)

	lines := []pricing.LineItem{codeLine(1, "DEV-HOURLY")}
	first, err := resolver.ResolveBatch(context.Background(), orgID, lines, false)
	require.NoError(t, err)
	second, err := resolver.ResolveBatch(context.Background(), orgID, lines, false)
	require.NoError(t, err)
	require.True(t, second.Success)
	require.Equal(t, first.Resolutions[0].Source, second.Resolutions[0].Source)
	require.Equal(t, first.Resolutions[0].UnitPrice.String(), second.Resolutions[0].UnitPrice.String())
	require.True(t, first.Resolutions[0].TaxRate.Equal(second.Resolutions[0].TaxRate))

	// The second batch is served from the cache.
	require.Equal(t, 1, repo.activeCalls)
	require.Equal(t, 1, repo.byCodeCalls)

	// Busting forces the next batch back to the repository.
	require.NoError(t, cache.Bust(context.Background(), orgID, cardID))
	_, err = resolver.ResolveBatch(context.Background(), orgID, lines, false)
	require.NoError(t, err)
	require.Equal(t, 2, repo.activeCalls)
	require.Equal(t, 2, repo.byCodeCalls)
}

func TestCacheLookupsRecorded(t *testing.T) {
	obs.MustRegisterDomainMetrics("fern", prometheus.NewRegistry())
	obs.RateCardCacheTotal.Reset()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	resolver := newResolver(t, newFakeRepo(t), ratecard.NewCache(client, time.Minute))
	lines := []pricing.LineItem{codeLine(1, "DEV-HOURLY")}

	// Cold cache: active-card and item-code lookups both miss.
	_, err = resolver.ResolveBatch(context.Background(), orgID, lines, false)
	require.NoError(t, err)
	require.Equal(t, 2.0, testutil.ToFloat64(obs.RateCardCacheTotal.WithLabelValues("miss")))
	require.Equal(t, 0.0, testutil.ToFloat64(obs.RateCardCacheTotal.WithLabelValues("hit")))

	_, err = resolver.ResolveBatch(context.Background(), orgID, lines, false)
	require.NoError(t, err)
	require.Equal(t, 2.0, testutil.ToFloat64(obs.RateCardCacheTotal.WithLabelValues("hit")))
}

func TestCacheDisabledSameSemantics(t *testing.T) {
	repo := newFakeRepo(t)
	lines := []pricing.LineItem{codeLine(1, "REVIEW")}

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cached := newResolver(t, repo, ratecard.NewCache(client, time.Minute))
	// Warm the cache so the compared result is the cache-served one.
	_, err = cached.ResolveBatch(context.Background(), orgID, lines, false)
	require.NoError(t, err)
	withCache, err := cached.ResolveBatch(context.Background(), orgID, lines, false)
	require.NoError(t, err)

	withoutCache, err := newResolver(t, repo, nil).ResolveBatch(context.Background(), orgID, lines, false)
	require.NoError(t, err)

	require.Equal(t, withoutCache.Success, withCache.Success)
	require.Len(t, withCache.Resolutions, len(withoutCache.Resolutions))
	for i, want := range withoutCache.Resolutions {
		got := withCache.Resolutions[i]
		require.Equal(t, want.Source, got.Source)
		require.Equal(t, want.UnitPrice.String(), got.UnitPrice.String())
		require.True(t, want.TaxRate.Equal(got.TaxRate))
		require.Equal(t, want.Unit, got.Unit)
		require.Equal(t, want.ItemCode, got.ItemCode)
	}
}
