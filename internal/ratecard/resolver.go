package ratecard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-fern/internal/obs"
	"github.com/noah-isme/backend-fern/internal/pricing"
)

// Resolver resolves authoritative unit pricing for quote lines against the
// organization's active rate card. Dependencies are injected so tests and
// tenants never share global state.
type Resolver struct {
	repo         Repository
	cache        *Cache
	now          func() time.Time
	standardRate decimal.Decimal
}

// ResolverConfig groups Resolver dependencies.
type ResolverConfig struct {
	Repo  Repository
	Cache *Cache
	Now   func() time.Time
	// StandardTaxRate applies to standard-class rate-card matches. Nil
	// defaults to the NZ GST rate of 15; an explicit zero is honoured.
	StandardTaxRate *decimal.Decimal
}

// NewResolver constructs a Resolver.
func NewResolver(cfg ResolverConfig) (*Resolver, error) {
	if cfg.Repo == nil {
		return nil, errors.New("ratecard: repository is required")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	rate := decimal.NewFromInt(15)
	if cfg.StandardTaxRate != nil {
		rate = *cfg.StandardTaxRate
	}
	return &Resolver{repo: cfg.Repo, cache: cfg.Cache, now: now, standardRate: rate}, nil
}

// ResolveBatch resolves each line independently and reports per-line
// outcomes. Only infrastructure failures (catalog unreachable) surface as an
// error; missing rates are reported per line inside the result.
func (r *Resolver) ResolveBatch(ctx context.Context, orgID uuid.UUID, lines []pricing.LineItem, canOverridePrice bool) (BatchResult, error) {
	card, err := r.activeCard(ctx, orgID)
	if err != nil {
		return BatchResult{}, err
	}

	result := BatchResult{Success: true}
	for _, line := range lines {
		resolution, failure, err := r.resolveLine(ctx, card, line, canOverridePrice)
		if err != nil {
			return BatchResult{}, err
		}
		if failure != nil {
			result.Success = false
			result.Failures = append(result.Failures, *failure)
			recordResolution("", "miss")
			continue
		}
		result.Resolutions = append(result.Resolutions, *resolution)
		recordResolution(string(resolution.Source), "ok")
	}
	return result, nil
}

func (r *Resolver) resolveLine(ctx context.Context, card *RateCard, line pricing.LineItem, canOverridePrice bool) (*Resolution, *LineFailure, error) {
	// An explicit price is honoured only with override permission. Without
	// it the price is silently ignored and resolution falls through to the
	// rate card; rejecting instead would be a behaviour change.
	if line.UnitPrice != nil && canOverridePrice {
		return &Resolution{
			LineNumber:        line.LineNumber,
			UnitPrice:         *line.UnitPrice,
			TaxRate:           r.lineTaxRate(line),
			Unit:              line.Unit,
			Source:            SourceExplicit,
			ServiceCategoryID: line.ServiceCategoryID,
			ItemCode:          line.ItemCode,
		}, nil, nil
	}

	if card == nil {
		return nil, &LineFailure{
			LineNumber:  line.LineNumber,
			Description: line.Description,
			Reason:      NoActiveRateCardReason,
		}, nil
	}

	if code := strings.TrimSpace(line.ItemCode); code != "" {
		item, err := r.itemByCode(ctx, card.ID, code)
		if err != nil {
			return nil, nil, err
		}
		if item != nil {
			return r.fromItem(card, *item, line), nil, nil
		}
	}

	item, err := r.matchDescription(ctx, card.ID, line.Description)
	if err != nil {
		return nil, nil, err
	}
	if item != nil {
		return r.fromItem(card, *item, line), nil, nil
	}

	return nil, &LineFailure{
		LineNumber:  line.LineNumber,
		Description: line.Description,
		Reason:      fmt.Sprintf("No matching rate found for %q", line.Description),
	}, nil
}

// fromItem builds a rate-card-sourced resolution, defaulting unit and
// service category from the matched item when the line omits them.
func (r *Resolver) fromItem(card *RateCard, item Item, line pricing.LineItem) *Resolution {
	taxRate := r.standardRate
	if item.TaxClass == TaxClassExempt {
		taxRate = decimal.Zero
	}
	unit := line.Unit
	if unit == "" {
		unit = item.Unit
	}
	serviceCategory := line.ServiceCategoryID
	if serviceCategory == nil {
		serviceCategory = item.ServiceCategoryID
	}
	cardID := card.ID
	itemID := item.ID
	return &Resolution{
		LineNumber:        line.LineNumber,
		UnitPrice:         item.BaseRate,
		TaxRate:           taxRate,
		Unit:              unit,
		Source:            SourceRateCard,
		RateCardID:        &cardID,
		RateCardItemID:    &itemID,
		ServiceCategoryID: serviceCategory,
		ItemCode:          item.ItemCode,
	}
}

func (r *Resolver) lineTaxRate(line pricing.LineItem) decimal.Decimal {
	if line.TaxExempt {
		return decimal.Zero
	}
	if line.TaxRate != nil {
		return *line.TaxRate
	}
	return r.standardRate
}

// activeCard reads the organization's active rate card through the cache.
// A missing card is not an error and is never cached.
func (r *Resolver) activeCard(ctx context.Context, orgID uuid.UUID) (*RateCard, error) {
	key := ActiveCardKey(orgID)
	var cached RateCard
	if ok, err := r.cache.GetJSON(ctx, key, &cached); err == nil && ok {
		return &cached, nil
	}
	card, err := r.repo.ActiveRateCard(ctx, orgID, r.now())
	if err != nil {
		return nil, err
	}
	if card != nil {
		_ = r.cache.SetJSON(ctx, key, card)
	}
	return card, nil
}

func (r *Resolver) itemByCode(ctx context.Context, rateCardID uuid.UUID, code string) (*Item, error) {
	key := ItemKey(rateCardID, code)
	var cached Item
	if ok, err := r.cache.GetJSON(ctx, key, &cached); err == nil && ok {
		return &cached, nil
	}
	item, err := r.repo.ItemByCode(ctx, rateCardID, code)
	if err != nil {
		return nil, err
	}
	if item != nil {
		_ = r.cache.SetJSON(ctx, key, item)
	}
	return item, nil
}

// matchDescription is the best-effort fallback for lines with no item-code
// match: an exact case-insensitive description match wins, otherwise the
// first item whose description contains the line's description.
func (r *Resolver) matchDescription(ctx context.Context, rateCardID uuid.UUID, description string) (*Item, error) {
	needle := strings.ToLower(strings.TrimSpace(description))
	if needle == "" {
		return nil, nil
	}
	items, err := r.items(ctx, rateCardID)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		if strings.EqualFold(strings.TrimSpace(item.Description), strings.TrimSpace(description)) {
			match := item
			return &match, nil
		}
	}
	for _, item := range items {
		if strings.Contains(strings.ToLower(item.Description), needle) {
			match := item
			return &match, nil
		}
	}
	return nil, nil
}

func (r *Resolver) items(ctx context.Context, rateCardID uuid.UUID) ([]Item, error) {
	key := ItemsKey(rateCardID)
	var cached []Item
	if ok, err := r.cache.GetJSON(ctx, key, &cached); err == nil && ok {
		return cached, nil
	}
	items, err := r.repo.Items(ctx, rateCardID)
	if err != nil {
		return nil, err
	}
	_ = r.cache.SetJSON(ctx, key, items)
	return items, nil
}

func recordResolution(source, result string) {
	if obs.PricingResolutionTotal == nil {
		return
	}
	if source == "" {
		source = "none"
	}
	obs.PricingResolutionTotal.WithLabelValues(source, result).Inc()
}
