package ratecard

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-fern/internal/resilience"
)

// BreakerRepository wraps a Repository with a circuit breaker and bounded
// retry so a struggling catalog database sheds load instead of queueing
// resolution batches behind it. When the breaker is open, reads fail fast
// with resilience.ErrOpenCircuit.
type BreakerRepository struct {
	Repo        Repository
	Breaker     *resilience.Breaker
	MaxAttempts int
	BaseBackoff time.Duration
}

func (b BreakerRepository) ActiveRateCard(ctx context.Context, orgID uuid.UUID, at time.Time) (*RateCard, error) {
	var card *RateCard
	err := b.do(ctx, func(ctx context.Context) error {
		var err error
		card, err = b.Repo.ActiveRateCard(ctx, orgID, at)
		return err
	})
	return card, err
}

func (b BreakerRepository) ItemByCode(ctx context.Context, rateCardID uuid.UUID, code string) (*Item, error) {
	var item *Item
	err := b.do(ctx, func(ctx context.Context) error {
		var err error
		item, err = b.Repo.ItemByCode(ctx, rateCardID, code)
		return err
	})
	return item, err
}

func (b BreakerRepository) Items(ctx context.Context, rateCardID uuid.UUID) ([]Item, error) {
	var items []Item
	err := b.do(ctx, func(ctx context.Context) error {
		var err error
		items, err = b.Repo.Items(ctx, rateCardID)
		return err
	})
	return items, err
}

func (b BreakerRepository) do(ctx context.Context, op func(context.Context) error) error {
	attempts := b.MaxAttempts
	if attempts <= 0 {
		attempts = 2
	}
	base := b.BaseBackoff
	if base <= 0 {
		base = 50 * time.Millisecond
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if b.Breaker != nil && !b.Breaker.Allow(ctx) {
			return resilience.ErrOpenCircuit
		}
		err := op(ctx)
		if b.Breaker != nil {
			b.Breaker.Report(ctx, err == nil)
		}
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt < attempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(resilience.Backoff(base, attempt, 0.2)):
			}
		}
	}
	return lastErr
}
