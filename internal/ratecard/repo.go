package ratecard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-fern/internal/money"
)

// Repository is the read contract against the rate-card catalog. Returning a
// nil pointer (without error) means no matching row exists.
type Repository interface {
	ActiveRateCard(ctx context.Context, orgID uuid.UUID, at time.Time) (*RateCard, error)
	ItemByCode(ctx context.Context, rateCardID uuid.UUID, code string) (*Item, error)
	Items(ctx context.Context, rateCardID uuid.UUID) ([]Item, error)
}

// PGRepository implements Repository over Postgres.
type PGRepository struct {
	Pool *pgxpool.Pool
}

const activeRateCardSQL = `
SELECT id::text, organization_id::text, name, is_default, is_active, effective_from, effective_until
FROM rate_cards
WHERE organization_id = $1
  AND is_active
  AND effective_from <= $2
  AND (effective_until IS NULL OR effective_until >= $2)
ORDER BY is_default DESC, effective_from DESC
LIMIT 1`

// ActiveRateCard returns the organization's currently effective rate card,
// preferring the default card when several qualify.
func (r *PGRepository) ActiveRateCard(ctx context.Context, orgID uuid.UUID, at time.Time) (*RateCard, error) {
	row := r.Pool.QueryRow(ctx, activeRateCardSQL, toPgUUID(orgID), at)
	var (
		card        RateCard
		id, org     string
		until       pgtype.Date
	)
	err := row.Scan(&id, &org, &card.Name, &card.IsDefault, &card.IsActive, &card.EffectiveFrom, &until)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("active rate card: %w", err)
	}
	if card.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("active rate card: parse id: %w", err)
	}
	if card.OrganizationID, err = uuid.Parse(org); err != nil {
		return nil, fmt.Errorf("active rate card: parse organization id: %w", err)
	}
	if until.Valid {
		t := until.Time
		card.EffectiveUntil = &t
	}
	return &card, nil
}

const itemColumnsSQL = `
SELECT id::text, rate_card_id::text, service_category_id::text, item_code, description, unit,
       base_rate::text, currency, tax_class, effective_from, effective_until, is_active
FROM rate_card_items`

// ItemByCode looks up a single active item by exact code match.
func (r *PGRepository) ItemByCode(ctx context.Context, rateCardID uuid.UUID, code string) (*Item, error) {
	row := r.Pool.QueryRow(ctx, itemColumnsSQL+`
WHERE rate_card_id = $1 AND item_code = $2 AND is_active
LIMIT 1`, toPgUUID(rateCardID), code)
	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("item by code %q: %w", code, err)
	}
	return item, nil
}

// Items returns every active item of the rate card ordered by item code.
func (r *PGRepository) Items(ctx context.Context, rateCardID uuid.UUID) ([]Item, error) {
	rows, err := r.Pool.Query(ctx, itemColumnsSQL+`
WHERE rate_card_id = $1 AND is_active
ORDER BY item_code`, toPgUUID(rateCardID))
	if err != nil {
		return nil, fmt.Errorf("list rate card items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("list rate card items: %w", err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list rate card items: %w", err)
	}
	return items, nil
}

func scanItem(row pgx.Row) (*Item, error) {
	var (
		item               Item
		id, cardID         string
		serviceCategory    pgtype.Text
		baseRate, currency string
		taxClass           string
		until              pgtype.Date
	)
	err := row.Scan(&id, &cardID, &serviceCategory, &item.ItemCode, &item.Description, &item.Unit,
		&baseRate, &currency, &taxClass, &item.EffectiveFrom, &until, &item.IsActive)
	if err != nil {
		return nil, err
	}
	if item.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse item id: %w", err)
	}
	if item.RateCardID, err = uuid.Parse(cardID); err != nil {
		return nil, fmt.Errorf("parse rate card id: %w", err)
	}
	if serviceCategory.Valid {
		parsed, err := uuid.Parse(serviceCategory.String)
		if err != nil {
			return nil, fmt.Errorf("parse service category id: %w", err)
		}
		item.ServiceCategoryID = &parsed
	}
	rate, err := decimal.NewFromString(baseRate)
	if err != nil {
		return nil, fmt.Errorf("parse base rate %q: %w", baseRate, err)
	}
	item.BaseRate = money.New(rate, currency)
	item.TaxClass = TaxClass(taxClass)
	if until.Valid {
		t := until.Time
		item.EffectiveUntil = &t
	}
	return &item, nil
}

func toPgUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}
