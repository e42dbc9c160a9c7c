package ratecard

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-fern/internal/money"
)

// TaxClass tags a rate-card item as taxable or exempt.
type TaxClass string

const (
	// TaxClassStandard items are taxed at the configured standard rate.
	TaxClassStandard TaxClass = "standard"
	// TaxClassExempt items resolve with a zero tax rate.
	TaxClassExempt TaxClass = "exempt"
)

// Source records where a resolved unit price came from.
type Source string

const (
	// SourceExplicit marks a caller-supplied price accepted via override.
	SourceExplicit Source = "explicit"
	// SourceRateCard marks a price taken from the active rate card.
	SourceRateCard Source = "rate_card"
)

// NoActiveRateCardReason is the per-line failure reason when the organization
// has no active rate card at resolution time.
const NoActiveRateCardReason = "No active rate card found for organization"

// ErrNoActiveRateCard is the resolver-level companion of NoActiveRateCardReason.
var ErrNoActiveRateCard = errors.New("ratecard: no active rate card found for organization")

// RateCard is an organization-scoped, versioned price list with an effective
// date window. Rows are owned and mutated by the catalog; this package only
// reads them.
type RateCard struct {
	ID             uuid.UUID  `json:"id"`
	OrganizationID uuid.UUID  `json:"organizationId"`
	Name           string     `json:"name"`
	IsDefault      bool       `json:"isDefault"`
	IsActive       bool       `json:"isActive"`
	EffectiveFrom  time.Time  `json:"effectiveFrom"`
	EffectiveUntil *time.Time `json:"effectiveUntil,omitempty"`
}

// Item is one priced entry of a rate card.
type Item struct {
	ID                uuid.UUID    `json:"id"`
	RateCardID        uuid.UUID    `json:"rateCardId"`
	ServiceCategoryID *uuid.UUID   `json:"serviceCategoryId,omitempty"`
	ItemCode          string       `json:"itemCode"`
	Description       string       `json:"description"`
	Unit              string       `json:"unit"`
	BaseRate          money.Amount `json:"baseRate"`
	TaxClass          TaxClass     `json:"taxClass"`
	EffectiveFrom     time.Time    `json:"effectiveFrom"`
	EffectiveUntil    *time.Time   `json:"effectiveUntil,omitempty"`
	IsActive          bool         `json:"isActive"`
}

// Resolution is the authoritative pricing for one successfully resolved line.
type Resolution struct {
	LineNumber        int             `json:"lineNumber"`
	UnitPrice         money.Amount    `json:"unitPrice"`
	TaxRate           decimal.Decimal `json:"taxRate"`
	Unit              string          `json:"unit,omitempty"`
	Source            Source          `json:"source"`
	RateCardID        *uuid.UUID      `json:"rateCardId,omitempty"`
	RateCardItemID    *uuid.UUID      `json:"rateCardItemId,omitempty"`
	ServiceCategoryID *uuid.UUID      `json:"serviceCategoryId,omitempty"`
	ItemCode          string          `json:"itemCode,omitempty"`
}

// LineFailure describes why one line could not be priced. It carries enough
// context to be rendered to an end user as-is.
type LineFailure struct {
	LineNumber  int    `json:"lineNumber"`
	Description string `json:"description"`
	Reason      string `json:"reason"`
}

// BatchResult holds per-line outcomes for one resolution batch. Lines resolve
// independently; Success is true only when every line resolved, but resolved
// lines are always populated so callers can report partial failures without
// discarding successes.
type BatchResult struct {
	Success     bool         `json:"success"`
	Resolutions []Resolution `json:"results"`
	Failures    []LineFailure `json:"errors,omitempty"`
}
