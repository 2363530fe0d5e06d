// Package company defines the canonical company aggregate and its resolution
// lifecycle.
package company

import "time"

// Resolution is the human-assigned disposition of a company, set by reading
// back the curated sheet (see the feedback loop).
type Resolution string

const (
	ResolutionPending        Resolution = "PENDING"
	ResolutionInProgress     Resolution = "IN_PROGRESS"
	ResolutionHighInterest   Resolution = "HIGH_INTEREST"
	ResolutionAlreadyRevolut Resolution = "ALREADY_REVOLUT"
	ResolutionAccepted       Resolution = "ACCEPTED"
	ResolutionRejected       Resolution = "REJECTED"
)

// Resolutions lists every enumerated resolution value, in the order the
// external sheet's validation rule presents them.
var Resolutions = []Resolution{
	ResolutionPending,
	ResolutionInProgress,
	ResolutionHighInterest,
	ResolutionAlreadyRevolut,
	ResolutionAccepted,
	ResolutionRejected,
}

// resolved holds the set of terminal dispositions; a company in this set is
// no longer eligible for ingestion.
var resolved = map[Resolution]bool{
	ResolutionAlreadyRevolut: true,
	ResolutionAccepted:       true,
	ResolutionRejected:       true,
}

// IsValid reports whether r is one of the enumerated resolutions.
func IsValid(r Resolution) bool {
	switch r {
	case ResolutionPending, ResolutionInProgress, ResolutionHighInterest,
		ResolutionAlreadyRevolut, ResolutionAccepted, ResolutionRejected:
		return true
	default:
		return false
	}
}

// IsResolved reports whether r belongs to the resolved set
// (ALREADY_REVOLUT, ACCEPTED, REJECTED).
func IsResolved(r Resolution) bool {
	return resolved[r]
}

// Company is the canonical company record. At least one of WebsiteDomain or
// NormalizedName must be non-empty; that's what makes the row findable by
// identity in the first place.
type Company struct {
	ID             int64
	DisplayName    string
	RawName        string
	NormalizedName string
	WebsiteURL     string
	WebsiteDomain  string

	// Aggregation fields, recomputed by the aggregator from current offers.
	MaxScore          int
	OfferCount        int
	UniqueOfferCount  int
	StrongOfferCount  int
	AvgStrongScore    *float64
	TopCategoryID     *int64
	TopOfferID        *int64
	CategoryMaxScores string // serialized JSON: category id -> max score
	LastStrongAt      *time.Time

	Resolution Resolution
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// HasIdentityEvidence reports whether the payload carries enough information
// to resolve a stable company identity.
func (c Company) HasIdentityEvidence() bool {
	return c.WebsiteDomain != "" || c.NormalizedName != ""
}

// Source is a provider-specific handle pointing at a Company: the company id
// as known by a given provider, used both for marketplace listings and ATS
// tenant discovery.
type Source struct {
	ID                int64
	CompanyID         int64
	Provider          string
	ProviderCompanyID string
	ProviderURL       string
	Hidden            bool
}

// FeedbackEvent is the durable audit trail of one resolution change applied
// from the curated sheet.
type FeedbackEvent struct {
	ID        int64
	CompanyID int64
	From      Resolution
	To        Resolution
	Category  string
	AppliedAt time.Time
}

// Aggregation is the subset of Company fields the aggregator recomputes.
// UpdateCompanyAggregation persists exactly these columns plus UpdatedAt,
// leaving Resolution and identity columns untouched.
type Aggregation struct {
	MaxScore          int
	OfferCount        int
	UniqueOfferCount  int
	StrongOfferCount  int
	AvgStrongScore    *float64
	TopCategoryID     *int64
	TopOfferID        *int64
	CategoryMaxScores string
	LastStrongAt      *time.Time
}
