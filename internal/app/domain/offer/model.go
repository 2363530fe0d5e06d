// Package offer defines the canonical job offer record.
package offer

import (
	"strings"
	"time"
)

// Offer is the canonical representation of a job offer. A row with a nil
// CanonicalOfferID is itself canonical; a repost never gets its own row — it
// only increments the canonical row's RepostCount.
type Offer struct {
	ID              int64
	Provider        string
	ProviderOfferID string
	OfferURL        string
	CompanyID       int64

	Title        string
	Description  string
	Requirements string

	PublishedAt     *time.Time
	SourceUpdatedAt *time.Time
	SourceCreatedAt *time.Time

	// CanonicalOfferID is nil for a canonical offer, otherwise it points at
	// the canonical offer this row's content duplicates.
	CanonicalOfferID *int64
	// RepostCount is only meaningful when CanonicalOfferID is nil.
	RepostCount int

	// ContentFingerprint is a SHA-256 hex digest of the normalized
	// title+description, populated whenever both are non-empty.
	ContentFingerprint *string

	LastSeenAt time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// IsCanonical reports whether this row represents unique content.
func (o Offer) IsCanonical() bool {
	return o.CanonicalOfferID == nil
}

// HasDescription reports whether the offer carries non-blank detail text.
// ATS-sourced offers must always have one.
func (o Offer) HasDescription() bool {
	return strings.TrimSpace(o.Description) != ""
}
