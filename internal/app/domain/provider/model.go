// Package provider declares the shapes and client contracts for the external
// collaborators the core consumes: a general search marketplace and the
// hosted ATS back-ends. Concrete HTTP implementations live outside this
// module; the core only depends on these interfaces.
package provider

import (
	"context"
	"time"
)

// Ref identifies an offer at its source.
type Ref struct {
	Provider string
	ID       string
	URL      string
}

// CompanyPayload is the provider's view of the employer behind an offer. Any
// subset of fields may be populated; the identity resolver degrades
// gracefully (see internal/app/identity).
type CompanyPayload struct {
	Name           string
	NormalizedName string
	WebsiteURL     string
	WebsiteDomain  string
}

// Offer is the canonical shape every provider client normalizes its payloads
// into before the core ever sees them.
type Offer struct {
	Ref                 Ref
	Title               string
	Company             CompanyPayload
	Description         string
	MinRequirements     string
	DesiredRequirements string
	RequirementsSnippet string
	PublishedAt         *time.Time
	UpdatedAt           *time.Time
	CreatedAt           *time.Time
	ApplicationsCount   int
	Metadata            map[string]any
}

// SearchParams parameterizes a marketplace query. The hash of its fields
// (computed by the caller) forms part of a query key (see scheduler).
type SearchParams struct {
	Keywords string
	Location string
	Page     int
	PageSize int
}

// SearchMeta carries pagination/metadata from a marketplace search response.
type SearchMeta struct {
	TotalPages   int
	TotalResults int
}

// MarketplaceClient is satisfied by a general search marketplace provider.
type MarketplaceClient interface {
	SearchOffers(ctx context.Context, params SearchParams) ([]Offer, SearchMeta, error)
	HydrateOfferDetails(ctx context.Context, offers []Offer) ([]Offer, error)
}

// ATSClient is satisfied by a hosted ATS back-end scoped to one employer
// tenant.
type ATSClient interface {
	ListOffersForTenant(ctx context.Context, tenantKey string) ([]Offer, error)
	HydrateOfferDetails(ctx context.Context, tenantKey string, offers []Offer) ([]Offer, error)
}
