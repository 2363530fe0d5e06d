// Package storage declares the store's typed operation surface. Every
// operation returns plain Go errors — no language-level panics for normal
// conflicts — and every write either commits or leaves state unchanged.
package storage

import (
	"context"
	"time"

	"github.com/offerwatch/ingestor/internal/app/domain/company"
	"github.com/offerwatch/ingestor/internal/app/domain/ingestion"
	"github.com/offerwatch/ingestor/internal/app/domain/match"
	"github.com/offerwatch/ingestor/internal/app/domain/offer"
)

// ErrNotFound is returned by single-row lookups that find nothing.
var ErrNotFound = notFoundError{}

type notFoundError struct{}

func (notFoundError) Error() string { return "not found" }

// Store is the full typed operation surface the core depends on.
type Store interface {
	CompanyStore
	OfferStore
	MatchStore
	RunStore
	LockStore
}

// CompanyStore covers company identity, aggregation, and resolution.
type CompanyStore interface {
	UpsertCompany(ctx context.Context, c company.Company) (company.Company, error)
	UpsertCompanySource(ctx context.Context, s company.Source) (company.Source, error)
	GetCompanyByID(ctx context.Context, id int64) (company.Company, error)
	FindCompanyByDomain(ctx context.Context, domain string) (company.Company, error)
	FindCompanyByNormalizedName(ctx context.Context, normalizedName string) (company.Company, error)
	UpdateCompanyAggregation(ctx context.Context, companyID int64, agg company.Aggregation) error
	UpdateCompanyResolution(ctx context.Context, companyID int64, resolution company.Resolution) error
	ListAllCompanies(ctx context.Context) ([]company.Company, error)
	ListCompaniesNeedingATSDiscovery(ctx context.Context, provider string) ([]company.Company, error)
	RecordCompanyFeedbackEvent(ctx context.Context, ev company.FeedbackEvent) error
}

// OfferStore covers canonical offer persistence and repost bookkeeping.
type OfferStore interface {
	UpsertOffer(ctx context.Context, o offer.Offer) (offer.Offer, error)
	GetOfferByProviderID(ctx context.Context, provider, providerOfferID string) (offer.Offer, error)
	GetOfferByID(ctx context.Context, id int64) (offer.Offer, error)
	UpdateOfferLastSeenAt(ctx context.Context, offerID int64, lastSeenAt time.Time) error
	UpdateOfferCanonical(ctx context.Context, offerID int64, canonicalOfferID *int64) error
	FindCanonicalOffersByFingerprint(ctx context.Context, companyID int64, fingerprint string) ([]offer.Offer, error)
	ListCanonicalOffersForRepost(ctx context.Context, companyID int64) ([]offer.Offer, error)
	IncrementOfferRepostCount(ctx context.Context, canonicalID int64, lastSeenAt time.Time) error
	DeleteOffersForCompany(ctx context.Context, companyID int64) (int, error)
	ListCanonicalOffersWithMatches(ctx context.Context, companyID int64) ([]OfferWithMatch, error)
}

// OfferWithMatch pairs a canonical offer with its current match (if any),
// the join the aggregator reads from.
type OfferWithMatch struct {
	Offer offer.Offer
	Match *match.Match
}

// MatchStore covers per-offer scoring results.
type MatchStore interface {
	UpsertMatch(ctx context.Context, m match.Match) error
}

// RunStore covers run history and per-query state.
type RunStore interface {
	CreateRun(ctx context.Context, provider, queryFingerprint string) (int64, error)
	FinishRun(ctx context.Context, runID int64, status ingestion.RunStatus, counters ingestion.Counters) error
	GetLatestRunByQueryKey(ctx context.Context, queryKey string) (ingestion.Run, error)

	EnsureQueryState(ctx context.Context, queryKey, client, name string) error
	GetQueryState(ctx context.Context, queryKey string) (ingestion.QueryState, error)
	MarkQueryRunning(ctx context.Context, queryKey string) error
	MarkQuerySuccess(ctx context.Context, queryKey string, at time.Time) error
	MarkQueryError(ctx context.Context, queryKey, code, message string, at time.Time) error
	ListQueryStates(ctx context.Context) ([]ingestion.QueryState, error)
}

// LockStore covers the global run lock and per-client pause.
type LockStore interface {
	AcquireRunLock(ctx context.Context, ownerID string, ttl time.Duration) (bool, error)
	RefreshRunLock(ctx context.Context, ownerID string, ttl time.Duration) error
	ReleaseRunLock(ctx context.Context, ownerID string) error

	SetClientPause(ctx context.Context, client string, until time.Time, reason string) error
	IsClientPaused(ctx context.Context, client string) (bool, error)
	ClearClientPause(ctx context.Context, client string) error
}
