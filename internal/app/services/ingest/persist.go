// Package ingest implements offer persistence, aggregation, and the batch
// pipeline that ties them to a run.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/offerwatch/ingestor/internal/app/domain/company"
	"github.com/offerwatch/ingestor/internal/app/domain/match"
	"github.com/offerwatch/ingestor/internal/app/domain/offer"
	"github.com/offerwatch/ingestor/internal/app/domain/provider"
	"github.com/offerwatch/ingestor/internal/app/identity"
	"github.com/offerwatch/ingestor/internal/app/repost"
	"github.com/offerwatch/ingestor/internal/app/storage"
)

// Result tags the outcome of PersistOffer. Exactly one variant is returned;
// none of them are errors the caller needs to unwrap.
type Result string

const (
	ResultOK                  Result = "ok"
	ResultRepostDuplicate     Result = "repost_duplicate"
	ResultCompanyUnidentified Result = "company_unidentifiable"
	ResultCompanyResolved     Result = "company_resolved"
	ResultMissingDescription  Result = "missing_description"
	ResultDBError             Result = "db_error"
)

// Outcome carries the tagged result plus whatever ids were touched, so a
// caller can still track the affected company even on a non-ok result.
type Outcome struct {
	Result           Result
	OfferID          int64
	CompanyID        int64
	CanonicalOfferID int64
	Err              error
}

// Service implements C4 (offer persistence), C5 (aggregation), C6 (batch
// pipeline) and C7 (run registry) over a storage.Store.
type Service struct {
	store   storage.Store
	matcher Matcher
	now     func() time.Time
}

// Matcher scores a canonical offer. Scoring arithmetic lives outside this
// module; the service only calls through this interface and records
// whatever it returns.
type Matcher interface {
	Score(ctx context.Context, o offer.Offer) (match.Match, error)
}

// New builds a Service. now defaults to time.Now when nil, overridable for
// deterministic tests.
func New(store storage.Store, matcher Matcher, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{store: store, matcher: matcher, now: now}
}

// marketplaceProviders are the general search marketplace tags; everything
// else is a hosted ATS back-end, the only sources required to deliver a
// non-empty description with every offer.
var marketplaceProviders = map[string]bool{
	"marketplace": true,
	"infojobs":    true,
}

func isATSProvider(providerName string) bool {
	return providerName != "" && !marketplaceProviders[providerName]
}

// PersistOffer is the single entry point for writing one incoming offer. It
// never returns a Go error to the caller for a per-offer problem; failures
// are reported through Outcome.Result so a batch driver can keep going.
func (s *Service) PersistOffer(ctx context.Context, p provider.Offer, knownCompanyID *int64) Outcome {
	if isATSProvider(p.Ref.Provider) && p.Description == "" {
		return Outcome{Result: ResultMissingDescription}
	}

	companyID, err := s.resolveCompanyID(ctx, p, knownCompanyID)
	if err != nil {
		return Outcome{Result: ResultCompanyUnidentified, Err: err}
	}

	c, err := s.store.GetCompanyByID(ctx, companyID)
	if err != nil {
		return Outcome{Result: ResultDBError, CompanyID: companyID, Err: fmt.Errorf("load company %d: %w", companyID, err)}
	}
	if company.IsResolved(c.Resolution) {
		return Outcome{Result: ResultCompanyResolved, CompanyID: companyID}
	}

	seenAt := effectiveSeenAt(p, s.now())

	existing, err := s.store.GetOfferByProviderID(ctx, p.Ref.Provider, p.Ref.ID)
	switch {
	case err == nil:
		return s.updateExisting(ctx, existing, p, seenAt, companyID)
	case errors.Is(err, storage.ErrNotFound):
		return s.insertNew(ctx, p, seenAt, companyID)
	default:
		return Outcome{Result: ResultDBError, CompanyID: companyID, Err: fmt.Errorf("lookup offer %s/%s: %w", p.Ref.Provider, p.Ref.ID, err)}
	}
}

func (s *Service) resolveCompanyID(ctx context.Context, p provider.Offer, knownCompanyID *int64) (int64, error) {
	if knownCompanyID != nil {
		return *knownCompanyID, nil
	}

	key, err := identity.ResolveKey(p.Company)
	if err != nil {
		return 0, err
	}

	var existing company.Company
	switch key.Kind {
	case identity.KeyDomain:
		existing, err = s.store.FindCompanyByDomain(ctx, key.Value)
	case identity.KeyNormalizedName:
		existing, err = s.store.FindCompanyByNormalizedName(ctx, key.Value)
	}

	var row company.Company
	if err == nil {
		row = identity.Merge(existing, p.Company)
	} else if errors.Is(err, storage.ErrNotFound) {
		row = identity.New(p.Company)
	} else {
		return 0, fmt.Errorf("find company by key kind %d: %w", key.Kind, err)
	}

	saved, err := s.store.UpsertCompany(ctx, row)
	if err != nil {
		return 0, fmt.Errorf("upsert company: %w", err)
	}
	return saved.ID, nil
}

func effectiveSeenAt(p provider.Offer, now time.Time) time.Time {
	if p.UpdatedAt != nil {
		return *p.UpdatedAt
	}
	if p.PublishedAt != nil {
		return *p.PublishedAt
	}
	return now.UTC()
}

func toOfferRow(p provider.Offer, companyID int64, seenAt time.Time) offer.Offer {
	requirements := p.RequirementsSnippet
	if requirements == "" {
		requirements = p.MinRequirements
	}
	fp, _ := repost.Fingerprint(p.Title, p.Description)
	var fpPtr *string
	if fp != "" {
		fpPtr = &fp
	}
	return offer.Offer{
		Provider:           p.Ref.Provider,
		ProviderOfferID:    p.Ref.ID,
		OfferURL:           p.Ref.URL,
		CompanyID:          companyID,
		Title:              p.Title,
		Description:        p.Description,
		Requirements:       requirements,
		PublishedAt:        p.PublishedAt,
		SourceUpdatedAt:    p.UpdatedAt,
		SourceCreatedAt:    p.CreatedAt,
		ContentFingerprint: fpPtr,
		LastSeenAt:         seenAt,
	}
}

func (s *Service) updateExisting(ctx context.Context, existing offer.Offer, p provider.Offer, seenAt time.Time, companyID int64) Outcome {
	row := toOfferRow(p, companyID, seenAt)
	row.ID = existing.ID
	row.CanonicalOfferID = existing.CanonicalOfferID
	row.RepostCount = existing.RepostCount

	saved, err := s.store.UpsertOffer(ctx, row)
	if err != nil {
		return Outcome{Result: ResultDBError, CompanyID: companyID, Err: fmt.Errorf("update offer %d: %w", existing.ID, err)}
	}
	if err := s.store.UpdateOfferLastSeenAt(ctx, saved.ID, seenAt); err != nil {
		return Outcome{Result: ResultDBError, CompanyID: companyID, OfferID: saved.ID, Err: fmt.Errorf("touch last_seen_at %d: %w", saved.ID, err)}
	}
	return Outcome{Result: ResultOK, OfferID: saved.ID, CompanyID: companyID}
}

func (s *Service) insertNew(ctx context.Context, p provider.Offer, seenAt time.Time, companyID int64) Outcome {
	fp, hasFP := repost.Fingerprint(p.Title, p.Description)

	if hasFP {
		candidates, err := s.store.FindCanonicalOffersByFingerprint(ctx, companyID, fp)
		if err != nil {
			return Outcome{Result: ResultDBError, CompanyID: companyID, Err: fmt.Errorf("find by fingerprint: %w", err)}
		}
		if len(candidates) > 0 {
			return s.recordRepost(ctx, candidates[0].ID, seenAt, companyID)
		}
	}

	repostCandidates, err := s.store.ListCanonicalOffersForRepost(ctx, companyID)
	if err != nil {
		return Outcome{Result: ResultDBError, CompanyID: companyID, Err: fmt.Errorf("list canonical offers: %w", err)}
	}
	rc := make([]repost.Candidate, len(repostCandidates))
	for i, o := range repostCandidates {
		rc[i] = repost.Candidate{OfferID: o.ID, Title: o.Title, Description: o.Description, LastSeenAt: o.LastSeenAt.Unix()}
	}
	similarity := repost.DetectBySimilarity(p.Title, p.Description, rc)
	if similarity.Duplicate {
		return s.recordRepost(ctx, similarity.CanonicalOfferID, seenAt, companyID)
	}

	row := toOfferRow(p, companyID, seenAt)
	saved, err := s.store.UpsertOffer(ctx, row)
	if err != nil {
		return Outcome{Result: ResultDBError, CompanyID: companyID, Err: fmt.Errorf("insert offer: %w", err)}
	}
	return Outcome{Result: ResultOK, OfferID: saved.ID, CompanyID: companyID}
}

func (s *Service) recordRepost(ctx context.Context, canonicalID int64, seenAt time.Time, companyID int64) Outcome {
	if err := s.store.IncrementOfferRepostCount(ctx, canonicalID, seenAt); err != nil {
		return Outcome{Result: ResultDBError, CompanyID: companyID, CanonicalOfferID: canonicalID, Err: fmt.Errorf("increment repost count %d: %w", canonicalID, err)}
	}
	return Outcome{Result: ResultRepostDuplicate, CompanyID: companyID, CanonicalOfferID: canonicalID}
}
