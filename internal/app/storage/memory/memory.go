// Package memory implements storage.Store in process memory, for use by
// service-layer tests that need a real store without a database.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/offerwatch/ingestor/internal/app/domain/company"
	"github.com/offerwatch/ingestor/internal/app/domain/ingestion"
	"github.com/offerwatch/ingestor/internal/app/domain/match"
	"github.com/offerwatch/ingestor/internal/app/domain/offer"
	"github.com/offerwatch/ingestor/internal/app/storage"
)

// Store is a single-process, mutex-guarded implementation of storage.Store.
// It never returns anything but storage.ErrNotFound for a missing row, and
// applies the same upsert/partial-update semantics as the postgres store.
type Store struct {
	mu sync.Mutex

	companies      map[int64]company.Company
	companySources map[int64]company.Source
	feedbackEvents []company.FeedbackEvent
	nextCompanyID  int64
	nextSourceID   int64

	offers      map[int64]offer.Offer
	nextOfferID int64

	matches map[int64]match.Match

	runs        map[int64]ingestion.Run
	nextRunID   int64
	queryStates map[string]ingestion.QueryState

	lock   *ingestion.RunLock
	pauses map[string]ingestion.ClientPause
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		companies:      make(map[int64]company.Company),
		companySources: make(map[int64]company.Source),
		offers:         make(map[int64]offer.Offer),
		matches:        make(map[int64]match.Match),
		runs:           make(map[int64]ingestion.Run),
		queryStates:    make(map[string]ingestion.QueryState),
		pauses:         make(map[string]ingestion.ClientPause),
	}
}

var _ storage.Store = (*Store)(nil)

func (s *Store) UpsertCompany(ctx context.Context, c company.Company) (company.Company, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if c.ID != 0 {
		existing, ok := s.companies[c.ID]
		if !ok {
			return company.Company{}, storage.ErrNotFound
		}
		c.CreatedAt = existing.CreatedAt
		c.UpdatedAt = now
		s.companies[c.ID] = c
		return c, nil
	}

	s.nextCompanyID++
	c.ID = s.nextCompanyID
	c.CreatedAt = now
	c.UpdatedAt = now
	s.companies[c.ID] = c
	return c, nil
}

func (s *Store) UpsertCompanySource(ctx context.Context, src company.Source) (company.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, existing := range s.companySources {
		if existing.Provider == src.Provider && src.ProviderCompanyID != "" &&
			existing.ProviderCompanyID == src.ProviderCompanyID {
			src.ID = id
			s.companySources[id] = src
			return src, nil
		}
	}

	s.nextSourceID++
	src.ID = s.nextSourceID
	s.companySources[src.ID] = src
	return src, nil
}

func (s *Store) GetCompanyByID(ctx context.Context, id int64) (company.Company, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.companies[id]
	if !ok {
		return company.Company{}, storage.ErrNotFound
	}
	return c, nil
}

func (s *Store) FindCompanyByDomain(ctx context.Context, domain string) (company.Company, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.companies {
		if domain != "" && c.WebsiteDomain == domain {
			return c, nil
		}
	}
	return company.Company{}, storage.ErrNotFound
}

func (s *Store) FindCompanyByNormalizedName(ctx context.Context, normalizedName string) (company.Company, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.companies {
		if normalizedName != "" && c.NormalizedName == normalizedName {
			return c, nil
		}
	}
	return company.Company{}, storage.ErrNotFound
}

func (s *Store) UpdateCompanyAggregation(ctx context.Context, companyID int64, agg company.Aggregation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.companies[companyID]
	if !ok {
		return storage.ErrNotFound
	}
	c.MaxScore = agg.MaxScore
	c.OfferCount = agg.OfferCount
	c.UniqueOfferCount = agg.UniqueOfferCount
	c.StrongOfferCount = agg.StrongOfferCount
	c.AvgStrongScore = agg.AvgStrongScore
	c.TopCategoryID = agg.TopCategoryID
	c.TopOfferID = agg.TopOfferID
	c.CategoryMaxScores = agg.CategoryMaxScores
	c.LastStrongAt = agg.LastStrongAt
	c.UpdatedAt = time.Now()
	s.companies[companyID] = c
	return nil
}

func (s *Store) UpdateCompanyResolution(ctx context.Context, companyID int64, resolution company.Resolution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.companies[companyID]
	if !ok {
		return storage.ErrNotFound
	}
	c.Resolution = resolution
	c.UpdatedAt = time.Now()
	s.companies[companyID] = c
	return nil
}

func (s *Store) ListAllCompanies(ctx context.Context) ([]company.Company, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]company.Company, 0, len(s.companies))
	for _, c := range s.companies {
		out = append(out, c)
	}
	return out, nil
}

func (s *Store) ListCompaniesNeedingATSDiscovery(ctx context.Context, provider string) ([]company.Company, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hasSource := make(map[int64]bool)
	for _, src := range s.companySources {
		if src.Provider == provider {
			hasSource[src.CompanyID] = true
		}
	}

	var out []company.Company
	for _, c := range s.companies {
		if company.IsResolved(c.Resolution) {
			continue
		}
		if hasSource[c.ID] {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *Store) RecordCompanyFeedbackEvent(ctx context.Context, ev company.FeedbackEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev.ID = int64(len(s.feedbackEvents) + 1)
	ev.AppliedAt = time.Now()
	s.feedbackEvents = append(s.feedbackEvents, ev)
	return nil
}

// FeedbackEvents returns a copy of the recorded audit trail, for tests.
func (s *Store) FeedbackEvents() []company.FeedbackEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]company.FeedbackEvent, len(s.feedbackEvents))
	copy(out, s.feedbackEvents)
	return out
}

func (s *Store) UpsertOffer(ctx context.Context, o offer.Offer) (offer.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for id, existing := range s.offers {
		if existing.Provider == o.Provider && existing.ProviderOfferID == o.ProviderOfferID {
			o.ID = id
			o.CreatedAt = existing.CreatedAt
			o.UpdatedAt = now
			s.offers[id] = o
			return o, nil
		}
	}

	s.nextOfferID++
	o.ID = s.nextOfferID
	o.CreatedAt = now
	o.UpdatedAt = now
	s.offers[o.ID] = o
	return o, nil
}

func (s *Store) GetOfferByProviderID(ctx context.Context, provider, providerOfferID string) (offer.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.offers {
		if o.Provider == provider && o.ProviderOfferID == providerOfferID {
			return o, nil
		}
	}
	return offer.Offer{}, storage.ErrNotFound
}

func (s *Store) GetOfferByID(ctx context.Context, id int64) (offer.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.offers[id]
	if !ok {
		return offer.Offer{}, storage.ErrNotFound
	}
	return o, nil
}

func (s *Store) UpdateOfferLastSeenAt(ctx context.Context, offerID int64, lastSeenAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.offers[offerID]
	if !ok {
		return storage.ErrNotFound
	}
	o.LastSeenAt = lastSeenAt
	o.UpdatedAt = time.Now()
	s.offers[offerID] = o
	return nil
}

func (s *Store) UpdateOfferCanonical(ctx context.Context, offerID int64, canonicalOfferID *int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.offers[offerID]
	if !ok {
		return storage.ErrNotFound
	}
	o.CanonicalOfferID = canonicalOfferID
	o.UpdatedAt = time.Now()
	s.offers[offerID] = o
	return nil
}

func (s *Store) FindCanonicalOffersByFingerprint(ctx context.Context, companyID int64, fingerprint string) ([]offer.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []offer.Offer
	for _, o := range s.offers {
		if o.CompanyID != companyID || !o.IsCanonical() {
			continue
		}
		if o.ContentFingerprint != nil && *o.ContentFingerprint == fingerprint {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *Store) ListCanonicalOffersForRepost(ctx context.Context, companyID int64) ([]offer.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []offer.Offer
	for _, o := range s.offers {
		if o.CompanyID == companyID && o.IsCanonical() {
			out = append(out, o)
		}
	}
	sortOffersByLastSeenDesc(out)
	return out, nil
}

func sortOffersByLastSeenDesc(offers []offer.Offer) {
	for i := 1; i < len(offers); i++ {
		for j := i; j > 0 && offers[j].LastSeenAt.After(offers[j-1].LastSeenAt); j-- {
			offers[j], offers[j-1] = offers[j-1], offers[j]
		}
	}
}

func (s *Store) IncrementOfferRepostCount(ctx context.Context, canonicalID int64, lastSeenAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.offers[canonicalID]
	if !ok || !o.IsCanonical() {
		return storage.ErrNotFound
	}
	o.RepostCount++
	o.LastSeenAt = lastSeenAt
	o.UpdatedAt = time.Now()
	s.offers[canonicalID] = o
	return nil
}

func (s *Store) DeleteOffersForCompany(ctx context.Context, companyID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, o := range s.offers {
		if o.CompanyID == companyID {
			delete(s.offers, id)
			delete(s.matches, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) ListCanonicalOffersWithMatches(ctx context.Context, companyID int64) ([]storage.OfferWithMatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storage.OfferWithMatch
	for _, o := range s.offers {
		if o.CompanyID != companyID || !o.IsCanonical() {
			continue
		}
		item := storage.OfferWithMatch{Offer: o}
		if m, ok := s.matches[o.ID]; ok {
			mCopy := m
			item.Match = &mCopy
		}
		out = append(out, item)
	}
	return out, nil
}

func (s *Store) UpsertMatch(ctx context.Context, m match.Match) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.matches[m.OfferID] = m
	return nil
}

func (s *Store) CreateRun(ctx context.Context, provider, queryFingerprint string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextRunID++
	s.runs[s.nextRunID] = ingestion.Run{
		ID:               s.nextRunID,
		Provider:         provider,
		QueryFingerprint: queryFingerprint,
		StartedAt:        time.Now(),
		Status:           ingestion.RunStatusRunning,
	}
	return s.nextRunID, nil
}

func (s *Store) FinishRun(ctx context.Context, runID int64, status ingestion.RunStatus, counters ingestion.Counters) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runID]
	if !ok {
		return storage.ErrNotFound
	}
	now := time.Now()
	r.FinishedAt = &now
	r.Status = status
	r.Counters = counters
	s.runs[runID] = r
	return nil
}

func (s *Store) GetLatestRunByQueryKey(ctx context.Context, queryKey string) (ingestion.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest ingestion.Run
	found := false
	for _, r := range s.runs {
		if r.QueryFingerprint != queryKey {
			continue
		}
		if !found || r.StartedAt.After(latest.StartedAt) {
			latest = r
			found = true
		}
	}
	if !found {
		return ingestion.Run{}, storage.ErrNotFound
	}
	return latest, nil
}

func (s *Store) EnsureQueryState(ctx context.Context, queryKey, client, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.queryStates[queryKey]; ok {
		return nil
	}
	s.queryStates[queryKey] = ingestion.QueryState{
		QueryKey: queryKey,
		Client:   client,
		Name:     name,
		Status:   ingestion.QueryStatusIdle,
	}
	return nil
}

func (s *Store) GetQueryState(ctx context.Context, queryKey string) (ingestion.QueryState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.queryStates[queryKey]
	if !ok {
		return ingestion.QueryState{}, storage.ErrNotFound
	}
	return st, nil
}

func (s *Store) MarkQueryRunning(ctx context.Context, queryKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.queryStates[queryKey]
	if !ok {
		return storage.ErrNotFound
	}
	now := time.Now()
	st.Status = ingestion.QueryStatusRunning
	st.LastRunAt = &now
	s.queryStates[queryKey] = st
	return nil
}

func (s *Store) MarkQuerySuccess(ctx context.Context, queryKey string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.queryStates[queryKey]
	if !ok {
		return storage.ErrNotFound
	}
	st.Status = ingestion.QueryStatusSuccess
	st.LastSuccessAt = &at
	st.ConsecutiveFailures = 0
	st.LastErrorCode = ""
	st.LastErrorMessage = ""
	s.queryStates[queryKey] = st
	return nil
}

func (s *Store) MarkQueryError(ctx context.Context, queryKey, code, message string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.queryStates[queryKey]
	if !ok {
		return storage.ErrNotFound
	}
	st.Status = ingestion.QueryStatusError
	st.LastErrorAt = &at
	st.LastErrorCode = code
	st.LastErrorMessage = message
	st.ConsecutiveFailures++
	s.queryStates[queryKey] = st
	return nil
}

func (s *Store) ListQueryStates(ctx context.Context) ([]ingestion.QueryState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ingestion.QueryState, 0, len(s.queryStates))
	for _, st := range s.queryStates {
		out = append(out, st)
	}
	return out, nil
}

func (s *Store) AcquireRunLock(ctx context.Context, ownerID string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if s.lock != nil && s.lock.ExpiresAt.After(now) {
		return false, nil
	}
	s.lock = &ingestion.RunLock{
		LockName:   "ingestion_cycle",
		OwnerID:    ownerID,
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	}
	return true, nil
}

func (s *Store) RefreshRunLock(ctx context.Context, ownerID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lock == nil || s.lock.OwnerID != ownerID {
		return storage.ErrNotFound
	}
	s.lock.ExpiresAt = time.Now().Add(ttl)
	return nil
}

func (s *Store) ReleaseRunLock(ctx context.Context, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lock != nil && s.lock.OwnerID == ownerID {
		s.lock = nil
	}
	return nil
}

func (s *Store) SetClientPause(ctx context.Context, client string, until time.Time, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pauses[client] = ingestion.ClientPause{
		Client:      client,
		PausedUntil: until,
		Reason:      reason,
		UpdatedAt:   time.Now(),
	}
	return nil
}

func (s *Store) IsClientPaused(ctx context.Context, client string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pauses[client]
	if !ok {
		return false, nil
	}
	if p.PausedUntil.After(time.Now()) {
		return true, nil
	}
	delete(s.pauses, client)
	return false, nil
}

func (s *Store) ClearClientPause(ctx context.Context, client string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pauses, client)
	return nil
}
