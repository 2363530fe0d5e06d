package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/offerwatch/ingestor/internal/app/domain/company"
	"github.com/offerwatch/ingestor/internal/app/domain/match"
	"github.com/offerwatch/ingestor/internal/app/domain/offer"
	"github.com/offerwatch/ingestor/internal/app/metrics"
	"github.com/offerwatch/ingestor/internal/app/storage"
	"github.com/offerwatch/ingestor/internal/config"

	core "github.com/offerwatch/ingestor/internal/app/core/service"
)

// One initial attempt plus config.AggregationMaxRetries retries.
const aggregationMaxAttempts = 1 + config.AggregationMaxRetries

// Aggregate recomputes and persists the aggregation fields for a single
// company from its current canonical offers and matches.
func (s *Service) Aggregate(ctx context.Context, companyID int64) error {
	rows, err := s.store.ListCanonicalOffersWithMatches(ctx, companyID)
	if err != nil {
		return fmt.Errorf("list canonical offers with matches for company %d: %w", companyID, err)
	}

	agg := computeAggregation(rows)
	if err := s.store.UpdateCompanyAggregation(ctx, companyID, agg); err != nil {
		return fmt.Errorf("update aggregation for company %d: %w", companyID, err)
	}
	return nil
}

// AggregateResult tallies a batch aggregation run.
type AggregateResult struct {
	OKCount     int
	FailedCount int
}

// AggregateMany runs Aggregate over a deduplicated set of company ids, in
// chunks, retrying each company up to aggregationMaxAttempts times with a
// fixed backoff. A company that still fails after all attempts is logged by
// the caller (via the returned count) and does not stop the batch.
func (s *Service) AggregateMany(ctx context.Context, companyIDs []int64) AggregateResult {
	deduped := dedupeIDs(companyIDs)

	var result AggregateResult
	policy := core.RetryPolicy{
		Attempts:       aggregationMaxAttempts,
		InitialBackoff: config.AggregationRetryBackoff,
		MaxBackoff:     config.AggregationRetryBackoff,
		Multiplier:     1,
	}
	hooks := metrics.AggregationHooks()

	for start := 0; start < len(deduped); start += config.AggregationChunkSize {
		end := start + config.AggregationChunkSize
		if end > len(deduped) {
			end = len(deduped)
		}
		for _, id := range deduped[start:end] {
			id := id
			meta := map[string]string{"company_id": fmt.Sprintf("%d", id)}
			done := core.StartObservation(ctx, hooks, meta)
			err := core.Retry(ctx, policy, func() error { return s.Aggregate(ctx, id) })
			done(err)
			if err != nil {
				result.FailedCount++
				continue
			}
			result.OKCount++
		}
	}
	return result
}

func dedupeIDs(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// topCandidate tracks the running best canonical offer while folding over
// the company's rows, applying the tie-break rule: highest score, then
// newest PublishedAt, then lowest id.
type topCandidate struct {
	offer offer.Offer
	match match.Match
	set   bool
}

func (t *topCandidate) consider(o offer.Offer, m match.Match) {
	if !t.set {
		*t = topCandidate{offer: o, match: m, set: true}
		return
	}
	if m.Score != t.match.Score {
		if m.Score > t.match.Score {
			*t = topCandidate{offer: o, match: m, set: true}
		}
		return
	}
	if newer(o.PublishedAt, t.offer.PublishedAt) {
		*t = topCandidate{offer: o, match: m, set: true}
		return
	}
	if samePublishedAt(o.PublishedAt, t.offer.PublishedAt) && o.ID < t.offer.ID {
		*t = topCandidate{offer: o, match: m, set: true}
	}
}

func newer(a, b *time.Time) bool {
	if a == nil {
		return false
	}
	if b == nil {
		return true
	}
	return a.After(*b)
}

func samePublishedAt(a, b *time.Time) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return a.Equal(*b)
}

func computeAggregation(rows []storage.OfferWithMatch) company.Aggregation {
	var (
		offerCount       int
		maxScore         int
		strongCount      int
		strongScoreSum   int
		lastStrongAt     *time.Time
		categoryMaxScore = map[int64]int{}
		top              topCandidate
	)

	for _, r := range rows {
		offerCount += 1 + r.Offer.RepostCount
		if r.Match == nil {
			continue
		}
		m := *r.Match
		if m.Score > maxScore {
			maxScore = m.Score
		}
		top.consider(r.Offer, m)

		if match.IsStrong(m.Score) {
			strongCount++
			strongScoreSum += m.Score
			if r.Offer.PublishedAt != nil && newer(r.Offer.PublishedAt, lastStrongAt) {
				ts := *r.Offer.PublishedAt
				lastStrongAt = &ts
			}
		}
		if m.CategoryID != nil {
			cat := *m.CategoryID
			if m.Score > categoryMaxScore[cat] {
				categoryMaxScore[cat] = m.Score
			}
		}
	}

	var avgStrong *float64
	if strongCount > 0 {
		v := float64(strongScoreSum) / float64(strongCount)
		avgStrong = &v
	}

	var topOfferID, topCategoryID *int64
	if top.set {
		id := top.offer.ID
		topOfferID = &id
		topCategoryID = top.match.CategoryID
	}

	categoryJSON, _ := json.Marshal(categoryMaxScore)

	return company.Aggregation{
		MaxScore:          maxScore,
		OfferCount:        offerCount,
		UniqueOfferCount:  len(rows),
		StrongOfferCount:  strongCount,
		AvgStrongScore:    avgStrong,
		TopCategoryID:     topCategoryID,
		TopOfferID:        topOfferID,
		CategoryMaxScores: string(categoryJSON),
		LastStrongAt:      lastStrongAt,
	}
}
