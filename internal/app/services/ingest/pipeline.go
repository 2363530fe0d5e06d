package ingest

import (
	"context"
	"time"

	"github.com/offerwatch/ingestor/internal/app/domain/ingestion"
	"github.com/offerwatch/ingestor/internal/app/domain/provider"
	"github.com/offerwatch/ingestor/internal/app/metrics"
	logging "github.com/offerwatch/ingestor/pkg/logger"
)

// BatchResult is the per-run summary; RunBatch logs it once.
type BatchResult struct {
	RunID    int64
	Counters ingestion.Counters
}

// RunBatch persists a batch of canonical offer payloads for one provider
// query, scores and matches each successfully-upserted offer, aggregates
// every affected company, and finishes the run with the resulting counters.
// It never returns an error for a per-offer or per-company failure; only a
// failure to start or finish the run record, or a panic inside the batch, is
// surfaced.
func (s *Service) RunBatch(ctx context.Context, providerName, queryFingerprint string, offers []provider.Offer, knownCompanyID *int64, log *logging.Logger) (BatchResult, error) {
	affected := make(map[int64]bool)
	started := time.Now()

	counters, err := s.WithRun(ctx, providerName, queryFingerprint, func(runID int64, counters *ingestion.Counters) error {
		counters.OffersFetched = len(offers)

		for _, o := range offers {
			outcome := s.PersistOffer(ctx, o, knownCompanyID)
			if outcome.CompanyID != 0 {
				affected[outcome.CompanyID] = true
			}
			metrics.RecordOffer(providerName, string(outcome.Result))

			switch outcome.Result {
			case ResultOK:
				counters.OffersUpserted++
				if o.Description != "" {
					s.scoreAndMatch(ctx, outcome.OfferID, o, log)
				}
			case ResultRepostDuplicate:
				counters.Duplicates++
			case ResultMissingDescription, ResultCompanyResolved, ResultCompanyUnidentified:
				counters.Skipped++
				if log != nil {
					log.WithFields(logging.Fields{
						"provider": providerName,
						"result":   string(outcome.Result),
					}).Debug("offer skipped")
				}
			case ResultDBError:
				counters.Failed++
				if log != nil {
					log.WithFields(logging.Fields{
						"provider": providerName,
						"result":   string(outcome.Result),
						"error":    errString(outcome.Err),
					}).Warn("offer persistence failed")
				}
			}
		}

		companyIDs := make([]int64, 0, len(affected))
		for id := range affected {
			companyIDs = append(companyIDs, id)
		}
		aggResult := s.AggregateMany(ctx, companyIDs)
		counters.CompaniesAggregated = aggResult.OKCount
		counters.CompaniesFailed = aggResult.FailedCount
		return nil
	})

	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.RecordRun(providerName, status, time.Since(started))

	if log != nil {
		log.WithFields(logging.Fields{
			"provider":             providerName,
			"query_fingerprint":    queryFingerprint,
			"offers_fetched":       counters.OffersFetched,
			"offers_upserted":      counters.OffersUpserted,
			"duplicates":           counters.Duplicates,
			"skipped":              counters.Skipped,
			"failed":               counters.Failed,
			"companies_aggregated": counters.CompaniesAggregated,
			"companies_failed":     counters.CompaniesFailed,
		}).Info("ingestion run summary")
	}

	return BatchResult{Counters: counters}, err
}

func (s *Service) scoreAndMatch(ctx context.Context, offerID int64, o provider.Offer, log *logging.Logger) {
	if s.matcher == nil || offerID == 0 {
		return
	}
	saved, err := s.store.GetOfferByID(ctx, offerID)
	if err != nil {
		return
	}
	m, err := s.matcher.Score(ctx, saved)
	if err != nil {
		if log != nil {
			log.WithFields(logging.Fields{"offer_id": offerID, "error": err.Error()}).Warn("scoring failed")
		}
		return
	}
	m.OfferID = offerID
	if err := s.store.UpsertMatch(ctx, m); err != nil && log != nil {
		log.WithFields(logging.Fields{"offer_id": offerID, "error": err.Error()}).Warn("storing match failed")
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
