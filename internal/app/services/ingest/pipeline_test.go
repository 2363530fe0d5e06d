package ingest

import (
	"context"
	"testing"

	"github.com/offerwatch/ingestor/internal/app/domain/ingestion"
	"github.com/offerwatch/ingestor/internal/app/domain/provider"
	"github.com/offerwatch/ingestor/internal/app/storage/memory"
)

func TestRunBatchCountsOutcomesAndAggregates(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := New(store, stubMatcher{score: 7}, fixedNow)

	offers := []provider.Offer{
		samplePayload("1", "Backend Engineer", "Build things."),
		samplePayload("2", "Backend Engineer", "Build things."), // repost of #1
		samplePayload("3", "Frontend Engineer", "Build other things."),
	}

	result, err := svc.RunBatch(ctx, "marketplace", "marketplace:default:abc", offers, nil, nil)
	if err != nil {
		t.Fatalf("run batch: %v", err)
	}

	if result.Counters.OffersFetched != 3 {
		t.Fatalf("expected 3 fetched, got %d", result.Counters.OffersFetched)
	}
	if result.Counters.OffersUpserted != 2 {
		t.Fatalf("expected 2 upserted, got %d", result.Counters.OffersUpserted)
	}
	if result.Counters.Duplicates != 1 {
		t.Fatalf("expected 1 duplicate, got %d", result.Counters.Duplicates)
	}
	if result.Counters.CompaniesAggregated != 1 {
		t.Fatalf("expected 1 company aggregated, got %d", result.Counters.CompaniesAggregated)
	}

	got, _ := store.GetCompanyByID(ctx, 1)
	if got.MaxScore != 7 {
		t.Fatalf("expected aggregated max score 7, got %d", got.MaxScore)
	}
}

func TestRunBatchSkipsUnidentifiableOfferAndFinishesRun(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := New(store, nil, fixedNow)

	unidentifiable := provider.Offer{
		Ref:         provider.Ref{Provider: "marketplace", ID: "1"},
		Title:       "Backend Engineer",
		Description: "No company info attached.",
	}

	result, err := svc.RunBatch(ctx, "marketplace", "marketplace:default:xyz", []provider.Offer{unidentifiable}, nil, nil)
	if err != nil {
		t.Fatalf("run batch should not return an error for per-offer problems: %v", err)
	}
	if result.Counters.Skipped != 1 {
		t.Fatalf("expected 1 skipped, got %d", result.Counters.Skipped)
	}
	if result.Counters.Failed != 0 {
		t.Fatalf("expected 0 failed, got %d", result.Counters.Failed)
	}
	if result.Counters.OffersUpserted != 0 {
		t.Fatalf("expected no upserts, got %d", result.Counters.OffersUpserted)
	}

	run, err := store.GetLatestRunByQueryKey(ctx, "marketplace:default:xyz")
	if err != nil {
		t.Fatalf("get latest run: %v", err)
	}
	if run.Status != ingestion.RunStatusSuccess {
		t.Fatalf("expected run to finish as success (no fatal error), got %v", run.Status)
	}
}
