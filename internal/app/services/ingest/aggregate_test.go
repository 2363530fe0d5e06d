package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/offerwatch/ingestor/internal/app/domain/company"
	"github.com/offerwatch/ingestor/internal/app/domain/match"
	"github.com/offerwatch/ingestor/internal/app/domain/offer"
	"github.com/offerwatch/ingestor/internal/app/storage/memory"
)

func newCompanyWithOffers(t *testing.T, store *memory.Store, scores []int) int64 {
	t.Helper()
	ctx := context.Background()
	c, err := store.UpsertCompany(ctx, company.Company{WebsiteDomain: "acme" + itoa(len(scores)) + ".com"})
	if err != nil {
		t.Fatalf("create company: %v", err)
	}

	for i, score := range scores {
		o, err := store.UpsertOffer(ctx, offer.Offer{
			Provider:        "marketplace",
			ProviderOfferID: itoa(i),
			CompanyID:       c.ID,
			Title:           "role",
			LastSeenAt:      time.Now(),
		})
		if err != nil {
			t.Fatalf("create offer: %v", err)
		}
		var categoryID int64 = 1
		if err := store.UpsertMatch(ctx, match.Match{OfferID: o.ID, Score: score, CategoryID: &categoryID, ComputedAt: time.Now()}); err != nil {
			t.Fatalf("create match: %v", err)
		}
	}
	return c.ID
}

func TestAggregateComputesMaxAndStrongCounts(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	companyID := newCompanyWithOffers(t, store, []int{3, 6, 9})

	svc := New(store, nil, fixedNow)
	if err := svc.Aggregate(ctx, companyID); err != nil {
		t.Fatalf("aggregate: %v", err)
	}

	got, err := store.GetCompanyByID(ctx, companyID)
	if err != nil {
		t.Fatalf("get company: %v", err)
	}
	if got.MaxScore != 9 {
		t.Fatalf("expected max score 9, got %d", got.MaxScore)
	}
	if got.StrongOfferCount != 2 {
		t.Fatalf("expected 2 strong offers (score>=6), got %d", got.StrongOfferCount)
	}
	if got.UniqueOfferCount != 3 {
		t.Fatalf("expected 3 unique offers, got %d", got.UniqueOfferCount)
	}
	if got.AvgStrongScore == nil || *got.AvgStrongScore != 7.5 {
		t.Fatalf("expected avg strong score 7.5, got %v", got.AvgStrongScore)
	}
}

func TestAggregateManyDedupesAndProcessesAll(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	c1 := newCompanyWithOffers(t, store, []int{4})
	c2 := newCompanyWithOffers(t, store, []int{8})

	svc := New(store, nil, fixedNow)
	result := svc.AggregateMany(ctx, []int64{c1, c2, c1})

	if result.OKCount != 2 {
		t.Fatalf("expected 2 ok (deduped), got %d", result.OKCount)
	}
	if result.FailedCount != 0 {
		t.Fatalf("expected 0 failed, got %d", result.FailedCount)
	}
}

func itoa(i int) string {
	digits := "0123456789"
	if i == 0 {
		return "0"
	}
	var b []byte
	for i > 0 {
		b = append([]byte{digits[i%10]}, b...)
		i /= 10
	}
	return string(b)
}
