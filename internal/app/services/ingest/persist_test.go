package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/offerwatch/ingestor/internal/app/domain/company"
	"github.com/offerwatch/ingestor/internal/app/domain/match"
	"github.com/offerwatch/ingestor/internal/app/domain/offer"
	"github.com/offerwatch/ingestor/internal/app/domain/provider"
	"github.com/offerwatch/ingestor/internal/app/storage/memory"
)

type stubMatcher struct {
	score int
}

func (m stubMatcher) Score(ctx context.Context, o offer.Offer) (match.Match, error) {
	return match.Match{Score: m.score, ComputedAt: time.Now()}, nil
}

func fixedNow() time.Time { return time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC) }

func samplePayload(providerID, title, description string) provider.Offer {
	return provider.Offer{
		Ref:         provider.Ref{Provider: "marketplace", ID: providerID, URL: "https://x/" + providerID},
		Title:       title,
		Description: description,
		Company: provider.CompanyPayload{
			Name:          "Acme Corp",
			WebsiteDomain: "acme.com",
		},
	}
}

func TestPersistOfferInsertsNewCanonicalOffer(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := New(store, stubMatcher{score: 5}, fixedNow)

	outcome := svc.PersistOffer(ctx, samplePayload("1", "Backend Engineer", "Build things."), nil)
	if outcome.Result != ResultOK {
		t.Fatalf("expected ok, got %+v", outcome)
	}
	if outcome.OfferID == 0 || outcome.CompanyID == 0 {
		t.Fatalf("expected ids to be populated: %+v", outcome)
	}

	saved, err := store.GetOfferByID(ctx, outcome.OfferID)
	if err != nil {
		t.Fatalf("get offer: %v", err)
	}
	if !saved.IsCanonical() {
		t.Fatal("expected a fresh offer to be canonical")
	}
}

func TestPersistOfferUpdatesExistingByProviderID(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := New(store, nil, fixedNow)

	first := svc.PersistOffer(ctx, samplePayload("1", "Backend Engineer", "Build things."), nil)
	if first.Result != ResultOK {
		t.Fatalf("expected ok, got %+v", first)
	}

	updated := samplePayload("1", "Senior Backend Engineer", "Build more things.")
	second := svc.PersistOffer(ctx, updated, nil)
	if second.Result != ResultOK || second.OfferID != first.OfferID {
		t.Fatalf("expected update of the same offer, got %+v", second)
	}

	saved, _ := store.GetOfferByID(ctx, second.OfferID)
	if saved.Title != "Senior Backend Engineer" {
		t.Fatalf("expected overwritten title, got %q", saved.Title)
	}
}

func TestPersistOfferDetectsRepostByFingerprint(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := New(store, nil, fixedNow)

	first := svc.PersistOffer(ctx, samplePayload("1", "Backend Engineer", "Build things."), nil)
	if first.Result != ResultOK {
		t.Fatalf("expected ok, got %+v", first)
	}

	repost := svc.PersistOffer(ctx, samplePayload("2", "Backend Engineer", "Build things."), nil)
	if repost.Result != ResultRepostDuplicate {
		t.Fatalf("expected repost_duplicate, got %+v", repost)
	}
	if repost.CanonicalOfferID != first.OfferID {
		t.Fatalf("expected canonical id %d, got %d", first.OfferID, repost.CanonicalOfferID)
	}

	canonical, _ := store.GetOfferByID(ctx, first.OfferID)
	if canonical.RepostCount != 1 {
		t.Fatalf("expected repost count 1, got %d", canonical.RepostCount)
	}
}

func TestPersistOfferMissingDescriptionFromATS(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := New(store, nil, fixedNow)

	p := samplePayload("1", "Backend Engineer", "")
	p.Ref.Provider = "greenhouse"
	companyID := int64(1)

	outcome := svc.PersistOffer(ctx, p, &companyID)
	if outcome.Result != ResultMissingDescription {
		t.Fatalf("expected missing_description, got %+v", outcome)
	}
}

func TestPersistOfferCompanyUnidentifiableWithoutEvidence(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := New(store, nil, fixedNow)

	p := provider.Offer{
		Ref:         provider.Ref{Provider: "marketplace", ID: "1"},
		Title:       "Backend Engineer",
		Description: "Build things.",
	}

	outcome := svc.PersistOffer(ctx, p, nil)
	if outcome.Result != ResultCompanyUnidentified {
		t.Fatalf("expected company_unidentifiable, got %+v", outcome)
	}
}

func TestPersistOfferSkipsResolvedCompanies(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := New(store, nil, fixedNow)

	first := svc.PersistOffer(ctx, samplePayload("1", "Backend Engineer", "Build things."), nil)
	if first.Result != ResultOK {
		t.Fatalf("setup insert failed: %+v", first)
	}

	if err := store.UpdateCompanyResolution(ctx, first.CompanyID, company.ResolutionAccepted); err != nil {
		t.Fatalf("resolve company: %v", err)
	}

	outcome := svc.PersistOffer(ctx, samplePayload("2", "Another Role", "Different content entirely here."), nil)
	if outcome.Result != ResultCompanyResolved {
		t.Fatalf("expected company_resolved, got %+v", outcome)
	}
	if outcome.CompanyID != first.CompanyID {
		t.Fatal("expected the affected company id to still be reported")
	}
}
