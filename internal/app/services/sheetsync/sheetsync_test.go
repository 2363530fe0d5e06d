package sheetsync

import (
	"context"
	"testing"
	"time"

	"github.com/offerwatch/ingestor/internal/app/domain/company"
)

type fakeClient struct {
	header  [][]string
	data    [][]string
	appends [][]string
	updates map[string][]string
}

func newFakeClient(header [][]string, data [][]string) *fakeClient {
	return &fakeClient{header: header, data: data, updates: map[string][]string{}}
}

func (f *fakeClient) ReadRows(ctx context.Context, rangeA1 string) ([][]string, error) {
	if rangeA1 == HeaderRange {
		return f.header, nil
	}
	return f.data, nil
}

func (f *fakeClient) AppendRows(ctx context.Context, rangeA1 string, rows [][]string) error {
	if rangeA1 == HeaderRange {
		f.header = rows
		return nil
	}
	f.appends = append(f.appends, rows...)
	return nil
}

func (f *fakeClient) UpdateRange(ctx context.Context, rangeA1 string, row []string) error {
	f.updates[rangeA1] = row
	return nil
}

func TestEnsureHeaderWritesCanonicalHeaderWhenBlank(t *testing.T) {
	client := newFakeClient(nil, nil)
	svc := New(client, nil)

	if err := svc.EnsureHeader(context.Background()); err != nil {
		t.Fatalf("ensure header: %v", err)
	}
	if len(client.header) != 1 || len(client.header[0]) != len(Header) {
		t.Fatalf("expected canonical header written, got %v", client.header)
	}
}

func TestEnsureHeaderFailsFastOnMismatch(t *testing.T) {
	client := newFakeClient([][]string{{"Wrong", "Header"}}, nil)
	svc := New(client, nil)

	err := svc.EnsureHeader(context.Background())
	if err == nil {
		t.Fatal("expected a header mismatch error")
	}
}

func TestEnsureHeaderAcceptsExactMatch(t *testing.T) {
	client := newFakeClient([][]string{append([]string{}, Header...)}, nil)
	svc := New(client, nil)

	if err := svc.EnsureHeader(context.Background()); err != nil {
		t.Fatalf("expected exact header match to pass, got %v", err)
	}
}

func TestSyncAppendsNewCompany(t *testing.T) {
	client := newFakeClient(nil, nil)
	svc := New(client, nil)

	c := company.Company{ID: 42, DisplayName: "Acme", Resolution: company.ResolutionPending}
	result, err := svc.Sync(context.Background(), []company.Company{c})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if result.Appended != 1 {
		t.Fatalf("expected 1 appended row, got %d", result.Appended)
	}
	if len(client.appends) != 1 || client.appends[0][0] != "42" {
		t.Fatalf("expected appended row for company 42, got %v", client.appends)
	}
}

func TestSyncUpdatesOnlyMetricColumnsForExistingCompany(t *testing.T) {
	client := newFakeClient(nil, [][]string{{"42", "Acme", "PENDING", "", "0", "0", "0", "", "", ""}})
	svc := New(client, nil)

	last := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	c := company.Company{
		ID: 42, DisplayName: "Acme", Resolution: company.ResolutionHighInterest,
		MaxScore: 8, StrongOfferCount: 2, UniqueOfferCount: 3, OfferCount: 5,
		LastStrongAt: &last,
	}
	result, err := svc.Sync(context.Background(), []company.Company{c})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if result.Updated != 1 {
		t.Fatalf("expected 1 updated row, got %d", result.Updated)
	}
	row, ok := client.updates["Companies!D2:J2"]
	if !ok {
		t.Fatalf("expected an update to row 2, got %v", client.updates)
	}
	if row[0] != "8.0" {
		t.Fatalf("expected max score 8.0, got %q", row[0])
	}
	if row[6] != "2026-06-01" {
		t.Fatalf("expected last strong date formatted, got %q", row[6])
	}
	if len(client.appends) != 0 {
		t.Fatal("existing company must never be appended")
	}
}

func TestSyncFallsBackToRawCategoryIDWithoutCatalog(t *testing.T) {
	client := newFakeClient(nil, nil)
	svc := New(client, nil)

	categoryID := int64(7)
	c := company.Company{ID: 1, TopCategoryID: &categoryID}
	if _, err := svc.Sync(context.Background(), []company.Company{c}); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if client.appends[0][8] != "7" {
		t.Fatalf("expected fallback to raw category id, got %q", client.appends[0][8])
	}
}

type stubCatalog struct{ labels map[int64]string }

func (c stubCatalog) ResolveLabel(id int64) (string, bool) {
	label, ok := c.labels[id]
	return label, ok
}

func TestSyncResolvesCategoryLabelFromCatalog(t *testing.T) {
	client := newFakeClient(nil, nil)
	catalog := stubCatalog{labels: map[int64]string{7: "Engineering"}}
	svc := New(client, catalog)

	categoryID := int64(7)
	c := company.Company{ID: 1, TopCategoryID: &categoryID}
	if _, err := svc.Sync(context.Background(), []company.Company{c}); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if client.appends[0][8] != "Engineering" {
		t.Fatalf("expected catalog label, got %q", client.appends[0][8])
	}
}
