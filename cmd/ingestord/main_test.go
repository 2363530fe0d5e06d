package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/offerwatch/ingestor/internal/app/services/scheduler"
)

func TestExitCodeZeroWhenNoFailures(t *testing.T) {
	got := exitCode(scheduler.CycleSummary{LockAcquired: true, QueriesRun: 3})
	if got != 0 {
		t.Fatalf("exitCode() = %d, want 0", got)
	}
}

func TestExitCodeZeroWhenLockNotAcquired(t *testing.T) {
	got := exitCode(scheduler.CycleSummary{})
	if got != 0 {
		t.Fatalf("exitCode() = %d, want 0", got)
	}
}

func TestExitCodeOneWhenAnyQueryFailed(t *testing.T) {
	got := exitCode(scheduler.CycleSummary{LockAcquired: true, QueriesRun: 2, QueriesFailed: 1})
	if got != 1 {
		t.Fatalf("exitCode() = %d, want 1", got)
	}
}

func TestLoadQueriesMissingFileYieldsEmptyRegistry(t *testing.T) {
	queries, err := loadQueries(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("loadQueries: %v", err)
	}
	if len(queries) != 0 {
		t.Fatalf("expected empty registry, got %d entries", len(queries))
	}
}

func TestLoadQueriesParsesDeclaredEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queries.yaml")
	content := `
queries:
  - client: greenhouse
    name: engineering-remote
    params:
      location: remote
  - client: marketplace
    name: default-search
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	queries, err := loadQueries(path)
	if err != nil {
		t.Fatalf("loadQueries: %v", err)
	}
	if len(queries) != 2 {
		t.Fatalf("expected 2 queries, got %d", len(queries))
	}
	if queries[0].Client != "greenhouse" || queries[0].Name != "engineering-remote" {
		t.Fatalf("unexpected first query: %+v", queries[0])
	}
	if queries[0].Params["location"] != "remote" {
		t.Fatalf("expected location param to round-trip, got %+v", queries[0].Params)
	}
	if queries[1].Client != "marketplace" || queries[1].Name != "default-search" {
		t.Fatalf("unexpected second query: %+v", queries[1])
	}
}

func TestLoadQueriesRejectsEntryMissingClientOrName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queries.yaml")
	content := `
queries:
  - name: no-client
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	if _, err := loadQueries(path); err == nil {
		t.Fatal("expected an error for an entry missing its client")
	}
}

func TestLoadQueriesRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queries.yaml")
	if err := os.WriteFile(path, []byte("queries: [this is not valid"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	if _, err := loadQueries(path); err == nil {
		t.Fatal("expected a parse error for malformed YAML")
	}
}

func TestUnwiredRunnerReturnsFatalConfigError(t *testing.T) {
	run := unwiredRunner("greenhouse")
	_, err := run(context.Background())
	if err == nil {
		t.Fatal("expected the unwired runner to return an error")
	}
	if !strings.Contains(err.Error(), "invalid config") {
		t.Fatalf("expected the error to carry the fatal config marker, got: %v", err)
	}
	if scheduler.Classify(err) != scheduler.ErrorFatal {
		t.Fatalf("expected the unwired runner's error to classify as FATAL, got %s", scheduler.Classify(err))
	}
}
