// Package feedback implements the read-sheet/compare/classify/apply cycle
// that lets a human curator's resolution edits flow back into the store.
package feedback

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/offerwatch/ingestor/internal/app/domain/company"
	"github.com/offerwatch/ingestor/internal/app/metrics"
	"github.com/offerwatch/ingestor/internal/app/storage"
	logging "github.com/offerwatch/ingestor/pkg/logger"
)

const (
	windowStartHour = 3
	windowEndHour   = 6
	timeZoneName    = "Europe/Madrid"
)

// SheetReader reads only the company id and resolution columns from the
// external sheet. Transport is out of scope for this module.
type SheetReader interface {
	ReadResolutions(ctx context.Context) (ReadResult, error)
}

// ReadResult is the defensively-parsed output of a sheet read.
type ReadResult struct {
	Resolutions   map[int64]company.Resolution
	TotalRows     int
	ValidRows     int
	InvalidRows   int
	DuplicateRows int
}

// Category classifies a resolution change by its consequence.
type Category string

const (
	CategoryDestructive   Category = "destructive"
	CategoryReversal      Category = "reversal"
	CategoryInformational Category = "informational"
)

// Change is one company's resolution diff between store and sheet.
type Change struct {
	CompanyID int64
	From      company.Resolution
	To        company.Resolution
	Category  Category
}

// Result summarizes one feedback cycle for the single audit log entry.
type Result struct {
	Skipped    bool
	SkipReason string
	Read       ReadResult
	Unchanged  int
	Ignored    int
	Changes    []Change

	ResolutionsAttempted int
	ResolutionsUpdated   int
	ResolutionsSkipped   int
	ResolutionsFailed    int

	DeletionsAttempted int
	OffersDeleted      int
	DeletionsFailed    int
}

// Service runs the feedback cycle against a store and sheet reader.
type Service struct {
	store storage.Store
	sheet SheetReader
	now   func() time.Time
}

// New builds a Service. now defaults to time.Now when nil.
func New(store storage.Store, sheet SheetReader, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{store: store, sheet: sheet, now: now}
}

// WindowOpen reports whether the given instant falls inside the daily
// 03:00-06:00 Europe/Madrid maintenance window.
func WindowOpen(at time.Time) bool {
	loc, err := time.LoadLocation(timeZoneName)
	if err != nil {
		loc = time.UTC
	}
	hour := at.In(loc).Hour()
	return hour >= windowStartHour && hour < windowEndHour
}

// Process runs one feedback cycle: gated by the window, it reads the sheet,
// compares against the store, classifies every difference, and applies
// resolution updates plus cascading offer deletion for destructive changes.
func (s *Service) Process(ctx context.Context, log *logging.Logger) (Result, error) {
	now := s.now()
	if !WindowOpen(now) {
		return Result{Skipped: true, SkipReason: "outside feedback window"}, nil
	}

	read, err := s.sheet.ReadResolutions(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("read sheet resolutions: %w", err)
	}
	if !WindowOpen(s.now()) {
		return Result{Skipped: true, SkipReason: "window closed during read"}, nil
	}

	changes, ignored, unchanged, err := s.compare(ctx, read.Resolutions)
	if err != nil {
		return Result{}, err
	}

	result := Result{
		Read:      read,
		Unchanged: unchanged,
		Ignored:   ignored,
		Changes:   changes,
	}
	s.apply(ctx, changes, &result)

	if log != nil {
		log.WithFields(logging.Fields{
			"window_open":           true,
			"total_rows":            read.TotalRows,
			"valid_rows":            read.ValidRows,
			"invalid_rows":          read.InvalidRows,
			"duplicate_rows":        read.DuplicateRows,
			"unchanged":             unchanged,
			"ignored":               ignored,
			"changes":               len(changes),
			"resolutions_attempted": result.ResolutionsAttempted,
			"resolutions_updated":   result.ResolutionsUpdated,
			"resolutions_skipped":   result.ResolutionsSkipped,
			"resolutions_failed":    result.ResolutionsFailed,
			"deletions_attempted":   result.DeletionsAttempted,
			"offers_deleted":        result.OffersDeleted,
			"deletions_failed":      result.DeletionsFailed,
		}).Info("feedback cycle audit")
	}

	return result, nil
}

func (s *Service) compare(ctx context.Context, sheetResolutions map[int64]company.Resolution) ([]Change, int, int, error) {
	companies, err := s.store.ListAllCompanies(ctx)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("list companies for comparison: %w", err)
	}
	current := make(map[int64]company.Resolution, len(companies))
	for _, c := range companies {
		current[c.ID] = c.Resolution
	}

	var changes []Change
	unchanged := 0
	ignored := 0

	for id, to := range sheetResolutions {
		from, known := current[id]
		if !known {
			ignored++
			continue
		}
		if from == to {
			unchanged++
			continue
		}
		changes = append(changes, Change{CompanyID: id, From: from, To: to, Category: classify(from, to)})
	}

	sort.Slice(changes, func(i, j int) bool { return changes[i].CompanyID < changes[j].CompanyID })
	return changes, ignored, unchanged, nil
}

func classify(from, to company.Resolution) Category {
	fromResolved := company.IsResolved(from)
	toResolved := company.IsResolved(to)
	switch {
	case !fromResolved && toResolved:
		return CategoryDestructive
	case fromResolved && !toResolved:
		return CategoryReversal
	default:
		return CategoryInformational
	}
}

func (s *Service) apply(ctx context.Context, changes []Change, result *Result) {
	for _, change := range changes {
		result.ResolutionsAttempted++
		if err := s.store.UpdateCompanyResolution(ctx, change.CompanyID, change.To); err != nil {
			result.ResolutionsFailed++
			continue
		}
		result.ResolutionsUpdated++
		metrics.RecordFeedbackApply(string(change.Category))
		// Audit trail only; a failure to record it never undoes the change.
		_ = s.store.RecordCompanyFeedbackEvent(ctx, company.FeedbackEvent{
			CompanyID: change.CompanyID,
			From:      change.From,
			To:        change.To,
			Category:  string(change.Category),
		})
	}

	for _, change := range changes {
		if change.Category != CategoryDestructive {
			continue
		}
		result.DeletionsAttempted++
		n, err := s.store.DeleteOffersForCompany(ctx, change.CompanyID)
		if err != nil {
			result.DeletionsFailed++
			continue
		}
		result.OffersDeleted += n
	}
}
