// Package sheetsync pushes current company metrics out to the curated
// external sheet: header enforcement, append-new-row, and
// update-metric-columns-only for existing rows.
package sheetsync

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/offerwatch/ingestor/internal/app/domain/company"
)

// HeaderRange and DataRange bound the sheet's fixed 10-column layout.
const (
	HeaderRange = "Companies!A1:J1"
	DataRange   = "Companies!A2:J"
	firstRow    = 2 // row 1 is the header; data starts at row 2
)

// Header is the canonical Spanish column contract, compared exactly
// (trimmed, case-sensitive) against whatever the sheet already has.
var Header = []string{
	"ID Empresa",
	"Empresa",
	"Resolución",
	"Score máx.",
	"Ofertas fuertes",
	"Ofertas únicas",
	"Actividad publicación",
	"Score medio fuerte",
	"Categoría principal",
	"Última oferta fuerte",
}

// Resolutions lists the values allowed in the resolution column. This
// package does not install a validation rule on the sheet; Client has no
// call for it.
var Resolutions = company.Resolutions

// appendChunkSize bounds how many rows are appended per API call.
const appendChunkSize = 500

// Client is the transport boundary to the external sheet. Concrete wiring
// (e.g. a Sheets API client) is out of scope; callers supply their own.
type Client interface {
	ReadRows(ctx context.Context, rangeA1 string) ([][]string, error)
	AppendRows(ctx context.Context, rangeA1 string, rows [][]string) error
	UpdateRange(ctx context.Context, rangeA1 string, row []string) error
}

// CategoryResolver maps a category id to its display label. Missing from
// the catalog, it falls back to the raw id; missing entirely, to empty.
type CategoryResolver interface {
	ResolveLabel(categoryID int64) (string, bool)
}

// ErrHeaderMismatch indicates the sheet's header row doesn't match the
// canonical contract and needs manual reconciliation.
type ErrHeaderMismatch struct {
	Got []string
}

func (e *ErrHeaderMismatch) Error() string {
	return fmt.Sprintf("sheet header mismatch: got %v, want %v", e.Got, Header)
}

// Result counts the outcome of one sync pass. Every field is best-effort:
// a write failure here never fails the ingestion cycle that triggered it.
type Result struct {
	Appended int
	Updated  int
	Failed   int
}

// Service drives the sheet sync against a Client and an optional catalog.
type Service struct {
	client  Client
	catalog CategoryResolver
}

// New builds a Service. catalog may be nil, in which case category labels
// fall back to the raw category id.
func New(client Client, catalog CategoryResolver) *Service {
	return &Service{client: client, catalog: catalog}
}

// EnsureHeader reads the header row; if the sheet is blank it writes the
// canonical header, otherwise it fails fast on any mismatch.
func (s *Service) EnsureHeader(ctx context.Context) error {
	rows, err := s.client.ReadRows(ctx, HeaderRange)
	if err != nil {
		return fmt.Errorf("read header row: %w", err)
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return s.client.AppendRows(ctx, HeaderRange, [][]string{Header})
	}
	got := trimAll(rows[0])
	if !equalHeaders(got, Header) {
		return &ErrHeaderMismatch{Got: got}
	}
	return nil
}

func trimAll(cells []string) []string {
	out := make([]string, len(cells))
	for i, c := range cells {
		out[i] = strings.TrimSpace(c)
	}
	return out
}

func equalHeaders(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range want {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

// Sync appends one row per company the sheet doesn't yet have and updates
// metric columns D-J for companies it already does, never touching columns
// A-C (id, name, resolution) on an existing row.
func (s *Service) Sync(ctx context.Context, companies []company.Company) (Result, error) {
	existing, err := s.client.ReadRows(ctx, DataRange)
	if err != nil {
		return Result{}, fmt.Errorf("read existing rows: %w", err)
	}
	rowIndexByCompanyID := buildRowIndex(existing)

	var result Result
	var toAppend [][]string

	for _, c := range companies {
		if row, present := rowIndexByCompanyID[c.ID]; present {
			result.Updated, result.Failed = s.updateMetrics(ctx, row, c, result.Updated, result.Failed)
			continue
		}
		toAppend = append(toAppend, s.newRow(c))
	}

	for _, chunk := range chunkRows(toAppend, appendChunkSize) {
		if err := s.client.AppendRows(ctx, DataRange, chunk); err != nil {
			result.Failed += len(chunk)
			continue
		}
		result.Appended += len(chunk)
	}

	return result, nil
}

func (s *Service) updateMetrics(ctx context.Context, sheetRow int, c company.Company, updated, failed int) (int, int) {
	rangeA1 := fmt.Sprintf("Companies!D%d:J%d", sheetRow, sheetRow)
	if err := s.client.UpdateRange(ctx, rangeA1, s.metricColumns(c)); err != nil {
		return updated, failed + 1
	}
	return updated + 1, failed
}

// newRow builds the fixed 10-column row for a company not yet on the sheet.
func (s *Service) newRow(c company.Company) []string {
	resolution := c.Resolution
	if resolution == "" {
		resolution = company.ResolutionPending
	}
	row := []string{
		strconv.FormatInt(c.ID, 10),
		c.DisplayName,
		string(resolution),
	}
	return append(row, s.metricColumns(c)...)
}

// metricColumns builds columns D-J: max score, strong offers, unique
// offers, activity, avg strong score, top category label, last strong date.
func (s *Service) metricColumns(c company.Company) []string {
	return []string{
		formatScore(c.MaxScore),
		strconv.Itoa(c.StrongOfferCount),
		strconv.Itoa(c.UniqueOfferCount),
		strconv.Itoa(c.OfferCount),
		formatAvgScore(c.AvgStrongScore),
		s.categoryLabel(c.TopCategoryID),
		formatLastStrongDate(c),
	}
}

func formatScore(score int) string {
	if score == 0 {
		return ""
	}
	return strconv.FormatFloat(float64(score), 'f', 1, 64)
}

func formatAvgScore(avg *float64) string {
	if avg == nil {
		return ""
	}
	return strconv.FormatFloat(*avg, 'f', 1, 64)
}

func formatLastStrongDate(c company.Company) string {
	if c.LastStrongAt == nil {
		return ""
	}
	return c.LastStrongAt.Format("2006-01-02")
}

func (s *Service) categoryLabel(categoryID *int64) string {
	if categoryID == nil {
		return ""
	}
	if s.catalog != nil {
		if label, ok := s.catalog.ResolveLabel(*categoryID); ok && label != "" {
			return label
		}
	}
	return strconv.FormatInt(*categoryID, 10)
}

// buildRowIndex maps company id to its 1-based spreadsheet row number from
// the raw data rows (row 1 is the header, so data starts at row 2).
func buildRowIndex(rows [][]string) map[int64]int {
	index := make(map[int64]int, len(rows))
	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		id, err := strconv.ParseInt(strings.TrimSpace(row[0]), 10, 64)
		if err != nil {
			continue
		}
		index[id] = firstRow + i
	}
	return index
}

func chunkRows(rows [][]string, size int) [][][]string {
	if len(rows) == 0 {
		return nil
	}
	var chunks [][][]string
	for start := 0; start < len(rows); start += size {
		end := start + size
		if end > len(rows) {
			end = len(rows)
		}
		chunks = append(chunks, rows[start:end])
	}
	return chunks
}
