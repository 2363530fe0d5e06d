package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/offerwatch/ingestor/internal/app/domain/company"
	"github.com/offerwatch/ingestor/internal/app/storage"
)

type companyRow struct {
	ID                int64          `db:"id"`
	DisplayName       string         `db:"display_name"`
	RawName           string         `db:"raw_name"`
	NormalizedName    string         `db:"normalized_name"`
	WebsiteURL        string         `db:"website_url"`
	WebsiteDomain     string         `db:"website_domain"`
	MaxScore          int            `db:"max_score"`
	OfferCount        int            `db:"offer_count"`
	UniqueOfferCount  int            `db:"unique_offer_count"`
	StrongOfferCount  int            `db:"strong_offer_count"`
	AvgStrongScore    sql.NullFloat64 `db:"avg_strong_score"`
	TopCategoryID     sql.NullInt64  `db:"top_category_id"`
	TopOfferID        sql.NullInt64  `db:"top_offer_id"`
	CategoryMaxScores string         `db:"category_max_scores"`
	LastStrongAt      sql.NullTime   `db:"last_strong_at"`
	Resolution        string         `db:"resolution"`
	CreatedAt         time.Time      `db:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at"`
}

func (r companyRow) toDomain() company.Company {
	c := company.Company{
		ID:                r.ID,
		DisplayName:       r.DisplayName,
		RawName:           r.RawName,
		NormalizedName:    r.NormalizedName,
		WebsiteURL:        r.WebsiteURL,
		WebsiteDomain:     r.WebsiteDomain,
		MaxScore:          r.MaxScore,
		OfferCount:        r.OfferCount,
		UniqueOfferCount:  r.UniqueOfferCount,
		StrongOfferCount:  r.StrongOfferCount,
		CategoryMaxScores: r.CategoryMaxScores,
		Resolution:        company.Resolution(r.Resolution),
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
	if r.AvgStrongScore.Valid {
		c.AvgStrongScore = &r.AvgStrongScore.Float64
	}
	if r.TopCategoryID.Valid {
		c.TopCategoryID = &r.TopCategoryID.Int64
	}
	if r.TopOfferID.Valid {
		c.TopOfferID = &r.TopOfferID.Int64
	}
	if r.LastStrongAt.Valid {
		c.LastStrongAt = &r.LastStrongAt.Time
	}
	return c
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// UpsertCompany inserts a new company when c.ID is zero, or otherwise
// overwrites the identity columns of the row with that id using c's values
// as given. The actual identity resolution (which key to use, and whether
// to enrich or insert, without losing existing values) happens in
// internal/app/identity; this method just persists the already-decided row.
func (s *Store) UpsertCompany(ctx context.Context, c company.Company) (company.Company, error) {
	if c.ID != 0 {
		const q = `
			UPDATE companies SET
				display_name = $2, raw_name = $3, normalized_name = $4,
				website_url = $5, website_domain = $6, updated_at = now()
			WHERE id = $1
			RETURNING id, display_name, raw_name, normalized_name, website_url, website_domain,
				max_score, offer_count, unique_offer_count, strong_offer_count, avg_strong_score,
				top_category_id, top_offer_id, category_max_scores, last_strong_at, resolution,
				created_at, updated_at`
		var row companyRow
		if err := s.db.GetContext(ctx, &row, q, c.ID, c.DisplayName, c.RawName, c.NormalizedName, c.WebsiteURL, c.WebsiteDomain); err != nil {
			return company.Company{}, fmt.Errorf("update company %d: %w", c.ID, err)
		}
		return row.toDomain(), nil
	}

	const insert = `
		INSERT INTO companies (display_name, raw_name, normalized_name, website_url, website_domain, resolution)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, display_name, raw_name, normalized_name, website_url, website_domain,
			max_score, offer_count, unique_offer_count, strong_offer_count, avg_strong_score,
			top_category_id, top_offer_id, category_max_scores, last_strong_at, resolution,
			created_at, updated_at`
	resolution := c.Resolution
	if resolution == "" {
		resolution = company.ResolutionPending
	}
	var row companyRow
	if err := s.db.GetContext(ctx, &row, insert, c.DisplayName, c.RawName, c.NormalizedName, c.WebsiteURL, c.WebsiteDomain, string(resolution)); err != nil {
		return company.Company{}, fmt.Errorf("insert company: %w", err)
	}
	return row.toDomain(), nil
}

func (s *Store) UpsertCompanySource(ctx context.Context, src company.Source) (company.Source, error) {
	const q = `
		INSERT INTO company_sources (company_id, provider, provider_company_id, provider_url, hidden)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (provider, provider_company_id) WHERE provider_company_id IS NOT NULL
		DO UPDATE SET provider_url = EXCLUDED.provider_url, hidden = EXCLUDED.hidden
		RETURNING id, company_id, provider, provider_company_id, provider_url, hidden`
	var row struct {
		ID                int64          `db:"id"`
		CompanyID         int64          `db:"company_id"`
		Provider          string         `db:"provider"`
		ProviderCompanyID sql.NullString `db:"provider_company_id"`
		ProviderURL       sql.NullString `db:"provider_url"`
		Hidden            bool           `db:"hidden"`
	}
	if err := s.db.GetContext(ctx, &row, q, src.CompanyID, src.Provider, nullString(src.ProviderCompanyID), nullString(src.ProviderURL), src.Hidden); err != nil {
		return company.Source{}, fmt.Errorf("upsert company source: %w", err)
	}
	return company.Source{
		ID:                row.ID,
		CompanyID:         row.CompanyID,
		Provider:          row.Provider,
		ProviderCompanyID: row.ProviderCompanyID.String,
		ProviderURL:       row.ProviderURL.String,
		Hidden:            row.Hidden,
	}, nil
}

func (s *Store) GetCompanyByID(ctx context.Context, id int64) (company.Company, error) {
	return s.getCompany(ctx, "id", id)
}

func (s *Store) FindCompanyByDomain(ctx context.Context, domain string) (company.Company, error) {
	return s.getCompany(ctx, "website_domain", domain)
}

func (s *Store) FindCompanyByNormalizedName(ctx context.Context, normalizedName string) (company.Company, error) {
	return s.getCompany(ctx, "normalized_name", normalizedName)
}

func (s *Store) getCompany(ctx context.Context, column string, value any) (company.Company, error) {
	q := fmt.Sprintf(`
		SELECT id, display_name, raw_name, normalized_name, website_url, website_domain,
			max_score, offer_count, unique_offer_count, strong_offer_count, avg_strong_score,
			top_category_id, top_offer_id, category_max_scores, last_strong_at, resolution,
			created_at, updated_at
		FROM companies WHERE %s = $1`, column)
	var row companyRow
	if err := s.db.GetContext(ctx, &row, q, value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return company.Company{}, storage.ErrNotFound
		}
		return company.Company{}, fmt.Errorf("get company by %s: %w", column, err)
	}
	return row.toDomain(), nil
}

// UpdateCompanyAggregation persists exactly the aggregation columns plus
// updated_at, leaving resolution and identity columns untouched.
func (s *Store) UpdateCompanyAggregation(ctx context.Context, companyID int64, agg company.Aggregation) error {
	const q = `
		UPDATE companies SET
			max_score = $2, offer_count = $3, unique_offer_count = $4, strong_offer_count = $5,
			avg_strong_score = $6, top_category_id = $7, top_offer_id = $8,
			category_max_scores = $9, last_strong_at = $10, updated_at = now()
		WHERE id = $1`
	var avgStrong sql.NullFloat64
	if agg.AvgStrongScore != nil {
		avgStrong = sql.NullFloat64{Float64: *agg.AvgStrongScore, Valid: true}
	}
	var topCategory, topOffer sql.NullInt64
	if agg.TopCategoryID != nil {
		topCategory = sql.NullInt64{Int64: *agg.TopCategoryID, Valid: true}
	}
	if agg.TopOfferID != nil {
		topOffer = sql.NullInt64{Int64: *agg.TopOfferID, Valid: true}
	}
	var lastStrong sql.NullTime
	if agg.LastStrongAt != nil {
		lastStrong = sql.NullTime{Time: *agg.LastStrongAt, Valid: true}
	}
	res, err := s.db.ExecContext(ctx, q, companyID, agg.MaxScore, agg.OfferCount, agg.UniqueOfferCount,
		agg.StrongOfferCount, avgStrong, topCategory, topOffer, agg.CategoryMaxScores, lastStrong)
	if err != nil {
		return fmt.Errorf("update company aggregation %d: %w", companyID, err)
	}
	return requireRowAffected(res, "company", companyID)
}

func (s *Store) UpdateCompanyResolution(ctx context.Context, companyID int64, resolution company.Resolution) error {
	const q = `UPDATE companies SET resolution = $2, updated_at = now() WHERE id = $1`
	res, err := s.db.ExecContext(ctx, q, companyID, string(resolution))
	if err != nil {
		return fmt.Errorf("update company resolution %d: %w", companyID, err)
	}
	return requireRowAffected(res, "company", companyID)
}

func (s *Store) ListAllCompanies(ctx context.Context) ([]company.Company, error) {
	const q = `
		SELECT id, display_name, raw_name, normalized_name, website_url, website_domain,
			max_score, offer_count, unique_offer_count, strong_offer_count, avg_strong_score,
			top_category_id, top_offer_id, category_max_scores, last_strong_at, resolution,
			created_at, updated_at
		FROM companies ORDER BY id`
	var rows []companyRow
	if err := s.db.SelectContext(ctx, &rows, q); err != nil {
		return nil, fmt.Errorf("list all companies: %w", err)
	}
	out := make([]company.Company, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *Store) ListCompaniesNeedingATSDiscovery(ctx context.Context, provider string) ([]company.Company, error) {
	const q = `
		SELECT c.id, c.display_name, c.raw_name, c.normalized_name, c.website_url, c.website_domain,
			c.max_score, c.offer_count, c.unique_offer_count, c.strong_offer_count, c.avg_strong_score,
			c.top_category_id, c.top_offer_id, c.category_max_scores, c.last_strong_at, c.resolution,
			c.created_at, c.updated_at
		FROM companies c
		WHERE c.resolution NOT IN ('ACCEPTED', 'REJECTED', 'ALREADY_REVOLUT')
		AND NOT EXISTS (
			SELECT 1 FROM company_sources cs WHERE cs.company_id = c.id AND cs.provider = $1
		)
		ORDER BY c.id`
	var rows []companyRow
	if err := s.db.SelectContext(ctx, &rows, q, provider); err != nil {
		return nil, fmt.Errorf("list companies needing ats discovery: %w", err)
	}
	out := make([]company.Company, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// RecordCompanyFeedbackEvent appends one row to the audit trail of applied
// resolution changes.
func (s *Store) RecordCompanyFeedbackEvent(ctx context.Context, ev company.FeedbackEvent) error {
	const q = `
		INSERT INTO company_feedback_events (company_id, from_state, to_state, category, applied_at)
		VALUES ($1, $2, $3, $4, now())`
	if _, err := s.db.ExecContext(ctx, q, ev.CompanyID, string(ev.From), string(ev.To), ev.Category); err != nil {
		return fmt.Errorf("record feedback event for company %d: %w", ev.CompanyID, err)
	}
	return nil
}

func requireRowAffected(res sql.Result, entity string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for %s %d: %w", entity, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %d", storage.ErrNotFound, entity, id)
	}
	return nil
}
