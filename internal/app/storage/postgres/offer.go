package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/offerwatch/ingestor/internal/app/domain/match"
	"github.com/offerwatch/ingestor/internal/app/domain/offer"
	"github.com/offerwatch/ingestor/internal/app/storage"
)

type offerRow struct {
	ID                 int64          `db:"id"`
	Provider           string         `db:"provider"`
	ProviderOfferID    string         `db:"provider_offer_id"`
	OfferURL           string         `db:"offer_url"`
	CompanyID          int64          `db:"company_id"`
	Title              string         `db:"title"`
	Description        string         `db:"description"`
	Requirements       string         `db:"requirements"`
	PublishedAt        sql.NullTime   `db:"published_at"`
	SourceUpdatedAt    sql.NullTime   `db:"source_updated_at"`
	SourceCreatedAt    sql.NullTime   `db:"source_created_at"`
	CanonicalOfferID   sql.NullInt64  `db:"canonical_offer_id"`
	RepostCount        int            `db:"repost_count"`
	ContentFingerprint sql.NullString `db:"content_fingerprint"`
	LastSeenAt         time.Time      `db:"last_seen_at"`
	CreatedAt          time.Time      `db:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at"`
}

func (r offerRow) toDomain() offer.Offer {
	o := offer.Offer{
		ID:              r.ID,
		Provider:        r.Provider,
		ProviderOfferID: r.ProviderOfferID,
		OfferURL:        r.OfferURL,
		CompanyID:       r.CompanyID,
		Title:           r.Title,
		Description:     r.Description,
		Requirements:    r.Requirements,
		RepostCount:     r.RepostCount,
		LastSeenAt:      r.LastSeenAt,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
	if r.PublishedAt.Valid {
		o.PublishedAt = &r.PublishedAt.Time
	}
	if r.SourceUpdatedAt.Valid {
		o.SourceUpdatedAt = &r.SourceUpdatedAt.Time
	}
	if r.SourceCreatedAt.Valid {
		o.SourceCreatedAt = &r.SourceCreatedAt.Time
	}
	if r.CanonicalOfferID.Valid {
		o.CanonicalOfferID = &r.CanonicalOfferID.Int64
	}
	if r.ContentFingerprint.Valid {
		o.ContentFingerprint = &r.ContentFingerprint.String
	}
	return o
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullStringPtr(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

const offerColumns = `id, provider, provider_offer_id, offer_url, company_id, title, description, requirements,
	published_at, source_updated_at, source_created_at, canonical_offer_id, repost_count,
	content_fingerprint, last_seen_at, created_at, updated_at`

// UpsertOffer inserts a new canonical offer row, or — when an offer with the
// same (provider, provider_offer_id) already exists — overwrites its fields
// with overwrite semantics: a null incoming value becomes null in the store.
func (s *Store) UpsertOffer(ctx context.Context, o offer.Offer) (offer.Offer, error) {
	const q = `
		INSERT INTO offers (provider, provider_offer_id, offer_url, company_id, title, description,
			requirements, published_at, source_updated_at, source_created_at, canonical_offer_id,
			repost_count, content_fingerprint, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (provider, provider_offer_id) DO UPDATE SET
			offer_url = EXCLUDED.offer_url, title = EXCLUDED.title, description = EXCLUDED.description,
			requirements = EXCLUDED.requirements, published_at = EXCLUDED.published_at,
			source_updated_at = EXCLUDED.source_updated_at, source_created_at = EXCLUDED.source_created_at,
			last_seen_at = EXCLUDED.last_seen_at, updated_at = now()
		RETURNING ` + offerColumns
	var row offerRow
	err := s.db.GetContext(ctx, &row, q,
		o.Provider, o.ProviderOfferID, o.OfferURL, o.CompanyID, o.Title, o.Description, o.Requirements,
		nullTime(o.PublishedAt), nullTime(o.SourceUpdatedAt), nullTime(o.SourceCreatedAt),
		nullInt64(o.CanonicalOfferID), o.RepostCount, nullStringPtr(o.ContentFingerprint), o.LastSeenAt)
	if err != nil {
		return offer.Offer{}, fmt.Errorf("upsert offer %s/%s: %w", o.Provider, o.ProviderOfferID, err)
	}
	return row.toDomain(), nil
}

func (s *Store) GetOfferByProviderID(ctx context.Context, provider, providerOfferID string) (offer.Offer, error) {
	q := `SELECT ` + offerColumns + ` FROM offers WHERE provider = $1 AND provider_offer_id = $2`
	var row offerRow
	if err := s.db.GetContext(ctx, &row, q, provider, providerOfferID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return offer.Offer{}, storage.ErrNotFound
		}
		return offer.Offer{}, fmt.Errorf("get offer by provider id %s/%s: %w", provider, providerOfferID, err)
	}
	return row.toDomain(), nil
}

func (s *Store) GetOfferByID(ctx context.Context, id int64) (offer.Offer, error) {
	q := `SELECT ` + offerColumns + ` FROM offers WHERE id = $1`
	var row offerRow
	if err := s.db.GetContext(ctx, &row, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return offer.Offer{}, storage.ErrNotFound
		}
		return offer.Offer{}, fmt.Errorf("get offer %d: %w", id, err)
	}
	return row.toDomain(), nil
}

func (s *Store) UpdateOfferLastSeenAt(ctx context.Context, offerID int64, lastSeenAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE offers SET last_seen_at = $2, updated_at = now() WHERE id = $1`, offerID, lastSeenAt)
	if err != nil {
		return fmt.Errorf("update offer last_seen_at %d: %w", offerID, err)
	}
	return requireRowAffected(res, "offer", offerID)
}

func (s *Store) UpdateOfferCanonical(ctx context.Context, offerID int64, canonicalOfferID *int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE offers SET canonical_offer_id = $2, updated_at = now() WHERE id = $1`, offerID, nullInt64(canonicalOfferID))
	if err != nil {
		return fmt.Errorf("update offer canonical %d: %w", offerID, err)
	}
	return requireRowAffected(res, "offer", offerID)
}

func (s *Store) FindCanonicalOffersByFingerprint(ctx context.Context, companyID int64, fingerprint string) ([]offer.Offer, error) {
	q := `SELECT ` + offerColumns + ` FROM offers
		WHERE company_id = $1 AND canonical_offer_id IS NULL AND content_fingerprint = $2
		ORDER BY id`
	var rows []offerRow
	if err := s.db.SelectContext(ctx, &rows, q, companyID, fingerprint); err != nil {
		return nil, fmt.Errorf("find canonical offers by fingerprint: %w", err)
	}
	return toOffers(rows), nil
}

func (s *Store) ListCanonicalOffersForRepost(ctx context.Context, companyID int64) ([]offer.Offer, error) {
	q := `SELECT ` + offerColumns + ` FROM offers WHERE company_id = $1 AND canonical_offer_id IS NULL ORDER BY last_seen_at DESC`
	var rows []offerRow
	if err := s.db.SelectContext(ctx, &rows, q, companyID); err != nil {
		return nil, fmt.Errorf("list canonical offers for repost: %w", err)
	}
	return toOffers(rows), nil
}

func (s *Store) IncrementOfferRepostCount(ctx context.Context, canonicalID int64, lastSeenAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE offers SET repost_count = repost_count + 1, last_seen_at = $2, updated_at = now() WHERE id = $1 AND canonical_offer_id IS NULL`,
		canonicalID, lastSeenAt)
	if err != nil {
		return fmt.Errorf("increment repost count %d: %w", canonicalID, err)
	}
	return requireRowAffected(res, "offer", canonicalID)
}

func (s *Store) DeleteOffersForCompany(ctx context.Context, companyID int64) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM offers WHERE company_id = $1`, companyID)
	if err != nil {
		return 0, fmt.Errorf("delete offers for company %d: %w", companyID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected deleting offers for company %d: %w", companyID, err)
	}
	return int(n), nil
}

func (s *Store) ListCanonicalOffersWithMatches(ctx context.Context, companyID int64) ([]storage.OfferWithMatch, error) {
	const q = `
		SELECT o.id, o.provider, o.provider_offer_id, o.offer_url, o.company_id, o.title, o.description,
			o.requirements, o.published_at, o.source_updated_at, o.source_created_at, o.canonical_offer_id,
			o.repost_count, o.content_fingerprint, o.last_seen_at, o.created_at, o.updated_at,
			m.offer_id AS m_offer_id, m.score AS m_score, m.category_id AS m_category_id,
			m.detail AS m_detail, m.computed_at AS m_computed_at
		FROM offers o
		LEFT JOIN matches m ON m.offer_id = o.id
		WHERE o.company_id = $1 AND o.canonical_offer_id IS NULL
		ORDER BY o.id`

	type joined struct {
		offerRow
		MOfferID    sql.NullInt64  `db:"m_offer_id"`
		MScore      sql.NullInt64  `db:"m_score"`
		MCategoryID sql.NullInt64  `db:"m_category_id"`
		MDetail     sql.NullString `db:"m_detail"`
		MComputedAt sql.NullTime   `db:"m_computed_at"`
	}

	var rows []joined
	if err := s.db.SelectContext(ctx, &rows, q, companyID); err != nil {
		return nil, fmt.Errorf("list canonical offers with matches: %w", err)
	}

	out := make([]storage.OfferWithMatch, 0, len(rows))
	for _, r := range rows {
		owm := storage.OfferWithMatch{Offer: r.offerRow.toDomain()}
		if r.MOfferID.Valid {
			m := match.Match{OfferID: r.MOfferID.Int64, Score: int(r.MScore.Int64), Detail: r.MDetail.String}
			if r.MCategoryID.Valid {
				m.CategoryID = &r.MCategoryID.Int64
			}
			if r.MComputedAt.Valid {
				m.ComputedAt = r.MComputedAt.Time
			}
			owm.Match = &m
		}
		out = append(out, owm)
	}
	return out, nil
}

func toOffers(rows []offerRow) []offer.Offer {
	out := make([]offer.Offer, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out
}
