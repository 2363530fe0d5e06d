package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/offerwatch/ingestor/internal/app/domain/match"
)

// UpsertMatch writes the current scoring result for a canonical offer. A
// repost never calls this: no new canonical row exists for it to attach to.
func (s *Store) UpsertMatch(ctx context.Context, m match.Match) error {
	const q = `
		INSERT INTO matches (offer_id, score, category_id, detail, computed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (offer_id) DO UPDATE SET
			score = EXCLUDED.score, category_id = EXCLUDED.category_id,
			detail = EXCLUDED.detail, computed_at = EXCLUDED.computed_at`
	var categoryID sql.NullInt64
	if m.CategoryID != nil {
		categoryID = sql.NullInt64{Int64: *m.CategoryID, Valid: true}
	}
	if _, err := s.db.ExecContext(ctx, q, m.OfferID, m.Score, categoryID, m.Detail, m.ComputedAt); err != nil {
		return fmt.Errorf("upsert match for offer %d: %w", m.OfferID, err)
	}
	return nil
}
