package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/offerwatch/ingestor/internal/app/domain/ingestion"
	"github.com/offerwatch/ingestor/internal/app/storage"
)

func (s *Store) CreateRun(ctx context.Context, provider, queryFingerprint string) (int64, error) {
	const q = `
		INSERT INTO ingestion_runs (provider, query_fingerprint, started_at, status)
		VALUES ($1, $2, now(), $3)
		RETURNING id`
	var id int64
	if err := s.db.GetContext(ctx, &id, q, provider, queryFingerprint, string(ingestion.RunStatusRunning)); err != nil {
		return 0, fmt.Errorf("create run for %s: %w", queryFingerprint, err)
	}
	return id, nil
}

func (s *Store) FinishRun(ctx context.Context, runID int64, status ingestion.RunStatus, c ingestion.Counters) error {
	const q = `
		UPDATE ingestion_runs SET
			finished_at = now(), status = $2,
			pages_fetched = $3, offers_fetched = $4, offers_upserted = $5, duplicates = $6,
			skipped = $7, failed = $8, companies_aggregated = $9, companies_failed = $10,
			rate_limit_hits = $11, error_count = $12
		WHERE id = $1`
	res, err := s.db.ExecContext(ctx, q, runID, string(status),
		c.PagesFetched, c.OffersFetched, c.OffersUpserted, c.Duplicates, c.Skipped, c.Failed,
		c.CompaniesAggregated, c.CompaniesFailed, c.RateLimitHits, c.ErrorCount)
	if err != nil {
		return fmt.Errorf("finish run %d: %w", runID, err)
	}
	return requireRowAffected(res, "ingestion_run", runID)
}

func (s *Store) GetLatestRunByQueryKey(ctx context.Context, queryKey string) (ingestion.Run, error) {
	const q = `
		SELECT id, provider, query_fingerprint, started_at, finished_at, status,
			pages_fetched, offers_fetched, offers_upserted, duplicates, skipped, failed,
			companies_aggregated, companies_failed, rate_limit_hits, error_count
		FROM ingestion_runs WHERE query_fingerprint = $1 ORDER BY started_at DESC LIMIT 1`
	var row struct {
		ID                  int64        `db:"id"`
		Provider            string       `db:"provider"`
		QueryFingerprint    string       `db:"query_fingerprint"`
		StartedAt           time.Time    `db:"started_at"`
		FinishedAt          sql.NullTime `db:"finished_at"`
		Status              string       `db:"status"`
		PagesFetched        int          `db:"pages_fetched"`
		OffersFetched       int          `db:"offers_fetched"`
		OffersUpserted      int          `db:"offers_upserted"`
		Duplicates          int          `db:"duplicates"`
		Skipped             int          `db:"skipped"`
		Failed              int          `db:"failed"`
		CompaniesAggregated int          `db:"companies_aggregated"`
		CompaniesFailed     int          `db:"companies_failed"`
		RateLimitHits       int          `db:"rate_limit_hits"`
		ErrorCount          int          `db:"error_count"`
	}
	if err := s.db.GetContext(ctx, &row, q, queryKey); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ingestion.Run{}, storage.ErrNotFound
		}
		return ingestion.Run{}, fmt.Errorf("get latest run for %s: %w", queryKey, err)
	}
	run := ingestion.Run{
		ID:               row.ID,
		Provider:         row.Provider,
		QueryFingerprint: row.QueryFingerprint,
		StartedAt:        row.StartedAt,
		Status:           ingestion.RunStatus(row.Status),
		Counters: ingestion.Counters{
			PagesFetched:        row.PagesFetched,
			OffersFetched:       row.OffersFetched,
			OffersUpserted:      row.OffersUpserted,
			Duplicates:          row.Duplicates,
			Skipped:             row.Skipped,
			Failed:              row.Failed,
			CompaniesAggregated: row.CompaniesAggregated,
			CompaniesFailed:     row.CompaniesFailed,
			RateLimitHits:       row.RateLimitHits,
			ErrorCount:          row.ErrorCount,
		},
	}
	if row.FinishedAt.Valid {
		run.FinishedAt = &row.FinishedAt.Time
	}
	return run, nil
}

func (s *Store) EnsureQueryState(ctx context.Context, queryKey, client, name string) error {
	const q = `
		INSERT INTO query_state (query_key, client, name, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (query_key) DO NOTHING`
	if _, err := s.db.ExecContext(ctx, q, queryKey, client, name, string(ingestion.QueryStatusIdle)); err != nil {
		return fmt.Errorf("ensure query state %s: %w", queryKey, err)
	}
	return nil
}

func (s *Store) GetQueryState(ctx context.Context, queryKey string) (ingestion.QueryState, error) {
	const q = `
		SELECT query_key, client, name, status, last_run_at, last_success_at, last_error_at,
			consecutive_failures, last_error_code, last_error_message, last_processed_date
		FROM query_state WHERE query_key = $1`
	var row struct {
		QueryKey            string         `db:"query_key"`
		Client              string         `db:"client"`
		Name                string         `db:"name"`
		Status              string         `db:"status"`
		LastRunAt           sql.NullTime   `db:"last_run_at"`
		LastSuccessAt       sql.NullTime   `db:"last_success_at"`
		LastErrorAt         sql.NullTime   `db:"last_error_at"`
		ConsecutiveFailures int            `db:"consecutive_failures"`
		LastErrorCode       sql.NullString `db:"last_error_code"`
		LastErrorMessage    sql.NullString `db:"last_error_message"`
		LastProcessedDate   sql.NullTime   `db:"last_processed_date"`
	}
	if err := s.db.GetContext(ctx, &row, q, queryKey); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ingestion.QueryState{}, storage.ErrNotFound
		}
		return ingestion.QueryState{}, fmt.Errorf("get query state %s: %w", queryKey, err)
	}
	st := ingestion.QueryState{
		QueryKey:            row.QueryKey,
		Client:              row.Client,
		Name:                row.Name,
		Status:              ingestion.QueryStatus(row.Status),
		ConsecutiveFailures: row.ConsecutiveFailures,
		LastErrorCode:       row.LastErrorCode.String,
		LastErrorMessage:    row.LastErrorMessage.String,
	}
	if row.LastRunAt.Valid {
		st.LastRunAt = &row.LastRunAt.Time
	}
	if row.LastSuccessAt.Valid {
		st.LastSuccessAt = &row.LastSuccessAt.Time
	}
	if row.LastErrorAt.Valid {
		st.LastErrorAt = &row.LastErrorAt.Time
	}
	if row.LastProcessedDate.Valid {
		st.LastProcessedDate = &row.LastProcessedDate.Time
	}
	return st, nil
}

func (s *Store) MarkQueryRunning(ctx context.Context, queryKey string) error {
	const q = `UPDATE query_state SET status = $2, last_run_at = now() WHERE query_key = $1`
	res, err := s.db.ExecContext(ctx, q, queryKey, string(ingestion.QueryStatusRunning))
	if err != nil {
		return fmt.Errorf("mark query running %s: %w", queryKey, err)
	}
	return requireRowAffectedStr(res, "query_state", queryKey)
}

func (s *Store) MarkQuerySuccess(ctx context.Context, queryKey string, at time.Time) error {
	const q = `
		UPDATE query_state SET status = $2, last_success_at = $3, consecutive_failures = 0,
			last_error_code = NULL, last_error_message = NULL
		WHERE query_key = $1`
	res, err := s.db.ExecContext(ctx, q, queryKey, string(ingestion.QueryStatusSuccess), at)
	if err != nil {
		return fmt.Errorf("mark query success %s: %w", queryKey, err)
	}
	return requireRowAffectedStr(res, "query_state", queryKey)
}

func (s *Store) MarkQueryError(ctx context.Context, queryKey, code, message string, at time.Time) error {
	const q = `
		UPDATE query_state SET status = $2, last_error_at = $3, last_error_code = $4,
			last_error_message = $5, consecutive_failures = consecutive_failures + 1
		WHERE query_key = $1`
	res, err := s.db.ExecContext(ctx, q, queryKey, string(ingestion.QueryStatusError), at, code, message)
	if err != nil {
		return fmt.Errorf("mark query error %s: %w", queryKey, err)
	}
	return requireRowAffectedStr(res, "query_state", queryKey)
}

func (s *Store) ListQueryStates(ctx context.Context) ([]ingestion.QueryState, error) {
	keys, err := s.allQueryKeys(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ingestion.QueryState, 0, len(keys))
	for _, k := range keys {
		st, err := s.GetQueryState(ctx, k)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

func (s *Store) allQueryKeys(ctx context.Context) ([]string, error) {
	var keys []string
	if err := s.db.SelectContext(ctx, &keys, `SELECT query_key FROM query_state ORDER BY query_key`); err != nil {
		return nil, fmt.Errorf("list query keys: %w", err)
	}
	return keys, nil
}

func requireRowAffectedStr(res sql.Result, entity, key string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for %s %s: %w", entity, key, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %s", storage.ErrNotFound, entity, key)
	}
	return nil
}
