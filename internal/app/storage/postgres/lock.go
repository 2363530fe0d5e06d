package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const globalLockName = "ingestion_cycle"

// AcquireRunLock inserts the single global lock row if absent, or reclaims it
// (delete-then-insert inside a transaction) if the existing row's
// expires_at is in the past. Returns false without error when a live lock is
// held by someone else.
func (s *Store) AcquireRunLock(ctx context.Context, ownerID string, ttl time.Duration) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin acquire run lock: %w", err)
	}
	defer tx.Rollback()

	var expiresAt time.Time
	err = tx.GetContext(ctx, &expiresAt, `SELECT expires_at FROM run_lock WHERE lock_name = $1 FOR UPDATE`, globalLockName)
	switch {
	case err == nil:
		if expiresAt.After(time.Now()) {
			return false, nil
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM run_lock WHERE lock_name = $1`, globalLockName); err != nil {
			return false, fmt.Errorf("reclaim run lock: %w", err)
		}
	case isNoRows(err):
		// No existing row; fall through to insert.
	default:
		return false, fmt.Errorf("check run lock: %w", err)
	}

	const insert = `INSERT INTO run_lock (lock_name, owner_id, acquired_at, expires_at) VALUES ($1, $2, now(), $3)`
	if _, err := tx.ExecContext(ctx, insert, globalLockName, ownerID, time.Now().Add(ttl)); err != nil {
		return false, fmt.Errorf("insert run lock: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit acquire run lock: %w", err)
	}
	return true, nil
}

// RefreshRunLock extends expires_at only if ownerID currently holds the lock.
func (s *Store) RefreshRunLock(ctx context.Context, ownerID string, ttl time.Duration) error {
	const q = `UPDATE run_lock SET expires_at = $3 WHERE lock_name = $1 AND owner_id = $2`
	res, err := s.db.ExecContext(ctx, q, globalLockName, ownerID, time.Now().Add(ttl))
	if err != nil {
		return fmt.Errorf("refresh run lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected refreshing run lock: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("refresh run lock: owner %s does not hold the lock", ownerID)
	}
	return nil
}

// ReleaseRunLock deletes the lock row only if ownerID currently holds it.
func (s *Store) ReleaseRunLock(ctx context.Context, ownerID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM run_lock WHERE lock_name = $1 AND owner_id = $2`, globalLockName, ownerID)
	if err != nil {
		return fmt.Errorf("release run lock: %w", err)
	}
	return nil
}

func (s *Store) SetClientPause(ctx context.Context, client string, until time.Time, reason string) error {
	const q = `
		INSERT INTO client_pause (client, paused_until, reason, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (client) DO UPDATE SET paused_until = EXCLUDED.paused_until, reason = EXCLUDED.reason, updated_at = now()`
	if _, err := s.db.ExecContext(ctx, q, client, until, reason); err != nil {
		return fmt.Errorf("set client pause %s: %w", client, err)
	}
	return nil
}

// IsClientPaused self-heals: an expired row is deleted before reporting false.
func (s *Store) IsClientPaused(ctx context.Context, client string) (bool, error) {
	var pausedUntil time.Time
	err := s.db.GetContext(ctx, &pausedUntil, `SELECT paused_until FROM client_pause WHERE client = $1`, client)
	if err != nil {
		if isNoRows(err) {
			return false, nil
		}
		return false, fmt.Errorf("check client pause %s: %w", client, err)
	}
	if pausedUntil.After(time.Now()) {
		return true, nil
	}
	if err := s.ClearClientPause(ctx, client); err != nil {
		return false, err
	}
	return false, nil
}

func (s *Store) ClearClientPause(ctx context.Context, client string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM client_pause WHERE client = $1`, client); err != nil {
		return fmt.Errorf("clear client pause %s: %w", client, err)
	}
	return nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
