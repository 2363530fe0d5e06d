package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/offerwatch/ingestor/internal/app/storage"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db), mock
}

func TestAcquireRunLockInsertsWhenNoRowExists(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT expires_at FROM run_lock WHERE lock_name = \$1 FOR UPDATE`).
		WithArgs(globalLockName).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(`INSERT INTO run_lock`).
		WithArgs(globalLockName, "owner-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	acquired, err := store.AcquireRunLock(context.Background(), "owner-1", 30*time.Minute)
	if err != nil {
		t.Fatalf("AcquireRunLock: %v", err)
	}
	if !acquired {
		t.Fatal("expected the lock to be acquired")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAcquireRunLockDeniedWhenHeldByAnotherOwner(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT expires_at FROM run_lock WHERE lock_name = \$1 FOR UPDATE`).
		WithArgs(globalLockName).
		WillReturnRows(sqlmock.NewRows([]string{"expires_at"}).AddRow(time.Now().Add(10 * time.Minute)))
	mock.ExpectRollback()

	acquired, err := store.AcquireRunLock(context.Background(), "owner-2", 30*time.Minute)
	if err != nil {
		t.Fatalf("AcquireRunLock: %v", err)
	}
	if acquired {
		t.Fatal("expected the lock to be denied while held and unexpired")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAcquireRunLockReclaimsExpiredRow(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT expires_at FROM run_lock WHERE lock_name = \$1 FOR UPDATE`).
		WithArgs(globalLockName).
		WillReturnRows(sqlmock.NewRows([]string{"expires_at"}).AddRow(time.Now().Add(-time.Minute)))
	mock.ExpectExec(`DELETE FROM run_lock WHERE lock_name = \$1`).
		WithArgs(globalLockName).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO run_lock`).
		WithArgs(globalLockName, "owner-3", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	acquired, err := store.AcquireRunLock(context.Background(), "owner-3", 30*time.Minute)
	if err != nil {
		t.Fatalf("AcquireRunLock: %v", err)
	}
	if !acquired {
		t.Fatal("expected the stale lock to be reclaimed")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestReleaseRunLockDeletesOwnedRow(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`DELETE FROM run_lock WHERE lock_name = \$1 AND owner_id = \$2`).
		WithArgs(globalLockName, "owner-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.ReleaseRunLock(context.Background(), "owner-1"); err != nil {
		t.Fatalf("ReleaseRunLock: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestIsClientPausedSelfHealsExpiredPause(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT paused_until FROM client_pause WHERE client = \$1`).
		WithArgs("greenhouse").
		WillReturnRows(sqlmock.NewRows([]string{"paused_until"}).AddRow(time.Now().Add(-time.Hour)))
	mock.ExpectExec(`DELETE FROM client_pause WHERE client = \$1`).
		WithArgs("greenhouse").
		WillReturnResult(sqlmock.NewResult(0, 1))

	paused, err := store.IsClientPaused(context.Background(), "greenhouse")
	if err != nil {
		t.Fatalf("IsClientPaused: %v", err)
	}
	if paused {
		t.Fatal("expected an expired pause to self-heal to false")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestIsClientPausedTrueWhenStillActive(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT paused_until FROM client_pause WHERE client = \$1`).
		WithArgs("marketplace").
		WillReturnRows(sqlmock.NewRows([]string{"paused_until"}).AddRow(time.Now().Add(time.Hour)))

	paused, err := store.IsClientPaused(context.Background(), "marketplace")
	if err != nil {
		t.Fatalf("IsClientPaused: %v", err)
	}
	if !paused {
		t.Fatal("expected an active pause to report true")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestIsClientPausedFalseWhenNoRow(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT paused_until FROM client_pause WHERE client = \$1`).
		WithArgs("ashbyhq").
		WillReturnError(sql.ErrNoRows)

	paused, err := store.IsClientPaused(context.Background(), "ashbyhq")
	if err != nil {
		t.Fatalf("IsClientPaused: %v", err)
	}
	if paused {
		t.Fatal("expected no row to report not paused")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestMarkQueryRunningReturnsNotFoundWhenNoRow(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE query_state SET status = \$2, last_run_at = now\(\) WHERE query_key = \$1`).
		WithArgs("greenhouse:engineering-remote:deadbeef", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.MarkQueryRunning(context.Background(), "greenhouse:engineering-remote:deadbeef")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreateRunReturnsGeneratedID(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`INSERT INTO ingestion_runs`).
		WithArgs("greenhouse", "greenhouse:engineering-remote:deadbeef", "running").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

	id, err := store.CreateRun(context.Background(), "greenhouse", "greenhouse:engineering-remote:deadbeef")
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if id != 42 {
		t.Fatalf("CreateRun id = %d, want 42", id)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetCompanyByIDReturnsNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`FROM companies WHERE id = \$1`).
		WithArgs(int64(999)).
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetCompanyByID(context.Background(), 999)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
