// Package postgres implements storage.Store against PostgreSQL using sqlx.
package postgres

import (
	"database/sql"

	"github.com/jmoiron/sqlx"
)

// Store is the sqlx-backed implementation of storage.Store.
type Store struct {
	db *sqlx.DB
}

// New wraps an already-opened *sql.DB (see internal/platform/database.Open)
// in a sqlx handle.
func New(db *sql.DB) *Store {
	return &Store{db: sqlx.NewDb(db, "postgres")}
}
