package store

import (
	"database/sql"

	"github.com/tuckborough/burrow/internal/membership"
)

// Store implements membership.Store on SQLite. Compound transitions run in
// a single transaction; the connection pool is capped at one connection, so
// transactions serialize rather than contend.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

var _ membership.Store = (*Store)(nil)
