// Package postgres implements the ledger store on PostgreSQL. Per-user
// serialization is a row lock on the profile (SELECT ... FOR UPDATE); replay
// detection is the unique index on (user_id, reason, dedup_key).
package postgres

import (
	"database/sql"

	"github.com/herohabits/hpledger/internal/repos/ledger"
)

var _ ledger.Store = (*Store)(nil)

type Store struct{ db *sql.DB }

func New(db *sql.DB) *Store {
	return &Store{db: db}
}
