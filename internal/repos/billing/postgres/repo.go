// Package postgres implements the billing store on PostgreSQL. Dedup of
// payment records and webhook events rides on unique constraints; the
// monthly payout's unique month constraint makes concurrent settlement runs
// converge on one row.
package postgres

import (
	"database/sql"

	"github.com/herohabits/hpledger/internal/repos/billing"
)

var _ billing.Store = (*Store)(nil)

type Store struct{ db *sql.DB }

func New(db *sql.DB) *Store {
	return &Store{db: db}
}
