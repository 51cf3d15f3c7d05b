package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/herohabits/hpledger/internal/infra/pgutils"
	"github.com/herohabits/hpledger/internal/repos/ledger"
)

func (s *Store) Append(ctx context.Context, req ledger.AppendRequest) (ledger.AppendResult, error) {
	if err := req.Validate(); err != nil {
		return ledger.AppendResult{}, err
	}

	var res ledger.AppendResult

	err := pgutils.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		// 1) Lock the profile row; this is the per-user serialization point.
		var balance int64

		err := tx.QueryRow(`
			SELECT hp_balance
			FROM profiles
			WHERE id = $1
			FOR UPDATE
		`, req.UserID).Scan(&balance)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ledger.ErrProfileNotFound
			}
			return fmt.Errorf("lock profile: %w", err)
		}

		// 2) Replay check under the lock.
		prior, found, err := fetchByDedup(tx, req.UserID, req.Reason, req.DedupKey)
		if err != nil {
			return fmt.Errorf("replay check: %w", err)
		}
		if found {
			res = ledger.AppendResult{Entry: prior, NewBalance: balance, Replayed: true}
			return nil
		}

		// 3) Sliding-window limit, counted under the row lock so concurrent
		// requests at the boundary cannot both get in.
		if lim := req.Limit; lim != nil {
			var count int

			err := tx.QueryRow(`
				SELECT count(*)
				FROM ledger_entries
				WHERE user_id = $1
				  AND reason = $2
				  AND created_at > $3
			`, req.UserID, string(req.Reason), time.Now().Add(-lim.Window)).Scan(&count)
			if err != nil {
				return fmt.Errorf("count window: %w", err)
			}
			if count >= lim.Max {
				return ledger.ErrRateLimited
			}
		}

		// 4) Balance floor on the net effect.
		if balance+req.NetDelta() < 0 {
			return ledger.ErrInsufficientBalance
		}

		// 5) Insert the entry (and its compensating credit, if any).
		primary, err := insertEntry(tx, req.UserID, req.Delta, req.Reason, req.DedupKey, req.Meta)
		if err != nil {
			// The unique index is a backstop; the row lock normally makes
			// this unreachable.
			if pgutils.IsUniqueViolation(err) {
				prior, _, ferr := fetchByDedup(tx, req.UserID, req.Reason, req.DedupKey)
				if ferr != nil {
					return fmt.Errorf("fetch after conflict: %w", ferr)
				}
				res = ledger.AppendResult{Entry: prior, NewBalance: balance, Replayed: true}
				return nil
			}
			return fmt.Errorf("insert entry: %w", err)
		}

		if c := req.Compensate; c != nil {
			_, err = insertEntry(tx, req.UserID, c.Delta, c.Reason, c.DedupKey, c.Meta)
			if err != nil {
				return fmt.Errorf("insert compensating entry: %w", err)
			}
		}

		// 6) Keep the balance cache consistent within the same transaction.
		var newBalance int64

		err = tx.QueryRow(`
			UPDATE profiles
			SET hp_balance = hp_balance + $2,
			    updated_at = now()
			WHERE id = $1
			RETURNING hp_balance
		`, req.UserID, req.NetDelta()).Scan(&newBalance)
		if err != nil {
			return fmt.Errorf("update balance cache: %w", err)
		}

		res = ledger.AppendResult{Entry: primary, NewBalance: newBalance}
		return nil
	})
	if err != nil {
		return ledger.AppendResult{}, fmt.Errorf("append: %w", err)
	}

	return res, nil
}

func insertEntry(tx *sql.Tx, userID, delta int64, reason ledger.Reason, dedupKey string, meta ledger.Meta) (ledger.Entry, error) {
	if meta == nil {
		meta = ledger.Meta{}
	}

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return ledger.Entry{}, fmt.Errorf("marshal meta: %w", err)
	}

	entry := ledger.Entry{
		ID:       uuid.New(),
		UserID:   userID,
		Delta:    delta,
		Reason:   reason,
		DedupKey: dedupKey,
		Meta:     meta,
	}

	err = tx.QueryRow(`
		INSERT INTO ledger_entries (id, user_id, delta, reason, dedup_key, meta)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, entry.ID, userID, delta, string(reason), dedupKey, metaJSON).Scan(&entry.CreatedAt)
	if err != nil {
		return ledger.Entry{}, err
	}

	return entry, nil
}

func fetchByDedup(tx *sql.Tx, userID int64, reason ledger.Reason, dedupKey string) (ledger.Entry, bool, error) {
	var (
		entry    ledger.Entry
		metaJSON []byte
	)

	err := tx.QueryRow(`
		SELECT id, user_id, delta, reason, dedup_key, meta, created_at
		FROM ledger_entries
		WHERE user_id = $1 AND reason = $2 AND dedup_key = $3
	`, userID, string(reason), dedupKey).Scan(
		&entry.ID, &entry.UserID, &entry.Delta, &entry.Reason, &entry.DedupKey, &metaJSON, &entry.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.Entry{}, false, nil
		}
		return ledger.Entry{}, false, err
	}

	if err := json.Unmarshal(metaJSON, &entry.Meta); err != nil {
		return ledger.Entry{}, false, fmt.Errorf("unmarshal meta: %w", err)
	}

	return entry, true, nil
}
