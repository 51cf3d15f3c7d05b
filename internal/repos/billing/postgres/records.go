package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/herohabits/hpledger/internal/infra/pgutils"
	"github.com/herohabits/hpledger/internal/repos/billing"
)

func (s *Store) InsertRecord(ctx context.Context, rec billing.PaymentRecord) (billing.PaymentRecord, error) {
	if err := rec.Validate(); err != nil {
		return billing.PaymentRecord{}, err
	}

	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO payment_records (id, user_id, kind, gross_cents, fee_cents, net_cents, provider, provider_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`, rec.ID, rec.UserID, string(rec.Kind), rec.GrossCents, rec.FeeCents, rec.NetCents,
		rec.Provider, rec.ProviderRef,
	).Scan(&rec.CreatedAt)
	if err != nil {
		if pgutils.IsUniqueViolation(err) {
			return billing.PaymentRecord{}, billing.ErrDuplicateRecord
		}

		return billing.PaymentRecord{}, fmt.Errorf("insert payment record: %w", err)
	}

	return rec, nil
}

func (s *Store) RecordAdRevenue(ctx context.Context, provider string, day time.Time, eventID string, grossCents int64) error {
	err := pgutils.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		// Mark the impression and accumulate the daily row in one
		// transaction. A replay hits the event primary key and bumps
		// nothing; a failure rolls the mark back so a retry still lands.
		res, err := tx.ExecContext(ctx, `
			INSERT INTO external_events (provider, event_id, event_type)
			VALUES ($1, $2, 'ad_impression')
			ON CONFLICT DO NOTHING
		`, "adnet:"+provider, eventID)
		if err != nil {
			return err
		}

		inserted, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if inserted == 0 {
			return nil
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO payment_records (id, user_id, kind, gross_cents, fee_cents, net_cents, provider, provider_ref)
			VALUES ($1, NULL, 'ad', $2, 0, $2, $3, $4)
			ON CONFLICT (kind, provider, provider_ref) DO UPDATE
			SET gross_cents = payment_records.gross_cents + EXCLUDED.gross_cents,
			    net_cents   = payment_records.net_cents + EXCLUDED.net_cents
		`, uuid.New(), grossCents, provider, billing.AdDayRef(day))
		return err
	})
	if err != nil {
		return fmt.Errorf("record ad revenue: %w", err)
	}

	return nil
}

func (s *Store) SumNetForMonth(ctx context.Context, month time.Time) (int64, error) {
	start := month.UTC()
	end := start.AddDate(0, 1, 0)

	var sum int64

	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(net_cents), 0)
		FROM payment_records
		WHERE created_at >= $1
		  AND created_at < $2
	`, start, end).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum net for month: %w", err)
	}

	return sum, nil
}
