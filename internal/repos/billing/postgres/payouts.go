package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/herohabits/hpledger/internal/repos/billing"
)

func (s *Store) CreatePayout(ctx context.Context, p billing.Payout) (billing.Payout, bool, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}

	// ON CONFLICT DO NOTHING + re-fetch: with the unique month constraint,
	// concurrent runs converge on a single winner.
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO charity_payouts (id, month, net_cents, charity_share_cents, tx_ref)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (month) DO NOTHING
		RETURNING created_at
	`, p.ID, p.Month.UTC(), p.NetCents, p.CharityShareCents, p.TxRef).Scan(&p.CreatedAt)
	if err == nil {
		return p, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return billing.Payout{}, false, fmt.Errorf("insert payout: %w", err)
	}

	existing, err := s.PayoutForMonth(ctx, p.Month)
	if err != nil {
		return billing.Payout{}, false, fmt.Errorf("fetch existing payout: %w", err)
	}

	return existing, true, nil
}

func (s *Store) PayoutForMonth(ctx context.Context, month time.Time) (billing.Payout, error) {
	var p billing.Payout

	err := s.db.QueryRowContext(ctx, `
		SELECT id, month, net_cents, charity_share_cents, tx_ref, created_at
		FROM charity_payouts
		WHERE month = $1
	`, month.UTC()).Scan(&p.ID, &p.Month, &p.NetCents, &p.CharityShareCents, &p.TxRef, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return billing.Payout{}, billing.ErrPayoutNotFound
		}

		return billing.Payout{}, fmt.Errorf("get payout: %w", err)
	}

	return p, nil
}
