package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/herohabits/hpledger/internal/repos/ledger"
)

func (s *Store) EnsureProfile(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (id)
		VALUES ($1)
		ON CONFLICT (id) DO NOTHING
	`, userID)
	if err != nil {
		return fmt.Errorf("ensure profile: %w", err)
	}

	return nil
}

func (s *Store) Profile(ctx context.Context, userID int64) (ledger.Profile, error) {
	p := ledger.Profile{UserID: userID}

	err := s.db.QueryRowContext(ctx, `
		SELECT hp_balance, premium, premium_until
		FROM profiles
		WHERE id = $1
	`, userID).Scan(&p.HPBalance, &p.Premium, &p.PremiumUntil)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.Profile{}, ledger.ErrProfileNotFound
		}

		return ledger.Profile{}, fmt.Errorf("get profile: %w", err)
	}

	return p, nil
}
