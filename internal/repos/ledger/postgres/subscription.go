package postgres

import (
	"context"
	"fmt"
	"time"
)

func (s *Store) SetSubscription(ctx context.Context, userID int64, premium bool, until *time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (id, premium, premium_until)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET premium = EXCLUDED.premium,
		    premium_until = EXCLUDED.premium_until,
		    updated_at = now()
	`, userID, premium, until)
	if err != nil {
		return fmt.Errorf("set subscription: %w", err)
	}

	return nil
}
