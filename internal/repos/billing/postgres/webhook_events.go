package postgres

import (
	"context"
	"fmt"
)

func (s *Store) MarkWebhookEvent(ctx context.Context, provider, eventID, eventType string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO external_events (provider, event_id, event_type)
		VALUES ($1, $2, $3)
		ON CONFLICT (provider, event_id) DO NOTHING
	`, provider, eventID, eventType)
	if err != nil {
		return false, fmt.Errorf("mark webhook event: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}

	return affected == 0, nil
}

func (s *Store) SeenWebhookEvent(ctx context.Context, provider, eventID string) (bool, error) {
	var seen bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM external_events
			WHERE provider = $1 AND event_id = $2
		)
	`, provider, eventID).Scan(&seen)
	if err != nil {
		return false, fmt.Errorf("seen webhook event: %w", err)
	}

	return seen, nil
}
