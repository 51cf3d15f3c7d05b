// Package billing owns the revenue side: payment records per external
// monetary event, webhook-event deduplication, and the monthly charity
// payout rows. It never touches the HP ledger.
package billing

import (
	"context"
	"errors"
	"time"
)

var (
	ErrInvalidKind        = errors.New("invalid payment kind")
	ErrMissingProviderRef = errors.New("provider and provider ref required")
	ErrNetMismatch        = errors.New("net must equal gross minus fee")
	ErrDuplicateRecord    = errors.New("duplicate payment record")
	ErrPayoutNotFound     = errors.New("payout not found")
)

type Store interface {
	// InsertRecord persists one immutable payment record. A record with the
	// same (kind, provider, provider_ref) already present yields
	// ErrDuplicateRecord.
	InsertRecord(ctx context.Context, rec PaymentRecord) (PaymentRecord, error)

	// RecordAdRevenue accumulates one verified impression's revenue into the
	// (provider, day) row, creating it on first touch. The event id is
	// marked in the same atomic unit as the accumulation, so recording the
	// same impression twice bumps the daily row exactly once, and a failed
	// attempt leaves no mark and can be retried. Ad revenue carries no
	// platform fee.
	RecordAdRevenue(ctx context.Context, provider string, day time.Time, eventID string, grossCents int64) error

	// SumNetForMonth sums net_cents across all records created within
	// [month, month+1). month must be truncated to the first of the month.
	SumNetForMonth(ctx context.Context, month time.Time) (int64, error)

	// CreatePayout inserts the payout unless one already exists for its
	// month; the existing row wins and comes back with existed=true. The
	// unique constraint on month absorbs concurrent job runs.
	CreatePayout(ctx context.Context, p Payout) (Payout, bool, error)

	// PayoutForMonth fetches the payout for month, ErrPayoutNotFound if the
	// month is still open.
	PayoutForMonth(ctx context.Context, month time.Time) (Payout, error)

	// MarkWebhookEvent records a provider event id for dedup. Returns
	// alreadySeen=true (and writes nothing) on replay.
	MarkWebhookEvent(ctx context.Context, provider, eventID, eventType string) (alreadySeen bool, err error)

	// SeenWebhookEvent reports whether the provider event id has already
	// been marked. It never writes.
	SeenWebhookEvent(ctx context.Context, provider, eventID string) (bool, error)
}
