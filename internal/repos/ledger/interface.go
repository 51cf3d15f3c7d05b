// Package ledger defines the append-only Hero-Points ledger: the single
// source of truth for per-user balances.
//
// Entries are never updated or deleted. A user's balance is the sum of all
// their deltas; the profiles table caches that sum and is maintained in the
// same atomic unit as every append.
package ledger

import (
	"context"
	"errors"
	"time"
)

var (
	ErrInvalidReason       = errors.New("invalid reason code")
	ErrInvalidDelta        = errors.New("delta must be non-zero")
	ErrMissingDedupKey     = errors.New("dedup key required")
	ErrInvalidLimit        = errors.New("rate limit window and max must be positive")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrRateLimited         = errors.New("rate limited")
	ErrProfileNotFound     = errors.New("profile not found")
)

// Store is the transactional ledger interface. The postgres implementation
// backs production; the memory implementation (one mutex per user, no global
// lock) backs tests.
//
// Implementations must serialize Append calls per user: two concurrent
// appends may land in either order, but the balance cache always equals the
// ledger sum at every observation point.
type Store interface {
	// Append applies req atomically: replay detection on
	// (userID, reason, dedupKey), the optional sliding-window limit, balance
	// floor check, entry insert(s), and balance-cache update all happen in
	// one transaction. A replayed request is not an error: the prior entry
	// and the current balance come back with Replayed set. Only real appends
	// add the rows the window counts, so rejected and replayed attempts
	// consume no quota.
	Append(ctx context.Context, req AppendRequest) (AppendResult, error)

	// EnsureProfile creates the profile row on first touch. Idempotent.
	EnsureProfile(ctx context.Context, userID int64) error

	// Profile returns the cached balance and premium state.
	Profile(ctx context.Context, userID int64) (Profile, error)

	// SetSubscription updates the premium flag and period end. Only the
	// payment-webhook sync calls this.
	SetSubscription(ctx context.Context, userID int64, premium bool, until *time.Time) error
}
