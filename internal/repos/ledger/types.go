package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Reason is the closed set of ledger reason codes. Closed on purpose: the
// rate-limit and idempotency policy tables key off it.
type Reason string

const (
	ReasonRewardedVideo    Reason = "rewarded_video"
	ReasonIAPPurchase      Reason = "iap_purchase"
	ReasonPremiumUnlimited Reason = "premium_unlimited"
	ReasonRefreshQuote     Reason = "refresh_quote"
)

var knownReasons = map[Reason]struct{}{
	ReasonRewardedVideo:    {},
	ReasonIAPPurchase:      {},
	ReasonPremiumUnlimited: {},
	ReasonRefreshQuote:     {},
}

func (r Reason) Valid() bool {
	_, ok := knownReasons[r]
	return ok
}

func ParseReason(s string) (Reason, error) {
	r := Reason(s)
	if !r.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidReason, s)
	}
	return r, nil
}

// Meta is the opaque key/value bag stored with each entry (device id,
// provider transaction id, verification id, ...).
type Meta map[string]string

// Entry is one immutable row of the append-only ledger.
type Entry struct {
	ID        uuid.UUID
	UserID    int64
	Delta     int64
	Reason    Reason
	DedupKey  string
	Meta      Meta
	CreatedAt time.Time
}

// Profile is the denormalized per-user state: the balance cache plus the
// premium flag maintained by the subscription sync.
type Profile struct {
	UserID       int64
	HPBalance    int64
	Premium      bool
	PremiumUntil *time.Time
}

// PremiumActive reports whether the profile's subscription covers now.
func (p Profile) PremiumActive(now time.Time) bool {
	if !p.Premium {
		return false
	}
	if p.PremiumUntil == nil {
		return true
	}
	return now.Before(*p.PremiumUntil)
}

// RateLimit bounds how many entries of one reason a user may accumulate in
// a trailing window.
type RateLimit struct {
	Window time.Duration
	Max    int
}

// AppendRequest describes one atomic ledger mutation.
type AppendRequest struct {
	UserID   int64
	Delta    int64
	Reason   Reason
	DedupKey string
	Meta     Meta

	// Limit, when non-nil, rejects the append with ErrRateLimited if Max or
	// more entries of Reason already exist in the trailing Window. The check
	// runs under the same per-user lock as the append, so two concurrent
	// requests at the boundary cannot both get in. Replays bypass the check;
	// they consume no quota.
	Limit *RateLimit

	// Compensate, when non-nil, is appended in the same atomic unit as the
	// primary entry. Used for premium-waived debits: the debit and its
	// refund land together, so the audit trail shows both rows and the
	// balance check applies to the net effect.
	Compensate *CompensatingEntry
}

type CompensatingEntry struct {
	Delta    int64
	Reason   Reason
	DedupKey string
	Meta     Meta
}

// Validate checks the request's input constraints. Both store
// implementations call it before touching any state.
func (r AppendRequest) Validate() error {
	if r.Delta == 0 {
		return ErrInvalidDelta
	}
	if !r.Reason.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidReason, r.Reason)
	}
	if r.DedupKey == "" {
		return ErrMissingDedupKey
	}
	if l := r.Limit; l != nil && (l.Window <= 0 || l.Max <= 0) {
		return ErrInvalidLimit
	}
	if c := r.Compensate; c != nil {
		if c.Delta == 0 {
			return ErrInvalidDelta
		}
		if !c.Reason.Valid() {
			return fmt.Errorf("%w: %q", ErrInvalidReason, c.Reason)
		}
		if c.DedupKey == "" {
			return ErrMissingDedupKey
		}
	}
	return nil
}

// NetDelta is the balance change the request produces when applied.
func (r AppendRequest) NetDelta() int64 {
	net := r.Delta
	if r.Compensate != nil {
		net += r.Compensate.Delta
	}
	return net
}

// AppendResult reports the outcome of an Append. On a replay, Entry is the
// previously stored entry and NewBalance the current balance; nothing was
// written.
type AppendResult struct {
	Entry      Entry
	NewBalance int64
	Replayed   bool
}
