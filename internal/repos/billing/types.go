package billing

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind is the closed set of revenue streams feeding settlement.
type Kind string

const (
	KindSubscription Kind = "subscription"
	KindIAPPoints    Kind = "iap_points"
	KindAd           Kind = "ad"
)

func (k Kind) Valid() bool {
	switch k {
	case KindSubscription, KindIAPPoints, KindAd:
		return true
	}
	return false
}

// PaymentRecord is one durable external monetary event. Immutable, with one
// controlled exception: daily ad-revenue rows (kind=ad, provider_ref=day)
// accumulate by upsert.
type PaymentRecord struct {
	ID          uuid.UUID
	UserID      *int64 // nil for aggregate ad rows
	Kind        Kind
	GrossCents  int64
	FeeCents    int64
	NetCents    int64
	Provider    string
	ProviderRef string
	CreatedAt   time.Time
}

// Validate checks the record's arithmetic invariant and required fields.
func (r PaymentRecord) Validate() error {
	if !r.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidKind, r.Kind)
	}
	if r.Provider == "" || r.ProviderRef == "" {
		return ErrMissingProviderRef
	}
	if r.NetCents != r.GrossCents-r.FeeCents {
		return ErrNetMismatch
	}
	return nil
}

// Payout is the terminal settlement record for one calendar month.
type Payout struct {
	ID                uuid.UUID
	Month             time.Time // first day of the month, UTC
	NetCents          int64
	CharityShareCents int64
	TxRef             string
	CreatedAt         time.Time
}

// AdDayRef formats the provider_ref of a daily ad-revenue row.
func AdDayRef(day time.Time) string {
	return day.UTC().Format("2006-01-02")
}
