// Package memory is the in-memory billing store used in tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/herohabits/hpledger/internal/repos/billing"
)

type Store struct {
	mu       sync.Mutex
	records  []billing.PaymentRecord
	payouts  map[string]billing.Payout // keyed by YYYY-MM
	webhooks map[string]struct{}       // provider + event id

	// Now is the store clock; tests override it to place records in months.
	Now func() time.Time
}

var _ billing.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		payouts:  make(map[string]billing.Payout),
		webhooks: make(map[string]struct{}),
		Now:      time.Now,
	}
}

func recordKey(kind billing.Kind, provider, ref string) string {
	return string(kind) + "\x00" + provider + "\x00" + ref
}

func monthKey(month time.Time) string {
	return month.UTC().Format("2006-01")
}

func (s *Store) InsertRecord(_ context.Context, rec billing.PaymentRecord) (billing.PaymentRecord, error) {
	if err := rec.Validate(); err != nil {
		return billing.PaymentRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.records {
		if existing.Kind == rec.Kind && existing.Provider == rec.Provider && existing.ProviderRef == rec.ProviderRef {
			return billing.PaymentRecord{}, billing.ErrDuplicateRecord
		}
	}

	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	rec.CreatedAt = s.Now()
	s.records = append(s.records, rec)

	return rec, nil
}

func (s *Store) RecordAdRevenue(_ context.Context, provider string, day time.Time, eventID string, grossCents int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// The event mark and the daily accumulation share the mutex, so a
	// replayed impression bumps the row exactly once.
	evKey := "adnet\x00" + provider + "\x00" + eventID
	if _, ok := s.webhooks[evKey]; ok {
		return nil
	}
	s.webhooks[evKey] = struct{}{}

	ref := billing.AdDayRef(day)
	for i := range s.records {
		r := &s.records[i]
		if r.Kind == billing.KindAd && r.Provider == provider && r.ProviderRef == ref {
			r.GrossCents += grossCents
			r.NetCents += grossCents
			return nil
		}
	}

	s.records = append(s.records, billing.PaymentRecord{
		ID:          uuid.New(),
		Kind:        billing.KindAd,
		GrossCents:  grossCents,
		FeeCents:    0,
		NetCents:    grossCents,
		Provider:    provider,
		ProviderRef: ref,
		CreatedAt:   s.Now(),
	})
	return nil
}

func (s *Store) SumNetForMonth(_ context.Context, month time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := month.UTC()
	end := start.AddDate(0, 1, 0)

	var sum int64
	for _, r := range s.records {
		at := r.CreatedAt.UTC()
		if !at.Before(start) && at.Before(end) {
			sum += r.NetCents
		}
	}
	return sum, nil
}

func (s *Store) CreatePayout(_ context.Context, p billing.Payout) (billing.Payout, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := monthKey(p.Month)
	if existing, ok := s.payouts[key]; ok {
		return existing, true, nil
	}

	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.CreatedAt = s.Now()
	s.payouts[key] = p

	return p, false, nil
}

func (s *Store) PayoutForMonth(_ context.Context, month time.Time) (billing.Payout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payouts[monthKey(month)]
	if !ok {
		return billing.Payout{}, billing.ErrPayoutNotFound
	}
	return p, nil
}

func (s *Store) MarkWebhookEvent(_ context.Context, provider, eventID, _ string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := provider + "\x00" + eventID
	if _, ok := s.webhooks[key]; ok {
		return true, nil
	}
	s.webhooks[key] = struct{}{}
	return false, nil
}

func (s *Store) SeenWebhookEvent(_ context.Context, provider, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.webhooks[provider+"\x00"+eventID]
	return ok, nil
}

// Records returns a copy of all payment records. Test helper.
func (s *Store) Records() []billing.PaymentRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]billing.PaymentRecord, len(s.records))
	copy(out, s.records)
	return out
}
