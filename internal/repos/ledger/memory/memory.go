// Package memory is the in-memory ledger store used in tests. It mirrors the
// postgres implementation's semantics: one serialization point per user, no
// global write lock, balance cache always equal to the entry sum.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/herohabits/hpledger/internal/repos/ledger"
)

type userState struct {
	mu      sync.Mutex
	profile ledger.Profile
	entries []ledger.Entry
	// byDedup indexes entries by reason+dedup key for replay detection.
	byDedup map[string]int
}

// Store implements ledger.Store entirely in memory.
type Store struct {
	mu    sync.RWMutex
	users map[int64]*userState

	// Now is the store clock; tests override it to slide rate-limit windows.
	Now func() time.Time
}

var _ ledger.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		users: make(map[int64]*userState),
		Now:   time.Now,
	}
}

func dedupIndexKey(reason ledger.Reason, dedupKey string) string {
	return string(reason) + "\x00" + dedupKey
}

func (s *Store) user(userID int64) (*userState, bool) {
	s.mu.RLock()
	u, ok := s.users[userID]
	s.mu.RUnlock()
	return u, ok
}

func (s *Store) EnsureProfile(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; !ok {
		s.users[userID] = &userState{
			profile: ledger.Profile{UserID: userID},
			byDedup: make(map[string]int),
		}
	}
	return nil
}

func (s *Store) Append(_ context.Context, req ledger.AppendRequest) (ledger.AppendResult, error) {
	if err := req.Validate(); err != nil {
		return ledger.AppendResult{}, err
	}

	u, ok := s.user(req.UserID)
	if !ok {
		return ledger.AppendResult{}, ledger.ErrProfileNotFound
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	if i, ok := u.byDedup[dedupIndexKey(req.Reason, req.DedupKey)]; ok {
		return ledger.AppendResult{
			Entry:      u.entries[i],
			NewBalance: u.profile.HPBalance,
			Replayed:   true,
		}, nil
	}

	if lim := req.Limit; lim != nil {
		since := s.Now().Add(-lim.Window)
		count := 0
		for _, e := range u.entries {
			if e.Reason == req.Reason && e.CreatedAt.After(since) {
				count++
			}
		}
		if count >= lim.Max {
			return ledger.AppendResult{}, ledger.ErrRateLimited
		}
	}

	if u.profile.HPBalance+req.NetDelta() < 0 {
		return ledger.AppendResult{}, ledger.ErrInsufficientBalance
	}

	now := s.Now()
	// created_at is monotonically non-decreasing per user.
	if n := len(u.entries); n > 0 && now.Before(u.entries[n-1].CreatedAt) {
		now = u.entries[n-1].CreatedAt
	}

	primary := ledger.Entry{
		ID:        uuid.New(),
		UserID:    req.UserID,
		Delta:     req.Delta,
		Reason:    req.Reason,
		DedupKey:  req.DedupKey,
		Meta:      cloneMeta(req.Meta),
		CreatedAt: now,
	}
	u.byDedup[dedupIndexKey(primary.Reason, primary.DedupKey)] = len(u.entries)
	u.entries = append(u.entries, primary)

	if c := req.Compensate; c != nil {
		comp := ledger.Entry{
			ID:        uuid.New(),
			UserID:    req.UserID,
			Delta:     c.Delta,
			Reason:    c.Reason,
			DedupKey:  c.DedupKey,
			Meta:      cloneMeta(c.Meta),
			CreatedAt: now,
		}
		u.byDedup[dedupIndexKey(comp.Reason, comp.DedupKey)] = len(u.entries)
		u.entries = append(u.entries, comp)
	}

	u.profile.HPBalance += req.NetDelta()

	return ledger.AppendResult{
		Entry:      primary,
		NewBalance: u.profile.HPBalance,
	}, nil
}

func (s *Store) Profile(_ context.Context, userID int64) (ledger.Profile, error) {
	u, ok := s.user(userID)
	if !ok {
		return ledger.Profile{}, ledger.ErrProfileNotFound
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	return u.profile, nil
}

func (s *Store) SetSubscription(ctx context.Context, userID int64, premium bool, until *time.Time) error {
	if err := s.EnsureProfile(ctx, userID); err != nil {
		return err
	}

	u, _ := s.user(userID)

	u.mu.Lock()
	defer u.mu.Unlock()

	u.profile.Premium = premium
	u.profile.PremiumUntil = until
	return nil
}

// Entries returns a copy of the user's ledger, oldest first. Test helper;
// the postgres store has no equivalent because production code never lists
// entries.
func (s *Store) Entries(userID int64) []ledger.Entry {
	u, ok := s.user(userID)
	if !ok {
		return nil
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	out := make([]ledger.Entry, len(u.entries))
	copy(out, u.entries)
	return out
}

func cloneMeta(m ledger.Meta) ledger.Meta {
	if m == nil {
		return ledger.Meta{}
	}
	out := make(ledger.Meta, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
