// Package settlement closes calendar months: sum the month's net revenue,
// carve out the charity share, and persist a single terminal payout row.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/herohabits/hpledger/internal/config"
	"github.com/herohabits/hpledger/internal/infra/metrics"
	"github.com/herohabits/hpledger/internal/repos/billing"
)

var (
	ErrMonthNotElapsed = errors.New("month has not fully elapsed")
	ErrNotMonthStart   = errors.New("month must be the first day at midnight UTC")
)

type Service struct {
	billing billing.Store
	share   decimal.Decimal
	metrics *metrics.Metrics

	// now is swapped in tests to close months deterministically.
	now func() time.Time
}

func New(billingStore billing.Store, cfg config.SettlementConfig, m *metrics.Metrics) *Service {
	return &Service{
		billing: billingStore,
		share:   cfg.SharePercent,
		metrics: m,
		now:     time.Now,
	}
}

// Result describes a closed month. AlreadyClosed means a previous run won
// the race and the returned payout is that run's row.
type Result struct {
	Payout        billing.Payout
	AlreadyClosed bool
}

// CloseMonth settles one fully elapsed calendar month. Safe to call any
// number of times; the month's unique payout row is the idempotency guard.
func (s *Service) CloseMonth(ctx context.Context, month time.Time) (Result, error) {
	month = month.UTC()
	if month.Day() != 1 || month.Hour() != 0 || month.Minute() != 0 || month.Second() != 0 || month.Nanosecond() != 0 {
		return Result{}, fmt.Errorf("%w: got %s", ErrNotMonthStart, month.Format(time.RFC3339))
	}
	if end := month.AddDate(0, 1, 0); s.now().UTC().Before(end) {
		return Result{}, fmt.Errorf("%w: %s", ErrMonthNotElapsed, month.Format("2006-01"))
	}

	if existing, err := s.billing.PayoutForMonth(ctx, month); err == nil {
		return Result{Payout: existing, AlreadyClosed: true}, nil
	} else if !errors.Is(err, billing.ErrPayoutNotFound) {
		return Result{}, fmt.Errorf("lookup payout: %w", err)
	}

	net, err := s.billing.SumNetForMonth(ctx, month)
	if err != nil {
		return Result{}, fmt.Errorf("sum month net: %w", err)
	}
	share := decimal.NewFromInt(net).Mul(s.share).Round(0).IntPart()
	if share < 0 {
		share = 0
	}

	payout, existed, err := s.billing.CreatePayout(ctx, billing.Payout{
		Month:             month,
		NetCents:          net,
		CharityShareCents: share,
		TxRef:             fmt.Sprintf("charity-%s-%s", month.Format("2006-01"), uuid.NewString()),
	})
	if err != nil {
		return Result{}, fmt.Errorf("create payout: %w", err)
	}

	outcome := "closed"
	if existed {
		outcome = "already_closed"
	}
	s.metrics.SettlementRuns.WithLabelValues(outcome).Inc()
	slog.Info("month settled",
		"month", month.Format("2006-01"),
		"net_cents", payout.NetCents,
		"charity_share_cents", payout.CharityShareCents,
		"already_closed", existed,
	)

	return Result{Payout: payout, AlreadyClosed: existed}, nil
}

// ClosePreviousMonth settles the most recently elapsed month relative to the
// service clock. This is what the monthly cron endpoint invokes.
func (s *Service) ClosePreviousMonth(ctx context.Context) (Result, error) {
	now := s.now().UTC()
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return s.CloseMonth(ctx, first.AddDate(0, -1, 0))
}
