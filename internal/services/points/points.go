// Package points implements the user-facing Hero-Points operations: ad
// reward credits, refresh-quote debits, and purchase credits. Every path
// runs verifier -> atomic ledger append, with the sliding-window limit
// enforced inside the append's per-user lock, so a rejected or replayed
// request never consumes quota and never double-credits.
package points

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/herohabits/hpledger/internal/infra/metrics"
	"github.com/herohabits/hpledger/internal/repos/billing"
	"github.com/herohabits/hpledger/internal/repos/ledger"
	"github.com/herohabits/hpledger/internal/verify"
)

type Service struct {
	ledger  ledger.Store
	billing billing.Store
	ads     *verify.AdRewardVerifier
	iap     *verify.IAPVerifier
	cfg     Config
	metrics *metrics.Metrics

	// now is swapped in tests to slide rate-limit windows.
	now func() time.Time
}

func New(
	ledgerStore ledger.Store,
	billingStore billing.Store,
	ads *verify.AdRewardVerifier,
	iap *verify.IAPVerifier,
	cfg Config,
	m *metrics.Metrics,
) *Service {
	return &Service{
		ledger:  ledgerStore,
		billing: billingStore,
		ads:     ads,
		iap:     iap,
		cfg:     cfg,
		metrics: m,
		now:     time.Now,
	}
}

// AwardAdReward credits a verified rewarded-video callback and books its
// revenue into the provider's daily ad row.
func (s *Service) AwardAdReward(ctx context.Context, userID int64, claim verify.AdRewardClaim) (AwardResult, error) {
	ev, err := s.ads.Verify(claim)
	if err != nil {
		s.metrics.LedgerAppends.WithLabelValues(string(ledger.ReasonRewardedVideo), metrics.OutcomeRejected).Inc()
		return AwardResult{}, err
	}

	if err := s.ledger.EnsureProfile(ctx, userID); err != nil {
		return AwardResult{}, err
	}

	res, err := s.ledger.Append(ctx, ledger.AppendRequest{
		UserID:   userID,
		Delta:    ev.HPAward,
		Reason:   ledger.ReasonRewardedVideo,
		DedupKey: ev.VerificationID,
		Limit:    s.cfg.limitFor(ledger.ReasonRewardedVideo),
		Meta: ledger.Meta{
			"device_id":       claim.DeviceID,
			"ad_network":      ev.Network,
			"verification_id": ev.VerificationID,
			"ecpm_cents":      strconv.FormatInt(ev.EcpmCents, 10),
		},
	})
	if err != nil {
		if errors.Is(err, ledger.ErrRateLimited) {
			s.metrics.LedgerAppends.WithLabelValues(string(ledger.ReasonRewardedVideo), metrics.OutcomeRateLimited).Inc()
		}
		return AwardResult{}, err
	}

	if ev.EcpmCents > 0 {
		// Runs on the replay path too: if an earlier attempt credited the
		// user but failed here, the client's retry replays the append and
		// this call lands the revenue. The store dedups on verification id,
		// so the daily row is bumped at most once per impression.
		err := s.billing.RecordAdRevenue(ctx, ev.Network, s.now(), ev.VerificationID, ev.EcpmCents)
		if err != nil {
			return AwardResult{}, fmt.Errorf("record ad revenue: %w", err)
		}
	}

	if res.Replayed {
		s.metrics.LedgerAppends.WithLabelValues(string(ledger.ReasonRewardedVideo), metrics.OutcomeReplayed).Inc()
		return AwardResult{HPAwarded: 0, NewBalance: res.NewBalance, Duplicate: true}, nil
	}

	s.metrics.LedgerAppends.WithLabelValues(string(ledger.ReasonRewardedVideo), metrics.OutcomeApplied).Inc()

	return AwardResult{HPAwarded: ev.HPAward, NewBalance: res.NewBalance}, nil
}

// RefreshQuote debits the refresh cost, or records a debit plus a
// compensating credit for premium users.
func (s *Service) RefreshQuote(ctx context.Context, userID int64, idemKey, deviceID string) (RefreshResult, error) {
	if idemKey == "" {
		return RefreshResult{}, ledger.ErrMissingDedupKey
	}

	if err := s.ledger.EnsureProfile(ctx, userID); err != nil {
		return RefreshResult{}, err
	}

	profile, err := s.ledger.Profile(ctx, userID)
	if err != nil {
		return RefreshResult{}, err
	}

	waived := s.cfg.WaivedForPremium[ledger.ReasonRefreshQuote] && profile.PremiumActive(s.now())

	req := ledger.AppendRequest{
		UserID:   userID,
		Delta:    -s.cfg.RefreshCostHP,
		Reason:   ledger.ReasonRefreshQuote,
		DedupKey: idemKey,
		Limit:    s.cfg.limitFor(ledger.ReasonRefreshQuote),
		Meta: ledger.Meta{
			"device_id":       deviceID,
			"idempotency_key": idemKey,
		},
	}
	if waived {
		req.Compensate = &ledger.CompensatingEntry{
			Delta:    s.cfg.RefreshCostHP,
			Reason:   ledger.ReasonPremiumUnlimited,
			DedupKey: idemKey,
			Meta: ledger.Meta{
				"device_id":       deviceID,
				"idempotency_key": idemKey,
			},
		}
	}

	res, err := s.ledger.Append(ctx, req)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrRateLimited):
			s.metrics.LedgerAppends.WithLabelValues(string(ledger.ReasonRefreshQuote), metrics.OutcomeRateLimited).Inc()
		case errors.Is(err, ledger.ErrInsufficientBalance):
			s.metrics.LedgerAppends.WithLabelValues(string(ledger.ReasonRefreshQuote), metrics.OutcomeInsufficient).Inc()
		}
		return RefreshResult{}, err
	}

	if res.Replayed {
		s.metrics.LedgerAppends.WithLabelValues(string(ledger.ReasonRefreshQuote), metrics.OutcomeReplayed).Inc()
		return RefreshResult{NewBalance: res.NewBalance, Duplicate: true}, nil
	}

	s.metrics.LedgerAppends.WithLabelValues(string(ledger.ReasonRefreshQuote), metrics.OutcomeApplied).Inc()

	charged := s.cfg.RefreshCostHP
	if waived {
		charged = 0
	}

	return RefreshResult{
		HPCharged:     charged,
		NewBalance:    res.NewBalance,
		PremiumWaived: waived,
	}, nil
}

// VerifyPurchase credits a verified store purchase and records its revenue.
func (s *Service) VerifyPurchase(ctx context.Context, userID int64, claim verify.PurchaseClaim) (AwardResult, error) {
	ev, err := s.iap.Verify(claim)
	if err != nil {
		s.metrics.LedgerAppends.WithLabelValues(string(ledger.ReasonIAPPurchase), metrics.OutcomeRejected).Inc()
		return AwardResult{}, err
	}

	if err := s.ledger.EnsureProfile(ctx, userID); err != nil {
		return AwardResult{}, err
	}

	res, err := s.ledger.Append(ctx, ledger.AppendRequest{
		UserID:   userID,
		Delta:    ev.Package.HP,
		Reason:   ledger.ReasonIAPPurchase,
		DedupKey: ev.TransactionID,
		Meta: ledger.Meta{
			"device_id":      claim.DeviceID,
			"platform":       string(ev.Platform),
			"product_id":     ev.Package.ProductID,
			"transaction_id": ev.TransactionID,
		},
	})
	if err != nil {
		return AwardResult{}, err
	}

	// Record the revenue on the replay path as well: if an earlier attempt
	// credited the points but failed to land the record, the client's retry
	// replays the append, reaches this insert, and hits the duplicate guard
	// only once a record actually exists.
	_, err = s.billing.InsertRecord(ctx, billing.PaymentRecord{
		UserID:      &userID,
		Kind:        billing.KindIAPPoints,
		GrossCents:  ev.Package.PriceCents,
		FeeCents:    ev.FeeCents,
		NetCents:    ev.NetCents,
		Provider:    string(ev.Platform),
		ProviderRef: ev.TransactionID,
	})
	if err != nil && !errors.Is(err, billing.ErrDuplicateRecord) {
		return AwardResult{}, fmt.Errorf("record purchase revenue: %w", err)
	}

	if res.Replayed {
		s.metrics.LedgerAppends.WithLabelValues(string(ledger.ReasonIAPPurchase), metrics.OutcomeReplayed).Inc()
		return AwardResult{NewBalance: res.NewBalance, Duplicate: true}, nil
	}

	s.metrics.LedgerAppends.WithLabelValues(string(ledger.ReasonIAPPurchase), metrics.OutcomeApplied).Inc()

	return AwardResult{HPAwarded: ev.Package.HP, NewBalance: res.NewBalance}, nil
}

// Balance returns the user's profile snapshot, creating it on first touch.
func (s *Service) Balance(ctx context.Context, userID int64) (ledger.Profile, error) {
	if err := s.ledger.EnsureProfile(ctx, userID); err != nil {
		return ledger.Profile{}, err
	}

	return s.ledger.Profile(ctx, userID)
}
