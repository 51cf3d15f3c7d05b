package points

import (
	"time"

	"github.com/herohabits/hpledger/internal/config"
	"github.com/herohabits/hpledger/internal/repos/ledger"
)

// ErrRateLimited surfaces the ledger's window rejection under this package's
// name so handlers match on one error regardless of layer.
var ErrRateLimited = ledger.ErrRateLimited

// RatePolicy bounds how many ledger-affecting events of one reason a user
// may trigger per rolling window.
type RatePolicy struct {
	Window time.Duration
	Max    int
}

// Config is the points policy table. Reasons absent from Policies are
// unlimited; reasons absent from WaivedForPremium always charge.
type Config struct {
	RefreshCostHP    int64
	Policies         map[ledger.Reason]RatePolicy
	WaivedForPremium map[ledger.Reason]bool
}

// limitFor translates the policy for reason into the ledger's append-time
// limit, nil when the reason is unlimited.
func (c Config) limitFor(reason ledger.Reason) *ledger.RateLimit {
	policy, ok := c.Policies[reason]
	if !ok {
		return nil
	}
	return &ledger.RateLimit{Window: policy.Window, Max: policy.Max}
}

// ConfigFrom maps the environment sections onto the policy table.
func ConfigFrom(rates config.RateConfig, pts config.PointsConfig) Config {
	return Config{
		RefreshCostHP: pts.RefreshCostHP,
		Policies: map[ledger.Reason]RatePolicy{
			ledger.ReasonRewardedVideo: {Window: rates.RewardedVideoWindow, Max: rates.RewardedVideoMax},
			ledger.ReasonRefreshQuote:  {Window: rates.RefreshQuoteWindow, Max: rates.RefreshQuoteMax},
		},
		WaivedForPremium: map[ledger.Reason]bool{
			ledger.ReasonRefreshQuote: true,
		},
	}
}

// AwardResult reports a credit operation.
type AwardResult struct {
	HPAwarded  int64
	NewBalance int64
	Duplicate  bool
}

// RefreshResult reports a refresh-quote debit.
type RefreshResult struct {
	HPCharged     int64
	NewBalance    int64
	PremiumWaived bool
	Duplicate     bool
}
