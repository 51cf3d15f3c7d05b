// Package verify holds the external trust-boundary checks: ad-network
// reward tokens, store purchase receipts, and payment-provider webhook
// signatures. A claim that fails verification must produce no ledger entry
// and no payment record; callers only act on a returned event.
package verify

import (
	"errors"
	"fmt"
	"strings"

	"github.com/herohabits/hpledger/internal/config"
)

var (
	ErrUnknownNetwork  = errors.New("unknown ad network")
	ErrTokenMalformed  = errors.New("malformed verification token")
	ErrMissingSecrets  = errors.New("verification credentials not configured")
	ErrUnknownProduct  = errors.New("unknown product id")
	ErrReceiptInvalid  = errors.New("receipt verification failed")
	ErrUnknownPlatform = errors.New("unknown platform")
)

// tokenPrefixes maps each supported network to the prefix its server-to-
// server callbacks stamp on verification ids.
var tokenPrefixes = map[string]string{
	"admob":    "ssv1:",
	"unity":    "unity:",
	"applovin": "al:",
}

// minTokenBody is the minimum length of the opaque token after its network
// prefix. Networks sign ids well above this; anything shorter is noise.
const minTokenBody = 24

// AdRewardClaim is an inbound rewarded-video callback, pre-verification.
type AdRewardClaim struct {
	VerificationID string
	DeviceID       string
	Network        string
	EcpmCents      int64
}

// AdRewardEvent is the normalized outcome of a verified claim.
type AdRewardEvent struct {
	Network        string
	VerificationID string
	HPAward        int64
	EcpmCents      int64
}

// AdRewardVerifier checks rewarded-video verification tokens against the
// configured set of networks.
type AdRewardVerifier struct {
	networks map[string]string // network -> required token prefix
	awardHP  int64
}

// NewAdRewardVerifier fails when no network is configured: an empty allow
// list would silently trust every caller.
func NewAdRewardVerifier(cfg config.AdsConfig) (*AdRewardVerifier, error) {
	if len(cfg.Networks) == 0 {
		return nil, fmt.Errorf("%w: no ad networks configured", ErrMissingSecrets)
	}

	networks := make(map[string]string, len(cfg.Networks))
	for _, n := range cfg.Networks {
		n = strings.ToLower(strings.TrimSpace(n))
		prefix, ok := tokenPrefixes[n]
		if !ok {
			return nil, fmt.Errorf("unsupported ad network %q", n)
		}
		networks[n] = prefix
	}

	return &AdRewardVerifier{networks: networks, awardHP: cfg.RewardHP}, nil
}

func (v *AdRewardVerifier) Verify(claim AdRewardClaim) (AdRewardEvent, error) {
	network := strings.ToLower(strings.TrimSpace(claim.Network))

	prefix, ok := v.networks[network]
	if !ok {
		return AdRewardEvent{}, fmt.Errorf("%w: %q", ErrUnknownNetwork, claim.Network)
	}

	token := strings.TrimSpace(claim.VerificationID)
	if !strings.HasPrefix(token, prefix) {
		return AdRewardEvent{}, fmt.Errorf("%w: bad prefix", ErrTokenMalformed)
	}
	if len(token)-len(prefix) < minTokenBody {
		return AdRewardEvent{}, fmt.Errorf("%w: token too short", ErrTokenMalformed)
	}
	if claim.EcpmCents < 0 {
		return AdRewardEvent{}, fmt.Errorf("%w: negative ecpm", ErrTokenMalformed)
	}

	return AdRewardEvent{
		Network:        network,
		VerificationID: token,
		HPAward:        v.awardHP,
		EcpmCents:      claim.EcpmCents,
	}, nil
}
