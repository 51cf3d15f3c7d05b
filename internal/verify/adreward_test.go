package verify

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/herohabits/hpledger/internal/config"
)

func newAdVerifier(t *testing.T) *AdRewardVerifier {
	t.Helper()
	v, err := NewAdRewardVerifier(config.AdsConfig{
		Networks: []string{"admob", "unity"},
		RewardHP: 5,
	})
	require.NoError(t, err)
	return v
}

func validAdMobToken() string {
	return "ssv1:" + strings.Repeat("x", 32)
}

func TestAdReward_Valid(t *testing.T) {
	v := newAdVerifier(t)

	ev, err := v.Verify(AdRewardClaim{
		VerificationID: validAdMobToken(),
		Network:        "AdMob",
		EcpmCents:      12,
	})
	require.NoError(t, err)
	assert.Equal(t, "admob", ev.Network)
	assert.Equal(t, int64(5), ev.HPAward)
	assert.Equal(t, int64(12), ev.EcpmCents)
}

func TestAdReward_Rejections(t *testing.T) {
	v := newAdVerifier(t)

	cases := []struct {
		name  string
		claim AdRewardClaim
		want  error
	}{
		{"unknown network", AdRewardClaim{VerificationID: validAdMobToken(), Network: "applovin"}, ErrUnknownNetwork},
		{"wrong prefix", AdRewardClaim{VerificationID: "unity:" + strings.Repeat("x", 32), Network: "admob"}, ErrTokenMalformed},
		{"too short", AdRewardClaim{VerificationID: "ssv1:short", Network: "admob"}, ErrTokenMalformed},
		{"empty token", AdRewardClaim{Network: "admob"}, ErrTokenMalformed},
		{"negative ecpm", AdRewardClaim{VerificationID: validAdMobToken(), Network: "admob", EcpmCents: -1}, ErrTokenMalformed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := v.Verify(tc.claim)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestAdReward_NoNetworksConfigured(t *testing.T) {
	_, err := NewAdRewardVerifier(config.AdsConfig{RewardHP: 5})
	assert.ErrorIs(t, err, ErrMissingSecrets)
}
