package settlement

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/herohabits/hpledger/internal/config"
	"github.com/herohabits/hpledger/internal/infra/metrics"
	"github.com/herohabits/hpledger/internal/repos/billing"
	billingmem "github.com/herohabits/hpledger/internal/repos/billing/memory"
)

func newService(t *testing.T, store *billingmem.Store, now time.Time) *Service {
	t.Helper()
	svc := New(store, config.SettlementConfig{SharePercent: decimal.RequireFromString("0.5")}, metrics.NewNop())
	svc.now = func() time.Time { return now }
	return svc
}

func seedMonthRevenue(t *testing.T, store *billingmem.Store, at time.Time, records ...billing.PaymentRecord) {
	t.Helper()
	store.Now = func() time.Time { return at }
	for _, rec := range records {
		_, err := store.InsertRecord(context.Background(), rec)
		require.NoError(t, err)
	}
	store.Now = time.Now
}

func TestCloseMonth_SumsAndSplits(t *testing.T) {
	store := billingmem.New()
	march := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)

	seedMonthRevenue(t, store, march.Add(72*time.Hour),
		billing.PaymentRecord{Kind: billing.KindSubscription, GrossCents: 499, FeeCents: 45, NetCents: 454, Provider: "stripe", ProviderRef: "in_1"},
		billing.PaymentRecord{Kind: billing.KindIAPPoints, GrossCents: 999, FeeCents: 150, NetCents: 849, Provider: "apple", ProviderRef: "txn_1"},
	)
	// Revenue in the following month must not leak into March.
	seedMonthRevenue(t, store, march.AddDate(0, 1, 2),
		billing.PaymentRecord{Kind: billing.KindSubscription, GrossCents: 499, FeeCents: 45, NetCents: 454, Provider: "stripe", ProviderRef: "in_2"},
	)

	svc := newService(t, store, time.Date(2026, time.April, 3, 9, 0, 0, 0, time.UTC))

	res, err := svc.CloseMonth(context.Background(), march)
	require.NoError(t, err)
	assert.False(t, res.AlreadyClosed)
	assert.Equal(t, int64(1303), res.Payout.NetCents)
	assert.Equal(t, int64(652), res.Payout.CharityShareCents) // 651.5 rounds half up
	assert.True(t, strings.HasPrefix(res.Payout.TxRef, "charity-2026-03-"))
}

func TestCloseMonth_ExactHalf(t *testing.T) {
	store := billingmem.New()
	march := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)

	seedMonthRevenue(t, store, march.Add(time.Hour),
		billing.PaymentRecord{Kind: billing.KindSubscription, GrossCents: 10000, FeeCents: 0, NetCents: 10000, Provider: "stripe", ProviderRef: "in_half"},
	)

	svc := newService(t, store, march.AddDate(0, 1, 0))

	res, err := svc.CloseMonth(context.Background(), march)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), res.Payout.NetCents)
	assert.Equal(t, int64(5000), res.Payout.CharityShareCents)
}

func TestCloseMonth_Idempotent(t *testing.T) {
	store := billingmem.New()
	march := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)

	seedMonthRevenue(t, store, march.Add(time.Hour),
		billing.PaymentRecord{Kind: billing.KindSubscription, GrossCents: 499, FeeCents: 45, NetCents: 454, Provider: "stripe", ProviderRef: "in_1"},
	)

	svc := newService(t, store, time.Date(2026, time.April, 1, 2, 0, 0, 0, time.UTC))

	first, err := svc.CloseMonth(context.Background(), march)
	require.NoError(t, err)
	require.False(t, first.AlreadyClosed)

	// Revenue booked late must not change an already closed month.
	seedMonthRevenue(t, store, march.Add(48*time.Hour),
		billing.PaymentRecord{Kind: billing.KindIAPPoints, GrossCents: 199, FeeCents: 30, NetCents: 169, Provider: "apple", ProviderRef: "txn_late"},
	)

	second, err := svc.CloseMonth(context.Background(), march)
	require.NoError(t, err)
	assert.True(t, second.AlreadyClosed)
	assert.Equal(t, first.Payout.ID, second.Payout.ID)
	assert.Equal(t, first.Payout.NetCents, second.Payout.NetCents)
	assert.Equal(t, first.Payout.TxRef, second.Payout.TxRef)
}

func TestCloseMonth_RejectsOpenMonth(t *testing.T) {
	store := billingmem.New()
	march := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)

	svc := newService(t, store, time.Date(2026, time.March, 31, 23, 59, 0, 0, time.UTC))

	_, err := svc.CloseMonth(context.Background(), march)
	require.ErrorIs(t, err, ErrMonthNotElapsed)
}

func TestCloseMonth_RejectsMidMonthTimestamp(t *testing.T) {
	store := billingmem.New()
	svc := newService(t, store, time.Date(2026, time.May, 1, 0, 0, 0, 0, time.UTC))

	_, err := svc.CloseMonth(context.Background(), time.Date(2026, time.March, 15, 0, 0, 0, 0, time.UTC))
	require.ErrorIs(t, err, ErrNotMonthStart)
}

func TestCloseMonth_EmptyMonthZeroPayout(t *testing.T) {
	store := billingmem.New()
	feb := time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC)

	svc := newService(t, store, time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC))

	res, err := svc.CloseMonth(context.Background(), feb)
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Payout.NetCents)
	assert.Equal(t, int64(0), res.Payout.CharityShareCents)
}

func TestClosePreviousMonth(t *testing.T) {
	store := billingmem.New()
	svc := newService(t, store, time.Date(2026, time.April, 1, 3, 30, 0, 0, time.UTC))

	res, err := svc.ClosePreviousMonth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC), res.Payout.Month)
}
