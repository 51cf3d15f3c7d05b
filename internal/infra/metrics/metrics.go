// Package metrics defines the Prometheus instrumentation for the ledger
// service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all collectors. Register once per process via New; tests use
// a throwaway registry.
type Metrics struct {
	LedgerAppends  *prometheus.CounterVec
	WebhookEvents  *prometheus.CounterVec
	SettlementRuns *prometheus.CounterVec
	HTTPRequests   *prometheus.CounterVec
}

// Append outcomes.
const (
	OutcomeApplied      = "applied"
	OutcomeReplayed     = "replayed"
	OutcomeRateLimited  = "rate_limited"
	OutcomeInsufficient = "insufficient_balance"
	OutcomeRejected     = "rejected"
)

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		LedgerAppends: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "hpledger",
				Subsystem: "ledger",
				Name:      "appends_total",
				Help:      "Ledger append attempts partitioned by reason and outcome.",
			},
			[]string{"reason", "outcome"},
		),
		WebhookEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "hpledger",
				Subsystem: "webhook",
				Name:      "events_total",
				Help:      "Payment-provider webhook events partitioned by type and outcome.",
			},
			[]string{"type", "outcome"},
		),
		SettlementRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "hpledger",
				Subsystem: "settlement",
				Name:      "runs_total",
				Help:      "Settlement job invocations partitioned by result.",
			},
			[]string{"result"},
		),
		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "hpledger",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "HTTP requests partitioned by route and status code.",
			},
			[]string{"route", "code"},
		),
	}
}

// NewNop returns metrics bound to a private registry, for tests.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
