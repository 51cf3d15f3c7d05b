// Package webhook ingests payment-provider events: signature check first,
// then event-id dedup, then subscription sync and revenue recording. An
// event that fails the signature check leaves no trace anywhere, and the
// event id is marked seen only after its effects have been applied.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/herohabits/hpledger/internal/infra/metrics"
	"github.com/herohabits/hpledger/internal/repos/billing"
	"github.com/herohabits/hpledger/internal/repos/ledger"
	"github.com/herohabits/hpledger/internal/verify"
)

// provider is the single payment processor the app integrates with.
const provider = "stripe"

type Service struct {
	verifier *verify.WebhookVerifier
	ledger   ledger.Store
	billing  billing.Store
	metrics  *metrics.Metrics
}

func New(verifier *verify.WebhookVerifier, ledgerStore ledger.Store, billingStore billing.Store, m *metrics.Metrics) *Service {
	return &Service{
		verifier: verifier,
		ledger:   ledgerStore,
		billing:  billingStore,
		metrics:  m,
	}
}

// Outcome reports how an event was handled; the HTTP layer acknowledges all
// of them with 200 so the provider stops retrying.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeReplayed  Outcome = "replayed"
	OutcomeIgnored   Outcome = "ignored"
)

// Ingest authenticates and applies one raw provider payload.
func (s *Service) Ingest(ctx context.Context, payload []byte, sigHeader string) (Outcome, error) {
	if err := s.verifier.Verify(payload, sigHeader); err != nil {
		s.metrics.WebhookEvents.WithLabelValues("unknown", "bad_signature").Inc()
		return "", err
	}

	ev, err := s.verifier.ParseEvent(payload)
	if err != nil {
		if errors.Is(err, verify.ErrEventIgnored) {
			s.metrics.WebhookEvents.WithLabelValues(ev.Type, string(OutcomeIgnored)).Inc()
			return OutcomeIgnored, nil
		}
		s.metrics.WebhookEvents.WithLabelValues("unknown", "bad_payload").Inc()
		return "", err
	}

	seen, err := s.billing.SeenWebhookEvent(ctx, provider, ev.ID)
	if err != nil {
		return "", fmt.Errorf("check event: %w", err)
	}
	if seen {
		s.metrics.WebhookEvents.WithLabelValues(ev.Type, string(OutcomeReplayed)).Inc()
		return OutcomeReplayed, nil
	}

	switch ev.Type {
	case verify.EventCheckoutCompleted, verify.EventInvoicePaid:
		err = s.applyPaid(ctx, ev)
	case verify.EventSubscriptionDeleted:
		err = s.ledger.SetSubscription(ctx, ev.Data.UserID, false, nil)
	}
	if err != nil {
		return "", err
	}

	// Mark only after the effects landed: if anything above failed, the
	// provider's retry finds the event unmarked and applies it again. The
	// effects are idempotent, so the concurrent-duplicate race where both
	// copies pass the seen check is harmless; the insert's conflict tells
	// the loser it was a replay.
	already, err := s.billing.MarkWebhookEvent(ctx, provider, ev.ID, ev.Type)
	if err != nil {
		return "", fmt.Errorf("mark event: %w", err)
	}
	if already {
		s.metrics.WebhookEvents.WithLabelValues(ev.Type, string(OutcomeReplayed)).Inc()
		return OutcomeReplayed, nil
	}

	s.metrics.WebhookEvents.WithLabelValues(ev.Type, string(OutcomeProcessed)).Inc()
	slog.Info("webhook event processed", "type", ev.Type, "event_id", ev.ID, "user_id", ev.Data.UserID)

	return OutcomeProcessed, nil
}

// applyPaid syncs the premium flag and books the subscription revenue.
func (s *Service) applyPaid(ctx context.Context, ev verify.WebhookEvent) error {
	var until *time.Time
	if ev.Data.PeriodEnd > 0 {
		t := time.Unix(ev.Data.PeriodEnd, 0).UTC()
		until = &t
	}

	err := s.ledger.SetSubscription(ctx, ev.Data.UserID, true, until)
	if err != nil {
		return fmt.Errorf("sync subscription: %w", err)
	}

	if ev.Data.AmountCents > 0 {
		userID := ev.Data.UserID
		_, err = s.billing.InsertRecord(ctx, billing.PaymentRecord{
			UserID:      &userID,
			Kind:        billing.KindSubscription,
			GrossCents:  ev.Data.AmountCents,
			FeeCents:    ev.Data.FeeCents,
			NetCents:    ev.Data.AmountCents - ev.Data.FeeCents,
			Provider:    provider,
			ProviderRef: ev.Data.Ref,
		})
		if err != nil && !errors.Is(err, billing.ErrDuplicateRecord) {
			return fmt.Errorf("record subscription revenue: %w", err)
		}
	}

	return nil
}
