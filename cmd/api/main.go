package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/herohabits/hpledger/internal/api"
	"github.com/herohabits/hpledger/internal/infra/auth"
	"github.com/herohabits/hpledger/internal/infra/logging"
	"github.com/herohabits/hpledger/internal/infra/metrics"
	"github.com/herohabits/hpledger/internal/infra/pgutils"
	billingpg "github.com/herohabits/hpledger/internal/repos/billing/postgres"
	ledgerpg "github.com/herohabits/hpledger/internal/repos/ledger/postgres"
	"github.com/herohabits/hpledger/internal/services/points"
	"github.com/herohabits/hpledger/internal/services/settlement"
	"github.com/herohabits/hpledger/internal/services/webhook"
	"github.com/herohabits/hpledger/internal/verify"
	"github.com/herohabits/hpledger/pkg/envconf"
	"github.com/herohabits/hpledger/pkg/shutdownqueue"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error running api: %v", err)
		//nolint:gocritic
		os.Exit(1)
	}
}

func run(ctx context.Context) (retErr error) {
	// Local development convenience; absent .env is not an error.
	_ = godotenv.Load()

	cfg := new(apiConfig)

	err := envconf.Load(cfg)
	if err != nil {
		return fmt.Errorf("init config: %w", err)
	}

	logging.SetupJSON(cfg.LogLevel)

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		serr := shutdownqueue.Shutdown(shutdownCtx)
		if serr != nil {
			retErr = errors.Join(retErr, serr)
		}
	}()

	// --- Infra ---
	dbConns, err := pgutils.OpenDB(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	// --- Verifiers: a missing secret fails startup, never a silent bypass ---
	adVerifier, err := verify.NewAdRewardVerifier(cfg.Ads)
	if err != nil {
		return fmt.Errorf("init ad verifier: %w", err)
	}

	iapVerifier, err := verify.NewIAPVerifier(cfg.IAP)
	if err != nil {
		return fmt.Errorf("init iap verifier: %w", err)
	}

	webhookVerifier, err := verify.NewWebhookVerifier(cfg.Webhook)
	if err != nil {
		return fmt.Errorf("init webhook verifier: %w", err)
	}

	// --- Stores and services ---
	ledgerStore := ledgerpg.New(dbConns)
	billingStore := billingpg.New(dbConns)

	pointsSvc := points.New(ledgerStore, billingStore, adVerifier, iapVerifier,
		points.ConfigFrom(cfg.Rates, cfg.Points), m)
	webhookSvc := webhook.New(webhookVerifier, ledgerStore, billingStore, m)
	settlementSvc := settlement.New(billingStore, cfg.Settlement, m)

	// --- HTTP server ---
	srv := api.NewServer(cfg.Port, api.RouterDeps{
		Points:     pointsSvc,
		Webhook:    webhookSvc,
		Settlement: settlementSvc,
		JWT:        auth.NewJWTVerifier(cfg.Auth.JWTSecret),
		CronSecret: cfg.Auth.CronSecret,
		Metrics:    m,
		Registry:   registry,
	})

	// Register HTTP server graceful shutdown
	shutdownqueue.Add(func(c context.Context) error {
		slog.Info("Shut down server")

		err := srv.Shutdown(c)
		if err != nil {
			return fmt.Errorf("shutdown srv: %w", err)
		}

		return nil
	})

	// Run server
	errCh := make(chan error, 1)

	go func() {
		serr := srv.ListenAndServe()
		// http.ErrServerClosed is the normal path during Shutdown
		if serr != nil && !errors.Is(serr, http.ErrServerClosed) {
			errCh <- serr
			return
		}

		errCh <- nil
	}()

	slog.Info("API started", "port", cfg.Port)

	// --- Wait until either context cancels or server errors out ---
	select {
	case <-ctx.Done():
		// graceful path; deferred shutdownqueue.Shutdown will run
		return nil
	case serr := <-errCh:
		if serr != nil {
			return fmt.Errorf("server error: %w", serr)
		}

		return nil
	}
}
