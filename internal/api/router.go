package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/herohabits/hpledger/internal/infra/auth"
	"github.com/herohabits/hpledger/internal/infra/metrics"
	"github.com/herohabits/hpledger/internal/services/points"
	"github.com/herohabits/hpledger/internal/services/settlement"
	"github.com/herohabits/hpledger/internal/services/webhook"
)

// RouterDeps are everything the router wires together.
type RouterDeps struct {
	Points     *points.Service
	Webhook    *webhook.Service
	Settlement *settlement.Service
	JWT        *auth.JWTVerifier
	CronSecret string
	Metrics    *metrics.Metrics
	Registry   *prometheus.Registry
}

// NewRouter constructs the HTTP routing tree with all endpoints registered.
func NewRouter(deps RouterDeps) http.Handler {
	h := NewHandler(deps.Points, deps.Webhook, deps.Settlement)
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(15 * time.Second))
	r.Use(metricsMiddleware(deps.Metrics))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if deps.Registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))
	}

	// Signed by the payment provider, not by a user token.
	r.Post("/webhooks/payment-provider", h.PaymentWebhookHandler)

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(deps.JWT))

		r.Post("/rewards/ad-callback", h.AdCallbackHandler)
		r.Post("/points/refresh", h.RefreshQuoteHandler)
		r.Post("/purchases/verify", h.VerifyPurchaseHandler)
		r.Get("/points/balance", h.GetBalanceHandler)
	})

	r.Group(func(r chi.Router) {
		r.Use(cronSecretMiddleware(deps.CronSecret))

		r.Post("/admin/settle-month", h.SettleMonthHandler)
	})

	return r
}
