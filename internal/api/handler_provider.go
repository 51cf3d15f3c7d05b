package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/herohabits/hpledger/internal/infra/auth"
	"github.com/herohabits/hpledger/internal/repos/ledger"
	"github.com/herohabits/hpledger/internal/services/points"
	"github.com/herohabits/hpledger/internal/services/settlement"
	"github.com/herohabits/hpledger/internal/services/webhook"
	"github.com/herohabits/hpledger/internal/verify"
)

// HandlerProvider wraps the domain services and exposes HTTP handlers.
type HandlerProvider struct {
	points     *points.Service
	webhook    *webhook.Service
	settlement *settlement.Service
}

// NewHandler returns a new Handler provider.
func NewHandler(pts *points.Service, wh *webhook.Service, stl *settlement.Service) *HandlerProvider {
	return &HandlerProvider{points: pts, webhook: wh, settlement: stl}
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	// Encode before touching the ResponseWriter so an encode failure can
	// still produce a clean 500 instead of a garbled 2xx body.
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if _, err := w.Write(buf.Bytes()); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeBody parses a JSON request body into dst with a 1MB cap and unknown
// fields rejected.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	err := dec.Decode(dst)
	if err != nil {
		if errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "empty body")
			return err
		}
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return err
	}
	return nil
}

// userID pulls the authenticated user from the request context; the JWT
// middleware guarantees it is set on protected routes.
func userID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing authentication")
		return 0, false
	}
	return id, true
}

type balanceResponse struct {
	UserID       int64  `json:"userId"`
	HPBalance    int64  `json:"hpBalance"`
	Premium      bool   `json:"premium"`
	PremiumUntil string `json:"premiumUntil,omitempty"`
}

func toBalanceResponse(p ledger.Profile) balanceResponse {
	resp := balanceResponse{
		UserID:    p.UserID,
		HPBalance: p.HPBalance,
		Premium:   p.Premium,
	}
	if p.PremiumUntil != nil {
		resp.PremiumUntil = p.PremiumUntil.UTC().Format(time.RFC3339)
	}
	return resp
}

// --- Handlers ---

type adCallbackRequest struct {
	VerificationID string `json:"verificationId"`
	DeviceID       string `json:"deviceId"`
	AdNetwork      string `json:"adNetwork"`
	EcpmCents      int64  `json:"ecpmCents"`
}

// AdCallbackHandler handles POST /rewards/ad-callback
func (h *HandlerProvider) AdCallbackHandler(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	var req adCallbackRequest
	if err := decodeBody(w, r, &req); err != nil {
		return
	}

	res, err := h.points.AwardAdReward(r.Context(), uid, verify.AdRewardClaim{
		VerificationID: req.VerificationID,
		DeviceID:       req.DeviceID,
		Network:        req.AdNetwork,
		EcpmCents:      req.EcpmCents,
	})
	if err != nil {
		switch {
		case errors.Is(err, verify.ErrUnknownNetwork), errors.Is(err, verify.ErrTokenMalformed):
			writeError(w, http.StatusBadRequest, "verification failed")
		case errors.Is(err, points.ErrRateLimited):
			writeError(w, http.StatusTooManyRequests, "reward rate limit exceeded")
		default:
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	if res.Duplicate {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":      "reward already credited",
			"newBalance": res.NewBalance,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"hpAwarded":  res.HPAwarded,
		"newBalance": res.NewBalance,
	})
}

type refreshRequest struct {
	IdempotencyKey string `json:"idempotencyKey"`
	DeviceID       string `json:"deviceId"`
}

// RefreshQuoteHandler handles POST /points/refresh
func (h *HandlerProvider) RefreshQuoteHandler(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	var req refreshRequest
	if err := decodeBody(w, r, &req); err != nil {
		return
	}

	res, err := h.points.RefreshQuote(r.Context(), uid, req.IdempotencyKey, req.DeviceID)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrMissingDedupKey):
			writeError(w, http.StatusBadRequest, "idempotencyKey required")
		case errors.Is(err, points.ErrRateLimited):
			writeError(w, http.StatusTooManyRequests, "refresh rate limit exceeded")
		case errors.Is(err, ledger.ErrInsufficientBalance):
			writeError(w, http.StatusPaymentRequired, "insufficient balance")
		default:
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	if res.Duplicate {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":      "duplicate refresh",
			"newBalance": res.NewBalance,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"hpCharged":     res.HPCharged,
		"newBalance":    res.NewBalance,
		"premiumWaived": res.PremiumWaived,
	})
}

type purchaseRequest struct {
	ReceiptData   string `json:"receiptData"`
	Platform      string `json:"platform"`
	ProductID     string `json:"productId"`
	TransactionID string `json:"transactionId"`
	DeviceID      string `json:"deviceId"`
}

// VerifyPurchaseHandler handles POST /purchases/verify
func (h *HandlerProvider) VerifyPurchaseHandler(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	var req purchaseRequest
	if err := decodeBody(w, r, &req); err != nil {
		return
	}

	platform, err := verify.ParsePlatform(req.Platform)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid platform")
		return
	}

	res, err := h.points.VerifyPurchase(r.Context(), uid, verify.PurchaseClaim{
		ReceiptData:   req.ReceiptData,
		Platform:      platform,
		ProductID:     req.ProductID,
		TransactionID: req.TransactionID,
		DeviceID:      req.DeviceID,
	})
	if err != nil {
		switch {
		case errors.Is(err, verify.ErrUnknownProduct):
			writeError(w, http.StatusBadRequest, "unknown productId")
		case errors.Is(err, verify.ErrReceiptInvalid), errors.Is(err, verify.ErrUnknownPlatform):
			writeError(w, http.StatusBadRequest, "receipt verification failed")
		default:
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	if res.Duplicate {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":      "purchase already credited",
			"newBalance": res.NewBalance,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"hpAwarded":  res.HPAwarded,
		"newBalance": res.NewBalance,
	})
}

// GetBalanceHandler handles GET /points/balance
func (h *HandlerProvider) GetBalanceHandler(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	profile, err := h.points.Balance(r.Context(), uid)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, toBalanceResponse(profile))
}

// PaymentWebhookHandler handles POST /webhooks/payment-provider. The raw
// body is read before any parsing: the signature covers the exact bytes.
func (h *HandlerProvider) PaymentWebhookHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	defer r.Body.Close()

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	_, err = h.webhook.Ingest(r.Context(), payload, r.Header.Get("Signature"))
	if err != nil {
		switch {
		case errors.Is(err, verify.ErrBadSignature):
			writeError(w, http.StatusBadRequest, "invalid signature")
		case errors.Is(err, verify.ErrBadPayload):
			writeError(w, http.StatusBadRequest, "invalid payload")
		default:
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	// Replays and ignored event types still ack with 200 so the provider
	// stops retrying.
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

type settleRequest struct {
	Month string `json:"month"` // "YYYY-MM"; empty means previous month
}

// SettleMonthHandler handles POST /admin/settle-month
func (h *HandlerProvider) SettleMonthHandler(w http.ResponseWriter, r *http.Request) {
	var req settleRequest
	if r.ContentLength > 0 {
		if err := decodeBody(w, r, &req); err != nil {
			return
		}
	}

	var (
		res settlement.Result
		err error
	)
	if strings.TrimSpace(req.Month) == "" {
		res, err = h.settlement.ClosePreviousMonth(r.Context())
	} else {
		month, parseErr := time.ParseInLocation("2006-01", req.Month, time.UTC)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, "month must be YYYY-MM")
			return
		}
		res, err = h.settlement.CloseMonth(r.Context(), month)
	}
	if err != nil {
		switch {
		case errors.Is(err, settlement.ErrMonthNotElapsed), errors.Is(err, settlement.ErrNotMonthStart):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"month":             res.Payout.Month.Format("2006-01"),
		"netCents":          res.Payout.NetCents,
		"charityShareCents": res.Payout.CharityShareCents,
		"payoutId":          res.Payout.ID.String(),
		"alreadyClosed":     res.AlreadyClosed,
	})
}
