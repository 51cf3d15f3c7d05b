package verify

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/herohabits/hpledger/internal/config"
)

var (
	ErrBadSignature = errors.New("invalid webhook signature")
	ErrBadPayload   = errors.New("invalid webhook payload")
	ErrEventIgnored = errors.New("webhook event type ignored")
)

// Webhook event types the subscription sync acts on.
const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventInvoicePaid         = "invoice.paid"
	EventSubscriptionDeleted = "customer.subscription.deleted"
)

// WebhookEvent is a parsed provider event.
type WebhookEvent struct {
	ID   string           `json:"id"`
	Type string           `json:"type"`
	Data WebhookEventData `json:"data"`
}

type WebhookEventData struct {
	UserID      int64  `json:"userId"`
	AmountCents int64  `json:"amountCents"`
	FeeCents    int64  `json:"feeCents"`
	PeriodEnd   int64  `json:"periodEnd"` // unix seconds
	Ref         string `json:"ref"`       // provider-side invoice/session id
}

// WebhookVerifier authenticates payment-provider callbacks. The signature
// header carries `t=<unix>,v1=<hex hmac>`; the MAC is SHA-256 over
// "<t>.<raw body>" keyed with the shared webhook secret.
type WebhookVerifier struct {
	secret    []byte
	tolerance time.Duration

	// now is swapped in tests to pin the timestamp window.
	now func() time.Time
}

// NewWebhookVerifier rejects an empty secret outright; signature checks must
// never be skippable by configuration.
func NewWebhookVerifier(cfg config.WebhookConfig) (*WebhookVerifier, error) {
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, fmt.Errorf("%w: PAYMENT_WEBHOOK_SECRET is empty", ErrMissingSecrets)
	}

	return &WebhookVerifier{
		secret:    []byte(cfg.Secret),
		tolerance: cfg.Tolerance,
		now:       time.Now,
	}, nil
}

// Verify checks sigHeader against payload. Any failure is a hard rejection.
func (v *WebhookVerifier) Verify(payload []byte, sigHeader string) error {
	ts, signatures, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return err
	}

	eventTime := time.Unix(ts, 0)
	age := v.now().Sub(eventTime)
	if age > v.tolerance || age < -v.tolerance {
		return fmt.Errorf("%w: timestamp outside tolerance", ErrBadSignature)
	}

	mac := hmac.New(sha256.New, v.secret)
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, sig := range signatures {
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return nil
		}
	}

	return ErrBadSignature
}

// ParseEvent decodes a verified payload. Unrecognized event types come back
// as ErrEventIgnored so the handler can acknowledge without acting.
func (v *WebhookVerifier) ParseEvent(payload []byte) (WebhookEvent, error) {
	var ev WebhookEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if strings.TrimSpace(ev.ID) == "" || strings.TrimSpace(ev.Type) == "" {
		return WebhookEvent{}, fmt.Errorf("%w: missing id or type", ErrBadPayload)
	}

	switch ev.Type {
	case EventCheckoutCompleted, EventInvoicePaid, EventSubscriptionDeleted:
	default:
		return ev, ErrEventIgnored
	}

	if ev.Data.UserID <= 0 {
		return WebhookEvent{}, fmt.Errorf("%w: missing user id", ErrBadPayload)
	}

	return ev, nil
}

func parseSignatureHeader(header string) (int64, []string, error) {
	var (
		ts         int64
		signatures []string
		seenTS     bool
	)

	for _, part := range strings.Split(header, ",") {
		k, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			parsed, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				return 0, nil, fmt.Errorf("%w: bad timestamp", ErrBadSignature)
			}
			ts = parsed
			seenTS = true
		case "v1":
			signatures = append(signatures, val)
		}
	}

	if !seenTS || len(signatures) == 0 {
		return 0, nil, fmt.Errorf("%w: missing t or v1", ErrBadSignature)
	}

	return ts, signatures, nil
}

// SignPayload produces a valid signature header for payload at ts. Test and
// dev-tooling helper; the provider computes the real one.
func SignPayload(secret string, ts time.Time, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts.Unix())
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}
