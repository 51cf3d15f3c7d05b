package verify

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/herohabits/hpledger/internal/config"
)

// Platform is the store a purchase receipt originates from.
type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
	PlatformStripe  Platform = "stripe"
)

func ParsePlatform(s string) (Platform, error) {
	switch Platform(strings.ToLower(strings.TrimSpace(s))) {
	case PlatformIOS:
		return PlatformIOS, nil
	case PlatformAndroid:
		return PlatformAndroid, nil
	case PlatformStripe:
		return PlatformStripe, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPlatform, s)
}

// Package is one purchasable HP bundle.
type Package struct {
	ProductID  string
	HP         int64
	PriceCents int64
}

// Catalog returns the static HP package catalog. Three tiers, matching the
// store listings.
func Catalog() map[string]Package {
	return map[string]Package{
		"hp_small":  {ProductID: "hp_small", HP: 200, PriceCents: 199},
		"hp_medium": {ProductID: "hp_medium", HP: 1200, PriceCents: 999},
		"hp_large":  {ProductID: "hp_large", HP: 3500, PriceCents: 1999},
	}
}

// PurchaseClaim is an inbound purchase verification request.
type PurchaseClaim struct {
	ReceiptData   string
	Platform      Platform
	ProductID     string
	TransactionID string
	DeviceID      string
}

// PurchaseEvent is a verified purchase: the package plus the revenue split
// for the payment record.
type PurchaseEvent struct {
	Package       Package
	Platform      Platform
	TransactionID string
	FeeCents      int64
	NetCents      int64
}

// IAPVerifier validates purchase receipts against per-platform rules and the
// static catalog.
type IAPVerifier struct {
	catalog    map[string]Package
	playSecret []byte
	feeRate    decimal.Decimal
}

// NewIAPVerifier requires the Play verification secret up front. The legacy
// behavior of skipping verification when the secret is unset silently
// trusted all receipts; a missing secret is now a configuration error.
func NewIAPVerifier(cfg config.IAPConfig) (*IAPVerifier, error) {
	if strings.TrimSpace(cfg.PlaySecret) == "" {
		return nil, fmt.Errorf("%w: IAP_PLAY_SECRET is empty", ErrMissingSecrets)
	}
	if cfg.FeeRate.IsNegative() || cfg.FeeRate.GreaterThan(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("platform fee rate out of range: %s", cfg.FeeRate)
	}

	return &IAPVerifier{
		catalog:    Catalog(),
		playSecret: []byte(cfg.PlaySecret),
		feeRate:    cfg.FeeRate,
	}, nil
}

func (v *IAPVerifier) Verify(claim PurchaseClaim) (PurchaseEvent, error) {
	pkg, ok := v.catalog[claim.ProductID]
	if !ok {
		return PurchaseEvent{}, fmt.Errorf("%w: %q", ErrUnknownProduct, claim.ProductID)
	}

	receipt := strings.TrimSpace(claim.ReceiptData)
	if receipt == "" {
		return PurchaseEvent{}, fmt.Errorf("%w: empty receipt", ErrReceiptInvalid)
	}

	var err error
	switch claim.Platform {
	case PlatformIOS:
		err = verifyAppStoreReceipt(receipt)
	case PlatformAndroid:
		err = v.verifyPlayReceipt(receipt)
	case PlatformStripe:
		err = verifyStripeReceipt(receipt)
	default:
		return PurchaseEvent{}, fmt.Errorf("%w: %q", ErrUnknownPlatform, claim.Platform)
	}
	if err != nil {
		return PurchaseEvent{}, err
	}

	txID := strings.TrimSpace(claim.TransactionID)
	if txID == "" {
		// Receipts without a transaction id dedup on the receipt itself.
		sum := sha256.Sum256([]byte(receipt))
		txID = hex.EncodeToString(sum[:])
	}

	fee := decimal.NewFromInt(pkg.PriceCents).Mul(v.feeRate).Round(0).IntPart()

	return PurchaseEvent{
		Package:       pkg,
		Platform:      claim.Platform,
		TransactionID: txID,
		FeeCents:      fee,
		NetCents:      pkg.PriceCents - fee,
	}, nil
}

// verifyAppStoreReceipt checks the opaque App Store receipt envelope: valid
// base64 with a plausible payload size.
func verifyAppStoreReceipt(receipt string) error {
	raw, err := base64.StdEncoding.DecodeString(receipt)
	if err != nil {
		return fmt.Errorf("%w: receipt is not base64", ErrReceiptInvalid)
	}
	if len(raw) < 32 {
		return fmt.Errorf("%w: receipt too short", ErrReceiptInvalid)
	}
	return nil
}

// playReceipt is the Play Billing purchase envelope: the JSON payload plus
// an HMAC-SHA256 signature computed with the shared verification secret.
type playReceipt struct {
	Payload   string `json:"payload"`
	Signature string `json:"signature"`
}

func (v *IAPVerifier) verifyPlayReceipt(receipt string) error {
	var env playReceipt
	if err := json.Unmarshal([]byte(receipt), &env); err != nil {
		return fmt.Errorf("%w: receipt is not a purchase envelope", ErrReceiptInvalid)
	}
	if env.Payload == "" || env.Signature == "" {
		return fmt.Errorf("%w: missing payload or signature", ErrReceiptInvalid)
	}

	sig, err := hex.DecodeString(env.Signature)
	if err != nil {
		return fmt.Errorf("%w: signature is not hex", ErrReceiptInvalid)
	}

	mac := hmac.New(sha256.New, v.playSecret)
	mac.Write([]byte(env.Payload))
	if !hmac.Equal(sig, mac.Sum(nil)) {
		return fmt.Errorf("%w: signature mismatch", ErrReceiptInvalid)
	}
	return nil
}

// verifyStripeReceipt checks a checkout-session reference.
func verifyStripeReceipt(receipt string) error {
	if !strings.HasPrefix(receipt, "cs_") || len(receipt) < 20 {
		return fmt.Errorf("%w: not a checkout session id", ErrReceiptInvalid)
	}
	return nil
}

// SignPlayReceipt builds a valid Play purchase envelope. Test helper.
func SignPlayReceipt(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	env := playReceipt{Payload: payload, Signature: hex.EncodeToString(mac.Sum(nil))}
	raw, _ := json.Marshal(env)
	return string(raw)
}
