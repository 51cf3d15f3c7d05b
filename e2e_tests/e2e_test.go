// Package e2etests exercises a running API instance end to end. The suite
// skips itself unless the service is reachable; point HP_E2E_BASE_URL and
// HP_E2E_JWT_SECRET at a dev deployment (cmd/migrator with APP_ENV=DEV, then
// cmd/api) to run it.
package e2etests

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const timeout = 5 * time.Second

var httpClient = &http.Client{Timeout: timeout}

func baseURL() string {
	if v := os.Getenv("HP_E2E_BASE_URL"); v != "" {
		return v
	}
	return "http://localhost:8080"
}

func skipUnlessReady(t *testing.T) {
	t.Helper()

	resp, err := httpClient.Get(baseURL() + "/healthz")
	if err != nil {
		t.Skipf("service not reachable at %s: %v", baseURL(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Skipf("service not healthy: %d", resp.StatusCode)
	}
	if os.Getenv("HP_E2E_JWT_SECRET") == "" {
		t.Skip("HP_E2E_JWT_SECRET not set")
	}
}

func userToken(t *testing.T, userID int64) string {
	t.Helper()

	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": strconv.FormatInt(userID, 10),
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	})
	signed, err := tok.SignedString([]byte(os.Getenv("HP_E2E_JWT_SECRET")))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

// freshUserID avoids collisions with seed data and earlier runs.
func freshUserID(t *testing.T) int64 {
	t.Helper()
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		t.Fatalf("rand: %v", err)
	}
	return 1_000_000 + int64(b[0])<<24 | int64(b[1])<<16 | int64(b[2])<<8 | int64(b[3])
}

func uniqToken(prefix string) string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return prefix + hex.EncodeToString(b[:])
}

func doJSON(t *testing.T, method, path, token string, body any) (int, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req, err := http.NewRequest(method, baseURL()+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	var out map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("%s %s: non-JSON response %q", method, path, raw)
		}
	}
	return resp.StatusCode, out
}

func TestE2E_RewardFlow(t *testing.T) {
	skipUnlessReady(t)

	userID := freshUserID(t)
	token := userToken(t, userID)

	code, resp := doJSON(t, http.MethodGet, "/points/balance", token, nil)
	if code != http.StatusOK {
		t.Fatalf("balance: want 200, got %d (%v)", code, resp)
	}
	if resp["hpBalance"] != float64(0) {
		t.Fatalf("fresh user balance: want 0, got %v", resp["hpBalance"])
	}

	verificationID := uniqToken("ssv1:")
	body := map[string]any{
		"verificationId": verificationID,
		"deviceId":       "e2e-device",
		"adNetwork":      "admob",
		"ecpmCents":      2,
	}

	code, resp = doJSON(t, http.MethodPost, "/rewards/ad-callback", token, body)
	if code != http.StatusOK {
		t.Fatalf("ad callback: want 200, got %d (%v)", code, resp)
	}
	awarded := resp["hpAwarded"].(float64)
	if awarded <= 0 {
		t.Fatalf("no HP awarded: %v", resp)
	}

	// Replay of the same verification id must not credit twice.
	code, resp = doJSON(t, http.MethodPost, "/rewards/ad-callback", token, body)
	if code != http.StatusConflict {
		t.Fatalf("replayed callback: want 409, got %d (%v)", code, resp)
	}

	code, resp = doJSON(t, http.MethodGet, "/points/balance", token, nil)
	if code != http.StatusOK {
		t.Fatalf("balance: want 200, got %d", code)
	}
	if resp["hpBalance"] != awarded {
		t.Fatalf("balance after replay: want %v, got %v", awarded, resp["hpBalance"])
	}
}

func TestE2E_RefreshRequiresBalance(t *testing.T) {
	skipUnlessReady(t)

	userID := freshUserID(t)
	token := userToken(t, userID)

	code, resp := doJSON(t, http.MethodPost, "/points/refresh", token, map[string]any{
		"idempotencyKey": uniqToken("idem-"),
		"deviceId":       "e2e-device",
	})
	if code != http.StatusPaymentRequired {
		t.Fatalf("refresh on empty balance: want 402, got %d (%v)", code, resp)
	}
}

func TestE2E_AuthRequired(t *testing.T) {
	skipUnlessReady(t)

	code, _ := doJSON(t, http.MethodGet, "/points/balance", "", nil)
	if code != http.StatusUnauthorized {
		t.Fatalf("no token: want 401, got %d", code)
	}

	code, _ = doJSON(t, http.MethodGet, "/points/balance", "not-a-token", nil)
	if code != http.StatusUnauthorized {
		t.Fatalf("garbage token: want 401, got %d", code)
	}
}

func TestE2E_UnknownProductRejected(t *testing.T) {
	skipUnlessReady(t)

	userID := freshUserID(t)
	token := userToken(t, userID)

	code, resp := doJSON(t, http.MethodPost, "/purchases/verify", token, map[string]any{
		"receiptData":   "aXJyZWxldmFudC1yZWNlaXB0LWJsb2ItMDAwMDAwMDA=",
		"platform":      "ios",
		"productId":     fmt.Sprintf("hp_nope_%d", userID),
		"transactionId": uniqToken("txn-"),
		"deviceId":      "e2e-device",
	})
	if code != http.StatusBadRequest {
		t.Fatalf("unknown product: want 400, got %d (%v)", code, resp)
	}

	code, resp = doJSON(t, http.MethodGet, "/points/balance", token, nil)
	if code != http.StatusOK || resp["hpBalance"] != float64(0) {
		t.Fatalf("balance must stay 0 after rejected purchase: %d %v", code, resp)
	}
}
