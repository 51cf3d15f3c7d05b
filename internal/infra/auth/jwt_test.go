package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/herohabits/hpledger/internal/infra/auth"
)

func TestParseUserID_RoundTrip(t *testing.T) {
	v := auth.NewJWTVerifier("test-secret")

	tok, err := v.SignUserToken(42, time.Minute)
	require.NoError(t, err)

	userID, err := v.ParseUserID(tok)
	require.NoError(t, err)
	assert.Equal(t, int64(42), userID)
}

func TestParseUserID_WrongSecret(t *testing.T) {
	tok, err := auth.NewJWTVerifier("secret-a").SignUserToken(42, time.Minute)
	require.NoError(t, err)

	_, err = auth.NewJWTVerifier("secret-b").ParseUserID(tok)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestParseUserID_Expired(t *testing.T) {
	v := auth.NewJWTVerifier("test-secret")

	tok, err := v.SignUserToken(42, -time.Hour)
	require.NoError(t, err)

	_, err = v.ParseUserID(tok)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestMiddleware(t *testing.T) {
	v := auth.NewJWTVerifier("test-secret")

	var gotUserID int64
	handler := auth.Middleware(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := auth.UserIDFromContext(r.Context())
		require.True(t, ok)
		gotUserID = id
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("missing token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("garbage token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer not-a-jwt")
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid token", func(t *testing.T) {
		tok, err := v.SignUserToken(7, time.Minute)
		require.NoError(t, err)

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, int64(7), gotUserID)
	})
}
