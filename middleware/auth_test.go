package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

var account = common.HexToAddress("0x00000000000000000000000000000000000000a1")

func sign(t *testing.T, key string, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	require.NoError(t, err)
	return s
}

func protected(t *testing.T) (http.Handler, *common.Address) {
	var seen common.Address
	return Auth(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a, ok := Account(r.Context())
		require.True(t, ok)
		seen = a
		w.WriteHeader(http.StatusOK)
	})), &seen
}

func TestAuthAcceptsBearerAndQueryTokens(t *testing.T) {
	token := sign(t, secret, jwt.MapClaims{"sub": account.Hex(), "exp": time.Now().Add(time.Hour).Unix()})
	h, seen := protected(t)

	req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, account, *seen)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws?token="+token, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthRejects(t *testing.T) {
	cases := map[string]string{
		"missing":      "",
		"wrong secret": sign(t, "other", jwt.MapClaims{"sub": account.Hex()}),
		"expired":      sign(t, secret, jwt.MapClaims{"sub": account.Hex(), "exp": time.Now().Add(-time.Hour).Unix()}),
		"bad subject":  sign(t, secret, jwt.MapClaims{"sub": "user-42"}),
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			h, _ := protected(t)
			req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
			if token != "" {
				req.Header.Set("Authorization", "Bearer "+token)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestAuthWithoutSecretRejects(t *testing.T) {
	token := sign(t, secret, jwt.MapClaims{"sub": account.Hex()})
	h := Auth("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run")
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	h := CORSMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("preflight must not reach the handler")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/fee", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
