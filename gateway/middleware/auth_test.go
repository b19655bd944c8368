package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const testSecret = "market-admin-secret"

func signToken(t *testing.T, method jwt.SigningMethod, key interface{}, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func TestAuthenticator(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{
		Enabled:    true,
		HMACSecret: testSecret,
		Issuer:     "p2pnfts",
		Audience:   "p2pnftsd",
	}, nil)
	var subject string
	handler := auth.Middleware("markets:admin")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject = Subject(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
	exp := time.Now().Add(time.Hour).Unix()
	valid := jwt.MapClaims{"iss": "p2pnfts", "aud": "p2pnftsd", "sub": "ops", "exp": exp, "scope": "markets:read markets:admin"}

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"valid", "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret), valid), http.StatusNoContent},
		{"wrong secret", "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte("other"), valid), http.StatusUnauthorized},
		{"wrong issuer", "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{
			"iss": "else", "aud": "p2pnftsd", "exp": exp, "scope": "markets:admin",
		}), http.StatusUnauthorized},
		{"expired", "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{
			"iss": "p2pnfts", "aud": "p2pnftsd", "exp": time.Now().Add(-time.Hour).Unix(), "scope": "markets:admin",
		}), http.StatusUnauthorized},
		{"no expiry", "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{
			"iss": "p2pnfts", "aud": "p2pnftsd", "scope": "markets:admin",
		}), http.StatusUnauthorized},
		{"missing scope", "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{
			"iss": "p2pnfts", "aud": "p2pnftsd", "exp": exp, "scope": []interface{}{"markets:read"},
		}), http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/markets/usdc/admin/fees", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			res := httptest.NewRecorder()
			handler.ServeHTTP(res, req)
			require.Equal(t, tc.status, res.Code)
		})
	}
	require.Equal(t, "ops", subject)
}

func TestAuthenticatorDisabled(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{}, nil)
	res := httptest.NewRecorder()
	auth.Middleware("markets:admin")(okHandler()).ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, res.Code)
}

type observation struct {
	route  string
	status int
}

type fakeObserver struct{ seen []observation }

func (f *fakeObserver) ObserveRequest(route, _ string, status int, _ time.Duration) {
	f.seen = append(f.seen, observation{route, status})
}

func TestObserveRecordsStatus(t *testing.T) {
	obs := &fakeObserver{}
	handler := Observe("settle", obs)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", nil))
	require.Equal(t, []observation{{"settle", http.StatusConflict}}, obs.seen)
}
