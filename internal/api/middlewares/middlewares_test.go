package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/regkb/internal/core/ratelimit"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	_, _ = w.Write([]byte(Subject(r.Context())))
})

func TestRateLimit(t *testing.T) {
	l := ratelimit.New(ratelimit.Config{MaxRequests: 2, Window: time.Minute, BlockDuration: 5 * time.Minute}, nil)
	h := RateLimit(l)(ok)

	do := func(client string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/ingest", nil)
		req.Header.Set(ClientIDHeader, client)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, do("a").Code)
	assert.Equal(t, http.StatusOK, do("a").Code)

	rec := do("a")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "300", rec.Header().Get("Retry-After"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "rate limit exceeded", body["error"])
	assert.Equal(t, float64(300), body["retryAfter"])
	assert.Equal(t, false, body["success"])

	assert.Equal(t, http.StatusOK, do("b").Code, "clients are limited independently")
}

func TestClientID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.7:51234"
	assert.Equal(t, "ip:10.0.0.7", ClientID(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "ip:203.0.113.9", ClientID(req))

	req.Header.Set(ClientIDHeader, "batchctl")
	assert.Equal(t, "id:batchctl", ClientID(req))
}

func sign(t *testing.T, secret string, method jwt.SigningMethod, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(method, jwt.RegisteredClaims{Subject: "ingest-bot", ExpiresAt: jwt.NewNumericDate(exp)})
	s, err := tok.SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestJWT(t *testing.T) {
	const secret = "s3cret"
	h := JWT(secret)(ok)

	cases := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{"valid", "Bearer " + sign(t, secret, jwt.SigningMethodHS256, time.Now().Add(time.Hour)), http.StatusOK, "ingest-bot"},
		{"missing", "", http.StatusUnauthorized, ""},
		{"wrong secret", "Bearer " + sign(t, "other", jwt.SigningMethodHS256, time.Now().Add(time.Hour)), http.StatusUnauthorized, ""},
		{"expired", "Bearer " + sign(t, secret, jwt.SigningMethodHS256, time.Now().Add(-time.Hour)), http.StatusUnauthorized, ""},
		{"other alg", "Bearer " + sign(t, secret, jwt.SigningMethodHS512, time.Now().Add(time.Hour)), http.StatusUnauthorized, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/ingest", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tc.status, rec.Code)
			if tc.body != "" {
				assert.Equal(t, tc.body, rec.Body.String())
			}
		})
	}
}

func TestJWT_DisabledWithoutSecret(t *testing.T) {
	rec := httptest.NewRecorder()
	JWT("")(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/ingest", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
