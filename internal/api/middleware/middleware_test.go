package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ayo6706/stablecoin-gateway/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "middleware-test-secret-0123456789"

func echoPrincipal() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFromContext(r.Context())
		if !ok {
			w.WriteHeader(http.StatusTeapot)
			return
		}
		_, _ = w.Write([]byte(p.Subject + "|" + p.Role))
	})
}

func authorized(token string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/v1/ledger", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestAuthenticatorRoundTrip(t *testing.T) {
	auth := NewAuthenticator(testSecret, "gateway", "api")

	token, err := auth.Sign("merchant-7", domain.RoleAdmin, time.Minute)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	auth.Middleware(echoPrincipal()).ServeHTTP(w, authorized(token))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "merchant-7|admin", w.Body.String())
}

func TestAuthenticatorSignRejects(t *testing.T) {
	auth := NewAuthenticator(testSecret, "gateway", "api")

	_, err := auth.Sign("merchant-7", "root", time.Minute)
	assert.ErrorIs(t, err, errUnknownRole)

	_, err = auth.Sign("  ", domain.RoleUser, time.Minute)
	assert.Error(t, err)
}

func TestAuthenticatorRejectsTokens(t *testing.T) {
	auth := NewAuthenticator(testSecret, "gateway", "api")
	valid, err := auth.Sign("merchant-7", domain.RoleUser, time.Minute)
	require.NoError(t, err)

	expired := NewAuthenticator(testSecret, "gateway", "api")
	expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
	old, err := expired.Sign("merchant-7", domain.RoleUser, time.Minute)
	require.NoError(t, err)

	otherAudience, err := NewAuthenticator(testSecret, "gateway", "other").Sign("merchant-7", domain.RoleUser, time.Minute)
	require.NoError(t, err)

	otherSecret, err := NewAuthenticator("another-secret-0123456789-abcdefgh", "gateway", "api").Sign("merchant-7", domain.RoleUser, time.Minute)
	require.NoError(t, err)

	cases := []struct {
		name   string
		header string
	}{
		{name: "missing header", header: ""},
		{name: "not bearer", header: "Basic " + valid},
		{name: "expired", header: "Bearer " + old},
		{name: "wrong audience", header: "Bearer " + otherAudience},
		{name: "wrong secret", header: "Bearer " + otherSecret},
		{name: "garbage", header: "Bearer abc.def.ghi"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/ledger", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			auth.Middleware(echoPrincipal()).ServeHTTP(w, req)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestAuthenticatorWithoutSecret(t *testing.T) {
	w := httptest.NewRecorder()
	NewAuthenticator("", "gateway", "api").Middleware(echoPrincipal()).ServeHTTP(w, authorized("x"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRequireAdmin(t *testing.T) {
	auth := NewAuthenticator(testSecret, "gateway", "api")
	user, err := auth.Sign("merchant-7", domain.RoleUser, time.Minute)
	require.NoError(t, err)
	admin, err := auth.Sign("ops", domain.RoleAdmin, time.Minute)
	require.NoError(t, err)

	h := auth.Middleware(RequireAdmin(echoPrincipal()))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, authorized(user))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, authorized(admin))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-1")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, "req-1", seen)
	assert.Equal(t, "req-1", w.Header().Get("X-Trace-ID"))

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.NotEqual(t, "req-1", seen)
	assert.Equal(t, seen, w.Header().Get("X-Trace-ID"))
}

func TestRecoverer(t *testing.T) {
	h := RequestID(Recoverer(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), w.Header().Get("X-Trace-ID"))
}

func TestRateLimitKeysBySubject(t *testing.T) {
	auth := NewAuthenticator(testSecret, "gateway", "api")
	alice, err := auth.Sign("alice", domain.RoleUser, time.Minute)
	require.NoError(t, err)
	bob, err := auth.Sign("bob", domain.RoleUser, time.Minute)
	require.NoError(t, err)

	h := auth.Middleware(RateLimit(1)(echoPrincipal()))
	serve := func(token string) int {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, authorized(token))
		return w.Code
	}

	assert.Equal(t, http.StatusOK, serve(alice))
	assert.Equal(t, http.StatusTooManyRequests, serve(alice))
	assert.Equal(t, http.StatusOK, serve(bob))
}
