package middleware

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true}`))
	})
}

func TestAuthAcceptsAnyPresentation(t *testing.T) {
	h := Auth("sekrit")(okHandler())

	cases := []struct {
		name    string
		prepare func(r *http.Request)
	}{
		{"bearer header", func(r *http.Request) { r.Header.Set("Authorization", "Bearer sekrit") }},
		{"api key header", func(r *http.Request) { r.Header.Set("X-API-Key", "sekrit") }},
		{"query param", func(r *http.Request) { r.URL.RawQuery = "api_key=sekrit" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/snapshot", nil)
			tc.prepare(req)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusOK, rec.Code)
		})
	}
}

func TestAuthRejectsMissingAndWrongKey(t *testing.T) {
	h := Auth("sekrit")(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/snapshot", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "missing api key")

	req = httptest.NewRequest(http.MethodGet, "/api/snapshot", nil)
	req.Header.Set("X-API-Key", "wrong")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid api key")
}

func TestAuthLeavesHealthAndMetricsOpen(t *testing.T) {
	h := Auth("sekrit")(okHandler())

	for _, path := range []string{"/api/health", "/metrics"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestAuthDisabledWithEmptyKey(t *testing.T) {
	h := Auth("")(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/snapshot", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORSAnswersPreflight(t *testing.T) {
	h := CORS([]string{"https://desk.example.com"})(okHandler())

	req := httptest.NewRequest(http.MethodOptions, "/api/positions", nil)
	req.Header.Set("Origin", "https://desk.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://desk.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Values("Vary"), "Origin")
}

func TestCORSIgnoresUnlistedOrigin(t *testing.T) {
	h := CORS([]string{"https://desk.example.com"})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/snapshot", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

type stubLimiter struct {
	allowed bool
	err     error
	keys    []string
}

func (s *stubLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	s.keys = append(s.keys, key)
	return s.allowed, s.err
}

func TestRateLimitBlocksWithRetryAfter(t *testing.T) {
	lim := &stubLimiter{allowed: false}
	h := RateLimit(lim, 60, time.Minute)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/snapshot", nil)
	req.RemoteAddr = "10.0.0.7:55123"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	require.Len(t, lim.keys, 1)
	assert.Equal(t, "api:10.0.0.7", lim.keys[0])
}

func TestRateLimitFailsOpenOnLimiterError(t *testing.T) {
	lim := &stubLimiter{err: assert.AnError}
	h := RateLimit(lim, 60, time.Minute)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/snapshot", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitKeysOnForwardedFor(t *testing.T) {
	lim := &stubLimiter{allowed: true}
	h := RateLimit(lim, 60, time.Minute)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/snapshot", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Len(t, lim.keys, 1)
	assert.Equal(t, "api:203.0.113.9", lim.keys[0])
}

func TestLoggingCapturesStatusAndBytes(t *testing.T) {
	var wrapped *responseWriter
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrapped = w.(*responseWriter)
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("short and stout"))
	})
	h := Logging(discardLogger())(inner)

	req := httptest.NewRequest(http.MethodGet, "/api/snapshot", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.NotNil(t, wrapped)
	assert.Equal(t, http.StatusTeapot, wrapped.statusCode)
	assert.Equal(t, int64(len("short and stout")), wrapped.written)
}
