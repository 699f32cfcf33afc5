package middleware

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
)

// Auth guards the trading API with a single static key. Clients present it
// as "Authorization: Bearer <key>", an "X-API-Key" header, or an "api_key"
// query parameter; the query form exists for browser WebSocket clients,
// which cannot set headers on the upgrade request. An empty configured key
// disables the check entirely. The health and scrape endpoints stay open so
// load balancers and Prometheus need no credentials.
func Auth(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" || openPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			presented := requestKey(r)
			if presented == "" {
				unauthorized(w, "missing api key")
				return
			}
			if subtle.ConstantTimeCompare([]byte(presented), []byte(apiKey)) != 1 {
				unauthorized(w, "invalid api key")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func openPath(path string) bool {
	return path == "/api/health" || path == "/metrics"
}

// requestKey pulls the presented key from the request, header forms first.
func requestKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if scheme, rest, ok := strings.Cut(auth, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(rest)
		}
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return strings.TrimSpace(key)
	}
	return r.URL.Query().Get("api_key")
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	fmt.Fprintf(w, `{"error":%q}`, msg)
}
