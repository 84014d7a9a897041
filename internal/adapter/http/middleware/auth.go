package middleware

import (
	"encoding/json"
	"net/http"
	"strings"
)

// KeyValidator checks an API key. An empty key must be rejected unless
// authentication is disabled.
type KeyValidator interface {
	ValidateKey(key string) error
}

// APIKey requires a valid key in "Authorization: Bearer <key>" or
// X-API-Key. With allowQuery the key may also come from the api_key query
// parameter, which browsers need for EventSource and WebSocket.
func APIKey(keys KeyValidator, allowQuery bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := RequestKey(r)
			if key == "" && allowQuery {
				key = r.URL.Query().Get("api_key")
			}
			if err := keys.ValidateKey(key); err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="harvest"`)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestKey returns the key sent in the request headers, if any.
func RequestKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		scheme, token, ok := strings.Cut(auth, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}
