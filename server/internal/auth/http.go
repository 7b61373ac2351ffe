package auth

import (
	"encoding/json"
	"net/http"
	"strings"
)

// HTTPMiddleware enforces the same API key on HTTP requests. The key is read
// from header, or from an "Authorization: Bearer" header when that is absent.
// Paths equal to or under one of exempt pass through.
//
// If mode != "apikey" or key == "", next is returned unchanged.
func HTTPMiddleware(mode, header, key string, exempt ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if mode != ModeAPIKey || key == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, p := range exempt {
				if r.URL.Path == p || strings.HasPrefix(r.URL.Path, strings.TrimSuffix(p, "/")+"/") {
					next.ServeHTTP(w, r)
					return
				}
			}
			got := r.Header.Get(header)
			if got == "" {
				if v, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
					got = strings.TrimSpace(v)
				}
			}
			if got == "" || !Equal(got, key) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(map[string]string{"error": "invalid api key"}) //nolint:errcheck
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
