package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
)

// APIKey rejects requests whose header does not carry key. The key itself
// is never logged.
func APIKey(header, key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(header)
			if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				slog.Warn("rejected request with invalid api key",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
					"key_present", got != "")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"invalid api key"}` + "\n"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
