package middleware

import (
	"crypto/subtle"
	"net/http"
)

// CallbackAuth restricts worker callback routes to trusted callers via a
// shared secret. Workers echo the secret in X-Callback-Token; without it
// anyone could write result payloads and trigger refunds.
func CallbackAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get("X-Callback-Token")
			if secret == "" || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
				http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
