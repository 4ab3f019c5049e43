package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// BearerAuth guards the write and admin routes. An empty token rejects every
// request, so a missing DAILYDRIP_ADMIN_TOKEN never opens them up.
func BearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const prefix = "Bearer "
			auth := r.Header.Get("Authorization")
			got, ok := strings.CutPrefix(auth, prefix)
			if token == "" || !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				w.Header().Set("WWW-Authenticate", `Bearer realm="dailydrip"`)
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
