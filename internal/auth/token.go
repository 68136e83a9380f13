package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// AdminToken guards the reconciliation trigger endpoints with a shared
// secret. The token is accepted either as "Authorization: Bearer <token>"
// or in the X-Admin-Token header.
func AdminToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				http.Error(w, "admin endpoints disabled: no token configured", http.StatusForbidden)
				return
			}

			presented := r.Header.Get("X-Admin-Token")
			if presented == "" {
				authHeader := r.Header.Get("Authorization")
				parts := strings.SplitN(authHeader, " ", 2)
				if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
					presented = parts[1]
				}
			}
			if presented == "" {
				http.Error(w, "missing admin token", http.StatusUnauthorized)
				return
			}

			if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				http.Error(w, "invalid admin token", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
