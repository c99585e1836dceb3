// Package middleware provides HTTP middleware for the tutor API.
package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/samber/lo"
)

const corsMaxAge = 10 * time.Minute

// CORS answers preflight requests and echoes allowed origins. "*" allows any
// origin but never with credentials, since echoing an arbitrary origin with
// credentials enables CSRF.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	wildcard := lo.Contains(allowedOrigins, "*")
	explicit := lo.Without(allowedOrigins, "*")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			named := origin != "" && lo.Contains(explicit, origin)

			if named || (wildcard && origin != "") {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Content-Type, X-Request-Id")
				h.Set("Access-Control-Max-Age", strconv.Itoa(int(corsMaxAge.Seconds())))
				h.Add("Vary", "Origin")
				if named {
					h.Set("Access-Control-Allow-Credentials", "true")
				}
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
