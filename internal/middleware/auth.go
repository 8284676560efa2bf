package middleware

import (
	"crypto/subtle"
	"net/http"
)

// AuthMiddleware requires HTTP Basic credentials matching password (any user
// name). An empty password disables the check.
func AuthMiddleware(password string, next http.Handler) http.Handler {
	if password == "" {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, pass, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(pass), []byte(password)) != 1 {
			w.Header().Set("WWW-Authenticate", `Basic realm="traffic monitor"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
