package middleware

import (
	"net/http"

	"github.com/teilomillet/chatrelay/server/relay"
)

// CORS sets the relay's permissive CORS headers on every response so
// failures carry them too. Preflight requests are answered by the route.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for k, vs := range relay.CORSHeaders() {
			w.Header()[k] = vs
		}
		next.ServeHTTP(w, r)
	})
}
