package middleware

import (
	"net/http"

	"github.com/ppcxy/cyfm-engine/pkg/cache"
)

// EntitySession attaches a fresh first-level cache session to each request.
// Repositories consult it before the shared cache, and it is dropped with
// the request.
func EntitySession() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := cache.WithSession(r.Context(), cache.NewSession())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
