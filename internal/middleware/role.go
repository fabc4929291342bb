package middleware

import (
	"net/http"
	"slices"
)

// RequireRole lets a request through only when BearerAuth has set an actor
// holding one of roles.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := ActorFromCtx(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			if !slices.Contains(roles, actor.Role) {
				writeError(w, http.StatusForbidden, "role "+actor.Role+" may not call this endpoint")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
