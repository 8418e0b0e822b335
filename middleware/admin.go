package middleware

import (
	"net/http"
	"slices"

	goPasscode "github.com/MrEthical07/goPasscode"
)

// RequireAdmin admits requests whose access token carries one of roles, or
// [goPasscode.RoleAdmin] when roles is empty. Requests that did not pass
// [RequireAccess] get 401; other roles get 403.
func RequireAdmin(roles ...string) func(http.Handler) http.Handler {
	if len(roles) == 0 {
		roles = []string{goPasscode.RoleAdmin}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, ok := AuthResultFromContext(r.Context())
			if !ok || res == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if !slices.Contains(roles, res.Role) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
