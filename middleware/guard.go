package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	goPasscode "github.com/MrEthical07/goPasscode"
)

type authResultContextKey struct{}

// AuthResultFromContext returns the result stored by [RequireAccess].
func AuthResultFromContext(ctx context.Context) (*goPasscode.AuthResult, bool) {
	res, ok := ctx.Value(authResultContextKey{}).(*goPasscode.AuthResult)
	return res, ok
}

// RequireAccess rejects requests without a valid bearer access token with 401. On
// success the request context carries the [goPasscode.AuthResult] and the client IP used
// for audit events.
func RequireAccess(engine *goPasscode.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			res, err := engine.ValidateAccess(token)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), authResultContextKey{}, res)
			ctx = WithRemoteIP(ctx, r)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithRemoteIP attaches the host part of r.RemoteAddr to ctx for audit events.
func WithRemoteIP(ctx context.Context, r *http.Request) context.Context {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if host == "" {
		return ctx
	}
	return goPasscode.WithClientIP(ctx, host)
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
