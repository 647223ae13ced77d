package main

import (
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// newAuthMiddleware wraps next with connect-time checks: an optional IP
// allowlist, then token authentication via a query param, an Authorization
// header, or a WS subprotocol. A plain secret match or a valid HS256 JWT
// both satisfy the token check; JWT_BYPASS disables authentication
// entirely for local/test use.
func newAuthMiddleware(cfg config, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(cfg.allowedIPs) > 0 && !ipAllowed(r, cfg.allowedIPs) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		if cfg.jwtBypass {
			next.ServeHTTP(w, r)
			return
		}

		token := bearerToken(r)
		if token == "" {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}

		if cfg.jwtAllowPlain && cfg.jwtSecret != "" && token == cfg.jwtSecret {
			next.ServeHTTP(w, r)
			return
		}

		if !verifyJWT(token, cfg.jwtSecret) {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func ipAllowed(r *http.Request, allowed []string) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	for _, a := range allowed {
		if a == host {
			return true
		}
	}
	return false
}

// bearerToken resolves the connect token from, in order: the ?token= query
// param, the Authorization: Bearer header, or the Sec-WebSocket-Protocol
// header (clients that can't set custom headers pass it as a subprotocol).
func bearerToken(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if proto := r.Header.Get("Sec-WebSocket-Protocol"); proto != "" {
		return strings.TrimSpace(strings.Split(proto, ",")[0])
	}
	return ""
}

func verifyJWT(token, secret string) bool {
	if secret == "" {
		return false
	}
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		slog.Debug("jwt verify failed", "error", err)
		return false
	}
	return parsed.Valid
}
