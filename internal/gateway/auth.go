package gateway

import (
	"crypto/subtle"
	"net/http"
	"os"
	"strings"

	"github.com/ojage/lokkito-backend/internal/config"
)

// ResolvedAuth holds the resolved transport auth configuration. An empty
// token disables the gate entirely.
type ResolvedAuth struct {
	Token string
}

// ResolveAuth resolves the API token from config and environment.
// Precedence: config value, then LOKKITO_API_TOKEN.
func ResolveAuth(cfg config.ServerAuth) ResolvedAuth {
	token := cfg.Token
	if token == "" {
		token = os.Getenv("LOKKITO_API_TOKEN")
	}
	return ResolvedAuth{Token: token}
}

// authMiddleware gates /api routes behind a bearer token when one is
// configured. /health stays open for probes.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.auth.Token == "" || !strings.HasPrefix(r.URL.Path, "/api/") {
			next.ServeHTTP(w, r)
			return
		}

		if !safeEqual(bearerToken(r), s.auth.Token) {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// bearerToken extracts the credential from the Authorization header, or
// from the access_token query parameter for WebSocket clients that cannot
// set headers.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return r.URL.Query().Get("access_token")
}

// safeEqual performs a constant-time string comparison to prevent timing
// attacks, without early-return on length mismatch.
func safeEqual(a, b string) bool {
	lenMatch := subtle.ConstantTimeEq(int32(len(a)), int32(len(b)))
	cmp := subtle.ConstantTimeCompare([]byte(a), []byte(b))
	return subtle.ConstantTimeSelect(lenMatch, cmp, 0) == 1
}
