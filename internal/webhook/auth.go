package webhook

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

// validateAdminToken returns true if provided matches configured.
// An empty configured token never matches; callers gate on that separately.
func validateAdminToken(provided, configured string) bool {
	if configured == "" || provided == "" {
		return false
	}
	if len(provided) != len(configured) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(configured)) == 1
}

// extractBearerToken extracts a token from an Authorization: Bearer <token> header.
func extractBearerToken(r *http.Request) (string, error) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", errors.New("missing Authorization header")
	}

	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return "", errors.New("invalid Authorization header format")
	}

	token := strings.TrimSpace(auth[len(prefix):])
	if token == "" {
		return "", errors.New("missing token")
	}
	return token, nil
}

// adminAuthMiddleware protects the delivery log and event stream when
// server.admin_token is configured. With no token configured the endpoints
// stay open, matching the rest of the read-only surface.
func (s *Server) adminAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Server.AdminToken == "" {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r)
		if err != nil {
			s.respondError(w, http.StatusUnauthorized, err.Error())
			return
		}
		if !validateAdminToken(token, s.cfg.Server.AdminToken) {
			s.respondError(w, http.StatusUnauthorized, "invalid admin token")
			return
		}

		next.ServeHTTP(w, r)
	})
}
