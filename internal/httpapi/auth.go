package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/forgeflow/orchestrator/internal/models"
)

// authenticate enforces the single opaque API key (§4.1). The comparison is
// constant time; an empty configured key disables auth entirely (local dev
// only). Unauthenticated requests are logged with the client address but
// never with the presented key material.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.APIKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		presented := bearerToken(r)
		if presented == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(s.cfg.APIKey)) != 1 {
			s.logger.Warn("unauthenticated request", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
			writeError(w, models.NewError(models.KindUnauthenticated, "missing or invalid API key"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// bearerToken extracts the key from `Authorization: Bearer <key>` or, as a
// fallback for clients that can't set Authorization, the X-API-Key header.
func bearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if strings.HasPrefix(auth, "Bearer ") {
			return strings.TrimPrefix(auth, "Bearer ")
		}
		return ""
	}
	return r.Header.Get("X-API-Key")
}
