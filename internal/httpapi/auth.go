package httpapi

import "net/http"

// authenticate mirrors internal/middleware/auth.go's shape (extract a
// credential from a header, reject on mismatch) but checks a static
// shared secret via X-API-Key instead of parsing a bearer JWT, per §6:
// a missing server-side secret is a 500 Misconfigured, not a 401.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.APIKey == "" {
			writeError(w, http.StatusInternalServerError, "server misconfigured: no API key set", nil)
			return
		}
		if r.Header.Get("X-API-Key") != s.cfg.APIKey {
			writeError(w, http.StatusUnauthorized, "unauthorized", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
