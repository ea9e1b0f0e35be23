package httpserver

import (
	"net/http"
	"strings"
)

// authExempt reports whether a request skips bearer auth: GET /api/health
// (and only GET), configured static asset prefixes, and the dashboard HTML
// routes.
func (s *Server) authExempt(r *http.Request) bool {
	if r.Method == http.MethodGet && r.URL.Path == "/api/health" {
		return true
	}
	if !strings.HasPrefix(r.URL.Path, "/api/") {
		return true // dashboard HTML and anything non-API
	}
	for _, prefix := range s.app.Config.Get().API.StaticPrefixes {
		if prefix != "" && strings.HasPrefix(r.URL.Path, prefix) {
			return true
		}
	}
	return false
}

// requireAuth enforces bearer-token auth on /api/* when a token is
// configured. Dev mode (no token) is a no-op.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := s.app.AuthToken
		if token == "" || s.authExempt(r) {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		if header == "" {
			writeError(w, http.StatusUnauthorized, "missing authorization header")
			return
		}
		scheme, value, found := strings.Cut(header, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") {
			writeError(w, http.StatusUnauthorized, "invalid authorization scheme")
			return
		}
		if value != token {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// limitBodySize rejects requests whose declared Content-Length exceeds the
// configured cap with 413 before reading the body, and wraps the body in a
// MaxBytesReader so chunked requests are capped while being read.
func (s *Server) limitBodySize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		max := s.app.Config.Get().API.MaxBodyBytes
		if max <= 0 {
			max = 10 << 20
		}
		if r.ContentLength > max {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, max)
		}
		next.ServeHTTP(w, r)
	})
}
