package server

import (
	"crypto/subtle"
	"net/http"
)

// authMiddleware enforces HTTP basic auth when credentials are configured.
// The metrics endpoint stays open so scrapers don't need wiki credentials.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	if s.config.AuthUsername == "" && s.config.AuthPassword == "" {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		user, pass, ok := r.BasicAuth()
		userOK := subtle.ConstantTimeCompare([]byte(user), []byte(s.config.AuthUsername)) == 1
		passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(s.config.AuthPassword)) == 1
		if !ok || !userOK || !passOK {
			s.logger.Warn("rejected unauthenticated request", "path", r.URL.Path)
			w.Header().Set("WWW-Authenticate", `Basic realm="TiddlyWiki Server"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}
