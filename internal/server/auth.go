package server

import (
	"net/http"

	"feedhub/internal/config"
)

// authMiddleware installs the access check matching the deployment's auth
// mode. The refresh core never authenticates users; this only gates the
// ops API surface. Push callback and health routes are mounted outside
// the middleware: hubs cannot present credentials.
func authMiddleware(mode config.AuthMode, apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch mode {
			case config.AuthNone:
				next.ServeHTTP(w, r)
				return

			case config.AuthHTTP:
				// HTTP-auth deployments terminate authentication at the
				// reverse proxy; the proxy asserts the user it validated.
				if r.Header.Get("Remote-User") == "" {
					http.Error(w, "authentication required", http.StatusUnauthorized)
					return
				}
				next.ServeHTTP(w, r)
				return

			default: // form: the UI owns sessions, the ops API takes a key
				if apiKey == "" {
					next.ServeHTTP(w, r)
					return
				}
				if r.Header.Get("X-API-Key") != apiKey {
					http.Error(w, "Invalid API key", http.StatusUnauthorized)
					return
				}
				next.ServeHTTP(w, r)
			}
		})
	}
}
