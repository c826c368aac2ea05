package core

import (
	"fmt"
	"net/http"
	"strings"
)

// CORSConfig controls the CORSMiddleware.
type CORSConfig struct {
	Enabled          bool
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	AllowCredentials bool
	MaxAge           int
}

// DefaultCORSConfig allows any origin with the methods and headers the
// gateway's SSE and JSON endpoints need.
func DefaultCORSConfig() *CORSConfig {
	return &CORSConfig{
		Enabled:        true,
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", "Last-Event-ID"},
		MaxAge:         3600,
	}
}

// CORSMiddleware handles preflight requests and annotates responses with
// CORS headers based on config. Supports exact origins, "*", wildcard
// subdomains ("*.example.com") and wildcard ports ("http://localhost:*").
func CORSMiddleware(config *CORSConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !config.Enabled {
				next.ServeHTTP(w, r)
				return
			}

			origin := r.Header.Get("Origin")
			if isOriginAllowed(origin, config.AllowedOrigins) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				if config.AllowCredentials {
					w.Header().Set("Access-Control-Allow-Credentials", "true")
				}
				if len(config.AllowedMethods) > 0 {
					w.Header().Set("Access-Control-Allow-Methods", strings.Join(config.AllowedMethods, ", "))
				}
				if len(config.AllowedHeaders) > 0 {
					w.Header().Set("Access-Control-Allow-Headers", strings.Join(config.AllowedHeaders, ", "))
				}
				if config.MaxAge > 0 {
					w.Header().Set("Access-Control-Max-Age", fmt.Sprintf("%d", config.MaxAge))
				}
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func isOriginAllowed(origin string, allowedOrigins []string) bool {
	if origin == "" {
		return false
	}

	for _, allowed := range allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}

		if idx := strings.Index(allowed, "*."); idx >= 0 {
			before := allowed[:idx]
			after := allowed[idx+2:]
			if !strings.HasPrefix(origin, before) || !strings.HasSuffix(origin, after) {
				continue
			}
			remaining := strings.TrimSuffix(origin[len(before):], after)
			if len(remaining) > 0 {
				return true
			}
		}

		if strings.Contains(allowed, ":*") {
			base := strings.Split(allowed, ":*")[0]
			if strings.HasPrefix(origin, base+":") {
				return true
			}
		}
	}
	return false
}
