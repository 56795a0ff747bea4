package middleware

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSConfig lists what cross-origin callers may do.
type CORSConfig struct {
	AllowedOrigins   []string
	AllowedMethods   string
	AllowedHeaders   string
	AllowCredentials bool
	MaxAgeSeconds    int
}

// DefaultCORSConfig allows any origin, for development.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   "GET,POST,DELETE,OPTIONS",
		AllowedHeaders:   "Content-Type,Authorization,X-Requested-With,X-Operator",
		AllowCredentials: true,
		MaxAgeSeconds:    3600,
	}
}

// ParseOrigins splits a comma separated origin list.
func ParseOrigins(list string) []string {
	var origins []string
	for _, o := range strings.Split(list, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// CORS handles OPTIONS preflight requests and adds CORS headers to all responses.
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	maxAge := strconv.Itoa(cfg.MaxAgeSeconds)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowedOrigin := determineAllowedOrigin(r.Header.Get("Origin"), cfg.AllowedOrigins, cfg.AllowCredentials)

			if allowedOrigin != "" {
				w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", cfg.AllowedMethods)
			w.Header().Set("Access-Control-Allow-Headers", cfg.AllowedHeaders)
			if cfg.AllowCredentials {
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}
			w.Header().Set("Access-Control-Max-Age", maxAge)

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// determineAllowedOrigin picks the Access-Control-Allow-Origin value. Browsers
// reject "*" on credentialed requests, so the request origin is echoed instead.
func determineAllowedOrigin(requestOrigin string, allowedOrigins []string, credentials bool) string {
	if requestOrigin == "" {
		return ""
	}

	for _, allowed := range allowedOrigins {
		if allowed == "*" {
			if credentials {
				return requestOrigin
			}
			return "*"
		}
		if allowed == requestOrigin {
			return requestOrigin
		}
	}
	return ""
}
