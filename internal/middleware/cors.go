package middleware

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSConfig holds the configuration for the CORS middleware and the
// WebSocket origin check.
type CORSConfig struct {
	AllowedOrigins   []string // explicit origins, no wildcards
	AllowedMethods   []string
	AllowedHeaders   []string
	AllowCredentials bool
	MaxAge           int // preflight cache duration in seconds
}

// DefaultCORSConfig returns the methods and headers the live API uses.
func DefaultCORSConfig(origins []string) CORSConfig {
	return CORSConfig{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", RequestIDHeader},
		MaxAge:         600,
	}
}

// originSet is the normalized allowlist. An empty set allows every origin.
type originSet map[string]struct{}

func newOriginSet(origins []string) originSet {
	set := make(originSet, len(origins))
	for _, origin := range origins {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		if origin != "" {
			set[origin] = struct{}{}
		}
	}
	return set
}

// allows reports whether origin may connect. Requests without an Origin
// header are same-origin or non-browser clients and are always allowed.
func (s originSet) allows(origin string) bool {
	if len(s) == 0 || origin == "" {
		return true
	}
	_, ok := s[origin]
	return ok
}

// OriginChecker returns a function suitable for websocket.Upgrader.CheckOrigin.
// An empty allowlist accepts every origin.
func OriginChecker(origins []string) func(*http.Request) bool {
	set := newOriginSet(origins)
	return func(r *http.Request) bool {
		return set.allows(r.Header.Get("Origin"))
	}
}

// CORS returns a middleware that enforces the origin allowlist and answers
// preflight requests. If no origins are configured, CORS headers are not set.
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	set := newOriginSet(cfg.AllowedOrigins)
	methods := strings.Join(cfg.AllowedMethods, ", ")
	headers := strings.Join(cfg.AllowedHeaders, ", ")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if len(set) == 0 || origin == "" {
				next.ServeHTTP(w, r)
				return
			}
			if !set.allows(origin) {
				http.Error(w, "Origin not allowed", http.StatusForbidden)
				return
			}

			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
			if cfg.AllowCredentials {
				h.Set("Access-Control-Allow-Credentials", "true")
			}
			h.Set("Access-Control-Allow-Methods", methods)
			h.Set("Access-Control-Allow-Headers", headers)

			if r.Method == http.MethodOptions {
				if cfg.MaxAge > 0 {
					h.Set("Access-Control-Max-Age", strconv.Itoa(cfg.MaxAge))
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
