package middleware

import (
	"log/slog"
	"net/http"
	"net/http/pprof"
	"strings"
)

// Profiling mounts the pprof handlers under /debug/pprof/ when enabled.
// It refuses to enable in production; goroutine dumps expose connection
// and stream ids.
func Profiling(enabled bool, env string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !enabled {
			return next
		}
		if env == "production" {
			slog.Error("profiling cannot be enabled in production", "env", env)
			return next
		}
		slog.Warn("profiling endpoints enabled", "env", env, "prefix", "/debug/pprof/")

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasPrefix(r.URL.Path, "/debug/pprof") {
				next.ServeHTTP(w, r)
				return
			}
			switch r.URL.Path {
			case "/debug/pprof/cmdline":
				pprof.Cmdline(w, r)
			case "/debug/pprof/profile":
				pprof.Profile(w, r)
			case "/debug/pprof/symbol":
				pprof.Symbol(w, r)
			case "/debug/pprof/trace":
				pprof.Trace(w, r)
			default:
				pprof.Index(w, r)
			}
		})
	}
}
