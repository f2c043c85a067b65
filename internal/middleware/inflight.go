package middleware

import (
	"context"
	"net/http"
	"sync"
)

// InFlight counts requests that are still being served, including
// connections hijacked for WebSocket upgrades, which http.Server.Shutdown
// does not wait for.
type InFlight struct {
	wg sync.WaitGroup
}

// Track wraps next so Wait covers it. Mount it outermost so the count also
// covers the logging and metrics middleware that run after next returns.
func (f *InFlight) Track(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.wg.Add(1)
		defer f.wg.Done()
		next.ServeHTTP(w, r)
	})
}

// Wait blocks until every tracked request has returned, or ctx is done.
// Call it after http.Server.Shutdown so no new request can be tracked.
func (f *InFlight) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
