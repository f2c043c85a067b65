package middleware

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestInFlight_WaitCoversOuterMiddleware(t *testing.T) {
	var inflight InFlight
	var logBuf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logBuf, nil))

	release := make(chan struct{})
	started := make(chan struct{})
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-release
		w.WriteHeader(http.StatusNoContent)
	})
	handler := inflight.Track(Logging(logger)(inner))

	served := make(chan struct{})
	go func() {
		defer close(served)
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ws", nil))
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := inflight.Wait(ctx); err != context.DeadlineExceeded {
		t.Fatalf("Wait() with request in flight = %v, want %v", err, context.DeadlineExceeded)
	}

	close(release)
	if err := inflight.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	// Wait returning orders the request log before this read.
	if !strings.Contains(logBuf.String(), `"path":"/ws"`) {
		t.Errorf("request log missing after Wait: %s", logBuf.String())
	}
	<-served
}

func TestInFlight_WaitWithNothingTracked(t *testing.T) {
	var inflight InFlight
	if err := inflight.Wait(context.Background()); err != nil {
		t.Errorf("Wait() error = %v", err)
	}
}
