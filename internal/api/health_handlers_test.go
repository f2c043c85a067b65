package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// mockHealthChecker is a mock implementation of NamedChecker for testing.
type mockHealthChecker struct {
	name string
	err  error
}

func (m *mockHealthChecker) Name() string { return m.name }

func (m *mockHealthChecker) HealthCheck(ctx context.Context) error { return m.err }

// slowChecker blocks until its context is done.
type slowChecker struct{}

func (slowChecker) Name() string { return "slow" }

func (slowChecker) HealthCheck(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

type fixedCount int

func (c fixedCount) ConnectionCount() int { return int(c) }
func (c fixedCount) Count() int           { return int(c) }

func decodeHealth(t *testing.T, w *httptest.ResponseRecorder) HealthResponse {
	t.Helper()
	var response HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return response
}

func TestHealth_Success(t *testing.T) {
	handlers := NewHealthHandlers(HealthHandlersConfig{
		Connections: fixedCount(3),
		Sessions:    fixedCount(1),
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	handlers.Health(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected Content-Type application/json, got %s", ct)
	}

	response := decodeHealth(t, w)
	if response.Status != "healthy" {
		t.Errorf("expected status 'healthy', got %s", response.Status)
	}
	if response.Checks["runtime"] != "ok" {
		t.Errorf("expected runtime check to be 'ok', got %s", response.Checks["runtime"])
	}
	if response.Connections == nil || *response.Connections != 3 {
		t.Errorf("expected connections 3, got %v", response.Connections)
	}
	if response.LiveStreams == nil || *response.LiveStreams != 1 {
		t.Errorf("expected live_streams 1, got %v", response.LiveStreams)
	}
	if _, err := time.Parse(time.RFC3339, response.Timestamp); err != nil {
		t.Errorf("timestamp is not valid RFC3339: %v", err)
	}
}

func TestHealth_MethodNotAllowed(t *testing.T) {
	handlers := NewHealthHandlers(HealthHandlersConfig{})

	for _, h := range []http.HandlerFunc{handlers.Health, handlers.Ready} {
		w := httptest.NewRecorder()
		h(w, httptest.NewRequest(http.MethodPost, "/health", nil))
		if w.Code != http.StatusMethodNotAllowed {
			t.Errorf("expected status 405, got %d", w.Code)
		}
	}
}

func TestReady(t *testing.T) {
	tests := []struct {
		name       string
		checkers   []NamedChecker
		wantStatus int
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantStatus: http.StatusOK,
			wantChecks: map[string]string{"metrics": "ok"},
		},
		{
			name: "all healthy",
			checkers: []NamedChecker{
				&mockHealthChecker{name: "database"},
				&mockHealthChecker{name: "redis"},
			},
			wantStatus: http.StatusOK,
			wantChecks: map[string]string{"database": "ok", "redis": "ok", "metrics": "ok"},
		},
		{
			name: "database unhealthy",
			checkers: []NamedChecker{
				&mockHealthChecker{name: "database", err: errors.New("connection refused")},
				&mockHealthChecker{name: "redis"},
			},
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{"database": "error", "redis": "ok", "metrics": "ok"},
		},
		{
			name: "all unhealthy",
			checkers: []NamedChecker{
				&mockHealthChecker{name: "database", err: errors.New("down")},
				&mockHealthChecker{name: "redis", err: errors.New("down")},
			},
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{"database": "error", "redis": "error", "metrics": "ok"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handlers := NewHealthHandlers(HealthHandlersConfig{
				Checkers:       tt.checkers,
				MetricsEnabled: true,
			})

			w := httptest.NewRecorder()
			handlers.Ready(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

			if w.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, w.Code)
			}
			response := decodeHealth(t, w)
			wantStatus := "healthy"
			if tt.wantStatus != http.StatusOK {
				wantStatus = "unhealthy"
			}
			if response.Status != wantStatus {
				t.Errorf("expected status %q, got %q", wantStatus, response.Status)
			}
			if len(response.Checks) != len(tt.wantChecks) {
				t.Errorf("checks = %v, want %v", response.Checks, tt.wantChecks)
			}
			for name, want := range tt.wantChecks {
				if got := response.Checks[name]; got != want {
					t.Errorf("check %s = %q, want %q", name, got, want)
				}
			}
		})
	}
}

func TestReady_Timeout(t *testing.T) {
	handlers := NewHealthHandlers(HealthHandlersConfig{
		Checkers: []NamedChecker{slowChecker{}},
		Timeout:  50 * time.Millisecond,
	})

	start := time.Now()
	w := httptest.NewRecorder()
	handlers.Ready(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", w.Code)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("readiness check took %s, expected the timeout to bound it", elapsed)
	}
}
