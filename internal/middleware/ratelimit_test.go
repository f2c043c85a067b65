package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestInMemoryRateLimitStore_Allow(t *testing.T) {
	tests := []struct {
		name        string
		limit       int
		wantAllowed []bool
	}{
		{"under limit", 5, []bool{true, true, true}},
		{"at limit", 5, []bool{true, true, true, true, true, false}},
		{"single request limit", 1, []bool{true, false, false}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewInMemoryRateLimitStore()
			config := RateLimitConfig{RequestsPerWindow: tt.limit, WindowDuration: time.Minute}

			for i, want := range tt.wantAllowed {
				allowed, _ := store.Allow(context.Background(), "events:user:alice", config)
				if allowed != want {
					t.Errorf("request %d: allowed = %v, want %v", i+1, allowed, want)
				}
			}
		})
	}
}

func TestInMemoryRateLimitStore_RetryAfter(t *testing.T) {
	store := NewInMemoryRateLimitStore()
	config := RateLimitConfig{RequestsPerWindow: 1, WindowDuration: 10 * time.Second}
	ctx := context.Background()

	if allowed, retryAfter := store.Allow(ctx, "k", config); !allowed || retryAfter != 0 {
		t.Fatalf("first request = (%v, %d), want (true, 0)", allowed, retryAfter)
	}
	allowed, retryAfter := store.Allow(ctx, "k", config)
	if allowed {
		t.Error("second request should be blocked")
	}
	if retryAfter <= 0 || retryAfter > 10 {
		t.Errorf("retryAfter should be between 1 and 10, got %d", retryAfter)
	}
}

func TestInMemoryRateLimitStore_WindowExpiry(t *testing.T) {
	store := NewInMemoryRateLimitStore()
	config := RateLimitConfig{RequestsPerWindow: 1, WindowDuration: 50 * time.Millisecond}
	ctx := context.Background()

	store.Allow(ctx, "k", config)
	if allowed, _ := store.Allow(ctx, "k", config); allowed {
		t.Fatal("second request in window should be blocked")
	}

	time.Sleep(60 * time.Millisecond)
	if allowed, _ := store.Allow(ctx, "k", config); !allowed {
		t.Error("request after window expiry should be allowed")
	}
}

func TestInMemoryRateLimitStore_Concurrency(t *testing.T) {
	store := NewInMemoryRateLimitStore()
	config := RateLimitConfig{RequestsPerWindow: 50, WindowDuration: time.Minute}

	var allowedCount atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if allowed, _ := store.Allow(context.Background(), "shared", config); allowed {
				allowedCount.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := allowedCount.Load(); got != 50 {
		t.Errorf("allowed = %d, want exactly 50", got)
	}
}

func TestInMemoryRateLimitStore_Cleanup(t *testing.T) {
	store := NewInMemoryRateLimitStore()
	config := RateLimitConfig{RequestsPerWindow: 1, WindowDuration: 10 * time.Millisecond}

	store.Allow(context.Background(), "a", config)
	store.Allow(context.Background(), "b", config)
	time.Sleep(20 * time.Millisecond)
	store.Cleanup()

	store.mu.RLock()
	defer store.mu.RUnlock()
	if n := len(store.buckets); n != 0 {
		t.Errorf("expected expired buckets to be removed, %d left", n)
	}
}

func TestIPKeyFunc(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		xRealIP    string
		want       string
	}{
		{"remote addr", "192.168.1.1:12345", "", "", "192.168.1.1"},
		{"ipv6 remote addr", "[::1]:8080", "", "", "::1"},
		{"remote addr without port", "10.0.0.1", "", "", "10.0.0.1"},
		{"forwarded chain uses first hop", "10.0.0.1:1", " 203.0.113.7 , 10.0.0.2", "", "203.0.113.7"},
		{"real ip header", "10.0.0.1:1", "", "198.51.100.4", "198.51.100.4"},
	}

	keyFunc := IPKeyFunc()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ws", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xRealIP != "" {
				req.Header.Set("X-Real-IP", tt.xRealIP)
			}
			if got := keyFunc(req); got != tt.want {
				t.Errorf("IPKeyFunc() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEventKey(t *testing.T) {
	if got := EventKey("u-42", "c-1"); got != "user:u-42" {
		t.Errorf("user key = %q", got)
	}
	if got := EventKey("", "c-1"); got != "conn:c-1" {
		t.Errorf("anonymous key = %q", got)
	}
	if got := KeyType(EventKey("", "c-1")); got != "conn" {
		t.Errorf("KeyType(anonymous key) = %q, want conn", got)
	}
}

func TestKeyType(t *testing.T) {
	tests := map[string]string{
		"user:u-1":        "user",
		"conn:abc":        "conn",
		"ip:10.0.0.1":     "ip",
		"10.0.0.1":        "ip",
		":leading-colon":  "ip",
		"events:user:u-1": "events",
	}
	for key, want := range tests {
		if got := KeyType(key); got != want {
			t.Errorf("KeyType(%q) = %q, want %q", key, got, want)
		}
	}
}

func TestRateLimiter_BlocksExcessiveTraffic(t *testing.T) {
	store := NewInMemoryRateLimitStore()
	config := RateLimitConfig{RequestsPerWindow: 2, WindowDuration: time.Minute}
	metrics := NewMetrics()

	handler := RateLimiter(store, config, IPKeyFunc(), metrics)(okHandler())

	codes := make([]int, 0, 3)
	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/streams/s1/session", nil)
		req.RemoteAddr = "203.0.113.9:5000"
		last = httptest.NewRecorder()
		handler.ServeHTTP(last, req)
		codes = append(codes, last.Code)
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("status codes = %v, want [200 200 429]", codes)
	}
	retryAfter, err := strconv.Atoi(last.Header().Get("Retry-After"))
	if err != nil || retryAfter <= 0 {
		t.Errorf("Retry-After = %q", last.Header().Get("Retry-After"))
	}
	if last.Header().Get("X-RateLimit-Reset") == "" {
		t.Error("expected X-RateLimit-Reset header")
	}
	if got := counterValue(t, metrics.rateLimitBlocked); got != 1 {
		t.Errorf("blocked metric = %v, want 1", got)
	}
}

func TestRateLimiter_DifferentClientsIndependent(t *testing.T) {
	store := NewInMemoryRateLimitStore()
	config := RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute}
	handler := RateLimiter(store, config, IPKeyFunc(), nil)(okHandler())

	for _, addr := range []string{"10.0.0.1:1", "10.0.0.2:1"} {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.RemoteAddr = addr
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Errorf("%s: status = %d, want 200", addr, rr.Code)
		}
	}
}

func TestRateLimitConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  RateLimitConfig
		wantErr bool
	}{
		{"valid", RateLimitConfig{RequestsPerWindow: 30, WindowDuration: 10 * time.Second}, false},
		{"zero requests", RateLimitConfig{RequestsPerWindow: 0, WindowDuration: time.Minute}, true},
		{"negative requests", RateLimitConfig{RequestsPerWindow: -1, WindowDuration: time.Minute}, true},
		{"zero window", RateLimitConfig{RequestsPerWindow: 1}, true},
		{"negative window", RateLimitConfig{RequestsPerWindow: 1, WindowDuration: -time.Second}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDefaultHTTPLimit(t *testing.T) {
	httpLimit := DefaultHTTPLimit()
	if httpLimit.RequestsPerWindow != 100 || httpLimit.WindowDuration != time.Minute {
		t.Errorf("DefaultHTTPLimit() = %+v", httpLimit)
	}

	httpLimit.RequestsPerWindow = 9999
	if DefaultHTTPLimit().RequestsPerWindow != 100 {
		t.Error("modifying a returned copy must not change the default")
	}
}

var _ RateLimitStore = (*InMemoryRateLimitStore)(nil)
