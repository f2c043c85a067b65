package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/", "/"},
		{"/ws", "/ws"},
		{"/health", "/health"},
		{"/metrics", "/metrics"},
		{"/streams/abc123/session", "/streams/{id}/session"},
		{"/streams/66b0c1f0e4/session", "/streams/{id}/session"},
		{"/streams//session", "other"},
		{"/streams/abc123", "other"},
		{"/streams/abc123/session/extra", "other"},
		{"/wp-admin", "other"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := normalizePath(tt.path); got != tt.want {
				t.Errorf("normalizePath(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestHTTPMetrics(t *testing.T) {
	tests := []struct {
		name        string
		path        string
		status      int
		wantRecords bool
		wantLabel   string
	}{
		{"session snapshot", "/streams/s1/session", http.StatusOK, true, "/streams/{id}/session"},
		{"snapshot not found", "/streams/s2/session", http.StatusNotFound, true, "/streams/{id}/session"},
		{"health excluded", "/health", http.StatusOK, false, ""},
		{"ready excluded", "/ready", http.StatusServiceUnavailable, false, ""},
		{"metrics excluded", "/metrics", http.StatusOK, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMetrics()
			reg := prometheus.NewRegistry()
			if err := m.Register(reg); err != nil {
				t.Fatalf("Register() failed: %v", err)
			}

			handler := HTTPMetrics(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"ok":true}`))
			}))
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if rr.Code != tt.status {
				t.Errorf("status = %d, want %d", rr.Code, tt.status)
			}

			families, err := reg.Gather()
			if err != nil {
				t.Fatalf("Gather() failed: %v", err)
			}
			var total *dto.MetricFamily
			for _, mf := range families {
				if mf.GetName() == MetricHTTPRequestsTotal {
					total = mf
				}
			}
			if !tt.wantRecords {
				if total != nil {
					t.Errorf("expected no %s samples", MetricHTTPRequestsTotal)
				}
				return
			}
			if total == nil || len(total.GetMetric()) != 1 {
				t.Fatalf("expected one %s sample", MetricHTTPRequestsTotal)
			}
			for _, lp := range total.GetMetric()[0].GetLabel() {
				if lp.GetName() == "path" && lp.GetValue() != tt.wantLabel {
					t.Errorf("path label = %q, want %q", lp.GetValue(), tt.wantLabel)
				}
			}
		})
	}
}

func TestMetricsResponseWriter_WriteHeaderOnce(t *testing.T) {
	rr := httptest.NewRecorder()
	mrw := newMetricsResponseWriter(rr)

	mrw.WriteHeader(http.StatusNotFound)
	mrw.WriteHeader(http.StatusOK)
	n, _ := mrw.Write([]byte("gone"))

	if mrw.statusCode != http.StatusNotFound {
		t.Errorf("statusCode = %d, want 404", mrw.statusCode)
	}
	if mrw.size != int64(n) {
		t.Errorf("size = %d, want %d", mrw.size, n)
	}
}

func TestMetricsResponseWriter_HijackUnsupported(t *testing.T) {
	mrw := newMetricsResponseWriter(httptest.NewRecorder())
	if _, _, err := mrw.Hijack(); err == nil {
		t.Error("expected hijack to fail on a recorder")
	}
}
