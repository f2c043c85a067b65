package tracing

import (
	"context"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"disabled ignores fields", Config{SamplingRate: 7}, false},
		{"valid http", Config{Enabled: true, ServiceName: "live", SamplingRate: 0.1}, false},
		{"valid grpc", Config{Enabled: true, ServiceName: "live", ExporterType: ExporterOTLPGRPC, SamplingRate: 1}, false},
		{"missing service name", Config{Enabled: true, SamplingRate: 0.1}, true},
		{"negative rate", Config{Enabled: true, ServiceName: "live", SamplingRate: -0.1}, true},
		{"rate above one", Config{Enabled: true, ServiceName: "live", SamplingRate: 1.5}, true},
		{"unknown exporter", Config{Enabled: true, ServiceName: "live", ExporterType: "zipkin"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewProvider_Disabled(t *testing.T) {
	provider, err := NewProvider(context.Background(), Config{ServiceName: "live"})
	if err != nil {
		t.Fatalf("expected no error for disabled tracing, got %v", err)
	}
	if provider.IsEnabled() {
		t.Error("expected tracing to be disabled")
	}
	if err := provider.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() on disabled provider = %v", err)
	}
}

func TestNewProvider_RejectsInvalidConfig(t *testing.T) {
	if _, err := NewProvider(context.Background(), Config{Enabled: true, SamplingRate: 0.5}); err == nil {
		t.Fatal("expected error for missing service name")
	}
}

func TestNewProvider_Enabled(t *testing.T) {
	for _, exporter := range []string{ExporterOTLPHTTP, ExporterOTLPGRPC} {
		t.Run(exporter, func(t *testing.T) {
			provider, err := NewProvider(context.Background(), Config{
				ServiceName:  "live",
				Enabled:      true,
				Environment:  "test",
				ExporterType: exporter,
				OTLPEndpoint: "localhost:4318",
				SamplingRate: 0.5,
				InsecureMode: true,
			})
			if err != nil {
				t.Fatalf("NewProvider() error = %v", err)
			}
			if !provider.IsEnabled() {
				t.Error("expected tracing to be enabled")
			}

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = provider.Shutdown(ctx)
		})
	}
}

func TestSampler(t *testing.T) {
	traceID := trace.TraceID{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

	tests := []struct {
		name   string
		rate   float64
		parent trace.SpanContext
		want   sdktrace.SamplingDecision
	}{
		{"always", 1, trace.SpanContext{}, sdktrace.RecordAndSample},
		{"never", 0, trace.SpanContext{}, sdktrace.Drop},
		{
			name: "sampled parent wins over never",
			rate: 0,
			parent: trace.NewSpanContext(trace.SpanContextConfig{
				TraceID:    traceID,
				SpanID:     trace.SpanID{1},
				TraceFlags: trace.FlagsSampled,
				Remote:     true,
			}),
			want: sdktrace.RecordAndSample,
		},
		{
			name: "unsampled parent wins over always",
			rate: 1,
			parent: trace.NewSpanContext(trace.SpanContextConfig{
				TraceID: traceID,
				SpanID:  trace.SpanID{1},
				Remote:  true,
			}),
			want: sdktrace.Drop,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := trace.ContextWithSpanContext(context.Background(), tt.parent)
			res := Sampler(tt.rate).ShouldSample(sdktrace.SamplingParameters{
				ParentContext: ctx,
				TraceID:       traceID,
				Name:          "ws joinStream",
			})
			if res.Decision != tt.want {
				t.Errorf("decision = %v, want %v", res.Decision, tt.want)
			}
		})
	}
}
