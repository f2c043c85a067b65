package tracing

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func newRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prev)
	})
	return recorder
}

func attrMap(span sdktrace.ReadOnlySpan) map[attribute.Key]string {
	m := make(map[attribute.Key]string)
	for _, kv := range span.Attributes() {
		m[kv.Key] = kv.Value.Emit()
	}
	return m
}

func TestStartDBSpan(t *testing.T) {
	tests := []struct {
		name      string
		table     string
		operation DBOperation
		wantName  string
	}{
		{"query streams", "streams", DBOperationQuery, "query streams"},
		{"update streams", "streams", DBOperationUpdate, "update streams"},
		{"insert messages", "messages", DBOperationInsert, "insert messages"},
		{"delete messages", "messages", DBOperationDelete, "delete messages"},
		{"no table", "", DBOperationQuery, "query"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := newRecorder(t)

			_, endSpan := StartDBSpan(context.Background(), tt.table, tt.operation)
			endSpan(nil)

			spans := recorder.Ended()
			if len(spans) != 1 {
				t.Fatalf("expected 1 span, got %d", len(spans))
			}
			span := spans[0]
			if span.Name() != tt.wantName {
				t.Errorf("span name = %q, want %q", span.Name(), tt.wantName)
			}
			if span.SpanKind() != trace.SpanKindClient {
				t.Errorf("span kind = %v, want client", span.SpanKind())
			}
			attrs := attrMap(span)
			if attrs["db.system"] != "postgresql" {
				t.Errorf("db.system = %q", attrs["db.system"])
			}
			if attrs["db.operation"] != string(tt.operation) {
				t.Errorf("db.operation = %q", attrs["db.operation"])
			}
			if got, ok := attrs["db.sql.table"]; ok != (tt.table != "") || got != tt.table {
				t.Errorf("db.sql.table = %q (present %v)", got, ok)
			}
		})
	}
}

func TestStartSpan_RecordsError(t *testing.T) {
	recorder := newRecorder(t)
	testErr := errors.New("Failed to join stream")

	_, endSpan := StartSpan(context.Background(), "stream.join", attribute.String("live.stream_id", "s1"))
	endSpan(testErr)

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]
	if span.Status().Code != codes.Error || span.Status().Description != testErr.Error() {
		t.Errorf("status = %+v", span.Status())
	}
	if attrMap(span)["live.stream_id"] != "s1" {
		t.Error("expected live.stream_id attribute")
	}
}

func TestStartEventSpan_Nesting(t *testing.T) {
	recorder := newRecorder(t)

	ctx, endEvent := StartEventSpan(context.Background(), "joinStream", "conn-1")
	SetAttributes(ctx, attribute.String("live.user_id", "alice"))
	ctx, endCtrl := StartSpan(ctx, "stream.join")
	_, endDB := StartDBSpan(ctx, "streams", DBOperationUpdate)
	endDB(nil)
	endCtrl(nil)
	endEvent(nil)

	spans := recorder.Ended()
	if len(spans) != 3 {
		t.Fatalf("expected 3 spans, got %d", len(spans))
	}
	db, ctrl, event := spans[0], spans[1], spans[2]

	if event.Name() != "ws joinStream" || event.SpanKind() != trace.SpanKindServer {
		t.Errorf("event span = %q kind %v", event.Name(), event.SpanKind())
	}
	attrs := attrMap(event)
	if attrs["live.event"] != "joinStream" || attrs["live.conn_id"] != "conn-1" || attrs["live.user_id"] != "alice" {
		t.Errorf("event attributes = %v", attrs)
	}
	if ctrl.Parent().SpanID() != event.SpanContext().SpanID() {
		t.Error("controller span should be a child of the event span")
	}
	if db.Parent().SpanID() != ctrl.SpanContext().SpanID() {
		t.Error("db span should be a child of the controller span")
	}
	if db.SpanContext().TraceID() != event.SpanContext().TraceID() {
		t.Error("all spans should share one trace")
	}
}
