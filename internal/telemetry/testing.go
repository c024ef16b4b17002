package telemetry

import (
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// SpanRecorder captures ended spans in memory.
type SpanRecorder struct {
	*tracetest.SpanRecorder
}

// InstallSpanRecorder sets a recording global tracer provider for the test
// and restores the previous provider on cleanup.
func InstallSpanRecorder(tb testing.TB) *SpanRecorder {
	tb.Helper()

	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))

	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	tb.Cleanup(func() {
		otel.SetTracerProvider(prev)
	})
	return &SpanRecorder{SpanRecorder: rec}
}

// SpanByName returns the first ended span with name, or nil.
func (r *SpanRecorder) SpanByName(name string) sdktrace.ReadOnlySpan {
	for _, span := range r.Ended() {
		if span.Name() == name {
			return span
		}
	}
	return nil
}

// AssertSpanExists verifies a span with the given name ended.
func (r *SpanRecorder) AssertSpanExists(tb testing.TB, name string) {
	tb.Helper()
	if r.SpanByName(name) == nil {
		names := make([]string, 0)
		for _, s := range r.Ended() {
			names = append(names, s.Name())
		}
		tb.Errorf("expected span %q not found, got: %v", name, names)
	}
}

// AssertSpanAttribute verifies a string attribute on a span.
func (r *SpanRecorder) AssertSpanAttribute(tb testing.TB, spanName, key, expected string) {
	tb.Helper()
	span := r.SpanByName(spanName)
	if span == nil {
		tb.Fatalf("span %q not found", spanName)
	}
	for _, attr := range span.Attributes() {
		if attr.Key == attribute.Key(key) {
			if got := attr.Value.AsString(); got != expected {
				tb.Errorf("span %q attribute %q: got %q, want %q", spanName, key, got, expected)
			}
			return
		}
	}
	tb.Errorf("span %q missing attribute %q", spanName, key)
}
