package observability

import (
	"context"
	"testing"
)

func TestTraceIDFromContext_Empty(t *testing.T) {
	ctx := context.Background()
	id := TraceIDFromContext(ctx)
	if id != "" {
		t.Errorf("expected empty trace ID from background context, got %q", id)
	}
}

func TestTracer_ReturnsNonNil(t *testing.T) {
	tracer := Tracer()
	if tracer == nil {
		t.Error("expected non-nil tracer")
	}
}

func TestStartSpan_ReturnsContext(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "test-span")
	defer span.End()

	if ctx == nil {
		t.Error("expected non-nil context from StartSpan")
	}
	if span == nil {
		t.Error("expected non-nil span from StartSpan")
	}
}

func TestStartSpan_WithAttributes(t *testing.T) {
	// Should not panic with various attributes
	ctx, span := StartSpan(context.Background(), "test-span")
	defer span.End()

	if ctx == nil {
		t.Error("expected non-nil context")
	}
}

func TestInitTracer_PropagatesTraceID(t *testing.T) {
	shutdown, err := InitTracer("catalog-search-test")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	defer shutdown(context.Background())

	ctx, span := StartSpan(context.Background(), "reindex")
	defer span.End()

	id := TraceIDFromContext(ctx)
	if len(id) != 32 {
		t.Errorf("expected 32 char trace id, got %q", id)
	}
}
