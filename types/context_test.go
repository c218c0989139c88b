package types

import (
	"context"
	"testing"
)

func TestContextHelpers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	ctx = WithTraceID(ctx, "t1")
	if got, ok := TraceID(ctx); !ok || got != "t1" {
		t.Fatalf("TraceID mismatch: %v %v", got, ok)
	}

	ctx = WithRequestID(ctx, "req-1")
	if got, ok := RequestID(ctx); !ok || got != "req-1" {
		t.Fatalf("RequestID mismatch: %v %v", got, ok)
	}
}

func TestContextHelpers_Missing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	if _, ok := TraceID(ctx); ok {
		t.Fatal("TraceID should be absent on empty context")
	}
	if _, ok := RequestID(ctx); ok {
		t.Fatal("RequestID should be absent on empty context")
	}
}

func TestContextHelpers_EmptyValueTreatedAsAbsent(t *testing.T) {
	t.Parallel()

	ctx := WithTraceID(context.Background(), "")
	if _, ok := TraceID(ctx); ok {
		t.Fatal("empty trace ID should report absent")
	}
}
