package tracing

import (
	"context"
	"testing"
)

func TestDisabledTracingExtractIsEmpty(t *testing.T) {
	if err := Init(context.Background(), Config{Enabled: false}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer Shutdown(context.Background())

	ctx, span := StartCall(context.Background(), "add")
	defer span.End()

	traceParent, traceState := Extract(ctx)
	if traceParent != "" || traceState != "" {
		t.Fatalf("expected empty trace context when disabled, got %q/%q", traceParent, traceState)
	}
	if Enabled() {
		t.Fatal("Enabled() should be false")
	}
}

func TestInjectWithoutTraceParentIsNoop(t *testing.T) {
	ctx := context.Background()
	got := Inject(ctx, "", "")
	if got != ctx {
		t.Fatal("Inject with empty traceParent should return the same context")
	}
}
