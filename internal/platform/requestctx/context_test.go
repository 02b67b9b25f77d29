package requestctx

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func TestAnnotate(t *testing.T) {
	ctx, annotations := WithAnnotations(context.Background())

	Annotate(ctx, "session_id", "s-1")
	Annotate(ctx, "outfit_id", "o-1")
	Annotate(ctx, "outfit_id", "o-2")
	Annotate(ctx, "empty", "")

	fields := annotations.Fields()
	if len(fields) != 2 {
		t.Fatalf("expected 2 fields, got %d", len(fields))
	}
	if fields[0].Key != "outfit_id" || fields[0].String != "o-2" {
		t.Fatalf("expected latest outfit id first, got %+v", fields[0])
	}
	if fields[1].Key != "session_id" || fields[1].String != "s-1" {
		t.Fatalf("unexpected second field %+v", fields[1])
	}
}

func TestAnnotateWithoutSet(t *testing.T) {
	Annotate(context.Background(), "session_id", "s-1")

	var missing *Annotations
	if fields := missing.Fields(); fields != nil {
		t.Fatalf("expected nil fields, got %v", fields)
	}
}

func TestLoggerFallback(t *testing.T) {
	ctx := context.Background()
	if HasLogger(ctx) {
		t.Fatalf("expected no logger on empty context")
	}
	ctx = WithLogger(ctx, zap.NewExample())
	if !HasLogger(ctx) {
		t.Fatalf("expected stored logger")
	}
	if !HasLogger(WithLogger(ctx, zap.NewExample())) || HasLogger(WithLogger(ctx, nil)) {
		t.Fatalf("nil logger should reset to no-op")
	}
}

func TestTraceResource(t *testing.T) {
	info := TraceInfo{TraceID: "abc", ProjectID: "wtw-prod"}
	if got := info.Resource(); got != "projects/wtw-prod/traces/abc" {
		t.Fatalf("unexpected resource %q", got)
	}
	if got := (TraceInfo{TraceID: "abc"}).Resource(); got != "" {
		t.Fatalf("expected empty resource without project, got %q", got)
	}
	ctx := WithTrace(context.Background(), info)
	if TraceID(ctx) != "abc" {
		t.Fatalf("expected trace id from context")
	}
}
