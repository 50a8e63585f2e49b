package services_test

import (
	"context"
	"testing"

	"convertd/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithExecutionID(ctx, "abc")
	ctx = services.WithTool(ctx, "gpx-speed")
	ctx = services.WithRequestID(ctx, "req-123")

	if id, ok := services.ExecutionIDFromContext(ctx); !ok || id != "abc" {
		t.Fatalf("unexpected execution id: %v %v", id, ok)
	}
	if tool, ok := services.ToolFromContext(ctx); !ok || tool != "gpx-speed" {
		t.Fatalf("unexpected tool: %v %v", tool, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
}

func TestBlankValuesPreserveContext(t *testing.T) {
	ctx := services.WithTool(context.Background(), "")
	if _, ok := services.ToolFromContext(ctx); ok {
		t.Fatal("expected no tool value")
	}
	ctx = services.WithExecutionID(ctx, "")
	if _, ok := services.ExecutionIDFromContext(ctx); ok {
		t.Fatal("expected no execution id")
	}
}
