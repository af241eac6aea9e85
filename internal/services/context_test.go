package services_test

import (
	"context"
	"testing"

	"tsundoku/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithTitleID(ctx, 42)
	ctx = services.WithEngine(ctx, "reconcile")
	ctx = services.WithRunID(ctx, "run-1")
	ctx = services.WithRequestID(ctx, "req-123")

	if id, ok := services.TitleIDFromContext(ctx); !ok || id != 42 {
		t.Fatalf("unexpected title id: %v %v", id, ok)
	}
	if engine, ok := services.EngineFromContext(ctx); !ok || engine != "reconcile" {
		t.Fatalf("unexpected engine: %v %v", engine, ok)
	}
	if run, ok := services.RunIDFromContext(ctx); !ok || run != "run-1" {
		t.Fatalf("unexpected run id: %v %v", run, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
}

func TestEngineBlankPreservesContext(t *testing.T) {
	ctx := services.WithEngine(context.Background(), "")
	if _, ok := services.EngineFromContext(ctx); ok {
		t.Fatal("expected no engine value")
	}
}
