package services

import (
	"context"
	"testing"
)

func TestJobIDRoundTrip(t *testing.T) {
	ctx := context.Background()
	if _, ok := JobIDFromContext(ctx); ok {
		t.Fatal("empty context should carry no job id")
	}
	ctx = WithJobID(ctx, "abc123")
	id, ok := JobIDFromContext(ctx)
	if !ok || id != "abc123" {
		t.Fatalf("got %q, %v", id, ok)
	}
}

func TestStageAndRequestID(t *testing.T) {
	ctx := WithStage(context.Background(), "enhancing")
	stage, ok := StageFromContext(ctx)
	if !ok || stage != "enhancing" {
		t.Fatalf("got %q, %v", stage, ok)
	}

	// Empty values must not be stored.
	ctx = WithStage(context.Background(), "")
	if _, ok := StageFromContext(ctx); ok {
		t.Fatal("empty stage should not be retrievable")
	}

	ctx = WithRequestID(context.Background(), "req-1")
	rid, ok := RequestIDFromContext(ctx)
	if !ok || rid != "req-1" {
		t.Fatalf("got %q, %v", rid, ok)
	}
}
