package services

import (
	"errors"
	"strings"
	"testing"
)

func TestWrapTagsMarker(t *testing.T) {
	base := errors.New("exit status 1")
	err := Wrap(ErrExternalTool, "encoding", "combine", "ffmpeg failed", base)
	if !errors.Is(err, ErrExternalTool) {
		t.Fatal("expected external tool marker")
	}
	if !errors.Is(err, base) {
		t.Fatal("expected wrapped base error")
	}
	if !strings.Contains(err.Error(), "encoding: combine: ffmpeg failed") {
		t.Fatalf("unexpected detail: %v", err)
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := Wrap(nil, "", "", "", nil)
	if !errors.Is(err, ErrTransient) {
		t.Fatal("nil marker should default to transient")
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected generic detail, got %v", err)
	}
}

func TestTruncateDiagnostic(t *testing.T) {
	if got := TruncateDiagnostic("   ", 100); got != "<no stderr>" {
		t.Fatalf("blank output should map to placeholder, got %q", got)
	}
	long := strings.Repeat("x", 300)
	got := TruncateDiagnostic(long, 200)
	if len(got) <= 200 || !strings.HasSuffix(got, "…") {
		t.Fatalf("expected truncated output with ellipsis, got %d bytes", len(got))
	}
	if got := TruncateDiagnostic("short", 200); got != "short" {
		t.Fatalf("short output should pass through, got %q", got)
	}
}
