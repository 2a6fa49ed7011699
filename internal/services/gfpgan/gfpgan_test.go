package gfpgan

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"testing"

	"upres/internal/services"
)

func stubCommand(t *testing.T, mode string, captured *[]string) {
	t.Helper()
	original := commandContext
	commandContext = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		if captured != nil {
			*captured = append([]string{name}, args...)
		}
		cmd := exec.CommandContext(ctx, os.Args[0], "-test.run=TestHelperProcess")
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", "GFPGAN_HELPER_MODE="+mode)
		return cmd
	}
	t.Cleanup(func() {
		commandContext = original
	})
}

func TestRestoreFaceArgs(t *testing.T) {
	var captured []string
	stubCommand(t, "success", &captured)

	cli := NewCLI(WithModel("GFPGANv1.3"))
	if err := cli.RestoreFace(context.Background(), "/work/in.png", "/work/out.png"); err != nil {
		t.Fatalf("RestoreFace returned error: %v", err)
	}

	joined := strings.Join(captured, " ")
	for _, want := range []string{"-i /work/in.png", "-o /work/out.png", "-m GFPGANv1.3"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("expected %q in args, got %v", want, captured)
		}
	}
}

func TestRestoreFaceRequiresPaths(t *testing.T) {
	cli := NewCLI()
	if err := cli.RestoreFace(context.Background(), "", "/out.png"); err == nil {
		t.Fatal("expected error for empty input path")
	}
	if err := cli.RestoreFace(context.Background(), "/in.png", ""); err == nil {
		t.Fatal("expected error for empty output path")
	}
}

func TestRestoreFaceFailureWrapsExternalToolError(t *testing.T) {
	stubCommand(t, "failure", nil)

	cli := NewCLI()
	err := cli.RestoreFace(context.Background(), "/work/in.png", "/work/out.png")
	if err == nil {
		t.Fatal("expected error from failing command")
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "no face detected") {
		t.Fatalf("expected stderr diagnostic in error, got %v", err)
	}
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}

	switch os.Getenv("GFPGAN_HELPER_MODE") {
	case "failure":
		fmt.Fprintln(os.Stderr, "no face detected")
		os.Exit(1)
	default:
		os.Exit(0)
	}
}
