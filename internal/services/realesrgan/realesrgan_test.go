package realesrgan

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
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
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", "REALESRGAN_HELPER_MODE="+mode)
		return cmd
	}
	t.Cleanup(func() {
		commandContext = original
	})
}

func TestResolveModel(t *testing.T) {
	if got := ResolveModel("general", "realesrgan-x4plus"); got != "realesrgan-x4plus" {
		t.Fatalf("general resolved to %q", got)
	}
	if got := ResolveModel("anime", "realesrgan-x4plus"); got != "realesrgan-x4plus-anime" {
		t.Fatalf("anime resolved to %q", got)
	}
	if got := ResolveModel("face", "realesrgan-x4plus"); got != "realesrgan-x4plus" {
		t.Fatalf("face resolved to %q", got)
	}
	if got := ResolveModel("", "custom-model"); got != "custom-model" {
		t.Fatalf("empty choice resolved to %q", got)
	}
	if got := ResolveModel("realesr-animevideov3-x2", ""); got != "realesr-animevideov3-x2" {
		t.Fatalf("literal model name resolved to %q", got)
	}
}

func TestScaleForModel(t *testing.T) {
	if got := ScaleForModel("realesrgan-x4plus"); got != 4 {
		t.Fatalf("x4plus scale = %d", got)
	}
	if got := ScaleForModel("realesr-animevideov3-x2"); got != 2 {
		t.Fatalf("x2 scale = %d", got)
	}
	if got := ScaleForModel("realesr-animevideov3-x3"); got != 3 {
		t.Fatalf("x3 scale = %d", got)
	}
	if got := ScaleForModel("mystery-model"); got != 4 {
		t.Fatalf("unknown scale = %d, want default 4", got)
	}
}

func TestEnhanceFrameArgs(t *testing.T) {
	var captured []string
	stubCommand(t, "success", &captured)

	cli := NewCLI(WithModelsDir("/opt/models"))
	err := cli.EnhanceFrame(context.Background(), "/work/in.png", "/work/out.png", "realesrgan-x4plus", 1)
	if err != nil {
		t.Fatalf("EnhanceFrame returned error: %v", err)
	}

	joined := strings.Join(captured, " ")
	for _, want := range []string{"-i /work/in.png", "-o /work/out.png", "-n realesrgan-x4plus", "-s 4", "-f png", "-g 1", "-m /opt/models"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("expected %q in args, got %v", want, captured)
		}
	}
}

func TestEnhanceFrameOmitsGPUWhenNegative(t *testing.T) {
	var captured []string
	stubCommand(t, "success", &captured)

	cli := NewCLI()
	if err := cli.EnhanceFrame(context.Background(), "/work/in.png", "/work/out.png", "realesrgan-x4plus", -1); err != nil {
		t.Fatalf("EnhanceFrame returned error: %v", err)
	}
	if strings.Contains(strings.Join(captured, " "), "-g") {
		t.Fatalf("expected no -g flag for default device, got %v", captured)
	}
}

func TestEnhanceFrameRequiresArguments(t *testing.T) {
	cli := NewCLI()
	if err := cli.EnhanceFrame(context.Background(), "", "/out.png", "m", 0); err == nil {
		t.Fatal("expected error for empty input")
	}
	if err := cli.EnhanceFrame(context.Background(), "/in.png", "", "m", 0); err == nil {
		t.Fatal("expected error for empty output")
	}
	if err := cli.EnhanceFrame(context.Background(), "/in.png", "/out.png", "", 0); err == nil {
		t.Fatal("expected error for empty model")
	}
}

func TestEnhanceFrameFailureWrapsExternalToolError(t *testing.T) {
	stubCommand(t, "failure", nil)

	cli := NewCLI()
	err := cli.EnhanceFrame(context.Background(), "/work/in.png", "/work/out.png", "realesrgan-x4plus", 0)
	if err == nil {
		t.Fatal("expected error from failing command")
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool marker, got %v", err)
	}
}

func TestEnhanceFrameTimeoutWrapsTimeoutError(t *testing.T) {
	stubCommand(t, "failure", nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cli := NewCLI()
	err := cli.EnhanceFrame(ctx, "/work/in.png", "/work/out.png", "realesrgan-x4plus", 0)
	if err == nil {
		t.Fatal("expected error from canceled context")
	}
	if !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("expected timeout marker, got %v", err)
	}
}

func TestListModelsRequiresParamAndBin(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"realesrgan-x4plus.param", "realesrgan-x4plus.bin", "realesrgan-x4plus-anime.param"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("write model file: %v", err)
		}
	}

	cli := NewCLI(WithModelsDir(dir))
	models, err := cli.ListModels()
	if err != nil {
		t.Fatalf("ListModels returned error: %v", err)
	}
	if len(models) != 1 || models[0] != "realesrgan-x4plus" {
		t.Fatalf("ListModels = %v, want [realesrgan-x4plus]", models)
	}
}

func TestListModelsEmptyWithoutDir(t *testing.T) {
	cli := NewCLI()
	models, err := cli.ListModels()
	if err != nil {
		t.Fatalf("ListModels returned error: %v", err)
	}
	if len(models) != 0 {
		t.Fatalf("ListModels = %v, want empty", models)
	}
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}

	switch os.Getenv("REALESRGAN_HELPER_MODE") {
	case "failure":
		fmt.Fprintln(os.Stderr, "vulkan device lost")
		os.Exit(1)
	default:
		os.Exit(0)
	}
}
