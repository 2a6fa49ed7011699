package ffmpeg

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

func stubCommand(t *testing.T, mode string, captured *[][]string) {
	t.Helper()
	original := commandContext
	commandContext = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		if captured != nil {
			*captured = append(*captured, append([]string{name}, args...))
		}
		cmd := exec.CommandContext(ctx, os.Args[0], "-test.run=TestHelperProcess")
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", "FFMPEG_HELPER_MODE="+mode)
		return cmd
	}
	t.Cleanup(func() {
		commandContext = original
	})
}

func TestNewCLIOptions(t *testing.T) {
	cli := NewCLI(WithBinary("/opt/ffmpeg"), WithProbeBinary("/opt/ffprobe"), WithSettings(Settings{FPS: 24, CRF: 20, Preset: "fast", AudioBitrate: "128k", TargetHeight: 1440, StderrLimit: 100}))
	if cli.binary != "/opt/ffmpeg" || cli.probeBinary != "/opt/ffprobe" {
		t.Fatalf("binary overrides not applied: %q %q", cli.binary, cli.probeBinary)
	}
	if cli.settings.FPS != 24 || cli.settings.Preset != "fast" {
		t.Fatalf("settings override not applied: %+v", cli.settings)
	}
}

func TestExtractFramesArgs(t *testing.T) {
	var captured [][]string
	stubCommand(t, "success", &captured)

	cli := NewCLI()
	framesDir := t.TempDir()
	if err := cli.ExtractFrames(context.Background(), "/media/in.mp4", framesDir); err != nil {
		t.Fatalf("ExtractFrames returned error: %v", err)
	}

	args := captured[0]
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "fps=30") {
		t.Fatalf("expected fps filter in args, got %v", args)
	}
	if !strings.Contains(joined, filepath.Join(framesDir, FramePattern)) {
		t.Fatalf("expected frame pattern output, got %v", args)
	}
}

func TestExtractFramesRequiresPaths(t *testing.T) {
	cli := NewCLI()
	if err := cli.ExtractFrames(context.Background(), "", "/tmp"); err == nil {
		t.Fatal("expected error for empty input path")
	}
	if err := cli.ExtractFrames(context.Background(), "/media/in.mp4", ""); err == nil {
		t.Fatal("expected error for empty frames directory")
	}
}

func TestCombineArgsIncludeAudioAndShortest(t *testing.T) {
	var captured [][]string
	stubCommand(t, "success", &captured)

	cli := NewCLI()
	if err := cli.Combine(context.Background(), "/work/frames", "/work/audio.aac", "/out/final.mp4"); err != nil {
		t.Fatalf("Combine returned error: %v", err)
	}

	joined := strings.Join(captured[0], " ")
	for _, want := range []string{"-framerate 30", "/work/audio.aac", "-vf scale=-2:2160:flags=lanczos", "-c:v libx264", "-pix_fmt yuv420p", "-preset slow", "-crf 18", "-b:a 192k", "-shortest"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("expected %q in combine args, got %v", want, captured[0])
		}
	}
}

func TestCombineVideoOnlyOmitsAudio(t *testing.T) {
	var captured [][]string
	stubCommand(t, "success", &captured)

	cli := NewCLI()
	if err := cli.CombineVideoOnly(context.Background(), "/work/frames", "/out/final.mp4"); err != nil {
		t.Fatalf("CombineVideoOnly returned error: %v", err)
	}

	joined := strings.Join(captured[0], " ")
	if !strings.Contains(joined, "-an") {
		t.Fatalf("expected -an flag, got %v", captured[0])
	}
	if !strings.Contains(joined, "scale=-2:2160:flags=lanczos") {
		t.Fatalf("expected lanczos scale filter, got %v", captured[0])
	}
	if strings.Contains(joined, "audio.aac") {
		t.Fatalf("video-only combine must not reference the audio track, got %v", captured[0])
	}
}

func TestRescaleWholeUsesLanczosScale(t *testing.T) {
	var captured [][]string
	stubCommand(t, "success", &captured)

	cli := NewCLI()
	if err := cli.RescaleWhole(context.Background(), "/media/in.mp4", "/out/final.mp4"); err != nil {
		t.Fatalf("RescaleWhole returned error: %v", err)
	}

	joined := strings.Join(captured[0], " ")
	if !strings.Contains(joined, "scale=-2:2160:flags=lanczos") {
		t.Fatalf("expected lanczos scale filter, got %v", captured[0])
	}
	if !strings.Contains(joined, "-c:a copy") {
		t.Fatalf("expected audio copy, got %v", captured[0])
	}
}

func TestRunFailureWrapsExternalToolError(t *testing.T) {
	stubCommand(t, "failure", nil)

	cli := NewCLI()
	err := cli.ExtractAudio(context.Background(), "/media/in.mp4", "/work/audio.aac")
	if err == nil {
		t.Fatal("expected error from failing command")
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected stderr diagnostic in error, got %v", err)
	}
}

func TestProbeParsesStreamFacts(t *testing.T) {
	stubCommand(t, "probe", nil)

	cli := NewCLI()
	result, err := cli.Probe(context.Background(), "/media/in.mp4")
	if err != nil {
		t.Fatalf("Probe returned error: %v", err)
	}
	if result.Width != 1920 || result.Height != 1080 {
		t.Fatalf("unexpected dimensions: %+v", result)
	}
	if result.FrameCount != 900 {
		t.Fatalf("unexpected frame count: %d", result.FrameCount)
	}
	if result.Duration < 29.9 || result.Duration > 30.1 {
		t.Fatalf("unexpected duration: %f", result.Duration)
	}
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}

	switch os.Getenv("FFMPEG_HELPER_MODE") {
	case "success":
		os.Exit(0)
	case "failure":
		fmt.Fprintln(os.Stderr, "boom")
		os.Exit(1)
	case "probe":
		fmt.Println(`{"streams":[{"width":1920,"height":1080,"nb_frames":"900"}],"format":{"duration":"30.000000"}}`)
		os.Exit(0)
	default:
		os.Exit(0)
	}
}
