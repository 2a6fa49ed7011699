package enhance

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"upres/internal/media/frames"
)

// stubEnhancer simulates the upscaler. Behavior is keyed by source frame
// index; the default writes a lit output frame.
type stubEnhancer struct {
	mu       sync.Mutex
	attempts map[int]int
	gpus     map[int][]int
	behavior map[int]func(attempt int, outputPath string) error
}

func newStubEnhancer() *stubEnhancer {
	return &stubEnhancer{
		attempts: make(map[int]int),
		gpus:     make(map[int][]int),
		behavior: make(map[int]func(int, string) error),
	}
}

func indexFromPath(path string) int {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, ".png")
	parts := strings.Split(base, "_")
	n := 0
	for _, c := range parts[len(parts)-1] {
		n = n*10 + int(c-'0')
	}
	return n
}

func (s *stubEnhancer) EnhanceFrame(ctx context.Context, inputPath, outputPath, model string, gpu int) error {
	index := indexFromPath(inputPath)
	s.mu.Lock()
	s.attempts[index]++
	attempt := s.attempts[index]
	s.gpus[index] = append(s.gpus[index], gpu)
	fn := s.behavior[index]
	s.mu.Unlock()

	if fn != nil {
		return fn(attempt, outputPath)
	}
	return writeTestFrame(outputPath, color.RGBA{R: 200, G: 180, B: 160, A: 255})
}

func writeTestFrame(path string, fill color.Color) error {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, fill)
		}
	}
	return frames.WritePNG(path, img)
}

func makeSources(t *testing.T, dir string, count int) []Frame {
	t.Helper()
	inputs := make([]Frame, 0, count)
	for i := 1; i <= count; i++ {
		path := filepath.Join(dir, frames.Name(i))
		if err := writeTestFrame(path, color.RGBA{R: 90, G: 90, B: 90, A: 255}); err != nil {
			t.Fatalf("write source frame: %v", err)
		}
		inputs = append(inputs, Frame{Index: i, Path: path})
	}
	return inputs
}

func TestRunAllFramesSucceedFirstAttempt(t *testing.T) {
	srcDir := t.TempDir()
	outDir := t.TempDir()
	inputs := makeSources(t, srcDir, 10)
	stub := newStubEnhancer()

	var lastProgress atomic.Value
	engine := NewEngine(stub, WithWorkers(3))
	err := engine.Run(context.Background(), inputs, outDir, "realesrgan-x4plus", nil, func(p Progress) {
		lastProgress.Store(p)
	})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	check := frames.DefaultCheckPolicy()
	for i := 1; i <= 10; i++ {
		if !check.Usable(filepath.Join(outDir, frames.Name(i))) {
			t.Fatalf("frame %d missing or degenerate", i)
		}
		if stub.attempts[i] != 1 {
			t.Fatalf("frame %d took %d attempts, want 1", i, stub.attempts[i])
		}
	}

	final, _ := lastProgress.Load().(Progress)
	if final.Processed != 10 || final.Total != 10 {
		t.Fatalf("final progress = %+v", final)
	}
}

func TestRunIdentityFallbackAfterRetriesExhausted(t *testing.T) {
	srcDir := t.TempDir()
	outDir := t.TempDir()
	inputs := makeSources(t, srcDir, 6)
	stub := newStubEnhancer()
	stub.behavior[5] = func(attempt int, outputPath string) error {
		return errors.New("vulkan device lost")
	}

	var workLog bytes.Buffer
	engine := NewEngine(stub, WithWorkers(2), WithWorkLog(&workLog),
		WithRetryPolicy(RetryPolicy{MaxAttempts: 3, GPUs: []int{0, 1}}))
	if err := engine.Run(context.Background(), inputs, outDir, "m", nil, nil); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if stub.attempts[5] != 3 {
		t.Fatalf("frame 5 took %d attempts, want 3", stub.attempts[5])
	}
	// Accelerators rotate across attempts.
	wantGPUs := []int{0, 1, 0}
	for i, gpu := range stub.gpus[5] {
		if gpu != wantGPUs[i] {
			t.Fatalf("frame 5 gpus = %v, want %v", stub.gpus[5], wantGPUs)
		}
	}

	// Identity fallback: output equals the source bytes.
	src, err := os.ReadFile(inputs[4].Path)
	if err != nil {
		t.Fatalf("read source: %v", err)
	}
	out, err := os.ReadFile(filepath.Join(outDir, frames.Name(5)))
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !bytes.Equal(src, out) {
		t.Fatal("frame 5 output should be the identity-copied source")
	}

	if !strings.Contains(workLog.String(), "enhance_fail_final frame=5") {
		t.Fatalf("work log missing final failure line: %q", workLog.String())
	}
}

func TestBackfillCarriesForwardLastGoodFrame(t *testing.T) {
	srcDir := t.TempDir()
	outDir := t.TempDir()

	inputs := makeSources(t, srcDir, 4)
	// Frame 3's source is fully black so the identity fallback also fails
	// the content check and backfill must substitute.
	if err := writeTestFrame(inputs[2].Path, color.RGBA{A: 255}); err != nil {
		t.Fatalf("write black source: %v", err)
	}

	stub := newStubEnhancer()
	stub.behavior[3] = func(attempt int, outputPath string) error {
		return writeTestFrame(outputPath, color.RGBA{A: 255}) // black output every attempt
	}

	engine := NewEngine(stub, WithWorkers(1),
		WithRetryPolicy(RetryPolicy{MaxAttempts: 3}))
	if err := engine.Run(context.Background(), inputs, outDir, "m", nil, nil); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	frame2, err := os.ReadFile(filepath.Join(outDir, frames.Name(2)))
	if err != nil {
		t.Fatalf("read frame 2: %v", err)
	}
	frame3, err := os.ReadFile(filepath.Join(outDir, frames.Name(3)))
	if err != nil {
		t.Fatalf("read frame 3: %v", err)
	}
	if !bytes.Equal(frame2, frame3) {
		t.Fatal("frame 3 should carry forward frame 2's output after backfill")
	}

	check := frames.DefaultCheckPolicy()
	for i := 1; i <= 4; i++ {
		if !check.Usable(filepath.Join(outDir, frames.Name(i))) {
			t.Fatalf("frame %d missing or degenerate after backfill", i)
		}
	}
}

func TestRunReindexesAfterDiscardingEmptySources(t *testing.T) {
	srcDir := t.TempDir()
	outDir := t.TempDir()
	inputs := makeSources(t, srcDir, 3)
	// Frame 2's source is zero bytes; the survivors must close ranks so
	// the output numbering stays dense for the encode pattern.
	if err := os.WriteFile(inputs[1].Path, nil, 0o644); err != nil {
		t.Fatalf("truncate source frame: %v", err)
	}

	var workLog bytes.Buffer
	var lastProgress atomic.Value
	engine := NewEngine(newStubEnhancer(), WithWorkers(1), WithWorkLog(&workLog))
	err := engine.Run(context.Background(), inputs, outDir, "m", nil, func(p Progress) {
		lastProgress.Store(p)
	})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	check := frames.DefaultCheckPolicy()
	for i := 1; i <= 2; i++ {
		if !check.Usable(filepath.Join(outDir, frames.Name(i))) {
			t.Fatalf("output sequence has a hole at frame %d", i)
		}
	}
	if _, err := os.Stat(filepath.Join(outDir, frames.Name(3))); !os.IsNotExist(err) {
		t.Fatalf("expected no output beyond the re-indexed range, stat err = %v", err)
	}

	if !strings.Contains(workLog.String(), "input_black frame=2") {
		t.Fatalf("work log missing discarded-input line: %q", workLog.String())
	}

	final, _ := lastProgress.Load().(Progress)
	if final.Processed != 2 || final.Total != 2 {
		t.Fatalf("final progress = %+v, want 2 of 2", final)
	}
}

func TestRunFailsWithoutUsableFrames(t *testing.T) {
	srcDir := t.TempDir()
	outDir := t.TempDir()

	empty := filepath.Join(srcDir, frames.Name(1))
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatalf("write empty frame: %v", err)
	}

	engine := NewEngine(newStubEnhancer())
	err := engine.Run(context.Background(), []Frame{{Index: 1, Path: empty}}, outDir, "m", nil, nil)
	if err == nil {
		t.Fatal("expected error for empty input set")
	}
	if !errors.Is(err, ErrNoFrames) {
		t.Fatalf("expected ErrNoFrames, got %v", err)
	}
}

func TestRunStopsOnCancellation(t *testing.T) {
	srcDir := t.TempDir()
	outDir := t.TempDir()
	inputs := makeSources(t, srcDir, 10)

	var completed atomic.Int32
	stub := newStubEnhancer()
	for i := 1; i <= 10; i++ {
		stub.behavior[i] = func(attempt int, outputPath string) error {
			completed.Add(1)
			time.Sleep(5 * time.Millisecond)
			return writeTestFrame(outputPath, color.White)
		}
	}

	canceled := func() bool { return completed.Load() >= 4 }

	engine := NewEngine(stub, WithWorkers(2))
	err := engine.Run(context.Background(), inputs, outDir, "m", canceled, nil)
	if !errors.Is(err, ErrCanceled) {
		t.Fatalf("expected ErrCanceled, got %v", err)
	}
	if n := completed.Load(); n >= 10 {
		t.Fatalf("expected early stop, but %d frames completed", n)
	}
}

func TestPoolWidthClamp(t *testing.T) {
	width := PoolWidth()
	if width < 2 || width > 8 {
		t.Fatalf("PoolWidth = %d, want within [2, 8]", width)
	}
}

func TestGPURotation(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, GPUs: []int{0, 1}}
	if policy.GPUFor(0) != 0 || policy.GPUFor(1) != 1 || policy.GPUFor(2) != 0 {
		t.Fatal("gpu rotation should cycle through candidates")
	}

	none := RetryPolicy{MaxAttempts: 3}
	if none.GPUFor(0) != -1 {
		t.Fatal("empty candidate list should select the default accelerator")
	}
}
