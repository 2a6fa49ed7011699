// Package enhance implements the bounded-concurrency frame enhancement
// engine: per-frame retries with accelerator rotation, identity fallback, and
// the carry-forward backfill pass that guarantees a gap-free output sequence.
package enhance

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"upres/internal/fileutil"
	"upres/internal/logging"
	"upres/internal/media/frames"
	"upres/internal/services"
)

var (
	// ErrNoFrames indicates the input set was empty after discarding
	// zero-byte sources. This is the engine's only structural failure.
	ErrNoFrames = errors.New("no usable frames to process")
	// ErrCanceled indicates the stage was abandoned before backfill because
	// cancellation was observed. The output sequence makes no completeness
	// claim.
	ErrCanceled = errors.New("enhancement canceled")
)

// Enhancer is the single-frame transform driven by the engine. Invocations
// must be retry-safe: re-running with identical arguments may overwrite a
// previous partial output.
type Enhancer interface {
	EnhanceFrame(ctx context.Context, inputPath, outputPath, model string, gpu int) error
}

// Frame is one work item: a 1-based index and its source path.
type Frame struct {
	Index int
	Path  string
}

// Progress carries enhancement telemetry for status display.
type Progress struct {
	Processed int
	Total     int
	AvgMs     float64
}

// Option configures the engine.
type Option func(*Engine)

// WithWorkers fixes the pool width instead of deriving it from CPU count.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithRetryPolicy overrides the default retry policy.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(e *Engine) {
		e.retry = policy
	}
}

// WithCheckPolicy overrides how outputs are judged usable.
func WithCheckPolicy(policy frames.CheckPolicy) Option {
	return func(e *Engine) {
		e.check = policy
	}
}

// WithLogger attaches a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logging.NewComponentLogger(logger, "enhance")
		}
	}
}

// WithWorkLog mirrors per-frame failure lines to an additional writer,
// typically the job's frame_enhance.log.
func WithWorkLog(w io.Writer) Option {
	return func(e *Engine) {
		e.workLog = w
	}
}

// Engine drives the bounded worker pool over extracted frames.
type Engine struct {
	enhancer Enhancer
	retry    RetryPolicy
	check    frames.CheckPolicy
	workers  int
	logger   *slog.Logger
	workLog  io.Writer
}

// NewEngine constructs an engine around an enhancer.
func NewEngine(enhancer Enhancer, opts ...Option) *Engine {
	e := &Engine{
		enhancer: enhancer,
		retry:    DefaultRetryPolicy(),
		check:    frames.DefaultCheckPolicy(),
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// PoolWidth derives the worker count from the logical core count, clamped to
// [2, 8].
func PoolWidth() int {
	width := runtime.NumCPU() / 2
	if width < 2 {
		width = 2
	}
	if width > 8 {
		width = 8
	}
	return width
}

// Run enhances every input frame into outputDir, then backfills so the output
// sequence covers 1..N densely with usable files. Zero-byte sources are
// discarded and the survivors re-indexed, so N may be smaller than the input
// count. Per-frame failures never fail the stage; only an empty input set
// does. When canceled reports true the engine stops early, skips backfill,
// and returns ErrCanceled.
func (e *Engine) Run(ctx context.Context, inputs []Frame, outputDir, model string, canceled func() bool, onProgress func(Progress)) error {
	if canceled == nil {
		canceled = func() bool { return false }
	}

	usable := make([]Frame, 0, len(inputs))
	for _, frame := range inputs {
		info, err := os.Stat(frame.Path)
		if err != nil || info.Size() == 0 {
			e.logger.Warn("discarding empty source frame",
				logging.Int(logging.FieldFrame, frame.Index),
				logging.String("path", frame.Path))
			if e.workLog != nil {
				fmt.Fprintf(e.workLog, "input_black frame=%d\n", frame.Index)
			}
			continue
		}
		usable = append(usable, frame)
	}
	if len(usable) == 0 {
		return services.Wrap(services.ErrValidation, "enhance", "validate input", "", ErrNoFrames)
	}
	// Re-index densely after the discard filter. Output names derive from
	// the index, and the image2 encode stops at the first missing number,
	// so the surviving frames must occupy 1..N without holes.
	for i := range usable {
		usable[i].Index = i + 1
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	width := e.workers
	if width == 0 {
		width = PoolWidth()
	}
	e.logger.Info("starting enhancement pool",
		logging.Int("workers", width),
		logging.Int("frames", len(usable)),
		logging.String("model", model))

	items := make(chan Frame)
	var wg sync.WaitGroup
	var mu sync.Mutex
	processed := 0
	var totalElapsed time.Duration

	worker := func() {
		defer wg.Done()
		for frame := range items {
			if canceled() {
				return
			}
			start := time.Now()
			e.processFrame(ctx, frame, outputDir, model)
			elapsed := time.Since(start)

			mu.Lock()
			processed++
			totalElapsed += elapsed
			snapshot := Progress{
				Processed: processed,
				Total:     len(usable),
				AvgMs:     float64(totalElapsed.Milliseconds()) / float64(processed),
			}
			mu.Unlock()
			if onProgress != nil {
				onProgress(snapshot)
			}
		}
	}

	wg.Add(width)
	for i := 0; i < width; i++ {
		go worker()
	}

feed:
	for _, frame := range usable {
		if canceled() {
			break feed
		}
		select {
		case items <- frame:
		case <-ctx.Done():
			break feed
		}
	}
	close(items)
	wg.Wait()

	if canceled() || ctx.Err() != nil {
		return ErrCanceled
	}

	e.backfill(usable, outputDir)
	return nil
}

// processFrame runs the retry loop for one frame. It never returns an error:
// after the final attempt the source frame is copied through unchanged.
func (e *Engine) processFrame(ctx context.Context, frame Frame, outputDir, model string) {
	outputPath := filepath.Join(outputDir, frames.Name(frame.Index))

	var lastErr error
	for attempt := 0; attempt < e.retry.attempts(); attempt++ {
		attemptCtx := ctx
		cancel := func() {}
		if e.retry.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, e.retry.AttemptTimeout)
		}
		gpu := e.retry.GPUFor(attempt)
		err := e.enhancer.EnhanceFrame(attemptCtx, frame.Path, outputPath, model, gpu)
		cancel()

		if err == nil && e.check.Usable(outputPath) {
			return
		}
		if err == nil {
			err = errors.New("output failed content check")
		}
		lastErr = err
		e.logger.Debug("enhancement attempt failed",
			logging.Int(logging.FieldFrame, frame.Index),
			logging.Int("attempt", attempt+1),
			logging.Int("gpu", gpu),
			logging.Error(err))
	}

	// Identity fallback: completeness outranks per-frame fidelity.
	if err := fileutil.CopyFile(frame.Path, outputPath); err != nil {
		e.logger.Error("identity fallback copy failed",
			logging.Int(logging.FieldFrame, frame.Index),
			logging.Error(err))
	}
	e.logFinalFailure(frame.Index, lastErr)
}

func (e *Engine) logFinalFailure(index int, lastErr error) {
	e.logger.Warn("enhance_fail_final",
		logging.Int(logging.FieldFrame, index),
		logging.Error(lastErr))
	if e.workLog != nil {
		fmt.Fprintf(e.workLog, "enhance_fail_final frame=%d err=%v\n", index, lastErr)
	}
}

// backfill walks the index range in increasing order and replaces missing or
// degenerate outputs with the nearest earlier good output, falling back to the
// frame's own source when no prior good output exists.
func (e *Engine) backfill(inputs []Frame, outputDir string) {
	lastGood := ""
	for _, frame := range inputs {
		outputPath := filepath.Join(outputDir, frames.Name(frame.Index))
		if e.check.Usable(outputPath) {
			lastGood = outputPath
			continue
		}

		replacement := lastGood
		if replacement == "" {
			replacement = frame.Path
		}
		if err := fileutil.CopyFile(replacement, outputPath); err != nil {
			e.logger.Error("backfill copy failed",
				logging.Int(logging.FieldFrame, frame.Index),
				logging.String("replacement", replacement),
				logging.Error(err))
			continue
		}
		e.logger.Info("backfilled frame",
			logging.Int(logging.FieldFrame, frame.Index),
			logging.String("replacement", replacement))
		if e.check.Usable(outputPath) {
			lastGood = outputPath
		}
	}
}
