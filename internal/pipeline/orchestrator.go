// Package pipeline drives a job through its stages: frame extraction,
// enhancement, optional face restoration, audio extraction, and encoding,
// with the cascading fallback policy that guarantees a terminal outcome.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"upres/internal/config"
	"upres/internal/enhance"
	"upres/internal/fileutil"
	"upres/internal/history"
	"upres/internal/jobs"
	"upres/internal/logging"
	"upres/internal/media/frames"
	"upres/internal/notifications"
	"upres/internal/services"
	"upres/internal/services/ffmpeg"
	"upres/internal/services/gfpgan"
	"upres/internal/services/realesrgan"
)

var errCanceled = errors.New("canceled by user")

// Option configures the orchestrator.
type Option func(*Orchestrator)

// WithFFmpeg overrides the encoder/extractor client.
func WithFFmpeg(client ffmpeg.Client) Option {
	return func(o *Orchestrator) {
		if client != nil {
			o.ffmpeg = client
		}
	}
}

// WithEnhancer overrides the frame enhancer client.
func WithEnhancer(client realesrgan.Client) Option {
	return func(o *Orchestrator) {
		if client != nil {
			o.enhancer = client
		}
	}
}

// WithFaceRestorer overrides the face restoration client.
func WithFaceRestorer(client gfpgan.Client) Option {
	return func(o *Orchestrator) {
		if client != nil {
			o.face = client
		}
	}
}

// WithHistory attaches the finished-job ledger.
func WithHistory(store *history.Store) Option {
	return func(o *Orchestrator) {
		o.history = store
	}
}

// WithNotifier overrides the notification service.
func WithNotifier(notifier notifications.Service) Option {
	return func(o *Orchestrator) {
		if notifier != nil {
			o.notifier = notifier
		}
	}
}

// WithLogger attaches a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// Orchestrator owns the per-job state machine. One Process call runs one job
// start to finish; the job's registry handle is the only mutation path.
type Orchestrator struct {
	cfg      *config.Config
	registry *jobs.Registry
	ffmpeg   ffmpeg.Client
	enhancer realesrgan.Client
	face     gfpgan.Client
	history  *history.Store
	notifier notifications.Service
	logger   *slog.Logger
	now      func() time.Time
}

// New wires an orchestrator from configuration. Clients default to the real
// command-line tools.
func New(cfg *config.Config, registry *jobs.Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:      cfg,
		registry: registry,
		ffmpeg: ffmpeg.NewCLI(
			ffmpeg.WithBinary(cfg.Encoding.FFmpegBinary),
			ffmpeg.WithProbeBinary(cfg.Encoding.FFprobeBinary),
			ffmpeg.WithSettings(ffmpeg.Settings{
				FPS:          cfg.Encoding.FPS,
				TargetHeight: cfg.Encoding.TargetHeight,
				CRF:          cfg.Encoding.CRF,
				Preset:       cfg.Encoding.Preset,
				AudioBitrate: cfg.Encoding.AudioBitrate,
				StderrLimit:  cfg.Encoding.StderrLimit,
			})),
		enhancer: realesrgan.NewCLI(
			realesrgan.WithBinary(cfg.Enhancer.Binary),
			realesrgan.WithModelsDir(cfg.Enhancer.ModelsDir),
			realesrgan.WithStderrLimit(cfg.Encoding.StderrLimit)),
		face: gfpgan.NewCLI(
			gfpgan.WithBinary(cfg.FaceRestore.Binary),
			gfpgan.WithModel(cfg.FaceRestore.Model),
			gfpgan.WithStderrLimit(cfg.Encoding.StderrLimit)),
		notifier: notifications.NewService(cfg),
		logger:   logging.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = logging.NewComponentLogger(o.logger, "pipeline")
	return o
}

// Process runs one job to a terminal state. It claims the job's mutation
// handle; a second Process call for the same job fails the claim and returns.
func (o *Orchestrator) Process(ctx context.Context, jobID string) {
	handle, err := o.registry.Claim(jobID)
	if err != nil {
		o.logger.Error("claim failed", logging.String(logging.FieldJobID, jobID), logging.Error(err))
		return
	}
	ctx = services.WithJobID(ctx, jobID)
	log := o.logger.With(logging.String(logging.FieldJobID, jobID))

	o.run(ctx, handle, log)
	o.finish(ctx, handle, log)
}

// finish records the terminal snapshot in the ledger and notifies.
func (o *Orchestrator) finish(ctx context.Context, handle *jobs.Handle, log *slog.Logger) {
	snap := handle.Snapshot()
	if !snap.Status.Terminal() {
		// Defensive pin; run always terminates the job.
		handle.Fail("Failed: pipeline exited without terminal status")
		snap = handle.Snapshot()
	}

	if o.history != nil {
		if err := o.history.Record(ctx, snap); err != nil {
			log.Warn("history record failed", logging.Error(err))
		}
	}

	var notifyErr error
	switch snap.Status {
	case jobs.StatusCompleted:
		notifyErr = o.notifier.NotifyJobCompleted(ctx, snap.SourceName, filepath.Base(snap.ResultPath))
	case jobs.StatusFailed:
		notifyErr = o.notifier.NotifyJobFailed(ctx, snap.SourceName, snap.Message)
	case jobs.StatusCanceled:
		notifyErr = o.notifier.NotifyJobCanceled(ctx, snap.SourceName)
	}
	if notifyErr != nil {
		log.Warn("notification failed", logging.Error(notifyErr))
	}
	log.Info("job finished",
		logging.String("status", string(snap.Status)),
		logging.Int("progress", snap.Progress),
		logging.String("message", snap.Message))
}

func (o *Orchestrator) run(ctx context.Context, handle *jobs.Handle, log *slog.Logger) {
	snap := handle.Snapshot()

	if handle.CancelRequested() {
		handle.Cancel()
		return
	}

	// Input errors are the only pre-stage failures: the job fails
	// immediately without entering the pipeline.
	if _, err := os.Stat(snap.SourcePath); err != nil {
		handle.FailBeforeStart(fmt.Sprintf("Failed: source file unavailable: %v", err))
		return
	}

	handle.SetProcessing("Preparing...")
	handle.SetProgress(5, "Preparing...")
	if err := o.notifier.NotifyJobStarted(ctx, snap.SourceName); err != nil {
		log.Warn("notification failed", logging.Error(err))
	}

	// Probe failures are informational: extraction surfaces the real error
	// if the source is unreadable.
	if probe, err := o.ffmpeg.Probe(ctx, snap.SourcePath); err != nil {
		log.Warn("source probe failed", logging.Error(err))
	} else {
		log.Info("source probed",
			logging.Int("width", probe.Width),
			logging.Int("height", probe.Height),
			logging.Int("frames", probe.FrameCount),
			logging.Float64("duration_sec", probe.Duration))
	}

	workdir, err := NewWorkdir(o.cfg.Paths.WorkDir, snap.ID)
	if err != nil {
		handle.Fail(fmt.Sprintf("Failed: %v", err))
		return
	}
	defer workdir.Release(log)

	model := realesrgan.ResolveModel(snap.Model, o.cfg.Enhancer.DefaultModel)
	scale := realesrgan.ScaleForModel(model)
	handle.SetModel(model, scale)

	resultName := fileutil.ResultName(snap.SourceName, o.now())
	resultPath := filepath.Join(o.cfg.Paths.ResultsDir, resultName)
	resultURL := "/results/" + resultName

	err = o.runEnhancementSpan(ctx, handle, workdir, snap.SourcePath, model, scale, resultPath, log)
	switch {
	case err == nil:
		handle.Complete(resultPath, resultURL, "Completed")
	case errors.Is(err, errCanceled):
		handle.Cancel()
	default:
		// Whole-video rescale is the last line of defense: the job still
		// completes unless the rescale itself fails.
		handle.SetProgress(95, fmt.Sprintf("Enhancement failed: %v. Falling back to whole-video upscale", err))
		log.Warn("falling back to whole-video rescale", logging.Error(err))
		if rescaleErr := o.ffmpeg.RescaleWhole(ctx, snap.SourcePath, resultPath); rescaleErr != nil {
			handle.Fail(fmt.Sprintf("Failed: %v", rescaleErr))
			return
		}
		handle.Complete(resultPath, resultURL,
			fmt.Sprintf("Completed via whole-video upscale (enhancement failed: %v)", err))
	}
}

// runEnhancementSpan covers the frame-extraction through encode stages. Any
// returned error other than errCanceled cascades to the whole-video rescale.
func (o *Orchestrator) runEnhancementSpan(ctx context.Context, handle *jobs.Handle, workdir *Workdir, sourcePath, model string, scale int, resultPath string, log *slog.Logger) error {
	if handle.CancelRequested() {
		return errCanceled
	}

	handle.SetProgress(20, "Extracting frames...")
	if err := o.ffmpeg.ExtractFrames(ctx, sourcePath, workdir.FramesDir); err != nil {
		return err
	}

	names, err := frames.List(workdir.FramesDir)
	if err != nil {
		return err
	}
	inputs := make([]enhance.Frame, 0, len(names))
	for i, name := range names {
		inputs = append(inputs, enhance.Frame{Index: i + 1, Path: filepath.Join(workdir.FramesDir, name)})
	}

	if handle.CancelRequested() {
		return errCanceled
	}

	handle.SetProgress(45, fmt.Sprintf("Preparing enhancer... (model: %s)", model))
	handle.SetProgress(50, fmt.Sprintf("Enhancing frames... (model: %s, scale: %dx)", model, scale))

	workLog, err := os.Create(workdir.WorkLogPath())
	if err != nil {
		log.Warn("work log unavailable", logging.Error(err))
	} else {
		defer workLog.Close()
	}

	engineOpts := []enhance.Option{
		enhance.WithLogger(log),
		enhance.WithRetryPolicy(enhance.RetryPolicy{
			MaxAttempts:    3,
			GPUs:           o.cfg.Enhancer.GPUs,
			AttemptTimeout: time.Duration(o.cfg.Enhancer.AttemptTimeoutSeconds) * time.Second,
		}),
		enhance.WithCheckPolicy(frames.CheckPolicy{
			PixelCheck: o.cfg.Enhancer.PixelCheck,
			MinBytes:   int64(o.cfg.Enhancer.FrameCheckMinBytes),
		}),
	}
	if o.cfg.Enhancer.Workers > 0 {
		engineOpts = append(engineOpts, enhance.WithWorkers(o.cfg.Enhancer.Workers))
	}
	if workLog != nil {
		engineOpts = append(engineOpts, enhance.WithWorkLog(workLog))
	}
	engine := enhance.NewEngine(&frameEnhancer{client: o.enhancer}, engineOpts...)

	total := len(inputs)
	err = engine.Run(ctx, inputs, workdir.EnhancedDir, model, handle.CancelRequested, func(p enhance.Progress) {
		pct := 50
		if p.Total > 0 {
			pct = 50 + p.Processed*30/p.Total
		}
		handle.SetFrameTelemetry(p.Processed, p.Total, p.AvgMs)
		handle.SetProgress(pct, fmt.Sprintf("Enhancing frames... %d/%d", p.Processed, p.Total))
	})
	if errors.Is(err, enhance.ErrCanceled) {
		return errCanceled
	}
	if err != nil {
		return err
	}

	frameSource := workdir.EnhancedDir
	if o.cfg.FaceRestore.Enabled {
		if restored := o.restoreFaces(ctx, handle, workdir, total, log); restored {
			frameSource = workdir.FaceDir
		}
	}

	if handle.CancelRequested() {
		return errCanceled
	}

	// Audio extraction regresses nothing: the checkpoint is message-only
	// because enhancement already advanced past it.
	handle.SetProgress(70, "Extracting audio...")
	audioOK := true
	if err := o.ffmpeg.ExtractAudio(ctx, sourcePath, workdir.AudioPath); err != nil {
		audioOK = false
		handle.SetMessage("Audio unavailable, encoding silent video")
		log.Warn("audio extraction failed", logging.Error(err))
	}

	if handle.CancelRequested() {
		return errCanceled
	}

	handle.SetProgress(92, "Encoding final video...")
	if audioOK {
		if err := o.ffmpeg.Combine(ctx, frameSource, workdir.AudioPath, resultPath); err != nil {
			log.Warn("combine with audio failed, retrying video-only", logging.Error(err))
			return o.ffmpeg.CombineVideoOnly(ctx, frameSource, resultPath)
		}
		return nil
	}
	return o.ffmpeg.CombineVideoOnly(ctx, frameSource, resultPath)
}

// restoreFaces runs the optional face pass over the enhanced frames. Any
// error disables the pass for the rest of the job; the caller falls back to
// the plain enhanced frames and the job is never failed here.
func (o *Orchestrator) restoreFaces(ctx context.Context, handle *jobs.Handle, workdir *Workdir, total int, log *slog.Logger) bool {
	if !o.face.Available() {
		return false
	}
	handle.SetProgress(72, "Restoring faces...")

	workers := o.cfg.FaceRestore.Workers
	if workers <= 0 {
		workers = 2
	}

	type result struct {
		index int
		err   error
	}
	items := make(chan int)
	results := make(chan result, total)
	var wg sync.WaitGroup

	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for index := range items {
				in := filepath.Join(workdir.EnhancedDir, frames.Name(index))
				out := filepath.Join(workdir.FaceDir, frames.Name(index))
				results <- result{index: index, err: o.face.RestoreFace(ctx, in, out)}
			}
		}()
	}

	go func() {
		for index := 1; index <= total; index++ {
			if handle.CancelRequested() {
				break
			}
			items <- index
		}
		close(items)
		wg.Wait()
		close(results)
	}()

	done := 0
	failed := false
	for res := range results {
		if res.err != nil {
			failed = true
			log.Warn("face restoration failed, reverting to enhanced frames",
				logging.Int(logging.FieldFrame, res.index),
				logging.Error(res.err))
			continue
		}
		done++
		pct := 72
		if total > 0 {
			pct = 72 + done*6/total
		}
		handle.SetProgress(pct, fmt.Sprintf("Restoring faces... %d/%d", done, total))
	}

	return !failed && done == total
}

// frameEnhancer adapts the upscaler client to the engine's narrower contract.
type frameEnhancer struct {
	client realesrgan.Client
}

func (f *frameEnhancer) EnhanceFrame(ctx context.Context, inputPath, outputPath, model string, gpu int) error {
	return f.client.EnhanceFrame(ctx, inputPath, outputPath, model, gpu)
}
