// Package ffmpeg wraps the ffmpeg and ffprobe command-line tools for frame
// extraction, audio handling, and final assembly of enhanced videos.
package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"

	"upres/internal/services"
)

var commandContext = exec.CommandContext

// Settings holds the encode parameters shared by every invocation.
type Settings struct {
	FPS          int
	TargetHeight int
	CRF          int
	Preset       string
	AudioBitrate string
	StderrLimit  int
}

// ProbeResult describes a media file as reported by ffprobe.
type ProbeResult struct {
	Width      int
	Height     int
	Duration   float64
	FrameCount int
}

// Client defines the ffmpeg operations used by the enhancement pipeline.
type Client interface {
	ExtractFrames(ctx context.Context, inputPath, framesDir string) error
	ExtractAudio(ctx context.Context, inputPath, audioPath string) error
	Combine(ctx context.Context, framesDir, audioPath, outputPath string) error
	CombineVideoOnly(ctx context.Context, framesDir, outputPath string) error
	RescaleWhole(ctx context.Context, inputPath, outputPath string) error
	Probe(ctx context.Context, inputPath string) (ProbeResult, error)
}

// Option configures the CLI client.
type Option func(*CLI)

// WithBinary overrides the default ffmpeg binary name.
func WithBinary(binary string) Option {
	return func(c *CLI) {
		if binary != "" {
			c.binary = binary
		}
	}
}

// WithProbeBinary overrides the default ffprobe binary name.
func WithProbeBinary(binary string) Option {
	return func(c *CLI) {
		if binary != "" {
			c.probeBinary = binary
		}
	}
}

// WithSettings overrides the default encode settings.
func WithSettings(settings Settings) Option {
	return func(c *CLI) {
		c.settings = settings
	}
}

// CLI wraps the ffmpeg command-line tool.
type CLI struct {
	binary      string
	probeBinary string
	settings    Settings
}

// NewCLI constructs a CLI client using defaults.
func NewCLI(opts ...Option) *CLI {
	cli := &CLI{
		binary:      "ffmpeg",
		probeBinary: "ffprobe",
		settings: Settings{
			FPS:          30,
			TargetHeight: 2160,
			CRF:          18,
			Preset:       "slow",
			AudioBitrate: "192k",
			StderrLimit:  240,
		},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli
}

// FramePattern is the printf-style filename pattern used for extracted frames.
const FramePattern = "frames_%06d.png"

// ExtractFrames decodes inputPath into numbered PNG frames under framesDir.
func (c *CLI) ExtractFrames(ctx context.Context, inputPath, framesDir string) error {
	if inputPath == "" {
		return errors.New("input path required")
	}
	if framesDir == "" {
		return errors.New("frames directory required")
	}
	args := []string{
		"-y", "-i", inputPath,
		"-vf", fmt.Sprintf("fps=%d", c.settings.FPS),
		filepath.Join(framesDir, FramePattern),
	}
	return c.run(ctx, "extract frames", args)
}

// ExtractAudio copies the audio track of inputPath into a standalone AAC file.
func (c *CLI) ExtractAudio(ctx context.Context, inputPath, audioPath string) error {
	if inputPath == "" {
		return errors.New("input path required")
	}
	if audioPath == "" {
		return errors.New("audio path required")
	}
	args := []string{
		"-y", "-i", inputPath,
		"-vn", "-acodec", "aac", "-b:a", c.settings.AudioBitrate,
		audioPath,
	}
	return c.run(ctx, "extract audio", args)
}

// Combine assembles enhanced frames and the extracted audio track into the
// final video. The output ends when the shorter of the two streams ends.
func (c *CLI) Combine(ctx context.Context, framesDir, audioPath, outputPath string) error {
	if framesDir == "" || audioPath == "" || outputPath == "" {
		return errors.New("frames directory, audio path, and output path required")
	}
	args := []string{
		"-y",
		"-framerate", strconv.Itoa(c.settings.FPS),
		"-i", filepath.Join(framesDir, FramePattern),
		"-i", audioPath,
		"-vf", c.scaleFilter(),
	}
	args = append(args, c.videoEncodeArgs()...)
	args = append(args,
		"-c:a", "aac", "-b:a", c.settings.AudioBitrate,
		"-shortest",
		outputPath,
	)
	return c.run(ctx, "combine", args)
}

// CombineVideoOnly assembles enhanced frames into a silent video.
func (c *CLI) CombineVideoOnly(ctx context.Context, framesDir, outputPath string) error {
	if framesDir == "" || outputPath == "" {
		return errors.New("frames directory and output path required")
	}
	args := []string{
		"-y",
		"-framerate", strconv.Itoa(c.settings.FPS),
		"-i", filepath.Join(framesDir, FramePattern),
		"-vf", c.scaleFilter(),
	}
	args = append(args, c.videoEncodeArgs()...)
	args = append(args, "-an", outputPath)
	return c.run(ctx, "combine video-only", args)
}

// RescaleWhole upscales the source video in one pass without per-frame
// enhancement, keeping the original audio.
func (c *CLI) RescaleWhole(ctx context.Context, inputPath, outputPath string) error {
	if inputPath == "" || outputPath == "" {
		return errors.New("input path and output path required")
	}
	args := []string{
		"-y", "-i", inputPath,
		"-vf", c.scaleFilter(),
	}
	args = append(args, c.videoEncodeArgs()...)
	args = append(args, "-c:a", "copy", outputPath)
	return c.run(ctx, "rescale whole", args)
}

// scaleFilter normalizes every assembled output to the configured target
// height. Enhanced frames come out of the enhancer at its native 2x/4x size,
// so the encode pass owns the final resolution.
func (c *CLI) scaleFilter() string {
	return fmt.Sprintf("scale=-2:%d:flags=lanczos", c.settings.TargetHeight)
}

func (c *CLI) videoEncodeArgs() []string {
	return []string{
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-preset", c.settings.Preset,
		"-crf", strconv.Itoa(c.settings.CRF),
	}
}

// Probe inspects inputPath with ffprobe and returns basic stream facts.
func (c *CLI) Probe(ctx context.Context, inputPath string) (ProbeResult, error) {
	if inputPath == "" {
		return ProbeResult{}, errors.New("input path required")
	}
	args := []string{
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,nb_frames:format=duration",
		"-of", "json",
		inputPath,
	}
	cmd := commandContext(ctx, c.probeBinary, args...) //nolint:gosec
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return ProbeResult{}, services.Wrap(services.ErrExternalTool, "probe", "ffprobe",
			services.TruncateDiagnostic(stderr.String(), c.settings.StderrLimit), err)
	}

	var payload struct {
		Streams []struct {
			Width    int    `json:"width"`
			Height   int    `json:"height"`
			NBFrames string `json:"nb_frames"`
		} `json:"streams"`
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &payload); err != nil {
		return ProbeResult{}, fmt.Errorf("parse ffprobe output: %w", err)
	}

	result := ProbeResult{}
	if len(payload.Streams) > 0 {
		result.Width = payload.Streams[0].Width
		result.Height = payload.Streams[0].Height
		if n, err := strconv.Atoi(payload.Streams[0].NBFrames); err == nil {
			result.FrameCount = n
		}
	}
	if d, err := strconv.ParseFloat(payload.Format.Duration, 64); err == nil {
		result.Duration = d
	}
	return result, nil
}

func (c *CLI) run(ctx context.Context, op string, args []string) error {
	cmd := commandContext(ctx, c.binary, args...) //nolint:gosec
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		detail := services.TruncateDiagnostic(stderr.String(), c.settings.StderrLimit)
		return services.Wrap(services.ErrExternalTool, "encode", op, detail, err)
	}
	return nil
}

var _ Client = (*CLI)(nil)
