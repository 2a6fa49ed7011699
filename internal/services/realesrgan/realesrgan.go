// Package realesrgan wraps the Real-ESRGAN ncnn-vulkan command-line upscaler.
package realesrgan

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"upres/internal/services"
)

var commandContext = exec.CommandContext

// Model choice keywords accepted from clients. Anything else is treated as a
// literal ncnn model name.
const (
	ChoiceGeneral = "general"
	ChoiceFace    = "face"
	ChoiceAnime   = "anime"
)

// ResolveModel maps a client-facing model choice onto the ncnn model name.
func ResolveModel(choice, fallback string) string {
	switch strings.ToLower(strings.TrimSpace(choice)) {
	case ChoiceGeneral, "":
		if fallback != "" {
			return fallback
		}
		return "realesrgan-x4plus"
	case ChoiceFace:
		// Face content uses the general model; the dedicated face pass runs
		// separately after enhancement.
		if fallback != "" {
			return fallback
		}
		return "realesrgan-x4plus"
	case ChoiceAnime:
		return "realesrgan-x4plus-anime"
	default:
		return strings.TrimSpace(choice)
	}
}

// ScaleForModel derives the upscale factor encoded in an ncnn model name.
// Unknown names default to 4x.
func ScaleForModel(model string) int {
	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "x2"):
		return 2
	case strings.Contains(lower, "x3"):
		return 3
	default:
		return 4
	}
}

// Client defines the frame enhancement operations used by the engine.
type Client interface {
	EnhanceFrame(ctx context.Context, inputPath, outputPath, model string, gpu int) error
	ListModels() ([]string, error)
	Available() bool
}

// Option configures the CLI client.
type Option func(*CLI)

// WithBinary overrides the default binary name.
func WithBinary(binary string) Option {
	return func(c *CLI) {
		if binary != "" {
			c.binary = binary
		}
	}
}

// WithModelsDir points the enhancer at an explicit model directory.
func WithModelsDir(dir string) Option {
	return func(c *CLI) {
		c.modelsDir = dir
	}
}

// WithStderrLimit bounds the stderr captured into error diagnostics.
func WithStderrLimit(limit int) Option {
	return func(c *CLI) {
		if limit > 0 {
			c.stderrLimit = limit
		}
	}
}

// CLI wraps the realesrgan-ncnn-vulkan command-line tool.
type CLI struct {
	binary      string
	modelsDir   string
	stderrLimit int
}

// NewCLI constructs a CLI client using defaults.
func NewCLI(opts ...Option) *CLI {
	cli := &CLI{binary: "realesrgan-ncnn-vulkan", stderrLimit: 240}
	for _, opt := range opts {
		opt(cli)
	}
	return cli
}

// EnhanceFrame upscales a single frame image. A gpu of -1 lets the tool pick
// its default device.
func (c *CLI) EnhanceFrame(ctx context.Context, inputPath, outputPath, model string, gpu int) error {
	if inputPath == "" {
		return errors.New("input path required")
	}
	if outputPath == "" {
		return errors.New("output path required")
	}
	if model == "" {
		return errors.New("model required")
	}

	args := []string{
		"-i", inputPath,
		"-o", outputPath,
		"-n", model,
		"-s", strconv.Itoa(ScaleForModel(model)),
		"-f", "png",
	}
	if gpu >= 0 {
		args = append(args, "-g", strconv.Itoa(gpu))
	}
	if c.modelsDir != "" {
		args = append(args, "-m", c.modelsDir)
	}

	cmd := commandContext(ctx, c.binary, args...) //nolint:gosec
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		marker := services.ErrExternalTool
		if ctx.Err() != nil {
			marker = services.ErrTimeout
		}
		detail := services.TruncateDiagnostic(stderr.String(), c.stderrLimit)
		return services.Wrap(marker, "enhance", "upscale frame", detail, err)
	}
	return nil
}

// ListModels returns the ncnn model names available in the configured model
// directory. A model counts only when both its .param and .bin files exist.
func (c *CLI) ListModels() ([]string, error) {
	if c.modelsDir == "" {
		return nil, nil
	}
	params, err := filepath.Glob(filepath.Join(c.modelsDir, "*.param"))
	if err != nil {
		return nil, err
	}
	var models []string
	for _, param := range params {
		name := strings.TrimSuffix(filepath.Base(param), ".param")
		if _, err := os.Stat(filepath.Join(c.modelsDir, name+".bin")); err == nil {
			models = append(models, name)
		}
	}
	sort.Strings(models)
	return models, nil
}

// Available reports whether the enhancer binary can be found on PATH or at the
// configured location.
func (c *CLI) Available() bool {
	_, err := exec.LookPath(c.binary)
	return err == nil
}

var _ Client = (*CLI)(nil)
