// Package gfpgan wraps the GFPGAN ncnn-vulkan face restoration tool.
package gfpgan

import (
	"bytes"
	"context"
	"errors"
	"os/exec"

	"upres/internal/services"
)

var commandContext = exec.CommandContext

// Client defines the face restoration operations used by the pipeline.
type Client interface {
	RestoreFace(ctx context.Context, inputPath, outputPath string) error
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

// WithModel overrides the default model name.
func WithModel(model string) Option {
	return func(c *CLI) {
		if model != "" {
			c.model = model
		}
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

// CLI wraps the gfpgan-ncnn-vulkan command-line tool.
type CLI struct {
	binary      string
	model       string
	stderrLimit int
}

// NewCLI constructs a CLI client using defaults.
func NewCLI(opts ...Option) *CLI {
	cli := &CLI{binary: "gfpgan-ncnn-vulkan", model: "GFPGANv1.4", stderrLimit: 240}
	for _, opt := range opts {
		opt(cli)
	}
	return cli
}

// RestoreFace runs the face restoration pass on a single frame, writing the
// result to outputPath.
func (c *CLI) RestoreFace(ctx context.Context, inputPath, outputPath string) error {
	if inputPath == "" {
		return errors.New("input path required")
	}
	if outputPath == "" {
		return errors.New("output path required")
	}

	args := []string{
		"-i", inputPath,
		"-o", outputPath,
		"-m", c.model,
	}
	cmd := commandContext(ctx, c.binary, args...) //nolint:gosec
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		detail := services.TruncateDiagnostic(stderr.String(), c.stderrLimit)
		return services.Wrap(services.ErrExternalTool, "face-restore", "restore frame", detail, err)
	}
	return nil
}

// Available reports whether the face restoration binary can be found.
func (c *CLI) Available() bool {
	_, err := exec.LookPath(c.binary)
	return err == nil
}

var _ Client = (*CLI)(nil)
