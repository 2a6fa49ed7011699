// Package preflight verifies the environment before the service accepts
// work: directory permissions, free disk space, and external tool
// availability.
package preflight

import (
	"context"

	"upres/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// RunAll executes all applicable preflight checks for the given config.
// Optional-feature checks run only when the feature is enabled.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Uploads directory", cfg.Paths.UploadsDir),
		CheckDirectoryAccess("Results directory", cfg.Paths.ResultsDir),
		CheckDirectoryAccess("Work directory", cfg.Paths.WorkDir),
		CheckFreeSpace("Work directory space", cfg.Paths.WorkDir, uint64(cfg.Workflow.MinFreeSpaceGiB)),
		CheckBinary("FFmpeg", cfg.Encoding.FFmpegBinary, "Required for frame extraction and encoding"),
		CheckBinary("FFprobe", cfg.Encoding.FFprobeBinary, "Required for media inspection"),
		CheckBinary("Real-ESRGAN", cfg.Enhancer.Binary, "Required for frame enhancement"),
	}

	if cfg.FaceRestore.Enabled {
		results = append(results, CheckBinary("GFPGAN", cfg.FaceRestore.Binary, "Required for face restoration"))
	}

	return results
}

// Healthy reports whether every check passed.
func Healthy(results []Result) bool {
	for _, result := range results {
		if !result.Passed {
			return false
		}
	}
	return true
}
