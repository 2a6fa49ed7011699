package pipeline

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"upres/internal/logging"
)

// Workdir is the scoped scratch space for one job. It is acquired at the
// start of processing and released on every exit path; release failures are
// logged, never propagated.
type Workdir struct {
	Root        string
	FramesDir   string
	EnhancedDir string
	FaceDir     string
	AudioPath   string
}

// NewWorkdir creates the per-job directory layout under workRoot.
func NewWorkdir(workRoot, jobID string) (*Workdir, error) {
	root := filepath.Join(workRoot, jobID)
	w := &Workdir{
		Root:        root,
		FramesDir:   filepath.Join(root, "frames"),
		EnhancedDir: filepath.Join(root, "enhanced"),
		FaceDir:     filepath.Join(root, "faces"),
		AudioPath:   filepath.Join(root, "audio.aac"),
	}
	for _, dir := range []string{w.FramesDir, w.EnhancedDir, w.FaceDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create work directory: %w", err)
		}
	}
	return w, nil
}

// WorkLogPath is the per-job enhancement failure log location.
func (w *Workdir) WorkLogPath() string {
	return filepath.Join(w.Root, "frame_enhance.log")
}

// Release removes the job's scratch space. Best effort.
func (w *Workdir) Release(logger *slog.Logger) {
	if w == nil {
		return
	}
	if err := os.RemoveAll(w.Root); err != nil && logger != nil {
		logger.Warn("work directory cleanup failed",
			logging.String("path", w.Root),
			logging.Error(err))
	}
}
