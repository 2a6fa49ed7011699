package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	UploadsDir string `toml:"uploads_dir"`
	ResultsDir string `toml:"results_dir"`
	WorkDir    string `toml:"work_dir"`
	LogDir     string `toml:"log_dir"`
	APIBind    string `toml:"api_bind"`
}

// Enhancer contains configuration for the Real-ESRGAN frame enhancer.
type Enhancer struct {
	Binary       string `toml:"binary"`
	ModelsDir    string `toml:"models_dir"`
	DefaultModel string `toml:"default_model"`
	// GPUs lists accelerator identifiers rotated across retry attempts.
	// Empty means the enhancer picks its default device.
	GPUs    []int `toml:"gpus"`
	Workers int   `toml:"workers"` // 0 = derive from CPU count
	// AttemptTimeoutSeconds bounds one enhancement invocation. A timed-out
	// invocation consumes one retry attempt.
	AttemptTimeoutSeconds int `toml:"attempt_timeout_seconds"`
	// PixelCheck enables decoding outputs to verify they are not fully
	// black. When disabled (or when decoding fails), the byte-size
	// threshold below is used instead.
	PixelCheck         bool `toml:"pixel_check"`
	FrameCheckMinBytes int  `toml:"frame_check_min_bytes"`
}

// FaceRestore contains configuration for the optional GFPGAN pass.
type FaceRestore struct {
	Enabled bool   `toml:"enabled"`
	Binary  string `toml:"binary"`
	Model   string `toml:"model"`
	Workers int    `toml:"workers"`
}

// Encoding contains ffmpeg invocation settings.
type Encoding struct {
	FFmpegBinary  string `toml:"ffmpeg_binary"`
	FPS           int    `toml:"fps"`
	TargetHeight  int    `toml:"target_height"`
	CRF           int    `toml:"crf"`
	Preset        string `toml:"preset"`
	AudioBitrate  string `toml:"audio_bitrate"`
	StderrLimit   int    `toml:"stderr_limit"`
	FFprobeBinary string `toml:"ffprobe_binary"`
}

// Workflow contains service timing and resource thresholds.
type Workflow struct {
	StreamIntervalMS int `toml:"stream_interval_ms"`
	MinFreeSpaceGiB  int `toml:"min_free_space_gib"`
	MaxUploadMiB     int `toml:"max_upload_mib"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"` // console, json, or auto
	Level  string `toml:"level"`
}

// History contains configuration for the completed-job ledger.
type History struct {
	Enabled bool `toml:"enabled"`
	Limit   int  `toml:"limit"`
}

// Config encapsulates all configuration values for upres.
//
// Configuration sections by subsystem:
//   - Paths: upload/result/work directories and API bind address
//   - Enhancer: Real-ESRGAN binary, models, GPU rotation, retry timeout
//   - FaceRestore: optional GFPGAN pass
//   - Encoding: ffmpeg flags for extraction and final encode
//   - Workflow: streaming interval and resource thresholds
//   - Notifications: ntfy push notification settings
//   - History: completed-job ledger
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Enhancer      Enhancer      `toml:"enhancer"`
	FaceRestore   FaceRestore   `toml:"face_restore"`
	Encoding      Encoding      `toml:"encoding"`
	Workflow      Workflow      `toml:"workflow"`
	Notifications Notifications `toml:"notifications"`
	History       History       `toml:"history"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/upres/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config
// has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("upres.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories the service writes into.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.UploadsDir, c.Paths.ResultsDir, c.Paths.WorkDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
