package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeEnhancer(); err != nil {
		return err
	}
	c.normalizeFaceRestore()
	c.normalizeEncoding()
	c.normalizeWorkflow()
	c.normalizeHistory()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.UploadsDir, err = expandPath(c.Paths.UploadsDir); err != nil {
		return fmt.Errorf("paths.uploads_dir: %w", err)
	}
	if c.Paths.ResultsDir, err = expandPath(c.Paths.ResultsDir); err != nil {
		return fmt.Errorf("paths.results_dir: %w", err)
	}
	if c.Paths.WorkDir, err = expandPath(c.Paths.WorkDir); err != nil {
		return fmt.Errorf("paths.work_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	return nil
}

func (c *Config) normalizeEnhancer() error {
	c.Enhancer.Binary = strings.TrimSpace(c.Enhancer.Binary)
	if c.Enhancer.Binary == "" {
		c.Enhancer.Binary = defaultEnhancerBinary
	}
	if c.Enhancer.ModelsDir != "" {
		expanded, err := expandPath(c.Enhancer.ModelsDir)
		if err != nil {
			return fmt.Errorf("enhancer.models_dir: %w", err)
		}
		c.Enhancer.ModelsDir = expanded
	}
	c.Enhancer.DefaultModel = strings.TrimSpace(c.Enhancer.DefaultModel)
	if c.Enhancer.DefaultModel == "" {
		c.Enhancer.DefaultModel = defaultEnhancerModel
	}
	if c.Enhancer.AttemptTimeoutSeconds < 0 {
		c.Enhancer.AttemptTimeoutSeconds = 0
	}
	if c.Enhancer.FrameCheckMinBytes <= 0 {
		c.Enhancer.FrameCheckMinBytes = defaultFrameCheckBytes
	}
	return nil
}

func (c *Config) normalizeFaceRestore() {
	c.FaceRestore.Binary = strings.TrimSpace(c.FaceRestore.Binary)
	if c.FaceRestore.Binary == "" {
		c.FaceRestore.Binary = defaultFaceBinary
	}
	c.FaceRestore.Model = strings.TrimSpace(c.FaceRestore.Model)
	if c.FaceRestore.Model == "" {
		c.FaceRestore.Model = defaultFaceModel
	}
	if c.FaceRestore.Workers <= 0 {
		c.FaceRestore.Workers = defaultFaceWorkers
	}
}

func (c *Config) normalizeEncoding() {
	c.Encoding.FFmpegBinary = strings.TrimSpace(c.Encoding.FFmpegBinary)
	if c.Encoding.FFmpegBinary == "" {
		c.Encoding.FFmpegBinary = defaultFFmpegBinary
	}
	c.Encoding.FFprobeBinary = strings.TrimSpace(c.Encoding.FFprobeBinary)
	if c.Encoding.FFprobeBinary == "" {
		c.Encoding.FFprobeBinary = defaultFFprobeBinary
	}
	if c.Encoding.FPS <= 0 {
		c.Encoding.FPS = defaultFPS
	}
	if c.Encoding.TargetHeight <= 0 {
		c.Encoding.TargetHeight = defaultTargetHeight
	}
	c.Encoding.Preset = strings.TrimSpace(c.Encoding.Preset)
	if c.Encoding.Preset == "" {
		c.Encoding.Preset = defaultPreset
	}
	c.Encoding.AudioBitrate = strings.TrimSpace(c.Encoding.AudioBitrate)
	if c.Encoding.AudioBitrate == "" {
		c.Encoding.AudioBitrate = defaultAudioBitrate
	}
	if c.Encoding.StderrLimit <= 0 {
		c.Encoding.StderrLimit = defaultStderrLimit
	}
}

func (c *Config) normalizeWorkflow() {
	if c.Workflow.StreamIntervalMS <= 0 {
		c.Workflow.StreamIntervalMS = defaultStreamIntervalMS
	}
	if c.Workflow.MinFreeSpaceGiB < 0 {
		c.Workflow.MinFreeSpaceGiB = 0
	}
	if c.Workflow.MaxUploadMiB <= 0 {
		c.Workflow.MaxUploadMiB = defaultMaxUploadMiB
	}
}

func (c *Config) normalizeHistory() {
	if c.History.Limit <= 0 {
		c.History.Limit = defaultHistoryLimit
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
