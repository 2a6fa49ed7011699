package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateEnhancer(); err != nil {
		return err
	}
	if err := c.validateEncoding(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if c.Paths.UploadsDir == "" {
		return errors.New("paths.uploads_dir must be set")
	}
	if c.Paths.ResultsDir == "" {
		return errors.New("paths.results_dir must be set")
	}
	if c.Paths.WorkDir == "" {
		return errors.New("paths.work_dir must be set")
	}
	if c.Paths.UploadsDir == c.Paths.ResultsDir {
		return errors.New("paths.uploads_dir and paths.results_dir must differ")
	}
	return nil
}

func (c *Config) validateEnhancer() error {
	for _, gpu := range c.Enhancer.GPUs {
		if gpu < -1 {
			return fmt.Errorf("enhancer.gpus: invalid accelerator id %d", gpu)
		}
	}
	if c.Enhancer.Workers < 0 {
		return errors.New("enhancer.workers must not be negative")
	}
	return nil
}

func (c *Config) validateEncoding() error {
	if c.Encoding.CRF < 0 || c.Encoding.CRF > 51 {
		return fmt.Errorf("encoding.crf must be between 0 and 51, got %d", c.Encoding.CRF)
	}
	if c.Encoding.TargetHeight%2 != 0 {
		return fmt.Errorf("encoding.target_height must be even, got %d", c.Encoding.TargetHeight)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "auto", "console", "json":
		return nil
	default:
		return fmt.Errorf("logging.format must be auto, console, or json, got %q", c.Logging.Format)
	}
}
