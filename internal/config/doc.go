// Package config loads, normalizes, and validates the TOML configuration for
// the upres service.
package config
