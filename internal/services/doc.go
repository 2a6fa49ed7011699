// Package services defines shared utilities consumed by the pipeline stages
// and the external tool clients.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, stage names, and correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper that tag failures with a
//     classification the orchestrator can act on.
//
// Subpackages hold the clients for the external executables the pipeline
// drives: ffmpeg (extraction and encoding), realesrgan (per-frame
// enhancement), and gfpgan (optional face restoration).
package services
