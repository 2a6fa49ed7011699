// Package main hosts the upres CLI entrypoint and command graph.
//
// The Cobra-based command tree starts the upscaling service, inspects the
// finished-job history, lists installed enhancement models, runs environment
// checks, and scaffolds configuration. It centralizes configuration
// resolution and logging setup so subcommands can focus on user experience
// instead of wiring.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main
