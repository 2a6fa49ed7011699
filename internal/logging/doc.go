// Package logging builds the slog loggers used across upres and the attr
// helpers that keep structured field names consistent.
//
// Two output formats are supported: a console handler that renders
// "timestamp LEVEL component: message key=value" lines for interactive use,
// and the standard JSON handler for log collection. Component loggers carry
// a standardized component attribute; per-job fields (job_id, stage) travel
// on the context via the services package.
package logging
