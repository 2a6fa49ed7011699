// Package jobs holds the in-memory job registry: the process-wide record of
// every enhancement job, its status, progress, and terminal result.
package jobs

import "time"

// Status represents the lifecycle state of a job.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
)

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// Job is a point-in-time snapshot of one enhancement job. All fields are plain
// values so snapshots can be compared and handed to readers without sharing
// mutable state.
type Job struct {
	ID       string `json:"jobId"`
	Status   Status `json:"status"`
	Progress int    `json:"progress"`
	Message  string `json:"message"`

	Model string `json:"model"`
	Scale int    `json:"scale"`

	SourcePath string `json:"-"`
	SourceName string `json:"filename"`

	// Enhancement-stage telemetry. Zero until that stage starts.
	ProcessedFrames int     `json:"processedFrames,omitempty"`
	TotalFrames     int     `json:"totalFrames,omitempty"`
	AvgMsPerFrame   float64 `json:"avgMsPerFrame,omitempty"`

	ResultPath string `json:"-"`
	ResultURL  string `json:"resultUrl,omitempty"`

	Canceled  bool      `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
