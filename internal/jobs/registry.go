package jobs

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"upres/internal/logging"
	"upres/internal/services"
)

// Registry is the process-wide job record store. Records are created by the
// upload handler, mutated exclusively through the Handle claimed by the
// orchestrator that owns the job, and read by status and streaming clients as
// value snapshots.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*record
	logger  *slog.Logger
	now     func() time.Time
}

type record struct {
	job     Job
	claimed bool
	// notify is closed and replaced on every visible change, waking all
	// current subscribers at once.
	notify chan struct{}
}

// NewRegistry constructs an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Registry{
		records: make(map[string]*record),
		logger:  logging.NewComponentLogger(logger, "jobs"),
		now:     time.Now,
	}
}

// Create registers a new queued job and returns its snapshot.
func (r *Registry) Create(model string, scale int, sourcePath, sourceName string) Job {
	return r.CreateWithID(uuid.NewString(), model, scale, sourcePath, sourceName)
}

// CreateWithID registers a queued job under a caller-minted identifier. The
// upload handler uses this so the stored file name can carry the job ID.
func (r *Registry) CreateWithID(id, model string, scale int, sourcePath, sourceName string) Job {
	now := r.now()
	job := Job{
		ID:         id,
		Status:     StatusQueued,
		Message:    "Queued",
		Model:      model,
		Scale:      scale,
		SourcePath: sourcePath,
		SourceName: sourceName,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	r.mu.Lock()
	r.records[job.ID] = &record{job: job, notify: make(chan struct{})}
	r.mu.Unlock()

	r.logger.Info("job created",
		logging.String(logging.FieldJobID, job.ID),
		logging.String("model", model),
		logging.String("source", sourceName))
	return job
}

// Get returns a snapshot of the identified job.
func (r *Registry) Get(id string) (Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok {
		return Job{}, false
	}
	return rec.job, true
}

// List returns snapshots of all jobs, newest first.
func (r *Registry) List() []Job {
	r.mu.RLock()
	all := make([]Job, 0, len(r.records))
	for _, rec := range r.records {
		all = append(all, rec.job)
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	return all
}

// RequestCancel sets the cancellation flag on a non-terminal job. The flag is
// sticky; the owning orchestrator observes it at its next checkpoint. It
// reports whether the job exists.
func (r *Registry) RequestCancel(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return false
	}
	if rec.job.Status.Terminal() || rec.job.Canceled {
		return true
	}
	rec.job.Canceled = true
	rec.job.UpdatedAt = r.now()
	r.broadcastLocked(rec)
	r.logger.Info("cancellation requested", logging.String(logging.FieldJobID, id))
	return true
}

// Claim hands out the single mutation handle for a job. A second claim for the
// same job fails; exactly one orchestrator ever processes a given job.
func (r *Registry) Claim(id string) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, services.Wrap(services.ErrNotFound, "registry", "claim", "unknown job "+id, nil)
	}
	if rec.claimed {
		return nil, services.Wrap(services.ErrValidation, "registry", "claim", "job "+id+" already claimed", nil)
	}
	rec.claimed = true
	return &Handle{registry: r, rec: rec}, nil
}

// Subscribe delivers snapshots of the identified job on the returned channel,
// emitting only when the snapshot differs from the previously delivered one.
// The channel closes after a terminal snapshot has been delivered or the
// context ends.
func (r *Registry) Subscribe(ctx context.Context, id string) (<-chan Job, error) {
	r.mu.RLock()
	rec, ok := r.records[id]
	r.mu.RUnlock()
	if !ok {
		return nil, services.Wrap(services.ErrNotFound, "registry", "subscribe", "unknown job "+id, nil)
	}

	out := make(chan Job, 1)
	go func() {
		defer close(out)
		var last Job
		haveLast := false
		for {
			r.mu.RLock()
			snap := rec.job
			notify := rec.notify
			r.mu.RUnlock()

			if !haveLast || snap != last {
				select {
				case out <- snap:
					last, haveLast = snap, true
				case <-ctx.Done():
					return
				}
			}
			if snap.Status.Terminal() {
				return
			}

			select {
			case <-notify:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// broadcastLocked wakes every subscriber of rec. Callers must hold r.mu.
func (r *Registry) broadcastLocked(rec *record) {
	close(rec.notify)
	rec.notify = make(chan struct{})
}

// Handle is the exclusive mutation interface for one job. Only the
// orchestrator holding the handle may change the record; all mutations are
// no-ops once the job is terminal.
type Handle struct {
	registry *Registry
	rec      *record
}

// ID returns the job identifier.
func (h *Handle) ID() string {
	h.registry.mu.RLock()
	defer h.registry.mu.RUnlock()
	return h.rec.job.ID
}

// Snapshot returns the current state of the job.
func (h *Handle) Snapshot() Job {
	h.registry.mu.RLock()
	defer h.registry.mu.RUnlock()
	return h.rec.job
}

// CancelRequested reports whether an external actor asked to cancel the job.
func (h *Handle) CancelRequested() bool {
	h.registry.mu.RLock()
	defer h.registry.mu.RUnlock()
	return h.rec.job.Canceled
}

func (h *Handle) mutate(fn func(*Job)) {
	h.registry.mu.Lock()
	defer h.registry.mu.Unlock()
	if h.rec.job.Status.Terminal() {
		return
	}
	before := h.rec.job
	fn(&h.rec.job)
	if h.rec.job == before {
		return
	}
	h.rec.job.UpdatedAt = h.registry.now()
	h.registry.broadcastLocked(h.rec)
}

// SetProcessing marks the job as picked up by an orchestrator.
func (h *Handle) SetProcessing(message string) {
	h.mutate(func(j *Job) {
		j.Status = StatusProcessing
		if message != "" {
			j.Message = message
		}
	})
}

// SetProgress advances numeric progress and updates the activity message.
// Progress never decreases; a stage reporting a lower checkpoint only changes
// the message.
func (h *Handle) SetProgress(progress int, message string) {
	h.mutate(func(j *Job) {
		if progress > 100 {
			progress = 100
		}
		if progress > j.Progress {
			j.Progress = progress
		}
		if message != "" {
			j.Message = message
		}
	})
}

// SetMessage updates the activity message without touching progress.
func (h *Handle) SetMessage(message string) {
	h.mutate(func(j *Job) {
		if message != "" {
			j.Message = message
		}
	})
}

// SetModel records the resolved enhancement configuration.
func (h *Handle) SetModel(model string, scale int) {
	h.mutate(func(j *Job) {
		j.Model = model
		j.Scale = scale
	})
}

// SetFrameTelemetry publishes enhancement-stage counters for ETA display.
func (h *Handle) SetFrameTelemetry(processed, total int, avgMs float64) {
	h.mutate(func(j *Job) {
		j.ProcessedFrames = processed
		j.TotalFrames = total
		j.AvgMsPerFrame = avgMs
	})
}

// Complete publishes the terminal success state. Status, result path, and
// result URL become visible in the same snapshot so readers never observe a
// completed job without its result.
func (h *Handle) Complete(resultPath, resultURL, message string) {
	h.mutate(func(j *Job) {
		j.Status = StatusCompleted
		j.Progress = 100
		j.ResultPath = resultPath
		j.ResultURL = resultURL
		if message != "" {
			j.Message = message
		}
	})
}

// Fail publishes the terminal failure state with progress pinned to 100.
func (h *Handle) Fail(message string) {
	h.mutate(func(j *Job) {
		j.Status = StatusFailed
		j.Progress = 100
		j.Message = message
	})
}

// FailBeforeStart publishes a failure that happened before any stage ran,
// leaving progress where it was so clients can tell the job never started.
func (h *Handle) FailBeforeStart(message string) {
	h.mutate(func(j *Job) {
		j.Status = StatusFailed
		j.Message = message
	})
}

// Cancel publishes the terminal canceled state. Progress keeps its last value.
func (h *Handle) Cancel() {
	h.mutate(func(j *Job) {
		j.Status = StatusCanceled
		j.Canceled = true
		j.Message = "Canceled by user"
	})
}
