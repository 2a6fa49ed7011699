package jobs

import (
	"context"
	"testing"
	"time"
)

func newTestRegistry() *Registry {
	return NewRegistry(nil)
}

func mustClaim(t *testing.T, r *Registry, id string) *Handle {
	t.Helper()
	handle, err := r.Claim(id)
	if err != nil {
		t.Fatalf("Claim returned error: %v", err)
	}
	return handle
}

func TestCreateAndGet(t *testing.T) {
	r := newTestRegistry()
	job := r.Create("realesrgan-x4plus", 4, "/uploads/a.mp4", "a.mp4")

	if job.ID == "" {
		t.Fatal("expected job ID to be assigned")
	}
	if job.Status != StatusQueued {
		t.Fatalf("status = %q, want queued", job.Status)
	}

	got, ok := r.Get(job.ID)
	if !ok {
		t.Fatal("Get failed to find job")
	}
	if got.Model != "realesrgan-x4plus" || got.Scale != 4 || got.SourceName != "a.mp4" {
		t.Fatalf("stored job = %+v", got)
	}
}

func TestGetUnknownJob(t *testing.T) {
	r := newTestRegistry()
	if _, ok := r.Get("nope"); ok {
		t.Fatal("expected unknown job to be absent")
	}
}

func TestClaimIsExclusive(t *testing.T) {
	r := newTestRegistry()
	job := r.Create("m", 4, "/src", "src")

	if _, err := r.Claim(job.ID); err != nil {
		t.Fatalf("first claim failed: %v", err)
	}
	if _, err := r.Claim(job.ID); err == nil {
		t.Fatal("expected second claim to fail")
	}
}

func TestProgressIsMonotonic(t *testing.T) {
	r := newTestRegistry()
	job := r.Create("m", 4, "/src", "src")
	h := mustClaim(t, r, job.ID)

	h.SetProcessing("Starting")
	h.SetProgress(20, "Extracting frames")
	h.SetProgress(80, "Enhancing frames")
	h.SetProgress(70, "Extracting audio")

	snap := h.Snapshot()
	if snap.Progress != 80 {
		t.Fatalf("progress = %d, want 80 after lower checkpoint", snap.Progress)
	}
	if snap.Message != "Extracting audio" {
		t.Fatalf("message = %q, want message update despite lower checkpoint", snap.Message)
	}
}

func TestTerminalStateIsImmutable(t *testing.T) {
	r := newTestRegistry()
	job := r.Create("m", 4, "/src", "src")
	h := mustClaim(t, r, job.ID)

	h.Complete("/results/out.mp4", "/results/out.mp4", "Done")
	h.SetProgress(10, "late update")
	h.Fail("late failure")

	snap := h.Snapshot()
	if snap.Status != StatusCompleted {
		t.Fatalf("status = %q, terminal state must not change", snap.Status)
	}
	if snap.Progress != 100 || snap.ResultPath != "/results/out.mp4" {
		t.Fatalf("terminal fields mutated: %+v", snap)
	}
}

func TestCompletePublishesResultWithStatus(t *testing.T) {
	r := newTestRegistry()
	job := r.Create("m", 4, "/src", "src")
	h := mustClaim(t, r, job.ID)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	updates, err := r.Subscribe(ctx, job.ID)
	if err != nil {
		t.Fatalf("Subscribe returned error: %v", err)
	}

	h.Complete("/results/out.mp4", "/results/out.mp4", "Done")

	var terminal *Job
	for snap := range updates {
		if snap.Status.Terminal() {
			s := snap
			terminal = &s
		}
		// Completed must never be visible without its result.
		if snap.Status == StatusCompleted && snap.ResultURL == "" {
			t.Fatal("observed completed snapshot without result URL")
		}
	}
	if terminal == nil {
		t.Fatal("subscription ended without a terminal snapshot")
	}
	if terminal.Status != StatusCompleted || terminal.ResultURL != "/results/out.mp4" {
		t.Fatalf("terminal snapshot = %+v", terminal)
	}
}

func TestSubscribeEmitsOnlyOnChange(t *testing.T) {
	r := newTestRegistry()
	job := r.Create("m", 4, "/src", "src")
	h := mustClaim(t, r, job.ID)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	updates, err := r.Subscribe(ctx, job.ID)
	if err != nil {
		t.Fatalf("Subscribe returned error: %v", err)
	}

	h.SetProcessing("Working")
	h.SetMessage("Working") // no visible change
	h.SetProgress(50, "Halfway")
	h.Fail("boom")

	var snaps []Job
	for snap := range updates {
		snaps = append(snaps, snap)
	}

	if len(snaps) == 0 {
		t.Fatal("expected at least one snapshot")
	}
	for i := 1; i < len(snaps); i++ {
		if snaps[i] == snaps[i-1] {
			t.Fatalf("duplicate consecutive snapshot at %d: %+v", i, snaps[i])
		}
	}
	last := snaps[len(snaps)-1]
	if last.Status != StatusFailed || last.Progress != 100 {
		t.Fatalf("final snapshot = %+v", last)
	}
}

func TestSubscribeUnknownJob(t *testing.T) {
	r := newTestRegistry()
	if _, err := r.Subscribe(context.Background(), "nope"); err == nil {
		t.Fatal("expected error for unknown job")
	}
}

func TestRequestCancelSetsStickyFlag(t *testing.T) {
	r := newTestRegistry()
	job := r.Create("m", 4, "/src", "src")
	h := mustClaim(t, r, job.ID)

	if !r.RequestCancel(job.ID) {
		t.Fatal("RequestCancel returned false for existing job")
	}
	if !h.CancelRequested() {
		t.Fatal("cancellation flag not visible through handle")
	}

	h.Cancel()
	snap := h.Snapshot()
	if snap.Status != StatusCanceled {
		t.Fatalf("status = %q, want canceled", snap.Status)
	}
	if snap.Message != "Canceled by user" {
		t.Fatalf("message = %q", snap.Message)
	}
	if snap.Progress == 100 {
		t.Fatal("canceled job should keep its last progress value")
	}
}

func TestRequestCancelUnknownJob(t *testing.T) {
	r := newTestRegistry()
	if r.RequestCancel("nope") {
		t.Fatal("RequestCancel should report unknown job")
	}
}

func TestFailBeforeStartKeepsZeroProgress(t *testing.T) {
	r := newTestRegistry()
	job := r.Create("m", 4, "/missing", "missing")
	h := mustClaim(t, r, job.ID)

	h.FailBeforeStart("Failed: source file missing")

	snap := h.Snapshot()
	if snap.Status != StatusFailed {
		t.Fatalf("status = %q", snap.Status)
	}
	if snap.Progress != 0 {
		t.Fatalf("progress = %d, want 0 for pre-start failure", snap.Progress)
	}
}

func TestListNewestFirst(t *testing.T) {
	r := newTestRegistry()
	base := time.Now()
	times := []time.Time{base, base.Add(time.Second), base.Add(2 * time.Second)}
	idx := 0
	r.now = func() time.Time {
		t := times[idx%len(times)]
		idx++
		return t
	}

	r.Create("m", 4, "/a", "a")
	r.Create("m", 4, "/b", "b")
	r.Create("m", 4, "/c", "c")

	all := r.List()
	if len(all) != 3 {
		t.Fatalf("List returned %d jobs", len(all))
	}
	if all[0].SourceName != "c" || all[2].SourceName != "a" {
		t.Fatalf("List order wrong: %v, %v, %v", all[0].SourceName, all[1].SourceName, all[2].SourceName)
	}
}
