package history

import (
	"context"
	"testing"
	"time"

	"upres/internal/jobs"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func finishedJob(id string, status jobs.Status) jobs.Job {
	return jobs.Job{
		ID:            id,
		Status:        status,
		Progress:      100,
		Message:       "Done",
		Model:         "realesrgan-x4plus",
		SourceName:    "clip.mp4",
		TotalFrames:   300,
		AvgMsPerFrame: 412.5,
		ResultPath:    "/results/enhanced_clip.mp4",
		CreatedAt:     time.Now().Add(-time.Minute),
	}
}

func TestRecordAndRecent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.Record(ctx, finishedJob("a", jobs.StatusCompleted)); err != nil {
		t.Fatalf("Record returned error: %v", err)
	}
	if err := store.Record(ctx, finishedJob("b", jobs.StatusFailed)); err != nil {
		t.Fatalf("Record returned error: %v", err)
	}

	entries, err := store.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent returned error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Recent returned %d entries, want 2", len(entries))
	}
	if entries[0].JobID != "b" || entries[1].JobID != "a" {
		t.Fatalf("entries not newest first: %v, %v", entries[0].JobID, entries[1].JobID)
	}
	if entries[1].Model != "realesrgan-x4plus" || entries[1].TotalFrames != 300 {
		t.Fatalf("entry fields not round-tripped: %+v", entries[1])
	}
	if entries[1].FinishedAt.IsZero() {
		t.Fatal("finished timestamp not recorded")
	}
}

func TestRecordRejectsNonTerminalJob(t *testing.T) {
	store := openTestStore(t)
	job := finishedJob("a", jobs.StatusProcessing)
	if err := store.Record(context.Background(), job); err == nil {
		t.Fatal("expected error recording non-terminal job")
	}
}

func TestRecentHonorsLimit(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		if err := store.Record(ctx, finishedJob(id, jobs.StatusCompleted)); err != nil {
			t.Fatalf("Record returned error: %v", err)
		}
	}

	entries, err := store.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent returned error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Recent returned %d entries, want 2", len(entries))
	}
}

func TestReopenExistingDatabase(t *testing.T) {
	dir := t.TempDir()
	first, err := Open(dir)
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	if err := first.Record(context.Background(), finishedJob("a", jobs.StatusCompleted)); err != nil {
		t.Fatalf("Record returned error: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	second, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen returned error: %v", err)
	}
	defer second.Close()

	entries, err := second.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent returned error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected entry to survive reopen, got %d", len(entries))
	}
}
