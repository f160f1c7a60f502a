package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/reelsmith/reelsmith/internal/jobs"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func createTestJob(id, projectID string, created time.Time) *jobs.Job {
	return &jobs.Job{
		ID:             id,
		ProjectID:      projectID,
		Title:          "The Space Race",
		Status:         jobs.StatusQueued,
		CompletedSteps: []jobs.Step{},
		Config: jobs.RunConfig{
			TotalChapters: 4,
			Voice:         "onyx",
			ImageSource:   jobs.ImagesStock,
		},
		CreatedAt: created,
	}
}

func TestSQLiteStore_CreateAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job := createTestJob("job-1", "proj-1", time.Now())
	if err := store.CreateJob(ctx, job); err != nil {
		t.Fatalf("failed to create job: %v", err)
	}

	got, err := store.GetJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("failed to get job: %v", err)
	}
	if got.ProjectID != "proj-1" || got.Title != job.Title || got.Status != jobs.StatusQueued {
		t.Errorf("unexpected job: %+v", got)
	}
	if got.Config != job.Config {
		t.Errorf("config = %+v, want %+v", got.Config, job.Config)
	}
	if got.CompletedSteps == nil || len(got.CompletedSteps) != 0 {
		t.Errorf("expected empty completed steps, got %v", got.CompletedSteps)
	}
	if !got.CreatedAt.Equal(job.CreatedAt.UTC()) {
		t.Errorf("created at = %v, want %v", got.CreatedAt, job.CreatedAt)
	}

	if err := store.CreateJob(ctx, job); err == nil {
		t.Error("expected duplicate id to fail")
	}
}

func TestSQLiteStore_GetMissing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetJob(context.Background(), "nope")
	if !errors.Is(err, jobs.ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestSQLiteStore_UpdateJobPatch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job := createTestJob("job-1", "proj-1", time.Now().Add(-time.Minute))
	if err := store.CreateJob(ctx, job); err != nil {
		t.Fatal(err)
	}

	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return clock }

	running := jobs.StatusRunning
	step := jobs.StepOutline
	progress := 22
	started := clock.Add(-time.Second)
	got, err := store.UpdateJob(ctx, "job-1", jobs.Patch{
		Status:         &running,
		CurrentStep:    &step,
		CompletedSteps: []jobs.Step{jobs.StepResearch, jobs.StepFramework},
		Progress:       &progress,
		StateData:      []byte(`{"version":1}`),
		StartedAt:      &started,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	if got.Status != jobs.StatusRunning || got.CurrentStep != jobs.StepOutline || got.Progress != 22 {
		t.Errorf("unexpected job after update: %+v", got)
	}
	if len(got.CompletedSteps) != 2 || got.CompletedSteps[1] != jobs.StepFramework {
		t.Errorf("completed steps = %v", got.CompletedSteps)
	}
	if string(got.StateData) != `{"version":1}` {
		t.Errorf("state data = %s", got.StateData)
	}
	if !got.UpdatedAt.Equal(clock) {
		t.Errorf("updated at = %v, want %v", got.UpdatedAt, clock)
	}
	if !got.StartedAt.Equal(started) {
		t.Errorf("started at = %v, want %v", got.StartedAt, started)
	}

	// Fields absent from the patch stay untouched.
	msg := "boom"
	got, err = store.UpdateJob(ctx, "job-1", jobs.Patch{Error: &msg})
	if err != nil {
		t.Fatal(err)
	}
	if got.Progress != 22 || got.Status != jobs.StatusRunning || string(got.StateData) != `{"version":1}` || got.Error != "boom" {
		t.Errorf("partial patch changed other fields: %+v", got)
	}

	if _, err := store.UpdateJob(ctx, "missing", jobs.Patch{Error: &msg}); !errors.Is(err, jobs.ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestSQLiteStore_ListQueuedOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Now()
	for i, id := range []string{"c", "a", "b"} {
		job := createTestJob(id, "proj-"+id, base.Add(time.Duration(i)*time.Millisecond))
		if err := store.CreateJob(ctx, job); err != nil {
			t.Fatal(err)
		}
	}
	failed := jobs.StatusFailed
	if _, err := store.UpdateJob(ctx, "a", jobs.Patch{Status: &failed}); err != nil {
		t.Fatal(err)
	}

	queued, err := store.ListQueued(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(queued) != 2 || queued[0].ID != "c" || queued[1].ID != "b" {
		ids := make([]string, len(queued))
		for i, j := range queued {
			ids[i] = j.ID
		}
		t.Errorf("queued order = %v, want [c b]", ids)
	}
}

func TestSQLiteStore_ActiveAndLatest(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	active, err := store.ActiveJob(ctx, "proj-1")
	if err != nil || active != nil {
		t.Fatalf("expected no active job, got %v, %v", active, err)
	}

	base := time.Now()
	old := createTestJob("old", "proj-1", base)
	old.Status = jobs.StatusCompleted
	if err := store.CreateJob(ctx, old); err != nil {
		t.Fatal(err)
	}
	if active, _ := store.ActiveJob(ctx, "proj-1"); active != nil {
		t.Errorf("completed job reported active: %s", active.ID)
	}

	current := createTestJob("current", "proj-1", base.Add(time.Second))
	current.Status = jobs.StatusRunning
	if err := store.CreateJob(ctx, current); err != nil {
		t.Fatal(err)
	}

	active, err = store.ActiveJob(ctx, "proj-1")
	if err != nil || active == nil || active.ID != "current" {
		t.Errorf("active job = %v, %v", active, err)
	}
	latest, err := store.LatestJob(ctx, "proj-1")
	if err != nil || latest == nil || latest.ID != "current" {
		t.Errorf("latest job = %v, %v", latest, err)
	}
	if latest, _ := store.LatestJob(ctx, "proj-2"); latest != nil {
		t.Errorf("unexpected job for other project: %s", latest.ID)
	}
}

func TestSQLiteStore_ResetRunningJobs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	statuses := map[string]jobs.Status{
		"run-1":  jobs.StatusRunning,
		"run-2":  jobs.StatusRunning,
		"done":   jobs.StatusCompleted,
		"queued": jobs.StatusQueued,
	}
	for id, status := range statuses {
		job := createTestJob(id, "proj-"+id, time.Now())
		job.Status = status
		job.CompletedSteps = []jobs.Step{jobs.StepResearch}
		job.StateData = []byte(`{"version":1,"outline":["a"]}`)
		if err := store.CreateJob(ctx, job); err != nil {
			t.Fatal(err)
		}
	}

	count, err := store.ResetRunningJobs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("expected 2 jobs reset, got %d", count)
	}

	got, _ := store.GetJob(ctx, "run-1")
	if got.Status != jobs.StatusQueued {
		t.Errorf("expected queued, got %s", got.Status)
	}
	if len(got.CompletedSteps) != 1 || len(got.StateData) == 0 {
		t.Error("reset must keep the checkpoint")
	}
	if got, _ := store.GetJob(ctx, "done"); got.Status != jobs.StatusCompleted {
		t.Errorf("completed job changed to %s", got.Status)
	}
}

func TestInitStore(t *testing.T) {
	dbPath := GetDBPath(filepath.Join(t.TempDir(), "nested", "data"))
	ctx := context.Background()

	first, err := InitStore(ctx, dbPath)
	if err != nil {
		t.Fatalf("init store: %v", err)
	}
	job := createTestJob("job-1", "proj-1", time.Now())
	job.Status = jobs.StatusRunning
	if err := first.CreateJob(ctx, job); err != nil {
		t.Fatal(err)
	}
	first.Close()

	second, err := InitStore(ctx, dbPath)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer second.Close()

	got, err := second.GetJob(ctx, "job-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != jobs.StatusQueued {
		t.Errorf("running job should be reset on open, got %s", got.Status)
	}
	if second.Path() != dbPath {
		t.Errorf("path = %s, want %s", second.Path(), dbPath)
	}
}
