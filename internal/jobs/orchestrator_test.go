package jobs_test

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/reelsmith/reelsmith/internal/events"
	"github.com/reelsmith/reelsmith/internal/jobs"
)

func mustState(t *testing.T, job *jobs.Job) *jobs.GenerationState {
	t.Helper()
	state, err := jobs.DecodeState(job.StateData)
	if err != nil {
		t.Fatalf("decode state: %v", err)
	}
	return state
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func TestEndToEnd(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	job, created, err := h.orch.Enqueue(ctx, "proj-1", "Apollo Program", jobs.RunConfig{TotalChapters: 2})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if !created {
		t.Fatal("expected a new job")
	}

	processed, err := h.orch.ProcessNext(ctx)
	if err != nil {
		t.Fatalf("process next: %v", err)
	}
	if !processed {
		t.Fatal("expected the queued job to be processed")
	}

	got, _ := h.store.GetJob(ctx, job.ID)
	if got.Status != jobs.StatusCompleted {
		t.Fatalf("expected completed, got %s (error %q)", got.Status, got.Error)
	}
	if got.Progress != 100 {
		t.Errorf("expected progress 100, got %d", got.Progress)
	}
	if len(got.CompletedSteps) != len(jobs.AllSteps) {
		t.Errorf("expected %d completed steps, got %v", len(jobs.AllSteps), got.CompletedSteps)
	}

	state := mustState(t, got)
	want := []string{"ch1_scene1", "ch1_scene2", "ch2_scene1", "ch2_scene2"}
	if keys := sortedKeys(state.Images); strings.Join(keys, ",") != strings.Join(want, ",") {
		t.Errorf("image keys = %v, want %v", keys, want)
	}
	if keys := sortedKeys(state.Audio); strings.Join(keys, ",") != strings.Join(want, ",") {
		t.Errorf("audio keys = %v, want %v", keys, want)
	}
	if len(state.Outline) != 2 || len(state.Chapters) != 2 {
		t.Errorf("expected 2 outline entries and chapters, got %d and %d", len(state.Outline), len(state.Chapters))
	}
	if state.Research == nil || state.Research.Summary != "2 findings" {
		t.Errorf("unexpected research: %+v", state.Research)
	}

	statuses := h.events.ofType(events.TypeJobStatus)
	last := statuses[len(statuses)-1].Data.(events.JobStatus)
	if last.Status != "completed" || last.Progress != 100 {
		t.Errorf("last job_status = %+v", last)
	}
	if n := len(h.events.ofType(events.TypeSceneImageGenerated)); n != 4 {
		t.Errorf("expected 4 image events, got %d", n)
	}
	if n := len(h.events.ofType(events.TypeChapterGenerated)); n != 2 {
		t.Errorf("expected 2 chapter events, got %d", n)
	}
}

func TestProgressAnchorsAreMonotonic(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	if _, _, err := h.orch.Enqueue(ctx, "proj-1", "Title", jobs.RunConfig{TotalChapters: 1}); err != nil {
		t.Fatal(err)
	}
	if _, err := h.orch.ProcessNext(ctx); err != nil {
		t.Fatal(err)
	}

	var seen []int
	prev := -1
	for _, ev := range h.events.ofType(events.TypeProgressUpdate) {
		p := ev.Data.(events.JobStatus).Progress
		if p < prev {
			t.Fatalf("progress went backwards: %d after %d", p, prev)
		}
		if p != prev {
			seen = append(seen, p)
		}
		prev = p
	}

	want := []int{0, 15, 22, 30, 55, 80, 95}
	if len(seen) != len(want) {
		t.Fatalf("progress sequence = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("progress sequence = %v, want %v", seen, want)
		}
	}
}

func TestResumeSkipsCompletedSteps(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	state := jobs.NewState()
	state.Research = &jobs.Research{Queries: []string{"q"}, Summary: "earlier research"}
	state.Framework = &jobs.Framework{Title: "Moon", Premise: "p"}
	data, err := state.Encode()
	if err != nil {
		t.Fatal(err)
	}

	job := &jobs.Job{
		ID:             "job-resume",
		ProjectID:      "proj-1",
		Title:          "Moon",
		Status:         jobs.StatusQueued,
		CompletedSteps: []jobs.Step{jobs.StepResearch, jobs.StepFramework},
		Progress:       22,
		StateData:      data,
		Config:         jobs.RunConfig{TotalChapters: 1},
		CreatedAt:      time.Now(),
	}
	if err := h.store.CreateJob(ctx, job); err != nil {
		t.Fatal(err)
	}

	if err := h.orch.ProcessJob(ctx, job); err != nil {
		t.Fatalf("process job: %v", err)
	}

	calls := h.rec.list()
	for _, c := range calls {
		if c == "research" || c == "investigate" || c == "summarize" || c == "framework" {
			t.Fatalf("completed step re-ran: %v", calls)
		}
	}
	want := []string{"outline", "chapter:1", "image:ch1_scene1", "image:ch1_scene2", "speech:ch1_scene1", "speech:ch1_scene2"}
	if strings.Join(calls, ",") != strings.Join(want, ",") {
		t.Errorf("calls = %v, want %v", calls, want)
	}

	got, _ := h.store.GetJob(ctx, job.ID)
	if got.Status != jobs.StatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
	if s := mustState(t, got); s.Research == nil || s.Research.Summary != "earlier research" {
		t.Errorf("research state lost on resume: %+v", s.Research)
	}
}

func TestStepFailureThenRequeueResumes(t *testing.T) {
	h := newHarness()
	h.writer.failChapter = 2
	ctx := context.Background()

	job, _, err := h.orch.Enqueue(ctx, "proj-1", "Title", jobs.RunConfig{TotalChapters: 2})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.orch.ProcessNext(ctx); err != nil {
		t.Fatal(err)
	}

	failed, _ := h.store.GetJob(ctx, job.ID)
	if failed.Status != jobs.StatusFailed {
		t.Fatalf("expected failed, got %s", failed.Status)
	}
	if !strings.Contains(failed.Error, "chapters") || !strings.Contains(failed.Error, "model overloaded") {
		t.Errorf("unexpected error message %q", failed.Error)
	}
	if len(failed.CompletedSteps) != 3 {
		t.Errorf("expected research, framework and outline completed, got %v", failed.CompletedSteps)
	}
	if _, ok := mustState(t, failed).Chapter(1); !ok {
		t.Error("chapter 1 should survive in the partial checkpoint")
	}

	// The poll loop only picks queued jobs.
	if processed, _ := h.orch.ProcessNext(ctx); processed {
		t.Fatal("failed job must not be picked up without a requeue")
	}

	h.writer.failChapter = 0
	requeued, err := h.orch.Requeue(ctx, job.ID)
	if err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if requeued.Status != jobs.StatusQueued || requeued.Error != "" {
		t.Errorf("unexpected requeued job: %+v", requeued)
	}

	if _, err := h.orch.ProcessNext(ctx); err != nil {
		t.Fatal(err)
	}
	done, _ := h.store.GetJob(ctx, job.ID)
	if done.Status != jobs.StatusCompleted {
		t.Fatalf("expected completed after requeue, got %s (%s)", done.Status, done.Error)
	}
	if n := h.rec.count("research"); n != 1 {
		t.Errorf("research ran %d times", n)
	}
	if n := h.writer.chapterCalls[1]; n != 1 {
		t.Errorf("chapter 1 generated %d times", n)
	}
	if n := h.writer.chapterCalls[2]; n != 2 {
		t.Errorf("chapter 2 generated %d times, want 2", n)
	}
}

func TestItemFailuresAreSwallowed(t *testing.T) {
	h := newHarness()
	h.images.fail["ch1_scene2"] = true
	h.speech.fail["ch2_scene1"] = true
	ctx := context.Background()

	job, _, _ := h.orch.Enqueue(ctx, "proj-1", "Title", jobs.RunConfig{TotalChapters: 2})
	if _, err := h.orch.ProcessNext(ctx); err != nil {
		t.Fatal(err)
	}

	got, _ := h.store.GetJob(ctx, job.ID)
	if got.Status != jobs.StatusCompleted {
		t.Fatalf("item failures must not fail the job, got %s: %s", got.Status, got.Error)
	}

	state := mustState(t, got)
	if len(state.Images) != 3 {
		t.Errorf("expected 3 images, got %v", state.Images)
	}
	if _, ok := state.Audio["ch2_scene1"]; ok {
		t.Error("failed audio should be absent")
	}

	report := state.Reports[jobs.StepImages]
	if report == nil {
		t.Fatal("missing images report")
	}
	failedItems := report.Failed()
	if len(failedItems) != 1 || failedItems[0].Key != "ch1_scene2" {
		t.Errorf("unexpected failed items: %+v", failedItems)
	}
	if ok, _, failed := state.Reports[jobs.StepAudio].Counts(); ok != 3 || failed != 1 {
		t.Errorf("audio counts ok=%d failed=%d", ok, failed)
	}
}

func TestScenesWithAssetsAreNotRegenerated(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	state := jobs.NewState()
	state.Outline = []string{"One"}
	state.Chapters = []jobs.ChapterScript{{
		Number: 1,
		Title:  "One",
		Scenes: []jobs.Scene{
			{Number: 1, Narration: "first", ImagePrompt: "a"},
			{Number: 2, Narration: "second", ImagePrompt: "b"},
			{Number: 3, Narration: "", ImagePrompt: "c"},
		},
	}}
	state.Images["ch1_scene1"] = "https://img.example/existing.jpg"
	// Older checkpoints used the short key form.
	state.Audio["ch1_sc1"] = "https://audio.example/existing.mp3"
	data, _ := state.Encode()

	job := &jobs.Job{
		ID:        "job-partial",
		ProjectID: "proj-1",
		Status:    jobs.StatusQueued,
		CompletedSteps: []jobs.Step{
			jobs.StepResearch, jobs.StepFramework, jobs.StepOutline, jobs.StepChapters,
		},
		StateData: data,
		Config:    jobs.RunConfig{TotalChapters: 1},
	}
	if err := h.store.CreateJob(ctx, job); err != nil {
		t.Fatal(err)
	}
	if err := h.orch.ProcessJob(ctx, job); err != nil {
		t.Fatal(err)
	}

	want := []string{"image:ch1_scene2", "image:ch1_scene3", "speech:ch1_scene2"}
	if calls := h.rec.list(); strings.Join(calls, ",") != strings.Join(want, ",") {
		t.Errorf("calls = %v, want %v", calls, want)
	}

	got, _ := h.store.GetJob(ctx, job.ID)
	s := mustState(t, got)
	if s.Images["ch1_scene1"] != "https://img.example/existing.jpg" {
		t.Error("existing image was replaced")
	}
	if s.Audio["ch1_scene1"] != "https://audio.example/existing.mp3" {
		t.Errorf("legacy audio key not carried over: %v", s.Audio)
	}
}

func TestStockImageSource(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	job, _, _ := h.orch.Enqueue(ctx, "proj-1", "Title", jobs.RunConfig{TotalChapters: 1, ImageSource: jobs.ImagesStock})
	if _, err := h.orch.ProcessNext(ctx); err != nil {
		t.Fatal(err)
	}

	if n := h.rec.count("stock:ch1_scene1"); n != 1 {
		t.Errorf("stock finder not used: %v", h.rec.list())
	}
	got, _ := h.store.GetJob(ctx, job.ID)
	if s := mustState(t, got); !strings.HasPrefix(s.Images["ch1_scene1"], "https://stock.example/") {
		t.Errorf("unexpected image url %q", s.Images["ch1_scene1"])
	}
}

func TestProcessCompletedJobIsNoop(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	job := &jobs.Job{
		ID:             "job-done",
		ProjectID:      "proj-1",
		Status:         jobs.StatusCompleted,
		CompletedSteps: jobs.AllSteps[:],
		Progress:       100,
	}
	if err := h.store.CreateJob(ctx, job); err != nil {
		t.Fatal(err)
	}

	if err := h.orch.ProcessJob(ctx, job); err != nil {
		t.Fatalf("process completed job: %v", err)
	}
	if calls := h.rec.list(); len(calls) != 0 {
		t.Errorf("collaborators called for completed job: %v", calls)
	}
	if n := h.store.updateCount(); n != 0 {
		t.Errorf("completed job was written %d times", n)
	}
}

func TestEnqueueIsIdempotentPerProject(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	first, created, err := h.orch.Enqueue(ctx, "proj-1", "Title", jobs.RunConfig{})
	if err != nil || !created {
		t.Fatalf("first enqueue: created=%v err=%v", created, err)
	}
	if first.Config.TotalChapters != jobs.DefaultChapters {
		t.Errorf("expected default chapters, got %d", first.Config.TotalChapters)
	}
	if first.Config.ImageSource != jobs.ImagesGenerated {
		t.Errorf("expected default image source, got %q", first.Config.ImageSource)
	}

	second, created, err := h.orch.Enqueue(ctx, "proj-1", "Title", jobs.RunConfig{TotalChapters: 3})
	if err != nil {
		t.Fatal(err)
	}
	if created || second.ID != first.ID {
		t.Errorf("expected existing job %s, got %s (created=%v)", first.ID, second.ID, created)
	}

	other, created, _ := h.orch.Enqueue(ctx, "proj-2", "Other", jobs.RunConfig{})
	if !created || other.ID == first.ID {
		t.Error("a different project should get its own job")
	}

	if _, _, err := h.orch.Enqueue(ctx, "", "Title", jobs.RunConfig{}); err == nil {
		t.Error("expected error for empty project id")
	}
}

func TestRequeueRejections(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	if _, err := h.orch.Requeue(ctx, "missing"); !errors.Is(err, jobs.ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}

	queued, _, _ := h.orch.Enqueue(ctx, "proj-1", "Title", jobs.RunConfig{TotalChapters: 1})
	if _, err := h.orch.Requeue(ctx, queued.ID); !errors.Is(err, jobs.ErrJobActive) {
		t.Errorf("expected ErrJobActive, got %v", err)
	}

	if _, err := h.orch.ProcessNext(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := h.orch.Requeue(ctx, queued.ID); !errors.Is(err, jobs.ErrJobCompleted) {
		t.Errorf("expected ErrJobCompleted, got %v", err)
	}
}

func TestCorruptStateStartsFresh(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	job := &jobs.Job{
		ID:        "job-corrupt",
		ProjectID: "proj-1",
		Status:    jobs.StatusQueued,
		StateData: []byte("{not json"),
		Config:    jobs.RunConfig{TotalChapters: 1},
	}
	if err := h.store.CreateJob(ctx, job); err != nil {
		t.Fatal(err)
	}
	if err := h.orch.ProcessJob(ctx, job); err != nil {
		t.Fatalf("process: %v", err)
	}
	got, _ := h.store.GetJob(ctx, job.ID)
	if got.Status != jobs.StatusCompleted {
		t.Errorf("expected completed, got %s", got.Status)
	}
}

func TestShutdownLeavesJobRunning(t *testing.T) {
	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	orch := jobs.NewOrchestrator(h.store, jobs.Collaborators{
		Research: &fakeResearch{rec: h.rec},
		Writer:   h.writer,
		Images:   h.images,
		Speech:   h.speech,
	}, jobs.Options{
		// Shutdown arrives during the delay between research queries.
		Sleep: func(context.Context, time.Duration) error {
			cancel()
			return context.Canceled
		},
	})

	job, _, err := orch.Enqueue(ctx, "proj-1", "Title", jobs.RunConfig{TotalChapters: 1})
	if err != nil {
		t.Fatal(err)
	}
	if err := orch.ProcessJob(ctx, job); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	got, _ := h.store.GetJob(context.Background(), job.ID)
	if got.Status != jobs.StatusRunning {
		t.Fatalf("interrupted job should stay running, got %s", got.Status)
	}
	if len(got.CompletedSteps) != 0 {
		t.Errorf("no step should be checkpointed, got %v", got.CompletedSteps)
	}

	n, _ := h.store.ResetRunningJobs(context.Background())
	if n != 1 {
		t.Errorf("expected 1 job reset, got %d", n)
	}
	got, _ = h.store.GetJob(context.Background(), job.ID)
	if got.Status != jobs.StatusQueued {
		t.Errorf("expected queued after reset, got %s", got.Status)
	}
}

func TestStartStop(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	h.orch.Start(ctx)
	defer h.orch.Stop()

	job, _, err := h.orch.Enqueue(ctx, "proj-1", "Title", jobs.RunConfig{TotalChapters: 1})
	if err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, _ := h.store.GetJob(ctx, job.ID)
		if got.Status == jobs.StatusCompleted {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("job was not processed by the background loop")
}

func newLockedOrchestrator(t *testing.T, poll time.Duration) (*jobs.Orchestrator, *lockedStore, *jobs.Job) {
	t.Helper()
	st := &lockedStore{memStore: newMemStore(), err: errors.New("database is locked")}
	orch := jobs.NewOrchestrator(st, jobs.Collaborators{}, jobs.Options{PollInterval: poll})

	job, _, err := orch.Enqueue(context.Background(), "proj-1", "Title", jobs.RunConfig{TotalChapters: 1})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return orch, st, job
}

func TestProcessNextReportsUnstartableJob(t *testing.T) {
	orch, st, job := newLockedOrchestrator(t, time.Hour)

	processed, err := orch.ProcessNext(context.Background())
	if processed {
		t.Error("a job that never started should not count as processed")
	}
	if !errors.Is(err, jobs.ErrJobNotStarted) || !errors.Is(err, st.err) {
		t.Fatalf("expected ErrJobNotStarted wrapping the store error, got %v", err)
	}

	got, _ := st.GetJob(context.Background(), job.ID)
	if got.Status != jobs.StatusQueued {
		t.Errorf("expected job to stay queued, got %s", got.Status)
	}
}

func TestLoopWaitsPollIntervalAfterStartFailure(t *testing.T) {
	orch, st, _ := newLockedOrchestrator(t, time.Hour)

	orch.Start(context.Background())
	defer orch.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for st.pollCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)

	if n := st.pollCount(); n != 1 {
		t.Errorf("expected one poll before the interval elapses, got %d", n)
	}
}

func TestEnqueueRejectsUnknownImageSource(t *testing.T) {
	h := newHarness()

	_, _, err := h.orch.Enqueue(context.Background(), "proj-1", "Title", jobs.RunConfig{ImageSource: "clipart"})
	if !errors.Is(err, jobs.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	if job, _ := h.store.ActiveJob(context.Background(), "proj-1"); job != nil {
		t.Errorf("no job should be created, got %s", job.ID)
	}
}
