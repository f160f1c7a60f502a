package jobs_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/reelsmith/reelsmith/internal/events"
	"github.com/reelsmith/reelsmith/internal/jobs"
)

// memStore is an in-memory jobs.Store.
type memStore struct {
	mu      sync.Mutex
	jobs    map[string]*jobs.Job
	order   []string
	updates int
}

func newMemStore() *memStore {
	return &memStore{jobs: make(map[string]*jobs.Job)}
}

func (s *memStore) CreateJob(_ context.Context, job *jobs.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("duplicate job %s", job.ID)
	}
	s.jobs[job.ID] = job.Copy()
	s.order = append(s.order, job.ID)
	return nil
}

func (s *memStore) GetJob(_ context.Context, id string) (*jobs.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", jobs.ErrJobNotFound, id)
	}
	return job.Copy(), nil
}

func (s *memStore) UpdateJob(_ context.Context, id string, patch jobs.Patch) (*jobs.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", jobs.ErrJobNotFound, id)
	}
	patch.Apply(job)
	job.UpdatedAt = time.Now()
	s.updates++
	return job.Copy(), nil
}

func (s *memStore) ListQueued(context.Context) ([]*jobs.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*jobs.Job
	for _, id := range s.order {
		if j := s.jobs[id]; j.Status == jobs.StatusQueued {
			out = append(out, j.Copy())
		}
	}
	return out, nil
}

func (s *memStore) ActiveJob(_ context.Context, projectID string) (*jobs.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.order {
		if j := s.jobs[id]; j.ProjectID == projectID && j.IsActive() {
			return j.Copy(), nil
		}
	}
	return nil, nil
}

func (s *memStore) LatestJob(_ context.Context, projectID string) (*jobs.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.order) - 1; i >= 0; i-- {
		if j := s.jobs[s.order[i]]; j.ProjectID == projectID {
			return j.Copy(), nil
		}
	}
	return nil, nil
}

func (s *memStore) ResetRunningJobs(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, j := range s.jobs {
		if j.Status == jobs.StatusRunning {
			j.Status = jobs.StatusQueued
			n++
		}
	}
	return n, nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) updateCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updates
}

// recorder logs collaborator calls in order.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(call string) {
	r.mu.Lock()
	r.calls = append(r.calls, call)
	r.mu.Unlock()
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recorder) count(call string) int {
	n := 0
	for _, c := range r.list() {
		if c == call {
			n++
		}
	}
	return n
}

type fakeResearch struct {
	rec       *recorder
	failQuery string
}

func (f *fakeResearch) Queries(_ context.Context, title string) ([]string, error) {
	f.rec.add("research")
	return []string{title + " origins", title + " legacy"}, nil
}

func (f *fakeResearch) Investigate(_ context.Context, _, query string) (jobs.Finding, error) {
	f.rec.add("investigate")
	if query == f.failQuery {
		return jobs.Finding{}, errors.New("search unavailable")
	}
	return jobs.Finding{Query: query, Answer: "answer to " + query}, nil
}

func (f *fakeResearch) Summarize(_ context.Context, _ string, findings []jobs.Finding) (string, error) {
	f.rec.add("summarize")
	return fmt.Sprintf("%d findings", len(findings)), nil
}

type fakeWriter struct {
	rec          *recorder
	outline      []string
	scenes       int
	failChapter  int
	chapterCalls map[int]int
}

func (f *fakeWriter) Framework(_ context.Context, title string, _ int, _ string) (jobs.Framework, error) {
	f.rec.add("framework")
	return jobs.Framework{Title: title, Premise: "premise", Genre: "history"}, nil
}

func (f *fakeWriter) Outline(_ context.Context, _ jobs.Framework, chapters int, _ string) ([]string, error) {
	f.rec.add("outline")
	if f.outline != nil {
		return f.outline, nil
	}
	out := make([]string, chapters)
	for i := range out {
		out[i] = fmt.Sprintf("Part %d", i+1)
	}
	return out, nil
}

func (f *fakeWriter) Chapter(_ context.Context, req jobs.ChapterRequest) (jobs.ChapterScript, error) {
	f.rec.add(fmt.Sprintf("chapter:%d", req.Number))
	if f.chapterCalls == nil {
		f.chapterCalls = make(map[int]int)
	}
	f.chapterCalls[req.Number]++
	if req.Number == f.failChapter {
		return jobs.ChapterScript{}, errors.New("model overloaded")
	}
	scenes := f.scenes
	if scenes == 0 {
		scenes = 2
	}
	ch := jobs.ChapterScript{Title: req.Title}
	for i := 1; i <= scenes; i++ {
		ch.Scenes = append(ch.Scenes, jobs.Scene{
			Number:      i,
			Narration:   fmt.Sprintf("Chapter %d scene %d narration.", req.Number, i),
			ImagePrompt: fmt.Sprintf("prompt %d.%d", req.Number, i),
		})
	}
	return ch, nil
}

type fakeImages struct {
	rec  *recorder
	fail map[string]bool
}

func (f *fakeImages) GenerateImage(_ context.Context, key, _, _ string) (string, error) {
	f.rec.add("image:" + key)
	if f.fail[key] {
		return "", errors.New("generation rejected")
	}
	return "https://img.example/" + key + ".jpg", nil
}

type fakeStock struct {
	rec *recorder
}

func (f *fakeStock) FindImage(_ context.Context, key, query string) (string, error) {
	f.rec.add("stock:" + key)
	return "https://stock.example/" + key + ".jpg", nil
}

type fakeSpeech struct {
	rec  *recorder
	fail map[string]bool
}

func (f *fakeSpeech) Synthesize(_ context.Context, key, _, _ string) (string, error) {
	f.rec.add("speech:" + key)
	if f.fail[key] {
		return "", errors.New("tts quota exceeded")
	}
	return "https://audio.example/" + key + ".mp3", nil
}

// eventLog is a jobs.Notifier that keeps every event.
type eventLog struct {
	mu     sync.Mutex
	events []events.Event
}

func (l *eventLog) Publish(ev events.Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) ofType(t events.Type) []events.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []events.Event
	for _, ev := range l.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type harness struct {
	store  *memStore
	rec    *recorder
	writer *fakeWriter
	images *fakeImages
	speech *fakeSpeech
	events *eventLog
	orch   *jobs.Orchestrator
}

func newHarness() *harness {
	h := &harness{store: newMemStore(), rec: &recorder{}, events: &eventLog{}}
	h.writer = &fakeWriter{rec: h.rec}
	h.images = &fakeImages{rec: h.rec, fail: map[string]bool{}}
	h.speech = &fakeSpeech{rec: h.rec, fail: map[string]bool{}}
	h.orch = jobs.NewOrchestrator(h.store, jobs.Collaborators{
		Research: &fakeResearch{rec: h.rec},
		Writer:   h.writer,
		Images:   h.images,
		Stock:    &fakeStock{rec: h.rec},
		Speech:   h.speech,
	}, jobs.Options{
		PollInterval: 5 * time.Millisecond,
		ItemDelay:    time.Second,
		Notifier:     h.events,
		Sleep:        func(ctx context.Context, _ time.Duration) error { return ctx.Err() },
	})
	return h
}

// lockedStore rejects every update, like a database held by another writer.
type lockedStore struct {
	*memStore
	err error

	pollMu sync.Mutex
	polls  int
}

func (s *lockedStore) UpdateJob(context.Context, string, jobs.Patch) (*jobs.Job, error) {
	return nil, s.err
}

func (s *lockedStore) ListQueued(ctx context.Context) ([]*jobs.Job, error) {
	s.pollMu.Lock()
	s.polls++
	s.pollMu.Unlock()
	return s.memStore.ListQueued(ctx)
}

func (s *lockedStore) pollCount() int {
	s.pollMu.Lock()
	defer s.pollMu.Unlock()
	return s.polls
}
