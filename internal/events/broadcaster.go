package events

import (
	"sort"
	"sync"
	"time"

	"github.com/reelsmith/reelsmith/internal/logger"
)

// DefaultBuffer is the live-event headroom of each subscription.
const DefaultBuffer = 100

type projectCache struct {
	status   *JobStatus
	chapters map[int]Chapter
	images   map[string]SceneAsset
	audio    map[string]SceneAsset
}

func newProjectCache() *projectCache {
	return &projectCache{
		chapters: make(map[int]Chapter),
		images:   make(map[string]SceneAsset),
		audio:    make(map[string]SceneAsset),
	}
}

// Broadcaster is an in-process publish/subscribe hub keyed by project.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[string]map[*Subscription]struct{}
	cache  map[string]*projectCache
	buffer int
	now    func() time.Time
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subs:   make(map[string]map[*Subscription]struct{}),
		cache:  make(map[string]*projectCache),
		buffer: DefaultBuffer,
		now:    time.Now,
	}
}

// Subscription receives events for one project on C until Close.
type Subscription struct {
	C         <-chan Event
	ch        chan Event
	projectID string
	b         *Broadcaster
	once      sync.Once
}

// Close detaches the subscription and closes C. When the last observer of a
// project whose job has finished leaves, the project's cache is released.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.b.mu.Lock()
		if set, ok := s.b.subs[s.projectID]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(s.b.subs, s.projectID)
				s.b.releaseLocked(s.projectID)
			}
		}
		close(s.ch)
		s.b.mu.Unlock()
	})
}

// Attach subscribes to projectID. The channel is pre-loaded with the cached
// state so a late observer sees history before any live event.
func (b *Broadcaster) Attach(projectID string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	replay := b.snapshotLocked(projectID)
	ch := make(chan Event, len(replay)+b.buffer)
	for _, ev := range replay {
		ch <- ev
	}

	sub := &Subscription{C: ch, ch: ch, projectID: projectID, b: b}
	set, ok := b.subs[projectID]
	if !ok {
		set = make(map[*Subscription]struct{})
		b.subs[projectID] = set
	}
	set[sub] = struct{}{}
	return sub
}

// Publish records ev in the project cache and delivers it to every
// subscription. Full subscriptions miss the event.
func (b *Broadcaster) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = b.now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.updateCacheLocked(ev)
	for sub := range b.subs[ev.ProjectID] {
		select {
		case sub.ch <- ev:
		default:
			logger.Debug("Dropping event for slow subscriber", "project_id", ev.ProjectID, "type", ev.Type)
		}
	}
}

// Snapshot returns the synthetic replay sequence for projectID.
func (b *Broadcaster) Snapshot(projectID string) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked(projectID)
}

// Subscribers reports how many observers are attached to projectID.
func (b *Broadcaster) Subscribers(projectID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[projectID])
}

// Cached reports whether replay state is held for projectID.
func (b *Broadcaster) Cached(projectID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.cache[projectID]
	return ok
}

// releaseLocked drops the cache of a project whose job is terminal.
func (b *Broadcaster) releaseLocked(projectID string) {
	c, ok := b.cache[projectID]
	if !ok || c.status == nil {
		return
	}
	if c.status.Status == StatusCompleted || c.status.Status == StatusFailed {
		delete(b.cache, projectID)
	}
}

func (b *Broadcaster) updateCacheLocked(ev Event) {
	c, ok := b.cache[ev.ProjectID]
	if !ok {
		c = newProjectCache()
		b.cache[ev.ProjectID] = c
	}

	switch data := ev.Data.(type) {
	case JobStatus:
		if c.status != nil && data.JobID != "" && data.JobID != c.status.JobID {
			// A different job for the project starts a fresh history.
			*c = *newProjectCache()
		}
		if c.status == nil || ev.Type == TypeJobStatus {
			s := data
			c.status = &s
			return
		}
		if ev.Type != TypeProgressUpdate {
			return
		}
		c.status.Progress = data.Progress
		if data.CurrentStep != "" {
			c.status.CurrentStep = data.CurrentStep
		}
		if data.CompletedSteps != nil {
			c.status.CompletedSteps = data.CompletedSteps
		}
		if data.Status != "" {
			c.status.Status = data.Status
		}
	case Chapter:
		if ev.Type == TypeChapterGenerated {
			c.chapters[data.Number] = data
		}
	case SceneAsset:
		switch ev.Type {
		case TypeSceneImageGenerated:
			c.images[data.Key] = data
		case TypeAudioGenerated:
			c.audio[data.Key] = data
		}
	}
}

func (b *Broadcaster) snapshotLocked(projectID string) []Event {
	c, ok := b.cache[projectID]
	if !ok {
		return nil
	}
	now := b.now()
	var out []Event
	mk := func(t Type, data any) Event {
		return Event{Type: t, ProjectID: projectID, Data: data, Timestamp: now}
	}

	if c.status != nil {
		out = append(out, mk(TypeJobStatus, *c.status))
	}

	numbers := make([]int, 0, len(c.chapters))
	for n := range c.chapters {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)
	for _, n := range numbers {
		out = append(out, mk(TypeChapterGenerated, c.chapters[n]))
	}

	for _, a := range sortedAssets(c.images) {
		out = append(out, mk(TypeSceneImageGenerated, a))
	}
	for _, a := range sortedAssets(c.audio) {
		out = append(out, mk(TypeAudioGenerated, a))
	}
	return out
}

func sortedAssets(m map[string]SceneAsset) []SceneAsset {
	out := make([]SceneAsset, 0, len(m))
	for _, a := range m {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Chapter != out[j].Chapter {
			return out[i].Chapter < out[j].Chapter
		}
		if out[i].Scene != out[j].Scene {
			return out[i].Scene < out[j].Scene
		}
		return out[i].Key < out[j].Key
	})
	return out
}
