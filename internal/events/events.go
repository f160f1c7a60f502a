// Package events fans pipeline and render events out to per-project
// observers and replays accumulated state to observers that attach late.
package events

import "time"

// Type names an event on the wire.
type Type string

const (
	TypeJobStatus           Type = "job_status"
	TypeProgressUpdate      Type = "progress_update"
	TypeResearchActivity    Type = "research_activity"
	TypeFrameworkGenerated  Type = "framework_generated"
	TypeOutlineGenerated    Type = "outline_generated"
	TypeChapterGenerated    Type = "chapter_generated"
	TypeSceneImageGenerated Type = "scene_image_generated"
	TypeAudioGenerated      Type = "audio_generated"
	TypeRenderProgress      Type = "render_progress"
	TypeRenderComplete      Type = "render_complete"
)

// Event is one notification for a project. Data holds one of the payload
// types below.
type Event struct {
	Type      Type      `json:"type"`
	ProjectID string    `json:"projectId"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Terminal job statuses as carried in JobStatus.Status.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// JobStatus is the payload of job_status and progress_update.
type JobStatus struct {
	JobID          string   `json:"jobId"`
	Status         string   `json:"status"`
	CurrentStep    string   `json:"currentStep,omitempty"`
	CompletedSteps []string `json:"completedSteps"`
	Progress       int      `json:"progress"`
	Error          string   `json:"error,omitempty"`
	Message        string   `json:"message,omitempty"`
}

// Chapter is the payload of chapter_generated.
type Chapter struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	Script any    `json:"script"`
}

// SceneAsset is the payload of scene_image_generated and audio_generated.
type SceneAsset struct {
	Key     string `json:"key"`
	Chapter int    `json:"chapter"`
	Scene   int    `json:"scene"`
	URL     string `json:"url"`
}

// Activity carries free-form progress such as research queries, the
// framework or the outline.
type Activity struct {
	Message string `json:"message"`
	Detail  any    `json:"detail,omitempty"`
}

// Render is the payload of render_progress and render_complete.
type Render struct {
	Name    string  `json:"name"`
	Stage   string  `json:"stage"`
	Percent float64 `json:"percent"`
	URL     string  `json:"url,omitempty"`
	Error   string  `json:"error,omitempty"`
}
