package jobs

import (
	"time"
)

// Status represents the current state of a job
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// ImageSource selects how scene stills are obtained.
type ImageSource string

const (
	ImagesGenerated ImageSource = "ai"
	ImagesStock     ImageSource = "stock"
)

// RunConfig is the per-job generation settings chosen at enqueue time.
type RunConfig struct {
	TotalChapters int         `json:"totalChapters" validate:"min=1,max=30"`
	Voice         string      `json:"voice,omitempty"`
	ImageSource   ImageSource `json:"imageSource,omitempty" validate:"omitempty,oneof=ai stock"`
	ImageModel    string      `json:"imageModel,omitempty"`
}

// Job is one durable run of the generation pipeline for a project.
type Job struct {
	ID             string    `json:"id"`
	ProjectID      string    `json:"projectId"`
	Title          string    `json:"title"`
	Status         Status    `json:"status"`
	CurrentStep    Step      `json:"currentStep,omitempty"`
	CompletedSteps []Step    `json:"completedSteps"`
	Progress       int       `json:"progress"` // 0-100
	Config         RunConfig `json:"config"`
	// StateData is the encoded GenerationState checkpoint.
	StateData   []byte    `json:"-"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	StartedAt   time.Time `json:"startedAt,omitzero"`
	CompletedAt time.Time `json:"completedAt,omitzero"`
}

// IsTerminal returns true if the job will not run again without a requeue.
func (j *Job) IsTerminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

// IsActive is true for queued and running jobs.
func (j *Job) IsActive() bool {
	return j.Status == StatusQueued || j.Status == StatusRunning
}

// HasCompleted reports whether step is checkpointed.
func (j *Job) HasCompleted(step Step) bool {
	for _, s := range j.CompletedSteps {
		if s == step {
			return true
		}
	}
	return false
}

// Copy returns a deep copy safe to hand to another goroutine.
func (j *Job) Copy() *Job {
	c := *j
	c.CompletedSteps = append([]Step(nil), j.CompletedSteps...)
	c.StateData = append([]byte(nil), j.StateData...)
	return &c
}

// Patch is a partial update. Nil fields are left unchanged; the store stamps
// UpdatedAt. A patch is applied atomically.
type Patch struct {
	Status         *Status
	CurrentStep    *Step
	CompletedSteps []Step
	Progress       *int
	StateData      []byte
	Error          *string
	StartedAt      *time.Time
	CompletedAt    *time.Time
}

// Apply mutates j in memory the same way the store applies p.
func (p Patch) Apply(j *Job) {
	if p.Status != nil {
		j.Status = *p.Status
	}
	if p.CurrentStep != nil {
		j.CurrentStep = *p.CurrentStep
	}
	if p.CompletedSteps != nil {
		j.CompletedSteps = append([]Step(nil), p.CompletedSteps...)
	}
	if p.Progress != nil {
		j.Progress = *p.Progress
	}
	if p.StateData != nil {
		j.StateData = append([]byte(nil), p.StateData...)
	}
	if p.Error != nil {
		j.Error = *p.Error
	}
	if p.StartedAt != nil {
		j.StartedAt = *p.StartedAt
	}
	if p.CompletedAt != nil {
		j.CompletedAt = *p.CompletedAt
	}
}

func ptr[T any](v T) *T { return &v }
