package jobs

import "context"

// Store persists jobs. Implementations must apply a Patch atomically and
// stamp UpdatedAt on every update.
type Store interface {
	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	UpdateJob(ctx context.Context, id string, patch Patch) (*Job, error)
	// ListQueued returns queued jobs, oldest first.
	ListQueued(ctx context.Context) ([]*Job, error)
	// ActiveJob returns the queued or running job for a project, or nil.
	ActiveJob(ctx context.Context, projectID string) (*Job, error)
	// LatestJob returns the most recently created job for a project, or nil.
	LatestJob(ctx context.Context, projectID string) (*Job, error)
	// ResetRunningJobs moves running jobs back to queued and returns how
	// many were reset.
	ResetRunningJobs(ctx context.Context) (int, error)
	Close() error
}
