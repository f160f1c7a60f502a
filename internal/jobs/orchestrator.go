package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/reelsmith/reelsmith/internal/events"
	"github.com/reelsmith/reelsmith/internal/logger"
)

// Options tune an Orchestrator. Zero values select defaults.
type Options struct {
	// PollInterval is how long the loop waits when no job is queued or the
	// oldest one cannot be started.
	PollInterval time.Duration
	// ItemDelay separates consecutive per-scene collaborator calls.
	ItemDelay time.Duration
	Notifier  Notifier
	Now       func() time.Time
	Sleep     func(ctx context.Context, d time.Duration) error
}

const defaultPollInterval = 2 * time.Second

// Orchestrator drives queued jobs through the pipeline, one job at a time.
type Orchestrator struct {
	store    Store
	collab   Collaborators
	notifier Notifier

	pollInterval time.Duration
	itemDelay    time.Duration
	now          func() time.Time
	sleep        func(ctx context.Context, d time.Duration) error

	// enqueueMu serialises the check-then-create of Enqueue and Requeue.
	enqueueMu sync.Mutex

	// slot holds a token while a job is processing.
	slot         chan struct{}
	currentMu    sync.RWMutex
	currentJobID string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewOrchestrator creates an orchestrator over store using collab.
func NewOrchestrator(store Store, collab Collaborators, opts Options) *Orchestrator {
	o := &Orchestrator{
		store:        store,
		collab:       collab,
		notifier:     opts.Notifier,
		pollInterval: opts.PollInterval,
		itemDelay:    opts.ItemDelay,
		now:          opts.Now,
		sleep:        opts.Sleep,
		slot:         make(chan struct{}, 1),
	}
	if o.notifier == nil {
		o.notifier = discardNotifier{}
	}
	if o.pollInterval <= 0 {
		o.pollInterval = defaultPollInterval
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.sleep == nil {
		o.sleep = sleepContext
	}
	return o
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Enqueue creates a queued job for projectID unless the project already has
// an active one, in which case that job is returned and created is false.
func (o *Orchestrator) Enqueue(ctx context.Context, projectID, title string, cfg RunConfig) (job *Job, created bool, err error) {
	if projectID == "" {
		return nil, false, errors.New("project id is required")
	}

	o.enqueueMu.Lock()
	defer o.enqueueMu.Unlock()

	existing, err := o.store.ActiveJob(ctx, projectID)
	if err != nil {
		return nil, false, fmt.Errorf("look up active job: %w", err)
	}
	if existing != nil {
		logger.Debug("Project already has an active job", "project_id", projectID, "job_id", existing.ID)
		return existing, false, nil
	}

	cfg.TotalChapters = ClampChapters(cfg.TotalChapters)
	if cfg.ImageSource == "" {
		cfg.ImageSource = ImagesGenerated
	}
	if !IsValidImageSource(cfg.ImageSource) {
		return nil, false, fmt.Errorf("%w: unknown image source %q", ErrInvalidConfig, cfg.ImageSource)
	}
	now := o.now()
	job = &Job{
		ID:             uuid.NewString(),
		ProjectID:      projectID,
		Title:          title,
		Status:         StatusQueued,
		CompletedSteps: []Step{},
		Config:         cfg,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := o.store.CreateJob(ctx, job); err != nil {
		return nil, false, fmt.Errorf("create job: %w", err)
	}

	logger.Info("Job queued", "job_id", job.ID, "project_id", projectID, "chapters", cfg.TotalChapters)
	o.publishStatus(job, "queued")
	return job, true, nil
}

// Requeue moves a failed job back to queued. Completed steps are kept so the
// next run resumes after the last checkpoint.
func (o *Orchestrator) Requeue(ctx context.Context, id string) (*Job, error) {
	o.enqueueMu.Lock()
	defer o.enqueueMu.Unlock()

	job, err := o.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	switch job.Status {
	case StatusFailed:
	case StatusCompleted:
		return nil, fmt.Errorf("%w: %s", ErrJobCompleted, id)
	default:
		return nil, jobActiveError(id, job.Status)
	}

	active, err := o.store.ActiveJob(ctx, job.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("look up active job: %w", err)
	}
	if active != nil {
		return nil, jobActiveError(active.ID, active.Status)
	}

	job, err = o.store.UpdateJob(ctx, id, Patch{
		Status: ptr(StatusQueued),
		Error:  ptr(""),
	})
	if err != nil {
		return nil, fmt.Errorf("requeue job: %w", err)
	}

	logger.Info("Job requeued", "job_id", id, "completed_steps", len(job.CompletedSteps))
	o.publishStatus(job, "queued for retry")
	return job, nil
}

// GetJob returns a job by id.
func (o *Orchestrator) GetJob(ctx context.Context, id string) (*Job, error) {
	return o.store.GetJob(ctx, id)
}

// LatestJob returns the newest job of a project, or nil.
func (o *Orchestrator) LatestJob(ctx context.Context, projectID string) (*Job, error) {
	return o.store.LatestJob(ctx, projectID)
}

// CurrentJob returns the id of the job being processed, or "".
func (o *Orchestrator) CurrentJob() string {
	o.currentMu.RLock()
	defer o.currentMu.RUnlock()
	return o.currentJobID
}

// Processing reports whether a job holds the slot.
func (o *Orchestrator) Processing() bool {
	return len(o.slot) > 0
}

// Start launches the poll loop.
func (o *Orchestrator) Start(parentCtx context.Context) {
	o.ctx, o.cancel = context.WithCancel(parentCtx)
	o.wg.Add(1)

	go o.run()
}

// Stop cancels the loop and waits for it. A job interrupted by Stop stays
// running in the store and is reset to queued on the next startup.
func (o *Orchestrator) Stop() {
	if o.cancel == nil {
		return
	}
	o.cancel()
	o.wg.Wait()
}

func (o *Orchestrator) run() {
	defer o.wg.Done()

	for {
		select {
		case <-o.ctx.Done():
			return
		default:
			processed, err := o.ProcessNext(o.ctx)
			if err != nil && o.ctx.Err() == nil {
				logger.Error("Failed to process job queue", "error", err)
			}
			if processed {
				continue
			}

			select {
			case <-o.ctx.Done():
				return
			case <-time.After(o.pollInterval):
				continue
			}
		}
	}
}

// ProcessNext runs the oldest queued job if the slot is free. It reports
// whether a job was picked up. Pipeline failures are recorded on the job and
// are not returned. A job that could not be marked running is not counted
// as picked up and its error is returned, so the loop backs off.
func (o *Orchestrator) ProcessNext(ctx context.Context) (bool, error) {
	select {
	case o.slot <- struct{}{}:
	default:
		return false, nil
	}
	defer func() { <-o.slot }()

	queued, err := o.store.ListQueued(ctx)
	if err != nil {
		return false, fmt.Errorf("list queued jobs: %w", err)
	}
	if len(queued) == 0 {
		return false, nil
	}

	if err := o.process(ctx, queued[0]); err != nil {
		if errors.Is(err, ErrJobNotStarted) {
			return false, err
		}
		logger.Debug("Job did not complete", "job_id", queued[0].ID, "error", err)
	}
	return true, nil
}

// ProcessJob runs job through every step it has not completed, waiting for
// the slot if another job is processing. A completed job is left untouched.
func (o *Orchestrator) ProcessJob(ctx context.Context, job *Job) error {
	select {
	case o.slot <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-o.slot }()

	return o.process(ctx, job)
}

func (o *Orchestrator) process(ctx context.Context, job *Job) error {
	if job.IsTerminal() {
		logger.Debug("Skipping terminal job", "job_id", job.ID, "status", job.Status)
		return nil
	}

	o.setCurrent(job.ID)
	defer o.setCurrent("")

	state, err := DecodeState(job.StateData)
	if err != nil {
		logger.Warn("Discarding unreadable job state", "job_id", job.ID, "error", err)
	}

	running, err := o.store.UpdateJob(ctx, job.ID, Patch{
		Status:    ptr(StatusRunning),
		StartedAt: ptr(o.now()),
		Error:     ptr(""),
	})
	if err != nil {
		return fmt.Errorf("%w: mark job %s running: %w", ErrJobNotStarted, job.ID, err)
	}
	job = running
	logger.Info("Job started", "job_id", job.ID, "project_id", job.ProjectID, "completed_steps", len(job.CompletedSteps))
	o.publishStatus(job, "started")

	r := &run{o: o, job: job, state: state}

	for _, spec := range stepTable {
		if job.HasCompleted(spec.Step) {
			logger.Debug("Skipping completed step", "job_id", job.ID, "step", spec.Step)
			continue
		}

		updated, err := o.store.UpdateJob(ctx, job.ID, Patch{CurrentStep: ptr(spec.Step)})
		if err != nil {
			return o.interruptOrFail(ctx, job, spec.Step, fmt.Errorf("record current step: %w", err))
		}
		job = updated
		r.job = job
		o.publishProgress(job)

		started := o.now()
		r.report = newStepReport(spec.Step, started)
		state.Reports[spec.Step] = r.report

		logger.Info("Step started", "job_id", job.ID, "step", spec.Step)
		if err := spec.run(ctx, r); err != nil {
			return o.interruptOrFail(ctx, r.job, spec.Step, err)
		}
		r.report.FinishedAt = o.now()

		data, err := state.Encode()
		if err != nil {
			return o.interruptOrFail(ctx, r.job, spec.Step, fmt.Errorf("encode state: %w", err))
		}
		completed := append(append([]Step(nil), r.job.CompletedSteps...), spec.Step)
		updated, err = o.store.UpdateJob(ctx, job.ID, Patch{
			StateData:      data,
			CompletedSteps: completed,
			Progress:       ptr(max(r.job.Progress, spec.Progress)),
		})
		if err != nil {
			return o.interruptOrFail(ctx, r.job, spec.Step, fmt.Errorf("checkpoint: %w", err))
		}
		job = updated
		r.job = job

		ok, skipped, failed := r.report.Counts()
		logger.Info("Step completed", "job_id", job.ID, "step", spec.Step, "progress", job.Progress,
			"items_ok", ok, "items_skipped", skipped, "items_failed", failed,
			"elapsed", o.now().Sub(started).Round(time.Millisecond))
		o.publishProgress(job)
	}

	job, err = o.store.UpdateJob(ctx, job.ID, Patch{
		Status:      ptr(StatusCompleted),
		Progress:    ptr(100),
		CompletedAt: ptr(o.now()),
	})
	if err != nil {
		return fmt.Errorf("mark job completed: %w", err)
	}
	logger.Info("Job completed", "job_id", job.ID, "project_id", job.ProjectID,
		"images", len(state.Images), "audio", len(state.Audio))
	o.publishStatus(job, "completed")
	return nil
}

// interruptOrFail marks the job failed, unless ctx was cancelled, in which
// case the job stays running for crash recovery to pick up.
func (o *Orchestrator) interruptOrFail(ctx context.Context, job *Job, step Step, cause error) error {
	if ctx.Err() != nil {
		logger.Info("Job interrupted by shutdown", "job_id", job.ID, "step", step)
		return ctx.Err()
	}

	stepErr := &StepError{Step: step, Err: cause}
	logger.Error("Job failed", "job_id", job.ID, "step", step, "error", cause)

	failed, err := o.store.UpdateJob(context.WithoutCancel(ctx), job.ID, Patch{
		Status:      ptr(StatusFailed),
		Error:       ptr(stepErr.Error()),
		CompletedAt: ptr(o.now()),
	})
	if err != nil {
		logger.Warn("Failed to persist job failure", "job_id", job.ID, "error", err)
		failed = job.Copy()
		failed.Status = StatusFailed
		failed.Error = stepErr.Error()
	}
	o.publishStatus(failed, "failed")
	return stepErr
}

func (o *Orchestrator) setCurrent(id string) {
	o.currentMu.Lock()
	o.currentJobID = id
	o.currentMu.Unlock()
}

func statusPayload(job *Job, msg string) events.JobStatus {
	steps := make([]string, 0, len(job.CompletedSteps))
	for _, s := range job.CompletedSteps {
		steps = append(steps, s.String())
	}
	var current string
	if job.CurrentStep.Valid() {
		current = job.CurrentStep.String()
	}
	return events.JobStatus{
		JobID:          job.ID,
		Status:         string(job.Status),
		CurrentStep:    current,
		CompletedSteps: steps,
		Progress:       job.Progress,
		Error:          job.Error,
		Message:        msg,
	}
}

func (o *Orchestrator) publishStatus(job *Job, msg string) {
	o.notifier.Publish(events.Event{
		Type:      events.TypeJobStatus,
		ProjectID: job.ProjectID,
		Data:      statusPayload(job, msg),
		Timestamp: o.now(),
	})
}

func (o *Orchestrator) publishProgress(job *Job) {
	o.notifier.Publish(events.Event{
		Type:      events.TypeProgressUpdate,
		ProjectID: job.ProjectID,
		Data:      statusPayload(job, ""),
		Timestamp: o.now(),
	})
}
