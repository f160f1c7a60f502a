package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/reelsmith/reelsmith/internal/jobs"
	_ "modernc.org/sqlite"
)

const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS generation_jobs (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	current_step TEXT,
	completed_steps TEXT NOT NULL DEFAULT '[]',
	progress INTEGER NOT NULL DEFAULT 0,
	state_data BLOB,
	config_data TEXT NOT NULL DEFAULT '{}',
	error TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	started_at TEXT,
	completed_at TEXT
);

CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL,
	applied_at TEXT DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_generation_jobs_status_created ON generation_jobs(status, created_at);
CREATE INDEX IF NOT EXISTS idx_generation_jobs_project ON generation_jobs(project_id, created_at);
`

const jobColumns = `id, project_id, title, status, current_step, completed_steps, progress,
	state_data, config_data, error, created_at, updated_at, started_at, completed_at`

// SQLiteStore implements jobs.Store using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	mu   sync.RWMutex // Protects concurrent access
	path string
	now  func() time.Time
}

// NewSQLiteStore creates a new SQLite-backed store.
// The database file is created if it doesn't exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// Open database with WAL mode for better concurrency
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	var version int
	err = db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := db.Exec("INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			db.Close()
			return nil, fmt.Errorf("insert schema version: %w", err)
		}
	case err != nil:
		db.Close()
		return nil, fmt.Errorf("check schema version: %w", err)
	case version > schemaVersion:
		db.Close()
		return nil, fmt.Errorf("database schema version %d is newer than supported version %d", version, schemaVersion)
	}

	return &SQLiteStore{db: db, path: dbPath, now: time.Now}, nil
}

// CreateJob inserts a new job.
func (s *SQLiteStore) CreateJob(ctx context.Context, job *jobs.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	steps, err := json.Marshal(completedSteps(job.CompletedSteps))
	if err != nil {
		return fmt.Errorf("encode completed steps: %w", err)
	}
	cfg, err := json.Marshal(job.Config)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	now := s.now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO generation_jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		job.ID, job.ProjectID, job.Title, string(job.Status), nullStep(job.CurrentStep),
		string(steps), job.Progress, nullBytes(job.StateData), string(cfg), nullString(job.Error),
		formatTime(job.CreatedAt), formatTime(job.UpdatedAt),
		formatTimePtr(job.StartedAt), formatTimePtr(job.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*jobs.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.getJobLocked(ctx, id)
}

func (s *SQLiteStore) getJobLocked(ctx context.Context, id string) (*jobs.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM generation_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", jobs.ErrJobNotFound, id)
	}
	return job, err
}

// UpdateJob applies patch in a single statement and returns the stored job.
func (s *SQLiteStore) UpdateJob(ctx context.Context, id string, patch jobs.Patch) (*jobs.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sets := []string{"updated_at = ?"}
	args := []any{formatTime(s.now())}

	if patch.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*patch.Status))
	}
	if patch.CurrentStep != nil {
		sets = append(sets, "current_step = ?")
		args = append(args, nullStep(*patch.CurrentStep))
	}
	if patch.CompletedSteps != nil {
		steps, err := json.Marshal(completedSteps(patch.CompletedSteps))
		if err != nil {
			return nil, fmt.Errorf("encode completed steps: %w", err)
		}
		sets = append(sets, "completed_steps = ?")
		args = append(args, string(steps))
	}
	if patch.Progress != nil {
		sets = append(sets, "progress = ?")
		args = append(args, *patch.Progress)
	}
	if patch.StateData != nil {
		sets = append(sets, "state_data = ?")
		args = append(args, patch.StateData)
	}
	if patch.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, nullString(*patch.Error))
	}
	if patch.StartedAt != nil {
		sets = append(sets, "started_at = ?")
		args = append(args, formatTimePtr(*patch.StartedAt))
	}
	if patch.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, formatTimePtr(*patch.CompletedAt))
	}

	args = append(args, id)
	result, err := s.db.ExecContext(ctx,
		"UPDATE generation_jobs SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return nil, fmt.Errorf("update job: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return nil, fmt.Errorf("%w: %s", jobs.ErrJobNotFound, id)
	}

	return s.getJobLocked(ctx, id)
}

// ListQueued returns queued jobs in creation order.
func (s *SQLiteStore) ListQueued(ctx context.Context) ([]*jobs.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM generation_jobs
		WHERE status = ?
		ORDER BY created_at ASC, rowid ASC
	`, string(jobs.StatusQueued))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobList []*jobs.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobList = append(jobList, job)
	}

	return jobList, rows.Err()
}

// ActiveJob returns the oldest queued or running job of a project.
func (s *SQLiteStore) ActiveJob(ctx context.Context, projectID string) (*jobs.Job, error) {
	return s.queryOne(ctx, `
		SELECT `+jobColumns+` FROM generation_jobs
		WHERE project_id = ? AND status IN (?, ?)
		ORDER BY created_at ASC, rowid ASC
		LIMIT 1
	`, projectID, string(jobs.StatusQueued), string(jobs.StatusRunning))
}

// LatestJob returns the newest job of a project.
func (s *SQLiteStore) LatestJob(ctx context.Context, projectID string) (*jobs.Job, error) {
	return s.queryOne(ctx, `
		SELECT `+jobColumns+` FROM generation_jobs
		WHERE project_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1
	`, projectID)
}

func (s *SQLiteStore) queryOne(ctx context.Context, query string, args ...any) (*jobs.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, err := scanJob(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return job, err
}

// ResetRunningJobs resets all running jobs to queued. Completed steps and
// state are kept so the next run resumes from the last checkpoint.
func (s *SQLiteStore) ResetRunningJobs(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx,
		"UPDATE generation_jobs SET status = ?, updated_at = ? WHERE status = ?",
		string(jobs.StatusQueued), formatTime(s.now()), string(jobs.StatusRunning))
	if err != nil {
		return 0, err
	}

	count, err := result.RowsAffected()
	return int(count), err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// rowScanner is implemented by both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*jobs.Job, error) {
	var job jobs.Job
	var status, steps, cfg string
	var currentStep, errStr sql.NullString
	var createdAt, updatedAt, startedAt, completedAt sql.NullString
	var state []byte

	err := row.Scan(
		&job.ID, &job.ProjectID, &job.Title, &status, &currentStep, &steps, &job.Progress,
		&state, &cfg, &errStr, &createdAt, &updatedAt, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Status = jobs.Status(status)
	if currentStep.Valid {
		// An unknown name leaves the zero step.
		_ = job.CurrentStep.UnmarshalText([]byte(currentStep.String))
	}
	if err := json.Unmarshal([]byte(steps), &job.CompletedSteps); err != nil {
		return nil, fmt.Errorf("decode completed steps of %s: %w", job.ID, err)
	}
	if err := json.Unmarshal([]byte(cfg), &job.Config); err != nil {
		return nil, fmt.Errorf("decode config of %s: %w", job.ID, err)
	}
	job.StateData = state
	job.Error = errStr.String
	job.CreatedAt = parseTime(createdAt.String)
	job.UpdatedAt = parseTime(updatedAt.String)
	job.StartedAt = parseTime(startedAt.String)
	job.CompletedAt = parseTime(completedAt.String)

	return &job, nil
}

// Helper functions for SQL values

func completedSteps(steps []jobs.Step) []jobs.Step {
	if steps == nil {
		return []jobs.Step{}
	}
	return steps
}

func nullStep(step jobs.Step) any {
	if !step.Valid() {
		return nil
	}
	return step.String()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

// timeLayout is fixed width so text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
