// Package store persists generation jobs in SQLite.
package store

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/reelsmith/reelsmith/internal/jobs"
	"github.com/reelsmith/reelsmith/internal/logger"
)

// DBFileName is the database file created inside the data directory.
const DBFileName = "reelsmith.db"

var _ jobs.Store = (*SQLiteStore)(nil)

// GetDBPath returns the database path for a data directory.
func GetDBPath(dataDir string) string {
	return filepath.Join(dataDir, DBFileName)
}

// InitStore opens the database at dbPath and resets jobs left running by a
// previous process so the orchestrator picks them up again.
func InitStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	// Reset any running jobs (crash recovery)
	count, err := store.ResetRunningJobs(ctx)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("reset running jobs: %w", err)
	}
	if count > 0 {
		logger.Info("Reset interrupted jobs to queued", "count", count)
	}

	return store, nil
}
