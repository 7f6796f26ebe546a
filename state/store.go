// Package state persists the training history of a save directory in a
// SQLite database, so it survives process restarts alongside checkpoints.
package state

import (
	"path/filepath"
	"time"
)

// RunStatus describes how a training run ended.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCanceled  RunStatus = "canceled"
)

// Run is one process invocation training a save directory.
type Run struct {
	ID          string
	StartEpoch  int
	TargetEpoch int
	Status      RunStatus
	StartedAt   time.Time
	CompletedAt *time.Time
	Error       string
}

// EpochRecord is one completed epoch's metrics.
type EpochRecord struct {
	Epoch      int
	RunID      string
	Steps      int
	Duration   time.Duration
	Metrics    map[string]float64
	RecordedAt time.Time
}

// HistoryFile is the database file inside a save directory.
const HistoryFile = "history.db"

// HistoryPath returns the history database path for savedir.
func HistoryPath(savedir string) string {
	return filepath.Join(savedir, HistoryFile)
}
