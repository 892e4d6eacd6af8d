package domain

import "time"

// RunMode identifies which procedure selected the identifiers of a run.
type RunMode string

const (
	RunModeRange   RunMode = "range"
	RunModeIDs     RunMode = "ids"
	RunModeCatchUp RunMode = "catchup"
	RunModeForward RunMode = "forward"
	RunModeRetry   RunMode = "retry"
)

// RunStatus represents the status of a harvest run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// HarvestRun is the bookkeeping row for one invocation of the pipeline.
type HarvestRun struct {
	ID          string     `gorm:"type:text;primaryKey" json:"id"`
	Mode        RunMode    `gorm:"type:text;not null;index" json:"mode"`
	Status      RunStatus  `gorm:"type:text;default:running" json:"status"`
	StartID     int64      `json:"start_id,omitempty"`
	EndID       int64      `json:"end_id,omitempty"`
	TotalItems  int        `gorm:"default:0" json:"total_items"`
	Persisted   int        `gorm:"default:0" json:"persisted"`
	NotFound    int        `gorm:"default:0" json:"not_found"`
	Failed      int        `gorm:"default:0" json:"failed"`
	ErrorLog    string     `json:"error_log,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// TableName returns the database table name for HarvestRun.
func (HarvestRun) TableName() string {
	return "harvest_runs"
}

// FailureRecord is an identifier that exhausted retries without a
// conclusive not-found classification.
type FailureRecord struct {
	ProjectID int64  `json:"project_id"`
	Cause     string `json:"cause"`
}

// SyncWindow is the inclusive identifier range to re-check.
type SyncWindow struct {
	StartID int64 `json:"start_id"`
	EndID   int64 `json:"end_id"`
}

// IDs expands the window into the identifiers it covers.
func (w SyncWindow) IDs() []int64 {
	if w.EndID < w.StartID {
		return nil
	}
	ids := make([]int64, 0, w.EndID-w.StartID+1)
	for id := w.StartID; id <= w.EndID; id++ {
		ids = append(ids, id)
	}
	return ids
}
