package runtrack

import "time"

// RunState is a stored run status. Exactly these four values are ever
// written to disk.
type RunState string

const (
	StateActive    RunState = "ACTIVE"
	StateDone      RunState = "DONE"
	StateCrashed   RunState = "CRASHED"
	StateCancelled RunState = "CANCELLED"
)

// Terminal reports whether the state admits no further transitions.
func (s RunState) Terminal() bool {
	switch s {
	case StateDone, StateCrashed, StateCancelled:
		return true
	}
	return false
}

// Meta is the immutable part of a run record, captured once at start.
type Meta struct {
	RunID       string    `json:"run_id"`
	TaskType    string    `json:"task_type"`
	Description string    `json:"description"`
	StartedAt   time.Time `json:"started_at"`

	// Version-control snapshot at start time. "unknown" when the
	// working directory is not a repository.
	GitHash   string `json:"git_hash"`
	GitBranch string `json:"git_branch"`

	SessionID   string `json:"session_id,omitempty"`
	ParentRunID string `json:"parent_run_id,omitempty"`
}

// Status is the mutable part of a run record.
type Status struct {
	Status        RunState   `json:"status"`
	Progress      int        `json:"progress"`
	LastHeartbeat time.Time  `json:"last_heartbeat"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	Error         string     `json:"error,omitempty"`
	OutputPath    string     `json:"output_path,omitempty"`
	Artifacts     []string   `json:"artifacts,omitempty"`
}

// StartOptions carries the optional fields of Tracker.Start.
type StartOptions struct {
	// ParentRunID links a sub-task run to the run that spawned it.
	ParentRunID string

	// SessionID correlates the run with an agent session.
	SessionID string
}

// StatusUpdate merges into a run's mutable state. Nil fields are left
// unchanged.
type StatusUpdate struct {
	Status   *RunState
	Progress *int
	Error    *string
}
