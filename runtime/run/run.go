package run

import "time"

// Status describes where a run is in its lifecycle.
type Status string

const (
	StatusIdle             Status = "idle"
	StatusStarting         Status = "starting"
	StatusRunning          Status = "running"
	StatusAwaitingApproval Status = "awaiting_approval"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
	StatusRejected         Status = "rejected"
	StatusStopped          Status = "stopped"
	StatusInterrupted      Status = "interrupted"
)

// IsTerminal reports whether no further events can move the run.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusRejected, StatusStopped, StatusInterrupted:
		return true
	}
	return false
}

// Run represents one execution instance of a workflow plan. The orchestrator
// owns the lifecycle; viewers only ever see copies.
type Run struct {
	ID          string    `json:"run_id"`
	WorkflowID  string    `json:"workflow_id"`
	Status      Status    `json:"status"`
	StreamToken string    `json:"stream_token,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Clone returns a value copy of the run.
func (r *Run) Clone() *Run {
	if r == nil {
		return nil
	}
	ret := *r
	return &ret
}
