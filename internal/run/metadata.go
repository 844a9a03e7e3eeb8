// Package run models the lifecycle of a single agent run: its metadata
// document, status state machine, recovery (janitor) rules, and the
// RunResult document emitted on the CLI boundary.
package run

// Status is the single source of truth for whether a run is resumable.
type Status string

const (
	StatusRunning     Status = "RUNNING"
	StatusWaiting     Status = "WAITING_FOR_INPUT"
	StatusInterrupted Status = "INTERRUPTED"
	StatusCompleted   Status = "COMPLETED"
	StatusFailed      Status = "FAILED"
)

// Resumable reports whether a run in this status can be continued without
// supplying a new task message. COMPLETED and FAILED runs can also be
// continued, but only with an explicit message (extension / retry).
func (s Status) Resumable() bool {
	return s == StatusWaiting || s == StatusInterrupted
}

// Terminal reports whether the run has finished executing.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusInterrupted
}

// Metadata is the per-run JSON metadata document. It is written atomically
// (temp file + rename) by the run store so concurrent readers never observe
// a partial state.
type Metadata struct {
	RunID               string `json:"run_id"`
	StartTime           string `json:"start_time"`
	EndTime             string `json:"end_time,omitempty"`
	AgentRef            string `json:"agent_ref"`
	Task                string `json:"task"`
	Status              Status `json:"status"`
	IterationsCompleted int    `json:"iterations_completed"`
	Hostname            string `json:"hostname"`
	PID                 int    `json:"pid"`
}
