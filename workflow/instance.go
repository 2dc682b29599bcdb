package workflow

import (
	"time"

	"github.com/nexus-link/durable/id"
)

// State represents the lifecycle state of a workflow instance.
type State string

const (
	// StateWaiting means the instance was created but no pass has started.
	StateWaiting State = "waiting"
	// StateExecuting means a replay pass is in progress or the instance is
	// parked waiting for re-entry.
	StateExecuting State = "executing"
	// StateSuccess means the workflow function returned; terminal.
	StateSuccess State = "success"
	// StateHalting means an activity failed and the halt is being persisted.
	StateHalting State = "halting"
	// StateHalted means execution is parked until an administrative retry.
	StateHalted State = "halted"
	// StateFailed means the workflow failed; terminal.
	StateFailed State = "failed"
	// StateCancelled means the workflow was cancelled; terminal.
	StateCancelled State = "cancelled"
)

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool {
	switch s {
	case StateSuccess, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// Instance is one execution of a workflow Version.
type Instance struct {
	ID                        id.ID      `json:"id"`
	VersionID                 id.ID      `json:"version_id"`
	Title                     string     `json:"title"`
	State                     State      `json:"state"`
	Input                     []byte     `json:"input,omitempty"`
	StartedAt                 time.Time  `json:"started_at"`
	FinishedAt                *time.Time `json:"finished_at,omitempty"`
	CancelledAt               *time.Time `json:"cancelled_at,omitempty"`
	ResultAsJSON              []byte     `json:"result_as_json,omitempty"`
	ExceptionFriendlyMessage  string     `json:"exception_friendly_message,omitempty"`
	ExceptionTechnicalMessage string     `json:"exception_technical_message,omitempty"`
	IsComplete                bool       `json:"is_complete"`
	Etag                      string     `json:"etag"`
}

// CancelRequested reports whether an administrative cancellation is
// pending for an instance that has not reached a terminal state yet.
func (i *Instance) CancelRequested() bool {
	return i.CancelledAt != nil && !i.State.IsTerminal()
}
