package asyncreq

import (
	"time"

	"github.com/nexus-link/durable/id"
)

// State represents the lifecycle state of a re-entry request.
type State string

const (
	// StatePending means the request waits for RunAt.
	StatePending State = "pending"
	// StateRunning means a pool worker is re-entering the instance.
	StateRunning State = "running"
	// StateFailed means re-entry failed MaxAttempts times; operators must
	// intervene.
	StateFailed State = "failed"
)

// Request is a parked re-entry of a workflow instance.
type Request struct {
	ID                 id.ID     `json:"id"`
	WorkflowInstanceID id.ID     `json:"workflow_instance_id"`
	State              State     `json:"state"`
	RunAt              time.Time `json:"run_at"`
	Attempts           int       `json:"attempts"`
	LastError          string    `json:"last_error,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}
