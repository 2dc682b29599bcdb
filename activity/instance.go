package activity

import (
	"strconv"
	"time"

	"github.com/nexus-link/durable"
	"github.com/nexus-link/durable/id"
)

// State represents the lifecycle state of an activity instance.
type State string

const (
	// StateWaiting means the activity has not started, or was reset.
	StateWaiting State = "waiting"
	// StateExecuting means the activity is running or waiting on an
	// external asynchronous call.
	StateExecuting State = "executing"
	// StateSuccess means ResultAsJSON holds the memoized result.
	StateSuccess State = "success"
	// StateFailed means the activity failed; see the exception fields.
	StateFailed State = "failed"
)

// Key is the memoization key of an activity instance.
type Key struct {
	WorkflowInstanceID       id.ID
	ActivityVersionID        id.ID
	ParentActivityInstanceID id.ID
	Iteration                int
}

// String returns a stable string form usable as a map key.
func (k Key) String() string {
	return k.WorkflowInstanceID.String() + "/" +
		k.ActivityVersionID.String() + "/" +
		k.ParentActivityInstanceID.String() + "/" +
		strconv.Itoa(k.Iteration)
}

// Instance is one execution record of an activity within a workflow instance.
type Instance struct {
	ID                        id.ID             `json:"id"`
	WorkflowInstanceID        id.ID             `json:"workflow_instance_id"`
	ActivityVersionID         id.ID             `json:"activity_version_id"`
	ParentActivityInstanceID  id.ID             `json:"parent_activity_instance_id,omitempty"`
	Iteration                 int               `json:"iteration"`
	ParentIteration           int               `json:"parent_iteration"`
	State                     State             `json:"state"`
	ResultAsJSON              []byte            `json:"result_as_json,omitempty"`
	ContextDictionary         map[string]string `json:"context_dictionary,omitempty"`
	ExceptionCategory         durable.Category  `json:"exception_category,omitempty"`
	ExceptionTechnicalMessage string            `json:"exception_technical_message,omitempty"`
	ExceptionFriendlyMessage  string            `json:"exception_friendly_message,omitempty"`
	AsyncRequestID            string            `json:"async_request_id,omitempty"`
	ExceptionAlertHandled     *bool             `json:"exception_alert_handled,omitempty"`
	Attempts                  int               `json:"attempts"`
	StartedAt                 time.Time         `json:"started_at"`
	FinishedAt                *time.Time        `json:"finished_at,omitempty"`
	Etag                      string            `json:"etag"`
}

// Key returns the memoization key of the instance.
func (i *Instance) Key() Key {
	return Key{
		WorkflowInstanceID:       i.WorkflowInstanceID,
		ActivityVersionID:        i.ActivityVersionID,
		ParentActivityInstanceID: i.ParentActivityInstanceID,
		Iteration:                i.Iteration,
	}
}

// Clone returns a deep copy of the instance.
func (i *Instance) Clone() *Instance {
	cp := *i
	if i.ResultAsJSON != nil {
		cp.ResultAsJSON = append([]byte(nil), i.ResultAsJSON...)
	}
	if i.ContextDictionary != nil {
		cp.ContextDictionary = make(map[string]string, len(i.ContextDictionary))
		for k, v := range i.ContextDictionary {
			cp.ContextDictionary[k] = v
		}
	}
	if i.FinishedAt != nil {
		t := *i.FinishedAt
		cp.FinishedAt = &t
	}
	if i.ExceptionAlertHandled != nil {
		b := *i.ExceptionAlertHandled
		cp.ExceptionAlertHandled = &b
	}
	return &cp
}

// Failure returns the recorded failure of a Failed instance as an error.
func (i *Instance) Failure() *durable.Error {
	e := durable.ActivityFailed(i.ExceptionCategory, i.ExceptionTechnicalMessage, i.ExceptionFriendlyMessage)
	e.ActivityInstanceID = i.ID
	return e
}
