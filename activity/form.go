package activity

import (
	"fmt"

	"github.com/nexus-link/durable/id"
)

// Type is the kind of activity.
type Type string

// Activity types.
const (
	TypeAction            Type = "action"
	TypeFunction          Type = "function"
	TypeForEachSequential Type = "foreach_sequential"
	TypeForEachParallel   Type = "foreach_parallel"
	TypeIf                Type = "if"
	TypeLock              Type = "lock"
	TypeThrottle          Type = "throttle"
	TypeSleep             Type = "sleep"
)

// FailUrgency decides what a failed activity does to its workflow.
type FailUrgency string

const (
	// UrgencyStopping halts the workflow. Default.
	UrgencyStopping FailUrgency = "stopping"
	// UrgencyCancelWorkflow fails the whole workflow.
	UrgencyCancelWorkflow FailUrgency = "cancel_workflow"
	// UrgencyHandleLater lets the workflow continue; the activity stays
	// flagged for attention.
	UrgencyHandleLater FailUrgency = "handle_later"
	// UrgencyIgnore discards the failure.
	UrgencyIgnore FailUrgency = "ignore"
)

// ParseFailUrgency converts a string into a FailUrgency.
func ParseFailUrgency(s string) (FailUrgency, error) {
	switch u := FailUrgency(s); u {
	case UrgencyStopping, UrgencyCancelWorkflow, UrgencyHandleLater, UrgencyIgnore:
		return u, nil
	case "":
		return UrgencyStopping, nil
	default:
		return "", fmt.Errorf("activity: unknown fail urgency %q", s)
	}
}

// Form is a versionless activity definition within a workflow form.
type Form struct {
	ID             id.ID  `json:"id"`
	WorkflowFormID id.ID  `json:"workflow_form_id"`
	Type           Type   `json:"type"`
	Title          string `json:"title"`
}

// Version places an activity Form inside a workflow version.
type Version struct {
	ID                      id.ID       `json:"id"`
	WorkflowVersionID       id.ID       `json:"workflow_version_id"`
	ActivityFormID          id.ID       `json:"activity_form_id"`
	Position                int         `json:"position"`
	ParentActivityVersionID id.ID       `json:"parent_activity_version_id,omitempty"`
	FailUrgency             FailUrgency `json:"fail_urgency"`
}
