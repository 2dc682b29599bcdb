// Package fallback implements the persistence-fallback protocol: when the
// primary store cannot be reached, a self-contained summary of the workflow
// instance is written to a secondary blob store so that nothing is lost.
package fallback

import (
	"time"

	"github.com/nexus-link/durable/activity"
	"github.com/nexus-link/durable/id"
	"github.com/nexus-link/durable/workflow"
)

// Summary is a denormalized snapshot of a workflow instance and its
// activity instances.
type Summary struct {
	WorkflowInstanceID id.ID                `json:"workflow_instance_id" msgpack:"workflow_instance_id"`
	InstanceStartedAt  time.Time            `json:"instance_started_at" msgpack:"instance_started_at"`
	Form               *workflow.Form       `json:"form" msgpack:"form"`
	Version            *workflow.Version    `json:"version" msgpack:"version"`
	Instance           *workflow.Instance   `json:"instance" msgpack:"instance"`
	ActivityInstances  []*activity.Instance `json:"activity_instances" msgpack:"activity_instances"`
	// BaseEtag is the Etag of the primary instance row the summary builds
	// on; empty when the row was never written. A summary whose BaseEtag no
	// longer matches the primary row is stale.
	BaseEtag  string    `json:"base_etag" msgpack:"base_etag"`
	WrittenAt time.Time `json:"written_at" msgpack:"written_at"`
}

// Path returns the blob path of the summary of an instance.
func Path(instanceID id.ID, startedAt time.Time) string {
	return "workflow-summaries/" + startedAt.UTC().Format("2006/01/02") + "/" + instanceID.String()
}

// IsStale reports whether s was superseded by a later write of the primary
// row. A missing primary row never supersedes a summary.
func (s *Summary) IsStale(primary *workflow.Instance) bool {
	if primary == nil {
		return false
	}
	return primary.Etag != s.BaseEtag
}
