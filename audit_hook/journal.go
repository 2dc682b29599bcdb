package audithook

import (
	"context"

	"github.com/nexus-link/durable/journal"
)

// JournalRecorder returns a Recorder that appends each event to the
// journal of the workflow instance it concerns. Events without an
// instance, such as maintenance runs, are dropped.
func JournalRecorder(w *journal.Writer) Recorder {
	return RecorderFunc(func(ctx context.Context, evt *AuditEvent) error {
		if evt.WorkflowInstanceID.IsNil() {
			return nil
		}
		w.Write(ctx, evt.WorkflowInstanceID, evt.ActivityInstanceID, journalSeverity(evt.Severity), evt.Action, evt.Metadata)
		return nil
	})
}

func journalSeverity(s string) journal.Severity {
	switch s {
	case SeverityCritical:
		return journal.SeverityError
	case SeverityWarning:
		return journal.SeverityWarning
	default:
		return journal.SeverityInformation
	}
}
