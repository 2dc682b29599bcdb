package journal

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nexus-link/durable/id"
)

// Writer appends entries at or above a threshold. Journal writes are best
// effort: a failing store is reported to the process logger and never to
// the workflow.
type Writer struct {
	store     Store
	threshold Severity
	logger    *slog.Logger
	now       func() time.Time
}

// NewWriter returns a Writer. A nil store yields a Writer that only
// forwards to logger.
func NewWriter(store Store, threshold Severity, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{store: store, threshold: threshold, logger: logger, now: time.Now}
}

// Write records message for the given workflow and (optionally) activity.
// data is marshalled to JSON when non-nil.
func (w *Writer) Write(ctx context.Context, workflowInstanceID, activityInstanceID id.ID, sev Severity, message string, data any) {
	if w == nil || sev < w.threshold {
		return
	}

	entry := &Entry{
		ID:                 id.NewLogID(),
		WorkflowInstanceID: workflowInstanceID,
		ActivityInstanceID: activityInstanceID,
		Severity:           sev,
		Message:            message,
		TimeStamp:          w.now().UTC(),
	}
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			w.logger.Warn("journal: data not serializable",
				slog.String("workflow_instance_id", workflowInstanceID.String()),
				slog.String("error", err.Error()),
			)
		} else {
			entry.Data = b
		}
	}

	if w.store == nil {
		return
	}
	if err := w.store.CreateLog(ctx, entry); err != nil {
		w.logger.Warn("journal: write failed",
			slog.String("workflow_instance_id", workflowInstanceID.String()),
			slog.String("message", message),
			slog.String("error", err.Error()),
		)
	}
}
