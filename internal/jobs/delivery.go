package jobs

import (
	"context"
	"log/slog"

	"github.com/Lllllllleong/labelflow/internal/models"
)

// Notifier hands a finished job to the delivery side and returns the
// hand-off reference, if any.
type Notifier interface {
	Notify(ctx context.Context, res models.JobResult) (string, error)
}

// Deliver returns an Observer that notifies n once a job reaches a terminal
// status. A returned reference is stored on the job as its workflow
// execution ID, and the updated record is passed to then.
func Deliver(q *Queue, n Notifier, then ...Observer) Observer {
	return func(ctx context.Context, rec models.JobRecord) {
		if !models.Terminal(rec.Status) {
			return
		}
		ref, err := n.Notify(ctx, models.JobResultOf(rec))
		if err != nil {
			slog.Error("Failed to deliver job result", "jobId", rec.ID, "error", err)
			return
		}
		if ref == "" {
			return
		}
		if err := q.Update(rec.ID, func(r *models.JobRecord) { r.WorkflowExecutionID = ref }); err != nil {
			slog.Warn("Failed to record workflow execution", "jobId", rec.ID, "error", err)
			return
		}
		rec.WorkflowExecutionID = ref
		for _, o := range then {
			o(ctx, rec)
		}
	}
}
