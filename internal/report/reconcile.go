package report

import (
	"context"
	"log/slog"
	"time"

	"github.com/ayush/deep-research-agent/internal/models"
)

// CompletionReconciler is the supervisory backstop for streamed steps: the
// stream's own completion bookkeeping can be lost if the client drops the
// connection, so after a grace period the step is completed if it is still
// marked processing. Both paths go through the same idempotent
// CompleteStep, so whichever runs first wins harmlessly.
type CompletionReconciler struct {
	lifecycle *ReportLifecycle
	grace     time.Duration
	logger    *slog.Logger
}

func NewCompletionReconciler(lifecycle *ReportLifecycle, grace time.Duration, logger *slog.Logger) *CompletionReconciler {
	return &CompletionReconciler{
		lifecycle: lifecycle,
		grace:     grace,
		logger:    logger.With("component", "reconciler"),
	}
}

// Schedule arms a one-shot check for the step. The returned timer lets
// callers cancel the check when they complete the step themselves.
func (r *CompletionReconciler) Schedule(reportID, step string) *time.Timer {
	return time.AfterFunc(r.grace, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		rep, err := r.lifecycle.Get(ctx, reportID)
		if err != nil {
			r.logger.Warn("reconcile skipped", "report_id", reportID, "error", err)
			return
		}
		if rep.Steps[step].Status != models.StatusProcessing {
			return
		}
		if r.lifecycle.CompleteStep(ctx, reportID, step, nil, 0) {
			r.logger.Info("step reconciled to completed", "report_id", reportID, "step", step)
		}
	})
}
