package report

import (
	"context"
	"log/slog"
	"time"

	"github.com/ayush/deep-research-agent/internal/models"
)

// ReportStore is the persistence surface the lifecycle needs.
type ReportStore interface {
	InsertReport(ctx context.Context, r *models.Report) (string, error)
	GetReport(ctx context.Context, id string) (*models.Report, error)
	ListReports(ctx context.Context, userID, tenantID, status string, page, pageSize int64) ([]models.Report, int64, error)
	UpdateReportStep(ctx context.Context, id, step string, state models.StepState) (int64, error)
	SetReportProgress(ctx context.Context, id string, p models.Progress) (int64, error)
	SetReportStatus(ctx context.Context, id, status string) (int64, error)
	SetReportLocked(ctx context.Context, id string, locked bool) (int64, error)
	SetReportTitle(ctx context.Context, id, title, message string) (int64, error)
	SetReportSummary(ctx context.Context, id, summary string) (int64, error)
	SetReportFinalCompleted(ctx context.Context, id string, completed bool) (int64, error)
	SetReportTemplate(ctx context.Context, id, templateID string, isReplace bool) (int64, error)
	DeleteReport(ctx context.Context, id string) (int64, error)
}

// ReportLifecycle owns the Report aggregate: creation, per-step status
// transitions, and progress derivation.
type ReportLifecycle struct {
	store  ReportStore
	logger *slog.Logger
}

func NewReportLifecycle(store ReportStore, logger *slog.Logger) *ReportLifecycle {
	return &ReportLifecycle{store: store, logger: logger.With("component", "lifecycle")}
}

// Create inserts a new report with every step pending.
func (l *ReportLifecycle) Create(ctx context.Context, userID, tenantID, message string) (string, error) {
	return l.store.InsertReport(ctx, models.NewReport(userID, tenantID, message))
}

func (l *ReportLifecycle) Get(ctx context.Context, id string) (*models.Report, error) {
	r, err := l.store.GetReport(ctx, id)
	if err != nil {
		return nil, ErrReportNotFound
	}
	return r, nil
}

func (l *ReportLifecycle) List(ctx context.Context, userID, tenantID, status string, page, pageSize int64) ([]models.Report, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return l.store.ListReports(ctx, userID, tenantID, status, page, pageSize)
}

// StartStep marks a step processing. Returns false on an unknown report id;
// callers must check rather than rely on an error.
func (l *ReportLifecycle) StartStep(ctx context.Context, reportID, step string) bool {
	now := time.Now().UTC()
	state := models.StepState{Status: models.StatusProcessing, StartedAt: &now}
	matched, err := l.store.UpdateReportStep(ctx, reportID, step, state)
	if err != nil || matched == 0 {
		l.logger.Warn("start step on unknown report", "report_id", reportID, "step", step)
		return false
	}
	l.store.SetReportStatus(ctx, reportID, models.StatusProcessing)
	return true
}

// CompleteStep marks a step done, stores its result, and recomputes the
// report's progress. Idempotent: completing an already-completed step
// rewrites the same terminal state.
func (l *ReportLifecycle) CompleteStep(ctx context.Context, reportID, step string, result any, executionTime float64) bool {
	return l.finishStep(ctx, reportID, step, func(st *models.StepState) {
		st.Status = models.StatusCompleted
		st.Completed = true
		st.Result = result
		st.ExecutionTime = executionTime
	})
}

// FailStep marks a step failed with a queryable error message. Never
// panics or raises; a false return means the report id did not resolve.
func (l *ReportLifecycle) FailStep(ctx context.Context, reportID, step, errorMessage string, executionTime float64) bool {
	return l.finishStep(ctx, reportID, step, func(st *models.StepState) {
		st.Status = models.StatusFailed
		st.Completed = false
		st.ErrorMessage = errorMessage
		st.ExecutionTime = executionTime
	})
}

func (l *ReportLifecycle) finishStep(ctx context.Context, reportID, step string, mutate func(*models.StepState)) bool {
	r, err := l.store.GetReport(ctx, reportID)
	if err != nil {
		l.logger.Warn("finish step on unknown report", "report_id", reportID, "step", step)
		return false
	}

	now := time.Now().UTC()
	st := r.Steps[step]
	st.CompletedAt = &now
	mutate(&st)
	if _, err := l.store.UpdateReportStep(ctx, reportID, step, st); err != nil {
		l.logger.Error("update step failed", "report_id", reportID, "step", step, "error", err)
		return false
	}

	r.Steps[step] = st
	progress := computeProgress(r)
	if _, err := l.store.SetReportProgress(ctx, reportID, progress); err != nil {
		l.logger.Error("set progress failed", "report_id", reportID, "error", err)
		return false
	}
	return true
}

// computeProgress derives the progress snapshot from step completion flags.
// The denominator is the implicit "created" unit plus the four tracked
// steps; search and search_summary are folded into serp's slot. A
// template-backed plan counts double, which can push the percentage past
// 100: the template replaces independent outline work.
func computeProgress(r *models.Report) models.Progress {
	completed := 1
	failed := false
	for _, step := range models.TrackedSteps {
		st := r.Steps[step]
		if st.Status == models.StatusFailed {
			failed = true
		}
		if !st.Completed {
			continue
		}
		if step == models.StepPlan && r.TemplateID != "" {
			completed += 2
		} else {
			completed++
		}
	}

	p := models.Progress{
		CompletedSteps:     completed,
		TotalSteps:         models.TotalStepUnits,
		ProgressPercentage: float64(completed) / float64(models.TotalStepUnits) * 100,
	}
	switch {
	case failed:
		p.Status = models.StatusFailed
	case completed >= models.TotalStepUnits:
		p.Status = models.StatusCompleted
	case completed > 1:
		p.Status = models.StatusProcessing
	default:
		p.Status = models.StatusCreated
	}
	return p
}

// Lock toggles the report's locked flag.
func (l *ReportLifecycle) Lock(ctx context.Context, reportID string, locked bool) bool {
	matched, err := l.store.SetReportLocked(ctx, reportID, locked)
	return err == nil && matched > 0
}

// UpdateTitle sets the title and the topic message together.
func (l *ReportLifecycle) UpdateTitle(ctx context.Context, reportID, title, message string) error {
	matched, err := l.store.SetReportTitle(ctx, reportID, title, message)
	if err != nil || matched == 0 {
		return ErrReportNotFound
	}
	return nil
}

func (l *ReportLifecycle) SetSummary(ctx context.Context, reportID, summary string) error {
	matched, err := l.store.SetReportSummary(ctx, reportID, summary)
	if err != nil || matched == 0 {
		return ErrReportNotFound
	}
	return nil
}

// SetFinalCompleted writes the final-completion flag directly. Fetching the
// introduction resets it so a regenerated introduction re-arms the
// last-chapter check.
func (l *ReportLifecycle) SetFinalCompleted(ctx context.Context, reportID string, completed bool) error {
	matched, err := l.store.SetReportFinalCompleted(ctx, reportID, completed)
	if err != nil || matched == 0 {
		return ErrReportNotFound
	}
	return nil
}

// Delete removes the report document itself. Downstream records are the
// cascade deleter's job.
func (l *ReportLifecycle) Delete(ctx context.Context, reportID string) error {
	deleted, err := l.store.DeleteReport(ctx, reportID)
	if err != nil || deleted == 0 {
		return ErrReportNotFound
	}
	return nil
}

// SetTemplate attaches a template to the report. Template-backed reports
// earn the double plan-progress unit.
func (l *ReportLifecycle) SetTemplate(ctx context.Context, reportID, templateID string, isReplace bool) error {
	matched, err := l.store.SetReportTemplate(ctx, reportID, templateID, isReplace)
	if err != nil || matched == 0 {
		return ErrReportNotFound
	}
	return nil
}
