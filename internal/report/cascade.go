package report

import (
	"context"
	"log/slog"

	"github.com/ayush/deep-research-agent/internal/models"
)

// PipelineCollections is the full downstream set removed when a report is
// deleted.
var PipelineCollections = []string{
	models.ColPlan,
	models.ColPlanSplit,
	models.ColSerp,
	models.ColSerpTask,
	models.ColSearchResults,
	models.ColSearchSummary,
	models.ColFinal,
}

// CascadeStore is the persistence surface the deleter needs.
type CascadeStore interface {
	GetSplit(ctx context.Context, id string) (*models.ChapterSplit, error)
	GetSerpTask(ctx context.Context, id string) (*models.SerpTask, error)
	ListTaskIDsBySplit(ctx context.Context, splitID string) ([]string, error)
	DeleteSearchResultsByTask(ctx context.Context, taskID string) (int64, error)
	DeleteSearchResultsByTasks(ctx context.Context, taskIDs []string) (int64, error)
	DeleteSummariesByTask(ctx context.Context, taskID string) (int64, error)
	DeleteSummariesByTasks(ctx context.Context, taskIDs []string) (int64, error)
	DeleteSerpTasksBySplit(ctx context.Context, splitID string) (int64, error)
	DeleteSerpRecordsBySplit(ctx context.Context, splitID string) (int64, error)
	DeleteSerpTask(ctx context.Context, id string) (int64, error)
	DeleteFinalDraft(ctx context.Context, reportID, splitID string) (int64, error)
	DeleteByReportID(ctx context.Context, collection, reportID string) (int64, error)
}

// CascadeDeleter removes dependent downstream records when an upstream
// artifact is regenerated or a report is deleted. Stale derived data must
// never survive to be mistaken for current.
type CascadeDeleter struct {
	store  CascadeStore
	logger *slog.Logger
}

func NewCascadeDeleter(store CascadeStore, logger *slog.Logger) *CascadeDeleter {
	return &CascadeDeleter{store: store, logger: logger.With("component", "cascade")}
}

// DeleteByReport removes the report's records from each named collection.
// Best-effort per collection: one failure is logged and the rest proceed.
func (d *CascadeDeleter) DeleteByReport(ctx context.Context, reportID string, collections []string) map[string]int64 {
	counts := make(map[string]int64, len(collections))
	for _, col := range collections {
		n, err := d.store.DeleteByReportID(ctx, col, reportID)
		if err != nil {
			d.logger.Warn("cascade delete failed", "collection", col, "report_id", reportID, "error", err)
			continue
		}
		counts[col] = n
	}
	return counts
}

// DeleteBySplit removes everything derived from one chapter: the tasks'
// search data, the tasks, the SERP records, and the chapter's final draft.
func (d *CascadeDeleter) DeleteBySplit(ctx context.Context, splitID string) (map[string]int64, error) {
	counts := make(map[string]int64)

	taskIDs, err := d.store.ListTaskIDsBySplit(ctx, splitID)
	if err != nil {
		return counts, err
	}
	if len(taskIDs) > 0 {
		if n, err := d.store.DeleteSearchResultsByTasks(ctx, taskIDs); err == nil {
			counts[models.ColSearchResults] = n
		} else {
			d.logger.Warn("delete search results failed", "split_id", splitID, "error", err)
		}
		if n, err := d.store.DeleteSummariesByTasks(ctx, taskIDs); err == nil {
			counts[models.ColSearchSummary] = n
		} else {
			d.logger.Warn("delete summaries failed", "split_id", splitID, "error", err)
		}
	}
	if n, err := d.store.DeleteSerpTasksBySplit(ctx, splitID); err == nil {
		counts[models.ColSerpTask] = n
	} else {
		d.logger.Warn("delete tasks failed", "split_id", splitID, "error", err)
	}
	if n, err := d.store.DeleteSerpRecordsBySplit(ctx, splitID); err == nil {
		counts[models.ColSerp] = n
	} else {
		d.logger.Warn("delete serp records failed", "split_id", splitID, "error", err)
	}

	// The split may already be gone when invalidation runs after a
	// re-split; the chapter draft is only addressable while it exists.
	if split, err := d.store.GetSplit(ctx, splitID); err == nil {
		if n, err := d.store.DeleteFinalDraft(ctx, split.ReportID, splitID); err == nil {
			counts[models.ColFinal] = n
		}
	}
	return counts, nil
}

// DeleteByTask removes one task and its search data. Unlike the other
// cascades this errors when the task does not exist: callers address tasks
// individually and a dangling id is a caller bug.
func (d *CascadeDeleter) DeleteByTask(ctx context.Context, taskID string) (map[string]int64, error) {
	if _, err := d.store.GetSerpTask(ctx, taskID); err != nil {
		return nil, ErrTaskNotFound
	}

	counts := make(map[string]int64)
	if n, err := d.store.DeleteSearchResultsByTask(ctx, taskID); err == nil {
		counts[models.ColSearchResults] = n
	} else {
		d.logger.Warn("delete search results failed", "task_id", taskID, "error", err)
	}
	if n, err := d.store.DeleteSummariesByTask(ctx, taskID); err == nil {
		counts[models.ColSearchSummary] = n
	} else {
		d.logger.Warn("delete summaries failed", "task_id", taskID, "error", err)
	}
	if n, err := d.store.DeleteSerpTask(ctx, taskID); err == nil {
		counts[models.ColSerpTask] = n
	} else {
		d.logger.Warn("delete task failed", "task_id", taskID, "error", err)
	}
	return counts, nil
}
