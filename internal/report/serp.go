package report

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/ayush/deep-research-agent/internal/llm"
	"github.com/ayush/deep-research-agent/internal/models"
)

// Completer is the blocking LLM surface used for structured generation.
type Completer interface {
	Complete(ctx context.Context, step, prompt string) (*llm.Response, error)
}

// SerpStore is the persistence surface the fan-out needs.
type SerpStore interface {
	GetSplit(ctx context.Context, id string) (*models.ChapterSplit, error)
	LatestPlanByReport(ctx context.Context, reportID string) (*models.PlanRecord, error)
	InsertSerpRecord(ctx context.Context, r *models.SerpRecord) (string, error)
	SetSerpRecordStatus(ctx context.Context, id, status string, response any, errorMessage string) (int64, error)
	DeleteSerpRecordsBySplit(ctx context.Context, splitID string) (int64, error)
	InsertSerpTasks(ctx context.Context, tasks []models.SerpTask) ([]models.SerpTask, error)
	DeleteSerpTasksBySplit(ctx context.Context, splitID string) (int64, error)
	ListTaskIDsBySplit(ctx context.Context, splitID string) ([]string, error)
	DeleteSearchResultsByTasks(ctx context.Context, taskIDs []string) (int64, error)
	DeleteSummariesByTasks(ctx context.Context, taskIDs []string) (int64, error)
	DeleteFinalByReport(ctx context.Context, reportID string) (int64, error)
}

// SerpResult is one generation outcome: the record and its child tasks.
type SerpResult struct {
	Record *models.SerpRecord `json:"record"`
	Tasks  []models.SerpTask  `json:"tasks"`
}

// SerpTaskFanout turns one chapter into a batch of search tasks via the
// query-generation model. Each generation replaces the chapter's previous
// SERP set entirely.
type SerpTaskFanout struct {
	store  SerpStore
	llm    Completer
	logger *slog.Logger
}

func NewSerpTaskFanout(store SerpStore, completer Completer, logger *slog.Logger) *SerpTaskFanout {
	return &SerpTaskFanout{store: store, llm: completer, logger: logger.With("component", "serp")}
}

const serpPromptTemplate = `You are planning web research for one chapter of a report.

Full report outline:
%s

Chapter to research:
%s

Produce 5-10 search queries covering this chapter. Respond with only a JSON
array of objects shaped {"query": "...", "researchGoal": "..."}.`

// Generate fans one chapter out into search tasks. A parse failure is not
// an error: the record is marked failed and zero tasks are created. LLM
// transport failures are surfaced after the failure is recorded.
func (f *SerpTaskFanout) Generate(ctx context.Context, reportID, splitID string) (*SerpResult, error) {
	split, err := f.store.GetSplit(ctx, splitID)
	if err != nil {
		return nil, ErrSplitNotFound
	}
	if split.ReportID == "" {
		return nil, fmt.Errorf("chapter split %s carries no report id", splitID)
	}
	if reportID == "" {
		reportID = split.ReportID
	}

	plan, err := f.store.LatestPlanByReport(ctx, reportID)
	if err != nil {
		return nil, ErrPlanNotFound
	}

	f.deleteExisting(ctx, reportID, splitID)

	record := &models.SerpRecord{
		ReportID:    reportID,
		SplitID:     splitID,
		Query:       split.SectionTitle,
		PlanText:    plan.Content,
		ChapterText: split.Content,
		OnlyKey:     uuid.NewString(),
		Status:      models.StatusProcessing,
	}
	recordID, err := f.store.InsertSerpRecord(ctx, record)
	if err != nil {
		return nil, err
	}

	prompt := fmt.Sprintf(serpPromptTemplate, plan.Content, split.Content)
	resp, err := f.llm.Complete(ctx, models.StepSerp, prompt)
	if err != nil {
		f.store.SetSerpRecordStatus(ctx, recordID, models.StatusFailed, nil, err.Error())
		return nil, fmt.Errorf("%w: serp generation: %v", ErrUpstream, err)
	}

	queries := llm.ExtractQueries(resp.Content)
	if len(queries) == 0 {
		const msg = "no queries extracted from response"
		f.logger.Warn(msg, "split_id", splitID)
		f.store.SetSerpRecordStatus(ctx, recordID, models.StatusFailed, resp, msg)
		record.Status = models.StatusFailed
		record.ErrorMessage = msg
		return &SerpResult{Record: record}, nil
	}

	tasks := make([]models.SerpTask, len(queries))
	for i, q := range queries {
		tasks[i] = models.SerpTask{
			SerpID:       recordID,
			ReportID:     reportID,
			SplitID:      splitID,
			Query:        q.Query,
			ResearchGoal: q.ResearchGoal,
			SearchType:   models.SearchTypeOnline,
			SearchState:  models.SearchStateUnprocessed,
			TaskIndex:    i,
		}
	}
	inserted, err := f.store.InsertSerpTasks(ctx, tasks)
	if err != nil {
		f.store.SetSerpRecordStatus(ctx, recordID, models.StatusFailed, resp, err.Error())
		return nil, err
	}

	f.store.SetSerpRecordStatus(ctx, recordID, models.StatusCompleted, resp, "")
	record.Status = models.StatusCompleted
	record.Response = resp
	f.logger.Info("serp tasks created", "split_id", splitID, "count", len(inserted))
	return &SerpResult{Record: record, Tasks: inserted}, nil
}

// deleteExisting clears the chapter's prior SERP set and every downstream
// artifact derived from it, so exactly one live generation exists per
// chapter. Regenerating queries also invalidates the report's final drafts.
func (f *SerpTaskFanout) deleteExisting(ctx context.Context, reportID, splitID string) {
	taskIDs, err := f.store.ListTaskIDsBySplit(ctx, splitID)
	if err != nil {
		f.logger.Warn("resolve prior tasks failed", "split_id", splitID, "error", err)
	}
	if len(taskIDs) > 0 {
		if _, err := f.store.DeleteSearchResultsByTasks(ctx, taskIDs); err != nil {
			f.logger.Warn("delete prior search results failed", "split_id", splitID, "error", err)
		}
		if _, err := f.store.DeleteSummariesByTasks(ctx, taskIDs); err != nil {
			f.logger.Warn("delete prior summaries failed", "split_id", splitID, "error", err)
		}
	}
	if _, err := f.store.DeleteSerpTasksBySplit(ctx, splitID); err != nil {
		f.logger.Warn("delete prior tasks failed", "split_id", splitID, "error", err)
	}
	if _, err := f.store.DeleteSerpRecordsBySplit(ctx, splitID); err != nil {
		f.logger.Warn("delete prior serp records failed", "split_id", splitID, "error", err)
	}
	if _, err := f.store.DeleteFinalByReport(ctx, reportID); err != nil {
		f.logger.Warn("delete prior final drafts failed", "report_id", reportID, "error", err)
	}
}
