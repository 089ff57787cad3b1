package report

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/ayush/deep-research-agent/internal/models"
	"github.com/ayush/deep-research-agent/internal/search"
)

// minImageDescription is the shortest image description worth keeping; the
// search API pads thin matches with near-empty captions.
const minImageDescription = 10

// SearchClient runs one external search query.
type SearchClient interface {
	Search(ctx context.Context, query string, opts search.Options) (*search.Response, error)
}

// ImageStore re-hosts a remote image, returning its object URL. An error
// means the image is unreachable or invalid and should be dropped.
type ImageStore interface {
	UploadFromURL(ctx context.Context, url string) (string, error)
}

// SearchStore is the persistence surface the tracker needs.
type SearchStore interface {
	GetSerpTask(ctx context.Context, id string) (*models.SerpTask, error)
	SetSerpTaskState(ctx context.Context, id, state string) (int64, error)
	LatestPlanByReport(ctx context.Context, reportID string) (*models.PlanRecord, error)
	DeleteSearchResultsByTask(ctx context.Context, taskID string) (int64, error)
	MaxResultIndex(ctx context.Context, reportID string) (int, error)
	InsertSearchResults(ctx context.Context, results []models.SearchResult) (int, error)
	DeleteSummariesByTask(ctx context.Context, taskID string) (int64, error)
	InsertSummary(ctx context.Context, s *models.SearchSummary) (string, error)
	ListResultsByTask(ctx context.Context, taskID string) ([]models.SearchResult, error)
}

// SearchExecutionTracker drives one task through the search-execution state
// machine and owns result/summary persistence.
type SearchExecutionTracker struct {
	store  SearchStore
	search SearchClient
	images ImageStore
	llm    Completer
	logger *slog.Logger
}

func NewSearchExecutionTracker(store SearchStore, client SearchClient, images ImageStore, completer Completer, logger *slog.Logger) *SearchExecutionTracker {
	return &SearchExecutionTracker{
		store:  store,
		search: client,
		images: images,
		llm:    completer,
		logger: logger.With("component", "search"),
	}
}

// ExecuteSearch runs the task's query and records the results. The task's
// search_state is updated even on the failure path; state tracking is
// mandatory, not best-effort.
func (t *SearchExecutionTracker) ExecuteSearch(ctx context.Context, taskID string, opts search.Options) (int, error) {
	task, err := t.store.GetSerpTask(ctx, taskID)
	if err != nil {
		return 0, ErrTaskNotFound
	}

	resp, err := t.search.Search(ctx, task.Query, opts)
	if err != nil {
		t.store.SetSerpTaskState(ctx, taskID, models.SearchStateSearchFailed)
		return 0, fmt.Errorf("%w: search: %v", ErrUpstream, err)
	}

	planID := ""
	if plan, err := t.store.LatestPlanByReport(ctx, task.ReportID); err == nil {
		planID = plan.ID.Hex()
	}

	count, err := t.RecordSearchResults(ctx, taskID, task.ReportID, planID, task.Query, resp)
	if err != nil {
		t.store.SetSerpTaskState(ctx, taskID, models.SearchStateSearchFailed)
		return 0, err
	}

	if _, err := t.store.SetSerpTaskState(ctx, taskID, models.SearchStateSearchCompleted); err != nil {
		return count, err
	}
	return count, nil
}

// RecordSearchResults replaces the task's stored results with a fresh
// batch. Indices continue the report-wide counter: a re-searched task gets
// new, strictly larger indices even though its own prior rows are gone, so
// citation numbers already embedded in prose stay valid.
//
// The read-max-then-insert sequence is not guarded; two concurrent
// searches for the same report can race to the same starting index. Known
// gap, kept for numbering compatibility with existing reports.
func (t *SearchExecutionTracker) RecordSearchResults(ctx context.Context, taskID, reportID, planID, query string, resp *search.Response) (int, error) {
	// Read the counter before deleting so the task's own prior rows still
	// count; a re-searched task must not reuse its old indices.
	maxIndex, err := t.store.MaxResultIndex(ctx, reportID)
	if err != nil {
		return 0, err
	}
	startIndex := maxIndex + 1

	deleted, err := t.store.DeleteSearchResultsByTask(ctx, taskID)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		t.logger.Info("replaced prior results", "task_id", taskID, "deleted", deleted)
	}

	images := t.processImages(ctx, resp.Images)

	results := make([]models.SearchResult, len(resp.Results))
	for i, r := range resp.Results {
		results[i] = models.SearchResult{
			TaskID:        taskID,
			ReportID:      reportID,
			PlanID:        planID,
			Type:          models.SearchTypeOnline,
			Query:         query,
			ResultIndex:   startIndex + i,
			Title:         r.Title,
			URL:           r.URL,
			Content:       r.Content,
			RawContent:    r.RawContent,
			Score:         r.Score,
			PublishedDate: r.PublishedDate,
			Answer:        resp.Answer,
			ResponseTime:  resp.ResponseTime,
			Images:        images,
			IsWeb:         true,
		}
	}
	return t.store.InsertSearchResults(ctx, results)
}

// processImages validates and re-hosts result images concurrently. Images
// with a sub-threshold description or an unreachable URL are dropped.
func (t *SearchExecutionTracker) processImages(ctx context.Context, images []search.Image) []models.SearchImage {
	if len(images) == 0 {
		return []models.SearchImage{}
	}

	kept := make([]*models.SearchImage, len(images))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, img := range images {
		i, img := i, img
		if utf8.RuneCountInString(img.Description) < minImageDescription {
			continue
		}
		g.Go(func() error {
			objectURL, err := t.images.UploadFromURL(gctx, img.URL)
			if err != nil {
				t.logger.Warn("image dropped", "url", img.URL, "error", err)
				return nil
			}
			kept[i] = &models.SearchImage{
				URL:            img.URL,
				Description:    img.Description,
				ObjectStoreURL: objectURL,
			}
			return nil
		})
	}
	g.Wait()

	out := make([]models.SearchImage, 0, len(images))
	for _, img := range kept {
		if img != nil {
			out = append(out, *img)
		}
	}
	return out
}

const summaryPromptTemplate = `Summarize the key findings below for the research question %q.
Cite sources with their [N] result index.

%s`

// Summarize digests the task's stored results into a search summary and
// advances the task to its terminal state. A response whose id carries an
// error marker counts as a failed summary even though the call returned.
func (t *SearchExecutionTracker) Summarize(ctx context.Context, taskID string) error {
	task, err := t.store.GetSerpTask(ctx, taskID)
	if err != nil {
		return ErrTaskNotFound
	}

	results, err := t.store.ListResultsByTask(ctx, taskID)
	if err != nil {
		return err
	}
	var b strings.Builder
	for _, r := range results {
		fmt.Fprintf(&b, "[%d] %s\n%s\n\n", r.ResultIndex, r.Title, r.Content)
	}

	resp, err := t.llm.Complete(ctx, models.StepSearchSummary, fmt.Sprintf(summaryPromptTemplate, task.Query, b.String()))
	if err != nil {
		t.store.SetSerpTaskState(ctx, taskID, models.SearchStateFailed)
		return fmt.Errorf("%w: summary: %v", ErrUpstream, err)
	}

	if _, err := t.RecordSummary(ctx, taskID, task.ReportID, task.SplitID, task.Query, resp); err != nil {
		t.store.SetSerpTaskState(ctx, taskID, models.SearchStateFailed)
		return err
	}

	state := models.SearchStateCompleted
	if strings.Contains(strings.ToLower(resp.ID), "error") {
		state = models.SearchStateFailed
	}
	_, err = t.store.SetSerpTaskState(ctx, taskID, state)
	return err
}

// RecordSummary replaces the task's current summary.
func (t *SearchExecutionTracker) RecordSummary(ctx context.Context, taskID, reportID, splitID, query string, response any) (string, error) {
	if _, err := t.store.DeleteSummariesByTask(ctx, taskID); err != nil {
		return "", err
	}
	return t.store.InsertSummary(ctx, &models.SearchSummary{
		ReportID: reportID,
		Query:    query,
		TaskID:   taskID,
		SplitID:  splitID,
		Response: response,
	})
}
