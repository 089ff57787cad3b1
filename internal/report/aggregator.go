package report

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ayush/deep-research-agent/internal/models"
)

// Lock parameters for the final-completion check. The hold timeout bounds
// staleness if a holder dies without releasing.
const (
	completionLockHold  = 30 * time.Second
	completionLockWait  = 5 * time.Second
	completionLockRetry = 100 * time.Millisecond
)

// Locker is one acquired-or-not mutual-exclusion handle.
type Locker interface {
	Acquire(ctx context.Context, blocking bool, waitTimeout time.Duration) bool
	Release(ctx context.Context) bool
}

// LockFactory mints named distributed locks.
type LockFactory interface {
	NewLock(name string, holdTimeout, retryInterval time.Duration) Locker
}

// Streamer is the streaming LLM surface used for long-form prose.
type Streamer interface {
	Stream(ctx context.Context, step, prompt string) (<-chan string, error)
}

// AggregatorStore is the persistence surface the aggregator needs.
type AggregatorStore interface {
	GetReport(ctx context.Context, id string) (*models.Report, error)
	SetReportFinalCompleted(ctx context.Context, id string, completed bool) (int64, error)
	GetSplit(ctx context.Context, id string) (*models.ChapterSplit, error)
	ListSplitsByReport(ctx context.Context, reportID string) ([]models.ChapterSplit, error)
	ListSummariesBySplit(ctx context.Context, splitID string) ([]models.SearchSummary, error)
	DeleteFinalDraft(ctx context.Context, reportID, splitID string) (int64, error)
	InsertFinalDraft(ctx context.Context, d *models.FinalChapterDraft) (string, error)
}

// ChapterCompletionAggregator decides, when a chapter draft lands, whether
// the whole report is done. Chapter generations run concurrently, so only
// the structurally last chapter (by index, not arrival order) may flip the
// report-wide flag, and only once.
type ChapterCompletionAggregator struct {
	store  AggregatorStore
	locks  LockFactory
	llm    Streamer
	logger *slog.Logger
}

func NewChapterCompletionAggregator(store AggregatorStore, locks LockFactory, streamer Streamer, logger *slog.Logger) *ChapterCompletionAggregator {
	return &ChapterCompletionAggregator{
		store:  store,
		locks:  locks,
		llm:    streamer,
		logger: logger.With("component", "aggregator"),
	}
}

// SaveChapterDraft replaces the chapter's draft and runs the completion
// check. At most one draft exists per (report, split).
func (a *ChapterCompletionAggregator) SaveChapterDraft(ctx context.Context, reportID, splitID, query, content string) error {
	split, err := a.store.GetSplit(ctx, splitID)
	if err != nil {
		return ErrSplitNotFound
	}
	if _, err := a.store.DeleteFinalDraft(ctx, reportID, splitID); err != nil {
		return err
	}
	if _, err := a.store.InsertFinalDraft(ctx, &models.FinalChapterDraft{
		ReportID:     reportID,
		SplitID:      splitID,
		ChapterIndex: split.ChapterIndex,
		Query:        query,
		Current:      content,
	}); err != nil {
		return err
	}
	return a.OnChapterDraftSaved(ctx, reportID, splitID)
}

// OnChapterDraftSaved flips the report's final-completion flag if this
// chapter is the highest-indexed one. Lock contention is a soft skip: a
// later chapter's check or an explicit retry closes the gap, because the
// flag is monotonic and the check idempotent. The fresh read before the
// write makes the first setter win and every later setter a no-op.
func (a *ChapterCompletionAggregator) OnChapterDraftSaved(ctx context.Context, reportID, splitID string) error {
	lock := a.locks.NewLock("final_report_completion_"+reportID, completionLockHold, completionLockRetry)
	if !lock.Acquire(ctx, true, completionLockWait) {
		a.logger.Info("completion check skipped under contention", "report_id", reportID)
		return nil
	}
	defer lock.Release(context.WithoutCancel(ctx))

	splits, err := a.store.ListSplitsByReport(ctx, reportID)
	if err != nil || len(splits) == 0 {
		return err
	}
	maxIndex := splits[0].ChapterIndex
	for _, sp := range splits[1:] {
		if sp.ChapterIndex > maxIndex {
			maxIndex = sp.ChapterIndex
		}
	}

	current, err := a.store.GetSplit(ctx, splitID)
	if err != nil {
		return ErrSplitNotFound
	}
	if current.ChapterIndex != maxIndex {
		return nil
	}

	rep, err := a.store.GetReport(ctx, reportID)
	if err != nil {
		return ErrReportNotFound
	}
	if rep.IsFinalReportCompleted {
		return nil
	}
	if _, err := a.store.SetReportFinalCompleted(ctx, reportID, true); err != nil {
		return err
	}
	a.logger.Info("final report completed", "report_id", reportID, "chapter_index", maxIndex)
	return nil
}

const chapterPromptTemplate = `Write the chapter %q of a research report in markdown.
Keep citation markers like [N] exactly as they appear in the findings.

Chapter outline:
%s

Research findings:
%s`

// GenerateChapterDraft streams the chapter's prose from the model,
// assembles it, and saves it through the completion path.
func (a *ChapterCompletionAggregator) GenerateChapterDraft(ctx context.Context, reportID, splitID string) (string, error) {
	split, err := a.store.GetSplit(ctx, splitID)
	if err != nil {
		return "", ErrSplitNotFound
	}

	summaries, err := a.store.ListSummariesBySplit(ctx, splitID)
	if err != nil {
		return "", err
	}
	var findings strings.Builder
	for _, s := range summaries {
		fmt.Fprintf(&findings, "### %s\n%v\n\n", s.Query, s.Response)
	}

	prompt := fmt.Sprintf(chapterPromptTemplate, split.SectionTitle, split.Content, findings.String())
	chunks, err := a.llm.Stream(ctx, "report_final", prompt)
	if err != nil {
		return "", fmt.Errorf("%w: chapter generation: %v", ErrUpstream, err)
	}
	var content strings.Builder
	for chunk := range chunks {
		content.WriteString(chunk)
	}

	text := content.String()
	if err := a.SaveChapterDraft(ctx, reportID, splitID, split.SectionTitle, text); err != nil {
		return "", err
	}
	return text, nil
}
