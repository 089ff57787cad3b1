package report

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayush/deep-research-agent/internal/models"
)

// seedChaptered inserts a report plus n chapter splits and returns the
// report id and the split ids in chapter order.
func seedChaptered(t *testing.T, store *memStore, n int) (string, []string) {
	t.Helper()
	ctx := context.Background()
	reportID, err := store.InsertReport(ctx, models.NewReport("u1", "t1", "topic"))
	require.NoError(t, err)

	splits := make([]models.ChapterSplit, n)
	for i := range splits {
		splits[i] = models.ChapterSplit{ReportID: reportID, ChapterIndex: i + 1, SectionTitle: "Ch", Content: "body"}
	}
	inserted, err := store.InsertSplits(ctx, splits)
	require.NoError(t, err)

	ids := make([]string, n)
	for i, sp := range inserted {
		ids[i] = sp.ID.Hex()
	}
	return reportID, ids
}

func TestLastChapterFlipsCompletionExactlyOnce(t *testing.T) {
	store := newMemStore()
	agg := NewChapterCompletionAggregator(store, newMemLockFactory(), &fakeLLM{}, testLogger())
	ctx := context.Background()

	const chapters = 6
	reportID, splitIDs := seedChaptered(t, store, chapters)

	var wg sync.WaitGroup
	errs := make([]error, chapters)
	for i, splitID := range splitIDs {
		i, splitID := i, splitID
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = agg.OnChapterDraftSaved(ctx, reportID, splitID)
		}()
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "chapter %d", i+1)
	}
	rep, err := store.GetReport(ctx, reportID)
	require.NoError(t, err)
	assert.True(t, rep.IsFinalReportCompleted)
	assert.Equal(t, 1, store.finalCompletedSets, "flag written exactly once")
}

func TestCompletionCheckIsIdempotent(t *testing.T) {
	store := newMemStore()
	agg := NewChapterCompletionAggregator(store, newMemLockFactory(), &fakeLLM{}, testLogger())
	ctx := context.Background()

	reportID, splitIDs := seedChaptered(t, store, 2)
	last := splitIDs[1]

	require.NoError(t, agg.OnChapterDraftSaved(ctx, reportID, last))
	require.NoError(t, agg.OnChapterDraftSaved(ctx, reportID, last))

	rep, _ := store.GetReport(ctx, reportID)
	assert.True(t, rep.IsFinalReportCompleted, "repeat calls never toggle the flag back")
	assert.Equal(t, 1, store.finalCompletedSets)
}

func TestNonMaxChapterDoesNotComplete(t *testing.T) {
	store := newMemStore()
	agg := NewChapterCompletionAggregator(store, newMemLockFactory(), &fakeLLM{}, testLogger())
	ctx := context.Background()

	reportID, splitIDs := seedChaptered(t, store, 3)
	require.NoError(t, agg.OnChapterDraftSaved(ctx, reportID, splitIDs[0]))

	rep, _ := store.GetReport(ctx, reportID)
	assert.False(t, rep.IsFinalReportCompleted)
}

func TestLockContentionIsSoftSkip(t *testing.T) {
	store := newMemStore()
	agg := NewChapterCompletionAggregator(store, deniedLockFactory{}, &fakeLLM{}, testLogger())
	ctx := context.Background()

	reportID, splitIDs := seedChaptered(t, store, 1)
	require.NoError(t, agg.OnChapterDraftSaved(ctx, reportID, splitIDs[0]))

	rep, _ := store.GetReport(ctx, reportID)
	assert.False(t, rep.IsFinalReportCompleted, "contention skips the check without failing the save")
}

func TestSaveChapterDraftReplacesPrior(t *testing.T) {
	store := newMemStore()
	agg := NewChapterCompletionAggregator(store, newMemLockFactory(), &fakeLLM{}, testLogger())
	ctx := context.Background()

	reportID, splitIDs := seedChaptered(t, store, 2)
	require.NoError(t, agg.SaveChapterDraft(ctx, reportID, splitIDs[0], "q", "first draft"))
	require.NoError(t, agg.SaveChapterDraft(ctx, reportID, splitIDs[0], "q", "second draft"))

	drafts, err := store.ListFinalByReport(ctx, reportID)
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	assert.Equal(t, "second draft", drafts[0].Current)
	assert.Equal(t, 1, drafts[0].ChapterIndex)
}

func TestSaveChapterDraftUnknownSplit(t *testing.T) {
	agg := NewChapterCompletionAggregator(newMemStore(), newMemLockFactory(), &fakeLLM{}, testLogger())
	err := agg.SaveChapterDraft(context.Background(), "r1", "missing", "q", "text")
	assert.ErrorIs(t, err, ErrSplitNotFound)
}

func TestGenerateChapterDraftAssemblesStream(t *testing.T) {
	store := newMemStore()
	model := &fakeLLM{content: "## Methods\nThe study used [1] and [2]."}
	agg := NewChapterCompletionAggregator(store, newMemLockFactory(), model, testLogger())
	ctx := context.Background()

	reportID, splitIDs := seedChaptered(t, store, 1)
	store.InsertSummary(ctx, &models.SearchSummary{
		ReportID: reportID, SplitID: splitIDs[0], Query: "sampling methods", Response: "digest [1]",
	})

	text, err := agg.GenerateChapterDraft(ctx, reportID, splitIDs[0])
	require.NoError(t, err)
	assert.Equal(t, model.content, text, "streamed chunks are reassembled in order")
	require.Len(t, model.prompts, 1)
	assert.Contains(t, model.prompts[0], "sampling methods")

	drafts, _ := store.ListFinalByReport(ctx, reportID)
	require.Len(t, drafts, 1)
	assert.Equal(t, text, drafts[0].Current)

	// Single chapter means this draft is the last: flag flips.
	rep, _ := store.GetReport(ctx, reportID)
	assert.True(t, rep.IsFinalReportCompleted)
}
