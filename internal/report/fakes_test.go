package report

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ayush/deep-research-agent/internal/llm"
	"github.com/ayush/deep-research-agent/internal/models"
	"github.com/ayush/deep-research-agent/internal/search"
)

var errNotFound = errors.New("document not found")

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, &slog.HandlerOptions{Level: slog.LevelError + 4}))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// memStore is an in-memory stand-in for the MongoDB store, mirroring its
// observable semantics: hex object ids, matched-count updates, -1 max
// index on empty collections.
type memStore struct {
	mu        sync.Mutex
	reports   map[string]*models.Report
	plans     []models.PlanRecord
	splits    []models.ChapterSplit
	serpRecs  map[string]*models.SerpRecord
	tasks     map[string]*models.SerpTask
	results   []models.SearchResult
	summaries []models.SearchSummary
	finals    []models.FinalChapterDraft

	finalCompletedSets int
}

func newMemStore() *memStore {
	return &memStore{
		reports:  make(map[string]*models.Report),
		serpRecs: make(map[string]*models.SerpRecord),
		tasks:    make(map[string]*models.SerpTask),
	}
}

// ── reports ──────────────────────────────────────────────────

func (s *memStore) InsertReport(_ context.Context, r *models.Report) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.ID = primitive.NewObjectID()
	s.reports[r.ID.Hex()] = r
	return r.ID.Hex(), nil
}

func (s *memStore) GetReport(_ context.Context, id string) (*models.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[id]
	if !ok {
		return nil, errNotFound
	}
	cp := *r
	cp.Steps = make(map[string]models.StepState, len(r.Steps))
	for k, v := range r.Steps {
		cp.Steps[k] = v
	}
	return &cp, nil
}

func (s *memStore) ListReports(_ context.Context, userID, tenantID, status string, page, pageSize int64) ([]models.Report, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Report
	for _, r := range s.reports {
		if r.UserID == userID && r.TenantID == tenantID && (status == "" || r.Status == status) {
			out = append(out, *r)
		}
	}
	return out, int64(len(out)), nil
}

func (s *memStore) UpdateReportStep(_ context.Context, id, step string, state models.StepState) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[id]
	if !ok {
		return 0, nil
	}
	r.Steps[step] = state
	r.UpdatedAt = time.Now().UTC()
	return 1, nil
}

func (s *memStore) SetReportProgress(_ context.Context, id string, p models.Progress) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[id]
	if !ok {
		return 0, nil
	}
	r.CompletedSteps = p.CompletedSteps
	r.TotalSteps = p.TotalSteps
	r.ProgressPercentage = p.ProgressPercentage
	r.Status = p.Status
	return 1, nil
}

func (s *memStore) setField(id string, mutate func(*models.Report)) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[id]
	if !ok {
		return 0, nil
	}
	mutate(r)
	r.UpdatedAt = time.Now().UTC()
	return 1, nil
}

func (s *memStore) SetReportStatus(_ context.Context, id, status string) (int64, error) {
	return s.setField(id, func(r *models.Report) { r.Status = status })
}

func (s *memStore) SetReportLocked(_ context.Context, id string, locked bool) (int64, error) {
	return s.setField(id, func(r *models.Report) { r.Locked = locked })
}

func (s *memStore) SetReportTitle(_ context.Context, id, title, message string) (int64, error) {
	return s.setField(id, func(r *models.Report) { r.Title = title; r.Message = message })
}

func (s *memStore) SetReportSummary(_ context.Context, id, summary string) (int64, error) {
	return s.setField(id, func(r *models.Report) { r.Summary = summary })
}

func (s *memStore) SetReportFinalCompleted(_ context.Context, id string, completed bool) (int64, error) {
	return s.setField(id, func(r *models.Report) {
		if completed {
			s.finalCompletedSets++
		}
		r.IsFinalReportCompleted = completed
	})
}

func (s *memStore) SetReportTemplate(_ context.Context, id, templateID string, isReplace bool) (int64, error) {
	return s.setField(id, func(r *models.Report) { r.TemplateID = templateID; r.IsReplace = isReplace })
}

func (s *memStore) DeleteReport(_ context.Context, id string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reports[id]; !ok {
		return 0, nil
	}
	delete(s.reports, id)
	return 1, nil
}

// ── plans ────────────────────────────────────────────────────

func (s *memStore) InsertPlan(_ context.Context, p *models.PlanRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ID = primitive.NewObjectID()
	p.CreatedAt = time.Now().UTC()
	s.plans = append(s.plans, *p)
	return p.ID.Hex(), nil
}

func (s *memStore) LatestPlanByReport(_ context.Context, reportID string) (*models.PlanRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.plans) - 1; i >= 0; i-- {
		if s.plans[i].ReportID == reportID {
			p := s.plans[i]
			return &p, nil
		}
	}
	return nil, errNotFound
}

// ── splits ───────────────────────────────────────────────────

func (s *memStore) DeleteSplitsByReport(_ context.Context, reportID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []models.ChapterSplit
	var n int64
	for _, sp := range s.splits {
		if sp.ReportID == reportID {
			n++
			continue
		}
		kept = append(kept, sp)
	}
	s.splits = kept
	return n, nil
}

func (s *memStore) InsertSplits(_ context.Context, splits []models.ChapterSplit) ([]models.ChapterSplit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range splits {
		splits[i].ID = primitive.NewObjectID()
		splits[i].CreatedAt = time.Now().UTC()
		s.splits = append(s.splits, splits[i])
	}
	return splits, nil
}

func (s *memStore) ListSplitsByReport(_ context.Context, reportID string) ([]models.ChapterSplit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ChapterSplit
	for _, sp := range s.splits {
		if sp.ReportID == reportID {
			out = append(out, sp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChapterIndex < out[j].ChapterIndex })
	return out, nil
}

func (s *memStore) GetSplit(_ context.Context, id string) (*models.ChapterSplit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sp := range s.splits {
		if sp.ID.Hex() == id {
			cp := sp
			return &cp, nil
		}
	}
	return nil, errNotFound
}

// ── serp records ─────────────────────────────────────────────

func (s *memStore) InsertSerpRecord(_ context.Context, r *models.SerpRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.ID = primitive.NewObjectID()
	cp := *r
	s.serpRecs[r.ID.Hex()] = &cp
	return r.ID.Hex(), nil
}

func (s *memStore) SetSerpRecordStatus(_ context.Context, id, status string, response any, errorMessage string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.serpRecs[id]
	if !ok {
		return 0, nil
	}
	r.Status = status
	if response != nil {
		r.Response = response
	}
	if errorMessage != "" {
		r.ErrorMessage = errorMessage
	}
	return 1, nil
}

func (s *memStore) DeleteSerpRecordsBySplit(_ context.Context, splitID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, r := range s.serpRecs {
		if r.SplitID == splitID {
			delete(s.serpRecs, id)
			n++
		}
	}
	return n, nil
}

// ── serp tasks ───────────────────────────────────────────────

func (s *memStore) InsertSerpTasks(_ context.Context, tasks []models.SerpTask) ([]models.SerpTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range tasks {
		tasks[i].ID = primitive.NewObjectID()
		cp := tasks[i]
		s.tasks[tasks[i].ID.Hex()] = &cp
	}
	return tasks, nil
}

func (s *memStore) GetSerpTask(_ context.Context, id string) (*models.SerpTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, errNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *memStore) ListTaskIDsBySplit(_ context.Context, splitID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, t := range s.tasks {
		if t.SplitID == splitID {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *memStore) SetSerpTaskState(_ context.Context, id, state string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return 0, nil
	}
	t.SearchState = state
	return 1, nil
}

func (s *memStore) DeleteSerpTasksBySplit(_ context.Context, splitID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, t := range s.tasks {
		if t.SplitID == splitID {
			delete(s.tasks, id)
			n++
		}
	}
	return n, nil
}

func (s *memStore) DeleteSerpTask(_ context.Context, id string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[id]; !ok {
		return 0, nil
	}
	delete(s.tasks, id)
	return 1, nil
}

// ── search results ───────────────────────────────────────────

func (s *memStore) DeleteSearchResultsByTask(_ context.Context, taskID string) (int64, error) {
	return s.deleteResults(func(r models.SearchResult) bool { return r.TaskID == taskID })
}

func (s *memStore) DeleteSearchResultsByTasks(_ context.Context, taskIDs []string) (int64, error) {
	set := toSet(taskIDs)
	return s.deleteResults(func(r models.SearchResult) bool { return set[r.TaskID] })
}

func (s *memStore) deleteResults(match func(models.SearchResult) bool) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []models.SearchResult
	var n int64
	for _, r := range s.results {
		if match(r) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	s.results = kept
	return n, nil
}

func (s *memStore) MaxResultIndex(_ context.Context, reportID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	max := -1
	for _, r := range s.results {
		if r.ReportID == reportID && r.ResultIndex > max {
			max = r.ResultIndex
		}
	}
	return max, nil
}

func (s *memStore) InsertSearchResults(_ context.Context, results []models.SearchResult) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range results {
		results[i].ID = primitive.NewObjectID()
		s.results = append(s.results, results[i])
	}
	return len(results), nil
}

func (s *memStore) ListResultsByTask(_ context.Context, taskID string) ([]models.SearchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SearchResult
	for _, r := range s.results {
		if r.TaskID == taskID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ResultIndex < out[j].ResultIndex })
	return out, nil
}

// ── summaries ────────────────────────────────────────────────

func (s *memStore) DeleteSummariesByTask(_ context.Context, taskID string) (int64, error) {
	return s.deleteSummaries(func(x models.SearchSummary) bool { return x.TaskID == taskID })
}

func (s *memStore) DeleteSummariesByTasks(_ context.Context, taskIDs []string) (int64, error) {
	set := toSet(taskIDs)
	return s.deleteSummaries(func(x models.SearchSummary) bool { return set[x.TaskID] })
}

func (s *memStore) deleteSummaries(match func(models.SearchSummary) bool) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []models.SearchSummary
	var n int64
	for _, x := range s.summaries {
		if match(x) {
			n++
			continue
		}
		kept = append(kept, x)
	}
	s.summaries = kept
	return n, nil
}

func (s *memStore) InsertSummary(_ context.Context, sum *models.SearchSummary) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum.ID = primitive.NewObjectID()
	s.summaries = append(s.summaries, *sum)
	return sum.ID.Hex(), nil
}

func (s *memStore) ListSummariesBySplit(_ context.Context, splitID string) ([]models.SearchSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SearchSummary
	for _, x := range s.summaries {
		if x.SplitID == splitID {
			out = append(out, x)
		}
	}
	return out, nil
}

// ── final drafts ─────────────────────────────────────────────

func (s *memStore) DeleteFinalDraft(_ context.Context, reportID, splitID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []models.FinalChapterDraft
	var n int64
	for _, d := range s.finals {
		if d.ReportID == reportID && d.SplitID == splitID {
			n++
			continue
		}
		kept = append(kept, d)
	}
	s.finals = kept
	return n, nil
}

func (s *memStore) DeleteFinalByReport(_ context.Context, reportID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []models.FinalChapterDraft
	var n int64
	for _, d := range s.finals {
		if d.ReportID == reportID {
			n++
			continue
		}
		kept = append(kept, d)
	}
	s.finals = kept
	return n, nil
}

func (s *memStore) InsertFinalDraft(_ context.Context, d *models.FinalChapterDraft) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d.ID = primitive.NewObjectID()
	s.finals = append(s.finals, *d)
	return d.ID.Hex(), nil
}

func (s *memStore) ListFinalByReport(_ context.Context, reportID string) ([]models.FinalChapterDraft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.FinalChapterDraft
	for _, d := range s.finals {
		if d.ReportID == reportID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChapterIndex < out[j].ChapterIndex })
	return out, nil
}

// ── cascade ──────────────────────────────────────────────────

func (s *memStore) DeleteByReportID(_ context.Context, collection, reportID string) (int64, error) {
	switch collection {
	case models.ColPlan:
		s.mu.Lock()
		defer s.mu.Unlock()
		var kept []models.PlanRecord
		var n int64
		for _, p := range s.plans {
			if p.ReportID == reportID {
				n++
				continue
			}
			kept = append(kept, p)
		}
		s.plans = kept
		return n, nil
	case models.ColPlanSplit:
		return s.DeleteSplitsByReport(context.Background(), reportID)
	case models.ColSerp:
		s.mu.Lock()
		defer s.mu.Unlock()
		var n int64
		for id, r := range s.serpRecs {
			if r.ReportID == reportID {
				delete(s.serpRecs, id)
				n++
			}
		}
		return n, nil
	case models.ColSerpTask:
		s.mu.Lock()
		defer s.mu.Unlock()
		var n int64
		for id, t := range s.tasks {
			if t.ReportID == reportID {
				delete(s.tasks, id)
				n++
			}
		}
		return n, nil
	case models.ColSearchResults:
		return s.deleteResults(func(r models.SearchResult) bool { return r.ReportID == reportID })
	case models.ColSearchSummary:
		return s.deleteSummaries(func(x models.SearchSummary) bool { return x.ReportID == reportID })
	case models.ColFinal:
		return s.DeleteFinalByReport(context.Background(), reportID)
	}
	return 0, errors.New("unknown collection " + collection)
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

// ── collaborator fakes ───────────────────────────────────────

// memLockFactory hands out real mutual exclusion backed by per-name token
// channels, so concurrency tests exercise genuine contention.
type memLockFactory struct {
	mu     sync.Mutex
	tokens map[string]chan struct{}
}

func newMemLockFactory() *memLockFactory {
	return &memLockFactory{tokens: make(map[string]chan struct{})}
}

func (f *memLockFactory) NewLock(name string, _, retry time.Duration) Locker {
	f.mu.Lock()
	defer f.mu.Unlock()
	tok, ok := f.tokens[name]
	if !ok {
		tok = make(chan struct{}, 1)
		tok <- struct{}{}
		f.tokens[name] = tok
	}
	return &memLock{tok: tok}
}

type memLock struct {
	tok  chan struct{}
	held bool
}

func (l *memLock) Acquire(ctx context.Context, blocking bool, waitTimeout time.Duration) bool {
	if !blocking {
		waitTimeout = 0
	}
	select {
	case <-l.tok:
		l.held = true
		return true
	case <-time.After(waitTimeout):
		return false
	case <-ctx.Done():
		return false
	}
}

func (l *memLock) Release(context.Context) bool {
	if !l.held {
		return false
	}
	l.held = false
	l.tok <- struct{}{}
	return true
}

// deniedLockFactory simulates permanent contention.
type deniedLockFactory struct{}

func (deniedLockFactory) NewLock(string, time.Duration, time.Duration) Locker { return deniedLock{} }

type deniedLock struct{}

func (deniedLock) Acquire(context.Context, bool, time.Duration) bool { return false }
func (deniedLock) Release(context.Context) bool                      { return false }

// fakeLLM serves canned completions and streams.
type fakeLLM struct {
	content string
	id      string
	err     error
	prompts []string
}

func (f *fakeLLM) Complete(_ context.Context, _, prompt string) (*llm.Response, error) {
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Response{ID: f.id, Content: f.content}, nil
}

func (f *fakeLLM) Stream(_ context.Context, _, prompt string) (<-chan string, error) {
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return nil, f.err
	}
	out := make(chan string, 2)
	half := len(f.content) / 2
	out <- f.content[:half]
	out <- f.content[half:]
	close(out)
	return out, nil
}

// fakeSearch serves a canned response.
type fakeSearch struct {
	resp *search.Response
	err  error
}

func (f *fakeSearch) Search(context.Context, string, search.Options) (*search.Response, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

// fakeImages accepts every URL except those listed in broken.
type fakeImages struct {
	broken map[string]bool
}

func (f *fakeImages) UploadFromURL(_ context.Context, url string) (string, error) {
	if f.broken[url] {
		return "", errors.New("unreachable")
	}
	return "oss://bucket/" + url, nil
}
