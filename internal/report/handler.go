package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ayush/deep-research-agent/internal/middleware"
	"github.com/ayush/deep-research-agent/internal/models"
	"github.com/ayush/deep-research-agent/internal/search"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors to HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrReportNotFound),
		errors.Is(err, ErrPlanNotFound),
		errors.Is(err, ErrSplitNotFound),
		errors.Is(err, ErrTaskNotFound),
		errors.Is(err, ErrTemplateNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrReportLocked):
		status = http.StatusConflict
	case errors.Is(err, ErrUpstream):
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// DraftStore is the read surface the handlers need beyond the components.
type DraftStore interface {
	ListFinalByReport(ctx context.Context, reportID string) ([]models.FinalChapterDraft, error)
}

// FileStore stores rendered export artifacts.
type FileStore interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) error
}

// DocumentExporter renders assembled markdown into a document format.
type DocumentExporter interface {
	Render(ctx context.Context, content, title string, references []string, format string) ([]byte, error)
}

// Handler holds the report pipeline HTTP handlers. Handlers stay thin:
// they shape requests and map errors, the components own the semantics.
type Handler struct {
	lifecycle  *ReportLifecycle
	splitter   *PlanSplitter
	fanout     *SerpTaskFanout
	tracker    *SearchExecutionTracker
	aggregator *ChapterCompletionAggregator
	cascade    *CascadeDeleter
	reconciler *CompletionReconciler
	llm        Completer
	drafts     DraftStore
	files      FileStore
	exporter   DocumentExporter
}

func NewHandler(
	lifecycle *ReportLifecycle,
	splitter *PlanSplitter,
	fanout *SerpTaskFanout,
	tracker *SearchExecutionTracker,
	aggregator *ChapterCompletionAggregator,
	cascade *CascadeDeleter,
	reconciler *CompletionReconciler,
	completer Completer,
	drafts DraftStore,
	files FileStore,
	exporter DocumentExporter,
) *Handler {
	return &Handler{
		lifecycle:  lifecycle,
		splitter:   splitter,
		fanout:     fanout,
		tracker:    tracker,
		aggregator: aggregator,
		cascade:    cascade,
		reconciler: reconciler,
		llm:        completer,
		drafts:     drafts,
		files:      files,
		exporter:   exporter,
	}
}

// Create starts a new report from a topic message.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "message is required"})
		return
	}
	id, err := h.lifecycle.Create(r.Context(), middleware.UserID(r.Context()), middleware.TenantID(r.Context()), req.Message)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"report_id": id})
}

// List returns the caller's reports, newest first.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.ParseInt(r.URL.Query().Get("page"), 10, 64)
	pageSize, _ := strconv.ParseInt(r.URL.Query().Get("page_size"), 10, 64)
	reports, total, err := h.lifecycle.List(
		r.Context(),
		middleware.UserID(r.Context()),
		middleware.TenantID(r.Context()),
		r.URL.Query().Get("status"),
		page, pageSize,
	)
	if err != nil {
		writeError(w, err)
		return
	}
	if reports == nil {
		reports = []models.Report{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": reports, "total": total})
}

// Get returns one report with its step states and progress.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	rep, err := h.lifecycle.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// UpdateTitle sets the report title and topic message.
func (h *Handler) UpdateTitle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title   string `json:"title"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Title == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "title is required"})
		return
	}
	if err := h.lifecycle.UpdateTitle(r.Context(), chi.URLParam(r, "id"), req.Title, req.Message); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "updated"})
}

// Lock toggles the report's locked flag.
func (h *Handler) Lock(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Locked bool `json:"locked"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if !h.lifecycle.Lock(r.Context(), chi.URLParam(r, "id"), req.Locked) {
		writeError(w, ErrReportNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"locked": req.Locked})
}

// SetTemplate attaches a template to the report.
func (h *Handler) SetTemplate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TemplateID string `json:"template_id"`
		IsReplace  bool   `json:"is_replace"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TemplateID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "template_id is required"})
		return
	}
	if err := h.lifecycle.SetTemplate(r.Context(), chi.URLParam(r, "id"), req.TemplateID, req.IsReplace); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "template set"})
}

// Delete removes the report and every downstream record.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.lifecycle.Get(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	counts := h.cascade.DeleteByReport(r.Context(), id, PipelineCollections)
	if err := h.lifecycle.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": counts})
}

// WritePlan saves an outline revision and replaces the report's chapter
// set. Template-backed reports split from the template's preformed
// sections instead of segmenting text.
func (h *Handler) WritePlan(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		Content  string            `json:"content"`
		Sections []TemplateSection `json:"sections"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	rep, err := h.lifecycle.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if rep.Locked {
		writeError(w, ErrReportLocked)
		return
	}

	start := time.Now()
	h.lifecycle.StartStep(r.Context(), id, models.StepPlan)

	planID, err := h.splitter.SavePlan(r.Context(), id, req.Content)
	if err != nil {
		h.lifecycle.FailStep(r.Context(), id, models.StepPlan, err.Error(), time.Since(start).Seconds())
		writeError(w, err)
		return
	}

	var refs []ChapterRef
	if rep.TemplateID != "" && len(req.Sections) > 0 {
		refs, err = h.splitter.SplitFromTemplate(r.Context(), id, rep.TemplateID, planID, req.Sections)
	} else {
		refs, err = h.splitter.SplitFromOutline(r.Context(), id, planID, req.Content)
	}
	if err != nil {
		h.lifecycle.FailStep(r.Context(), id, models.StepPlan, err.Error(), time.Since(start).Seconds())
		writeError(w, err)
		return
	}

	h.lifecycle.CompleteStep(r.Context(), id, models.StepPlan, refs, time.Since(start).Seconds())
	writeJSON(w, http.StatusOK, map[string]any{"plan_id": planID, "chapters": refs})
}

// GenerateSerp fans one chapter out into search tasks.
func (h *Handler) GenerateSerp(w http.ResponseWriter, r *http.Request) {
	splitID := chi.URLParam(r, "splitID")
	start := time.Now()

	res, err := h.fanout.Generate(r.Context(), "", splitID)
	if err != nil {
		writeError(w, err)
		return
	}

	reportID := res.Record.ReportID
	if res.Record.Status == models.StatusCompleted {
		h.lifecycle.CompleteStep(r.Context(), reportID, models.StepSerp,
			map[string]int{"task_count": len(res.Tasks)}, time.Since(start).Seconds())
	} else {
		h.lifecycle.FailStep(r.Context(), reportID, models.StepSerp,
			res.Record.ErrorMessage, time.Since(start).Seconds())
	}
	writeJSON(w, http.StatusOK, res)
}

// ExecuteSearch runs one task's search and stores its results.
func (h *Handler) ExecuteSearch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MaxResults    int  `json:"max_results"`
		IncludeImages bool `json:"include_images"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}
	count, err := h.tracker.ExecuteSearch(r.Context(), chi.URLParam(r, "taskID"), search.Options{
		MaxResults:    req.MaxResults,
		IncludeImages: req.IncludeImages,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"stored_count": count})
}

// Summarize digests one task's search results.
func (h *Handler) Summarize(w http.ResponseWriter, r *http.Request) {
	if err := h.tracker.Summarize(r.Context(), chi.URLParam(r, "taskID")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "summary stored"})
}

// WriteChapter saves or generates one chapter's final draft and runs the
// completion check. With no content in the body the chapter is generated
// from its search summaries; the reconciler backstops the step if the
// generation is cut off.
func (h *Handler) WriteChapter(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	splitID := chi.URLParam(r, "splitID")
	var req struct {
		Query   string `json:"query"`
		Content string `json:"content"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}

	if req.Content != "" {
		if err := h.aggregator.SaveChapterDraft(r.Context(), id, splitID, req.Query, req.Content); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": "draft saved"})
		return
	}

	start := time.Now()
	h.lifecycle.StartStep(r.Context(), id, models.StepFinalReport)
	timer := h.reconciler.Schedule(id, models.StepFinalReport)

	text, err := h.aggregator.GenerateChapterDraft(r.Context(), id, splitID)
	timer.Stop()
	if err != nil {
		h.lifecycle.FailStep(r.Context(), id, models.StepFinalReport, err.Error(), time.Since(start).Seconds())
		writeError(w, err)
		return
	}
	h.lifecycle.CompleteStep(r.Context(), id, models.StepFinalReport, nil, time.Since(start).Seconds())
	writeJSON(w, http.StatusOK, map[string]string{"content": text})
}

// DeleteSplit invalidates everything derived from one chapter.
func (h *Handler) DeleteSplit(w http.ResponseWriter, r *http.Request) {
	counts, err := h.cascade.DeleteBySplit(r.Context(), chi.URLParam(r, "splitID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": counts})
}

// DeleteTask removes one task and its search data.
func (h *Handler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	counts, err := h.cascade.DeleteByTask(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": counts})
}

// Introduction returns the report for the introduction view and re-arms
// the final-completion check so a regenerated ending can flip it again.
func (h *Handler) Introduction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rep, err := h.lifecycle.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.lifecycle.SetFinalCompleted(r.Context(), id, false); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

const reportSummaryPrompt = `Write a concise executive summary of this report.

%s`

// GenerateSummary produces the report-level summary from the assembled
// chapter drafts.
func (h *Handler) GenerateSummary(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.lifecycle.Get(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	drafts, err := h.drafts.ListFinalByReport(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	start := time.Now()
	h.lifecycle.StartStep(r.Context(), id, models.StepSummaryGeneration)

	var body strings.Builder
	for _, d := range drafts {
		body.WriteString(d.Current)
		body.WriteString("\n\n")
	}
	resp, err := h.llm.Complete(r.Context(), "value_extract", fmt.Sprintf(reportSummaryPrompt, body.String()))
	if err != nil {
		h.lifecycle.FailStep(r.Context(), id, models.StepSummaryGeneration, err.Error(), time.Since(start).Seconds())
		writeError(w, fmt.Errorf("%w: summary generation: %v", ErrUpstream, err))
		return
	}

	if err := h.lifecycle.SetSummary(r.Context(), id, resp.Content); err != nil {
		writeError(w, err)
		return
	}
	h.lifecycle.CompleteStep(r.Context(), id, models.StepSummaryGeneration, nil, time.Since(start).Seconds())
	writeJSON(w, http.StatusOK, map[string]string{"summary": resp.Content})
}

// Export renders the assembled report and streams the document. A copy is
// kept in object storage for later download.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	format := r.URL.Query().Get("format")
	if format != "docx" {
		format = "pdf"
	}

	rep, err := h.lifecycle.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	drafts, err := h.drafts.ListFinalByReport(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(drafts) == 0 {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "no chapters drafted yet"})
		return
	}

	var content strings.Builder
	if rep.Summary != "" {
		content.WriteString(rep.Summary)
		content.WriteString("\n\n")
	}
	for _, d := range drafts {
		content.WriteString(d.Current)
		content.WriteString("\n\n")
	}

	data, err := h.exporter.Render(r.Context(), content.String(), rep.Title, nil, format)
	if err != nil {
		writeError(w, fmt.Errorf("%w: export: %v", ErrUpstream, err))
		return
	}

	contentType := "application/pdf"
	if format == "docx" {
		contentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	}
	// Keep a copy for later download; losing it does not fail the request.
	key := fmt.Sprintf("exports/%s.%s", id, format)
	_ = h.files.Upload(r.Context(), key, data, contentType)

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=report.%s", format))
	w.Write(data)
}
