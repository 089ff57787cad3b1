package report

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/ayush/deep-research-agent/internal/models"
)

// fallbackTitle names the single chapter produced when an outline carries
// no section headings at all.
const fallbackTitle = "overall content"

// SplitStore is the persistence surface the splitter needs.
type SplitStore interface {
	InsertPlan(ctx context.Context, p *models.PlanRecord) (string, error)
	LatestPlanByReport(ctx context.Context, reportID string) (*models.PlanRecord, error)
	DeleteSplitsByReport(ctx context.Context, reportID string) (int64, error)
	InsertSplits(ctx context.Context, splits []models.ChapterSplit) ([]models.ChapterSplit, error)
	ListSplitsByReport(ctx context.Context, reportID string) ([]models.ChapterSplit, error)
	DeleteByReportID(ctx context.Context, collection, reportID string) (int64, error)
}

// Chapter is one segment of a split outline.
type Chapter struct {
	Index   int
	Title   string
	Content string
}

// ChapterRef points a caller at one persisted chapter, ready for SERP
// generation.
type ChapterRef struct {
	SplitID      string `json:"split_id"`
	ChapterIndex int    `json:"chapter_index"`
	SectionTitle string `json:"section_title"`
	Content      string `json:"content"`
}

// TemplateSection is one preformed chapter from a report template.
type TemplateSection struct {
	Index   int    `json:"index"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// PlanSplitter decomposes an outline into ordered chapter records. Each
// (re)split replaces the report's whole chapter set.
type PlanSplitter struct {
	store  SplitStore
	logger *slog.Logger
}

func NewPlanSplitter(store SplitStore, logger *slog.Logger) *PlanSplitter {
	return &PlanSplitter{store: store, logger: logger.With("component", "splitter")}
}

// SavePlan persists a new outline revision for the report.
func (s *PlanSplitter) SavePlan(ctx context.Context, reportID, content string) (string, error) {
	return s.store.InsertPlan(ctx, &models.PlanRecord{ReportID: reportID, Content: content})
}

// SplitOutline segments an outline at second-level headings. Each
// segment's heading line (marker stripped) becomes the chapter title; the
// segment, heading re-attached, becomes the content. Text before the first
// heading forms its own leading chapter titled by its first line. With no
// headings at all, the whole text is chapter 1.
func SplitOutline(outline string) []Chapter {
	text := strings.TrimSpace(outline)
	startsWithHeading := strings.HasPrefix(text, "## ")
	if !startsWithHeading && !strings.Contains(text, "\n## ") {
		return []Chapter{{Index: 1, Title: fallbackTitle, Content: text}}
	}

	src := text
	if startsWithHeading {
		src = "\n" + src
	}

	var chapters []Chapter
	for i, part := range strings.Split(src, "\n## ") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		title, _, _ := strings.Cut(part, "\n")
		content := part
		if i > 0 {
			content = "## " + part
		}
		chapters = append(chapters, Chapter{
			Index:   len(chapters) + 1,
			Title:   strings.TrimSpace(title),
			Content: content,
		})
	}
	return chapters
}

// SplitFromOutline replaces the report's chapter set with the outline's
// segments. The delete and insert are separate store calls: readers may
// briefly observe an empty set, never a mixed one.
func (s *PlanSplitter) SplitFromOutline(ctx context.Context, reportID, planID, outline string) ([]ChapterRef, error) {
	if strings.TrimSpace(outline) == "" {
		return nil, ErrPlanNotFound
	}
	chapters := SplitOutline(outline)

	onlyKey := uuid.NewString()
	splits := make([]models.ChapterSplit, len(chapters))
	for i, ch := range chapters {
		splits[i] = models.ChapterSplit{
			ReportID:     reportID,
			PlanID:       planID,
			ChapterIndex: ch.Index,
			SectionTitle: ch.Title,
			Content:      ch.Content,
			OnlyKey:      onlyKey,
		}
	}
	return s.replace(ctx, reportID, splits)
}

// SplitFromTemplate replaces the chapter set with a template's preformed
// sections; index and title are taken verbatim.
func (s *PlanSplitter) SplitFromTemplate(ctx context.Context, reportID, templateID, planID string, sections []TemplateSection) ([]ChapterRef, error) {
	if len(sections) == 0 {
		return nil, ErrTemplateNotFound
	}
	onlyKey := uuid.NewString()
	splits := make([]models.ChapterSplit, len(sections))
	for i, sec := range sections {
		splits[i] = models.ChapterSplit{
			ReportID:     reportID,
			TemplateID:   templateID,
			PlanID:       planID,
			ChapterIndex: sec.Index,
			SectionTitle: sec.Title,
			Content:      sec.Content,
			FromTemplate: true,
			OnlyKey:      onlyKey,
		}
	}
	return s.replace(ctx, reportID, splits)
}

func (s *PlanSplitter) replace(ctx context.Context, reportID string, splits []models.ChapterSplit) ([]ChapterRef, error) {
	// The old chapters' SERP records and tasks key off split ids that are
	// about to dangle; a stale task left behind would keep pumping search
	// results into the report.
	for _, col := range []string{models.ColSerp, models.ColSerpTask} {
		if _, err := s.store.DeleteByReportID(ctx, col, reportID); err != nil {
			return nil, err
		}
	}

	deleted, err := s.store.DeleteSplitsByReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if deleted > 0 {
		s.logger.Info("replaced chapter set", "report_id", reportID, "deleted", deleted)
	}

	inserted, err := s.store.InsertSplits(ctx, splits)
	if err != nil {
		return nil, err
	}

	refs := make([]ChapterRef, len(inserted))
	for i, sp := range inserted {
		refs[i] = ChapterRef{
			SplitID:      sp.ID.Hex(),
			ChapterIndex: sp.ChapterIndex,
			SectionTitle: sp.SectionTitle,
			Content:      sp.Content,
		}
	}
	return refs, nil
}
