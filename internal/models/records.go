package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Collection names. Stable: cross-references between them are plain id
// strings, so renaming one breaks cascade integrity.
const (
	ColReports       = "reports"
	ColPlan          = "report_plan"
	ColPlanSplit     = "report_plan_split"
	ColSerp          = "report_serp"
	ColSerpTask      = "serp_task"
	ColSearchResults = "search_results"
	ColSearchSummary = "report_search_summary"
	ColFinal         = "report_final"
)

// SerpTask search-execution states.
const (
	SearchStateUnprocessed     = "unprocessed"
	SearchStateSearchCompleted = "searchCompleted"
	SearchStateSearchFailed    = "searchFailed"
	SearchStateCompleted       = "completed"
	SearchStateFailed          = "failed"
)

// Search types.
const (
	SearchTypeOnline    = "online"
	SearchTypeKnowledge = "knowledge"
)

// PlanRecord is one generated outline for a report.
type PlanRecord struct {
	ID        primitive.ObjectID `json:"id"         bson:"_id,omitempty"`
	ReportID  string             `json:"report_id"  bson:"report_id"`
	Content   string             `json:"content"    bson:"content"`
	CreatedAt time.Time          `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time          `json:"updated_at" bson:"updated_at"`
}

// ChapterSplit is one chapter of a report's outline. The full set for a
// report is replaced, never amended, when the plan is re-split.
type ChapterSplit struct {
	ID           primitive.ObjectID `json:"id"                    bson:"_id,omitempty"`
	ReportID     string             `json:"report_id"             bson:"report_id"`
	TemplateID   string             `json:"template_id,omitempty" bson:"template_id,omitempty"`
	PlanID       string             `json:"plan_id"               bson:"plan_id"`
	ChapterIndex int                `json:"chapter_index"         bson:"chapter_index"`
	SectionTitle string             `json:"section_title"         bson:"section_title"`
	Content      string             `json:"content"               bson:"content"`
	FromTemplate bool               `json:"from_template"         bson:"from_template"`
	OnlyKey      string             `json:"only_key"              bson:"only_key"`
	CreatedAt    time.Time          `json:"created_at"            bson:"created_at"`
}

// SerpRecord is one query-generation event for a chapter. At most one live
// record exists per split id.
type SerpRecord struct {
	ID           primitive.ObjectID `json:"id"                      bson:"_id,omitempty"`
	ReportID     string             `json:"report_id"               bson:"report_id"`
	SplitID      string             `json:"split_id"                bson:"split_id"`
	Query        string             `json:"query"                   bson:"query"`
	PlanText     string             `json:"plan_text"               bson:"plan_text"`
	ChapterText  string             `json:"chapter_text"            bson:"chapter_text"`
	OnlyKey      string             `json:"only_key"                bson:"only_key"`
	Status       string             `json:"status"                  bson:"status"`
	Response     any                `json:"response,omitempty"      bson:"response,omitempty"`
	ErrorMessage string             `json:"error_message,omitempty" bson:"error_message,omitempty"`
	CreatedAt    time.Time          `json:"created_at"              bson:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"              bson:"updated_at"`
}

// SerpTask is one search query derived from a SerpRecord.
type SerpTask struct {
	ID           primitive.ObjectID `json:"id"            bson:"_id,omitempty"`
	SerpID       string             `json:"serp_id"       bson:"serp_id"`
	ReportID     string             `json:"report_id"     bson:"report_id"`
	SplitID      string             `json:"split_id"      bson:"split_id"`
	Query        string             `json:"query"         bson:"query"`
	ResearchGoal string             `json:"research_goal" bson:"research_goal"`
	SearchType   string             `json:"search_type"   bson:"search_type"`
	SearchState  string             `json:"search_state"  bson:"search_state"`
	TaskIndex    int                `json:"task_index"    bson:"task_index"`
	CreatedAt    time.Time          `json:"created_at"    bson:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"    bson:"updated_at"`
}

// SearchImage is one validated image attached to a search-result batch.
type SearchImage struct {
	URL            string `json:"url"              bson:"url"`
	Description    string `json:"description"      bson:"description"`
	ObjectStoreURL string `json:"object_store_url" bson:"object_store_url"`
}

// SearchResult is one external search hit. ResultIndex is monotonically
// increasing per report and never reused, so citation numbers like [12]
// embedded in earlier prose stay valid as later chapters add results.
type SearchResult struct {
	ID            primitive.ObjectID `json:"id"                       bson:"_id,omitempty"`
	TaskID        string             `json:"task_id"                  bson:"task_id"`
	ReportID      string             `json:"report_id"                bson:"report_id"`
	PlanID        string             `json:"plan_id"                  bson:"plan_id"`
	Type          string             `json:"type"                     bson:"type"`
	Query         string             `json:"query"                    bson:"query"`
	ResultIndex   int                `json:"result_index"             bson:"result_index"`
	Title         string             `json:"title"                    bson:"title"`
	URL           string             `json:"url"                      bson:"url"`
	Content       string             `json:"content"                  bson:"content"`
	RawContent    string             `json:"raw_content"              bson:"raw_content"`
	Score         float64            `json:"score"                    bson:"score"`
	PublishedDate string             `json:"published_date,omitempty" bson:"published_date,omitempty"`
	Answer        string             `json:"answer,omitempty"         bson:"answer,omitempty"`
	ResponseTime  float64            `json:"response_time,omitempty"  bson:"response_time,omitempty"`
	Images        []SearchImage      `json:"images"                   bson:"images"`
	IsWeb         bool               `json:"is_web"                   bson:"is_web"`
	CreatedAt     time.Time          `json:"created_at"               bson:"created_at"`
}

// SearchSummary is the current LLM digest of one task's search results.
type SearchSummary struct {
	ID        primitive.ObjectID `json:"id"         bson:"_id,omitempty"`
	ReportID  string             `json:"report_id"  bson:"report_id"`
	Query     string             `json:"query"      bson:"query"`
	TaskID    string             `json:"task_id"    bson:"task_id"`
	SplitID   string             `json:"split_id"   bson:"split_id"`
	Response  any                `json:"response"   bson:"response"`
	CreatedAt time.Time          `json:"created_at" bson:"created_at"`
}

// FinalChapterDraft is the current drafted prose for one chapter. At most
// one draft exists per (report id, split id).
type FinalChapterDraft struct {
	ID           primitive.ObjectID `json:"id"            bson:"_id,omitempty"`
	ReportID     string             `json:"report_id"     bson:"report_id"`
	SplitID      string             `json:"split_id"      bson:"split_id"`
	ChapterIndex int                `json:"chapter_index" bson:"chapter_index"`
	Query        string             `json:"query"         bson:"query"`
	Current      string             `json:"current"       bson:"current"`
	CreatedAt    time.Time          `json:"created_at"    bson:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"    bson:"updated_at"`
}
