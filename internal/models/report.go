package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Pipeline step names. Search and search_summary are sub-steps of serp and do
// not count toward the progress denominator.
const (
	StepAskQuestions      = "ask_questions"
	StepPlan              = "plan"
	StepSerp              = "serp"
	StepSearch            = "search"
	StepSearchSummary     = "search_summary"
	StepFinalReport       = "final_report"
	StepSummaryGeneration = "summary_generation"
)

// TrackedSteps are the steps that contribute to completed_steps.
var TrackedSteps = []string{StepAskQuestions, StepPlan, StepSerp, StepFinalReport}

// AllSteps is every step a report carries state for.
var AllSteps = []string{
	StepAskQuestions, StepPlan, StepSerp, StepSearch,
	StepSearchSummary, StepFinalReport, StepSummaryGeneration,
}

// Step and report statuses.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCreated    = "created"
)

// StepState tracks one pipeline step of a report.
type StepState struct {
	Status        string     `json:"status"                   bson:"status"`
	Completed     bool       `json:"completed"                bson:"completed"`
	StartedAt     *time.Time `json:"started_at,omitempty"     bson:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"   bson:"completed_at,omitempty"`
	ExecutionTime float64    `json:"execution_time,omitempty" bson:"execution_time,omitempty"`
	Result        any        `json:"result,omitempty"         bson:"result,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"  bson:"error_message,omitempty"`
}

// Report is the root aggregate: one end-to-end research request tracked
// through every pipeline step.
type Report struct {
	ID                     primitive.ObjectID   `json:"id"                        bson:"_id,omitempty"`
	UserID                 string               `json:"user_id"                   bson:"user_id"`
	TenantID               string               `json:"tenant_id"                 bson:"tenant_id"`
	Message                string               `json:"message"                   bson:"message"`
	Title                  string               `json:"title"                     bson:"title"`
	Status                 string               `json:"status"                    bson:"status"`
	Locked                 bool                 `json:"locked"                    bson:"locked"`
	TemplateID             string               `json:"template_id,omitempty"     bson:"template_id,omitempty"`
	IsReplace              bool                 `json:"is_replace"                bson:"is_replace"`
	IsFinalReportCompleted bool                 `json:"is_final_report_completed" bson:"is_final_report_completed"`
	Summary                string               `json:"summary,omitempty"         bson:"summary,omitempty"`
	CompletedSteps         int                  `json:"completed_steps"           bson:"completed_steps"`
	TotalSteps             int                  `json:"total_steps"               bson:"total_steps"`
	ProgressPercentage     float64              `json:"progress_percentage"       bson:"progress_percentage"`
	Steps                  map[string]StepState `json:"steps"                     bson:"steps"`
	CreatedAt              time.Time            `json:"created_at"                bson:"created_at"`
	UpdatedAt              time.Time            `json:"updated_at"                bson:"updated_at"`
}

// Progress is the derived progress snapshot written alongside a step change.
type Progress struct {
	CompletedSteps     int
	TotalSteps         int
	ProgressPercentage float64
	Status             string
}

// NewReport builds a fresh report with every step pending.
func NewReport(userID, tenantID, message string) *Report {
	steps := make(map[string]StepState, len(AllSteps))
	for _, name := range AllSteps {
		steps[name] = StepState{Status: StatusPending}
	}
	now := time.Now().UTC()
	return &Report{
		UserID:         userID,
		TenantID:       tenantID,
		Message:        message,
		Status:         StatusCreated,
		CompletedSteps: 1,
		TotalSteps:     TotalStepUnits,
		Steps:          steps,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// TotalStepUnits is the progress denominator: the implicit "report created"
// unit plus the four tracked steps.
const TotalStepUnits = 5
