package report

import "errors"

// Typed domain errors. The HTTP layer maps these to status codes; nothing
// in this package inspects error text.
var (
	ErrReportNotFound   = errors.New("report not found")
	ErrPlanNotFound     = errors.New("plan not found")
	ErrSplitNotFound    = errors.New("chapter split not found")
	ErrTaskNotFound     = errors.New("search task not found")
	ErrTemplateNotFound = errors.New("template not found")
	ErrReportLocked     = errors.New("report is locked")

	// ErrUpstream wraps LLM, search, and export service failures. The
	// failure state has already been recorded on the relevant step or task
	// by the time this surfaces.
	ErrUpstream = errors.New("upstream service failure")
)
