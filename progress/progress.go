// Package progress implements the read-only Progress API (§4.6): a pure
// projection from a loaded FullApplication to the JSON view a polling UI
// consumes. It is grounded on statemanager/handlers.go, which does the same
// job for the teacher's in-memory OperationState — read current state, shape
// it into a stable response, no side effects.
package progress

import (
	"time"

	"github.com/Muaazbinsaeed/ai-social-support-app-sub000/domain"
	"github.com/Muaazbinsaeed/ai-social-support-app-sub000/state"
)

// NextAction enumerates the client's recommended follow-up call.
type NextAction string

const (
	ActionUploadDocuments NextAction = "upload_documents"
	ActionAwaitProcessing NextAction = "await_processing"
	ActionRetry           NextAction = "retry"
	ActionCompleted       NextAction = "completed"
	ActionCancelled       NextAction = "cancelled"
)

// StepView is one chronological WorkflowStep entry.
type StepView struct {
	Name        string     `json:"name"`
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DurationMS  int64      `json:"duration_ms,omitempty"`
	Message     string     `json:"message,omitempty"`
}

// DocumentView is one document's current stage status.
type DocumentView struct {
	Kind              domain.DocumentKind `json:"kind"`
	Filename          string              `json:"filename"`
	OCRStatus         domain.StageStatus  `json:"ocr_status"`
	OCRConfidence     float64             `json:"ocr_confidence,omitempty"`
	ExtractStatus     domain.StageStatus  `json:"extract_status"`
	ExtractedFields   map[string]any      `json:"extracted_fields,omitempty"`
	ExtractConfidence float64             `json:"extract_confidence,omitempty"`
	Error             string              `json:"error,omitempty"`
}

// PartialResults surfaces whichever upstream outputs are available so far,
// even ahead of a final decision.
type PartialResults struct {
	BankExtract map[string]any   `json:"bank_extract,omitempty"`
	IDExtract   map[string]any   `json:"id_extract,omitempty"`
	Decision    *domain.Decision `json:"decision,omitempty"`
}

// View is the full Progress API payload of §4.6.
type View struct {
	ApplicationID  string         `json:"application_id"`
	OverallStatus  state.State    `json:"overall_status"`
	Progress       int            `json:"progress"`
	Steps          []StepView     `json:"steps"`
	Documents      []DocumentView `json:"documents"`
	PartialResults PartialResults `json:"partial_results"`
	NextAction     NextAction     `json:"next_action"`
	CanRetry       bool           `json:"can_retry"`
}

// Project builds a View from a fully-loaded application. It has no store
// access of its own — the caller is expected to have already done one
// LoadFull, matching the read-only, no-side-effect contract of §4.6.
func Project(full *domain.FullApplication) View {
	app := full.Application

	steps := make([]StepView, 0, len(full.Steps))
	for _, s := range full.Steps {
		steps = append(steps, StepView{
			Name:        s.StepName,
			Status:      string(s.Status),
			StartedAt:   s.StartedAt,
			CompletedAt: s.CompletedAt,
			DurationMS:  s.DurationMS,
			Message:     s.Message,
		})
	}

	docs := make([]DocumentView, 0, len(full.Documents))
	for _, d := range full.Documents {
		errMsg := d.OCRError
		if errMsg == "" {
			errMsg = d.ExtractError
		}
		docs = append(docs, DocumentView{
			Kind:              d.Kind,
			Filename:          d.Filename,
			OCRStatus:         d.OCRStatus,
			OCRConfidence:     d.OCRConfidence,
			ExtractStatus:     d.ExtractStatus,
			ExtractedFields:   d.ExtractedFields,
			ExtractConfidence: d.ExtractConfidence,
			Error:             errMsg,
		})
	}

	partial := PartialResults{Decision: full.Decision}
	if bank := full.DocumentByKind(domain.BankStatement); bank != nil && bank.ExtractStatus == domain.StageCompleted {
		partial.BankExtract = bank.ExtractedFields
	}
	if id := full.DocumentByKind(domain.IdentityCard); id != nil && id.ExtractStatus == domain.StageCompleted {
		partial.IDExtract = id.ExtractedFields
	}

	return View{
		ApplicationID:  app.ID.String(),
		OverallStatus:  app.State,
		Progress:       app.Progress(),
		Steps:          steps,
		Documents:      docs,
		PartialResults: partial,
		NextAction:     nextAction(app.State),
		CanRetry:       app.State == state.ProcessingFailed,
	}
}

func nextAction(s state.State) NextAction {
	switch s {
	case state.Draft, state.FormSubmitted:
		return ActionUploadDocuments
	case state.ProcessingFailed:
		return ActionRetry
	case state.Cancelled:
		return ActionCancelled
	case state.Approved, state.Rejected, state.NeedsReview:
		return ActionCompleted
	default:
		return ActionAwaitProcessing
	}
}
