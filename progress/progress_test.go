package progress

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/Muaazbinsaeed/ai-social-support-app-sub000/domain"
	"github.com/Muaazbinsaeed/ai-social-support-app-sub000/state"
)

func baseApp(s state.State) *domain.Application {
	return &domain.Application{
		ID:        uuid.New(),
		State:     s,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}

func TestProjectReflectsStateDerivedProgress(t *testing.T) {
	app := baseApp(state.Analyzing)
	view := Project(&domain.FullApplication{Application: app})

	assert.Equal(t, state.Analyzing, view.OverallStatus)
	assert.Equal(t, app.Progress(), view.Progress)
	assert.Equal(t, ActionAwaitProcessing, view.NextAction)
	assert.False(t, view.CanRetry)
}

func TestProjectMarksRetryableOnProcessingFailed(t *testing.T) {
	app := baseApp(state.ProcessingFailed)
	view := Project(&domain.FullApplication{Application: app})

	assert.True(t, view.CanRetry)
	assert.Equal(t, ActionRetry, view.NextAction)
}

func TestProjectNextActionForTerminalStates(t *testing.T) {
	for _, s := range []state.State{state.Approved, state.Rejected, state.NeedsReview} {
		view := Project(&domain.FullApplication{Application: baseApp(s)})
		assert.Equal(t, ActionCompleted, view.NextAction, "state %s", s)
	}
}

func TestProjectNextActionForCancelled(t *testing.T) {
	view := Project(&domain.FullApplication{Application: baseApp(state.Cancelled)})
	assert.Equal(t, ActionCancelled, view.NextAction)
}

func TestProjectNextActionBeforeDocumentsUploaded(t *testing.T) {
	for _, s := range []state.State{state.Draft, state.FormSubmitted} {
		view := Project(&domain.FullApplication{Application: baseApp(s)})
		assert.Equal(t, ActionUploadDocuments, view.NextAction, "state %s", s)
	}
}

func TestProjectSurfacesPartialResultsWhenExtractionComplete(t *testing.T) {
	app := baseApp(state.AnalysisCompleted)
	bank := &domain.Document{
		Kind:              domain.BankStatement,
		ExtractStatus:     domain.StageCompleted,
		ExtractedFields:   map[string]any{"monthly_income": 3000.0},
		ExtractConfidence: 0.9,
	}
	idCard := &domain.Document{
		Kind:          domain.IdentityCard,
		ExtractStatus: domain.StagePending,
	}
	view := Project(&domain.FullApplication{Application: app, Documents: []*domain.Document{bank, idCard}})

	assert.Equal(t, map[string]any{"monthly_income": 3000.0}, view.PartialResults.BankExtract)
	assert.Nil(t, view.PartialResults.IDExtract)
	assert.Len(t, view.Documents, 2)
}

func TestProjectSurfacesDecisionWhenPresent(t *testing.T) {
	app := baseApp(state.Approved)
	benefit := 2000.0
	decision := &domain.Decision{Outcome: domain.OutcomeApproved, Confidence: 0.9, BenefitAmount: &benefit}
	view := Project(&domain.FullApplication{Application: app, Decision: decision})

	assert.Equal(t, decision, view.PartialResults.Decision)
}

func TestProjectIncludesStepHistory(t *testing.T) {
	app := baseApp(state.FormSubmitted)
	steps := []*domain.WorkflowStep{
		{StepName: "create_application", Status: domain.StepCompleted, StartedAt: time.Now()},
		{StepName: "submit_form", Status: domain.StepCompleted, StartedAt: time.Now()},
	}
	view := Project(&domain.FullApplication{Application: app, Steps: steps})

	assert.Len(t, view.Steps, 2)
	assert.Equal(t, "submit_form", view.Steps[1].Name)
}

func TestProjectDocumentErrorPrefersOCROverExtract(t *testing.T) {
	app := baseApp(state.ProcessingFailed)
	doc := &domain.Document{Kind: domain.BankStatement, OCRError: "timeout", ExtractError: "parse failed"}
	view := Project(&domain.FullApplication{Application: app, Documents: []*domain.Document{doc}})

	assert.Equal(t, "timeout", view.Documents[0].Error)
}
