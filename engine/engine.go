// Package engine implements the Workflow Engine: the scheduler that drives
// an Application through its state machine by recording stage results and
// computing the next action, one per-application lease at a time. It is
// grounded on the teacher's coordinator package (which drives a workflow's
// phase transitions in response to external events) and statemanager
// (in-memory operation bookkeeping), generalized from a websocket-driven
// remote coordinator to a store-and-queue-driven local one, since this
// service has no external orchestrator to report to.
package engine

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Muaazbinsaeed/ai-social-support-app-sub000/domain"
	"github.com/Muaazbinsaeed/ai-social-support-app-sub000/executor"
	"github.com/Muaazbinsaeed/ai-social-support-app-sub000/queue"
	"github.com/Muaazbinsaeed/ai-social-support-app-sub000/state"
	"github.com/Muaazbinsaeed/ai-social-support-app-sub000/store"
)

// Config holds the engine's scheduling knobs (§4.4.2, §4.4.4).
type Config struct {
	LeaseTTL    time.Duration // 30s per §4.4.2
	MaxAttempts int           // 3 per §4.4.4
}

// DefaultConfig returns the spec's literal defaults.
func DefaultConfig() Config {
	return Config{LeaseTTL: 30 * time.Second, MaxAttempts: 3}
}

// Deps is the engine's explicit dependency record. There is no
// package-level singleton; every collaborator is constructed by the
// composition root and passed in here.
type Deps struct {
	Store      store.ApplicationStore
	Queue      queue.Queue
	Leases     store.LeaseManager
	Storage    DocumentStorage
	OCR        *executor.OCRExecutor
	Extraction *executor.ExtractionExecutor
	Decision   *executor.DecisionExecutor
	Clock      func() time.Time
	Logger     *logrus.Entry
	Config     Config
}

// Engine is the scheduler of §4.4. It has no long-running loop of its own
// (§5): it is invoked synchronously by HTTP handlers for user-initiated
// actions and by the worker pool on stage completion.
type Engine struct {
	Deps
}

// New constructs an Engine, filling in defaults for any zero-valued Deps
// fields that have a sensible default (Clock, Logger, Config).
func New(deps Deps) *Engine {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if deps.Config.LeaseTTL == 0 {
		deps.Config = DefaultConfig()
	}
	return &Engine{Deps: deps}
}

func validateForm(form domain.Form) error {
	if form.FullName == "" || form.NationalID == "" || form.Phone == "" || form.Email == "" {
		return fmt.Errorf("%w: full_name, national_id, phone and email are all required", ErrInvalidForm)
	}
	return nil
}

// StartApplication implements the start_application entry point of §4.4.1:
// validates the form, creates the application in DRAFT, and immediately
// transitions it to FORM_SUBMITTED.
func (e *Engine) StartApplication(ctx context.Context, ownerID uuid.UUID, form domain.Form) (*domain.Application, error) {
	if err := validateForm(form); err != nil {
		return nil, err
	}

	appID, err := e.Store.CreateApplication(ctx, ownerID, form)
	if err != nil {
		return nil, fmt.Errorf("create application: %w", err)
	}

	err = e.Store.Transition(ctx, appID, state.Draft, state.FormSubmitted, store.StepInput{
		StepName: "submit_form",
		Status:   domain.StepCompleted,
		Message:  "form submitted",
	})
	if err != nil {
		return nil, fmt.Errorf("submit form: %w", err)
	}

	return e.Store.Load(ctx, appID)
}

// DocumentUpload is the caller-supplied input of the upload_documents entry
// point: a document stream plus its declared kind and metadata.
type DocumentUpload struct {
	Kind        domain.DocumentKind
	Filename    string
	ContentType string
	Size        int64
	Data        io.Reader
}

// UploadDocuments implements upload_documents (§4.4.1): attaches each
// document via the Storage collaborator and the store, then transitions
// FORM_SUBMITTED -> DOCUMENTS_UPLOADED once both kinds are present. With
// only one kind present the application stays in FORM_SUBMITTED.
func (e *Engine) UploadDocuments(ctx context.Context, appID uuid.UUID, uploads []DocumentUpload) ([]uuid.UUID, *domain.Application, error) {
	app, err := e.Store.Load(ctx, appID)
	if err != nil {
		return nil, nil, err
	}
	switch app.State {
	case state.FormSubmitted, state.DocumentsUploaded, state.ProcessingFailed:
	default:
		return nil, nil, fmt.Errorf("%w: cannot upload documents in state %s", ErrInvalidState, app.State)
	}

	ids := make([]uuid.UUID, 0, len(uploads))
	for _, u := range uploads {
		handle, err := e.Storage.Put(ctx, u.Data, store.DocumentMetadata{
			Filename:    u.Filename,
			ByteSize:    u.Size,
			ContentType: u.ContentType,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("store document %s: %w", u.Kind, err)
		}

		id, err := e.Store.AttachDocument(ctx, appID, u.Kind, handle, store.DocumentMetadata{
			Filename:    u.Filename,
			ByteSize:    u.Size,
			ContentType: u.ContentType,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("attach document %s: %w", u.Kind, err)
		}
		ids = append(ids, id)
	}

	full, err := e.Store.LoadFull(ctx, appID)
	if err != nil {
		return nil, nil, err
	}

	if app.State == state.FormSubmitted && hasBothDocumentKinds(full.Documents) {
		err := e.Store.Transition(ctx, appID, state.FormSubmitted, state.DocumentsUploaded, store.StepInput{
			StepName: "upload_documents",
			Status:   domain.StepCompleted,
			Message:  "both documents received",
		})
		if err != nil {
			return nil, nil, fmt.Errorf("transition to documents_uploaded: %w", err)
		}
	}

	updated, err := e.Store.Load(ctx, appID)
	if err != nil {
		return nil, nil, err
	}
	return ids, updated, nil
}

func hasBothDocumentKinds(docs []*domain.Document) bool {
	var hasBank, hasID bool
	for _, d := range docs {
		switch d.Kind {
		case domain.BankStatement:
			hasBank = true
		case domain.IdentityCard:
			hasID = true
		}
	}
	return hasBank && hasID
}

// BeginProcessing implements begin_processing (§4.4.1): validates the
// application is in DOCUMENTS_UPLOADED (or PROCESSING_FAILED with
// forceRetry), transitions to SCANNING_DOCUMENTS, and enqueues one OCR job
// per document that has not already completed OCR successfully.
func (e *Engine) BeginProcessing(ctx context.Context, appID uuid.UUID, forceRetry bool) (*domain.Application, error) {
	app, err := e.Store.Load(ctx, appID)
	if err != nil {
		return nil, err
	}

	var from state.State
	switch {
	case app.State == state.DocumentsUploaded:
		from = state.DocumentsUploaded
	case app.State == state.ScanningDocuments, app.State == state.Analyzing, app.State == state.MakingDecision:
		return nil, fmt.Errorf("%w: application is already being processed", ErrAlreadyRunning)
	case app.State == state.ProcessingFailed && forceRetry:
		from = state.ProcessingFailed
	default:
		return nil, fmt.Errorf("%w: cannot begin processing in state %s", ErrInvalidState, app.State)
	}

	err = e.Store.Transition(ctx, appID, from, state.ScanningDocuments, store.StepInput{
		StepName: "begin_processing",
		Status:   domain.StepCompleted,
		Message:  "processing started",
		Attempt:  1,
	})
	if err != nil {
		return nil, fmt.Errorf("begin processing: %w", err)
	}

	full, err := e.Store.LoadFull(ctx, appID)
	if err != nil {
		return nil, err
	}
	for _, doc := range full.Documents {
		if doc.OCRStatus == domain.StageCompleted {
			continue
		}
		docID := doc.ID
		if err := e.Queue.Enqueue(ctx, queue.Job{
			ID:            uuid.NewString(),
			Stage:         queue.StageOCR,
			ApplicationID: appID,
			DocumentID:    &docID,
			EnqueuedAt:    e.Clock(),
			Attempt:       doc.OCRAttempt + 1,
		}); err != nil {
			return nil, fmt.Errorf("enqueue ocr job for %s: %w", doc.Kind, err)
		}
	}

	return e.Store.Load(ctx, appID)
}

// Cancel implements cancel (§4.4.1/§4.4.5). In a running state it only
// raises the cancel flag; the advance algorithm finalizes the transition to
// CANCELLED at the next safe point. In a non-running, non-terminal state it
// finalizes immediately since there is no in-flight stage to wait for.
func (e *Engine) Cancel(ctx context.Context, appID uuid.UUID) (*domain.Application, error) {
	app, err := e.Store.Load(ctx, appID)
	if err != nil {
		return nil, err
	}
	if app.State.IsTerminal() {
		return nil, fmt.Errorf("%w: application already in terminal state %s", ErrTerminal, app.State)
	}

	if err := e.Store.RequestCancel(ctx, appID); err != nil {
		return nil, fmt.Errorf("request cancel: %w", err)
	}

	if app.State.IsRunning() {
		return e.Store.Load(ctx, appID)
	}

	if err := e.Store.Transition(ctx, appID, app.State, state.Cancelled, store.StepInput{
		StepName: "cancel",
		Status:   domain.StepCancelled,
		Message:  "cancelled by owner",
	}); err != nil {
		return nil, fmt.Errorf("finalize cancel: %w", err)
	}
	return e.Store.Load(ctx, appID)
}
