package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/Muaazbinsaeed/ai-social-support-app-sub000/domain"
	"github.com/Muaazbinsaeed/ai-social-support-app-sub000/queue"
	"github.com/Muaazbinsaeed/ai-social-support-app-sub000/state"
	"github.com/Muaazbinsaeed/ai-social-support-app-sub000/store"
)

// StageOutcome is what a stage run (OCR, extraction or decision) produced,
// passed into HandleStageCompletion by the job runner. Exactly one of the
// typed result fields is populated, matching job.Stage; Failed and
// ErrMessage carry the classified executor error (its Error() text) on
// failure, after attempt/retry handling has already happened in the runner.
type StageOutcome struct {
	Job         queue.Job
	OCRText     string
	OCRConf     float64
	Extracted   map[string]any
	ExtractConf float64
	DecisionOut domain.Decision
	Failed      bool
	ErrMessage  string
}

// HandleStageCompletion implements handle_stage_completion (§4.4.1): the
// advance function invoked by the job runner on every stage finish. It
// acquires the per-application lease, records the stage result, computes
// and applies the next transition(s), and releases the lease (§4.4.2).
func (e *Engine) HandleStageCompletion(ctx context.Context, appID uuid.UUID, outcome StageOutcome) error {
	workerID := uuid.NewString()
	acquired, err := e.Leases.AcquireLease(ctx, appID, workerID, e.Config.LeaseTTL)
	if err != nil {
		return fmt.Errorf("acquire lease: %w", err)
	}
	if !acquired {
		// Someone else is advancing this application. Persist the result so
		// the current leaseholder observes it on its next tick, but do not
		// compute transitions ourselves (§4.4.2 step 1).
		return e.recordStageResult(ctx, outcome)
	}
	defer e.Leases.ReleaseLease(ctx, appID, workerID)

	if err := e.recordStageResult(ctx, outcome); err != nil {
		return fmt.Errorf("record stage result: %w", err)
	}

	full, err := e.Store.LoadFull(ctx, appID)
	if err != nil {
		return fmt.Errorf("reload application: %w", err)
	}

	// Cancellation is acknowledged at this safe point, ahead of dispatching
	// the next stage (§4.4.5).
	if full.Application.CancelRequested && full.Application.State.CanTransitionTo(state.Cancelled) {
		return e.transitionContended(ctx, appID, full.Application.State, state.Cancelled, store.StepInput{
			StepName: "cancel",
			Status:   domain.StepCancelled,
			Message:  "cancelled during processing",
		})
	}

	for {
		moved, next, err := e.advanceWithRetry(ctx, appID, full)
		if err != nil {
			return err
		}
		full = next
		if !moved {
			return nil
		}
		full, err = e.Store.LoadFull(ctx, appID)
		if err != nil {
			return fmt.Errorf("reload application: %w", err)
		}
	}
}

// transitionContended performs a single Transition and, if it fails with
// store.ErrConflict, reloads the application and retries exactly once
// against the refreshed state before giving up per §4.2/§7's contention
// policy: "retries once after reload, then gives up and leaves an
// ADVANCE_CONTENDED WorkflowStep."
func (e *Engine) transitionContended(ctx context.Context, appID uuid.UUID, from, to state.State, step store.StepInput) error {
	err := e.Store.Transition(ctx, appID, from, to, step)
	if err == nil || !errors.Is(err, store.ErrConflict) {
		return err
	}

	app, reloadErr := e.Store.Load(ctx, appID)
	if reloadErr != nil {
		return fmt.Errorf("reload application after contention: %w", reloadErr)
	}
	err = e.Store.Transition(ctx, appID, app.State, to, step)
	if err == nil || !errors.Is(err, store.ErrConflict) {
		return err
	}

	if logErr := e.Store.LogStep(ctx, appID, store.StepInput{
		StepName: "advance",
		Status:   domain.StepFailed,
		Message:  "ADVANCE_CONTENDED: transition still conflicted after one reload-and-retry",
	}); logErr != nil {
		return fmt.Errorf("log advance contended: %w", logErr)
	}
	return nil
}

// advanceWithRetry applies §4.2/§7's contention policy around advanceOnce: a
// Transition that fails with store.ErrConflict (another worker mutated the
// application between load and write) is retried exactly once against a
// freshly reloaded application. If it conflicts again, the attempt gives up
// and leaves an ADVANCE_CONTENDED WorkflowStep rather than erroring — the
// next stage completion (or a future HandleStageCompletion call for this
// same one, via the queue's own retry) will re-evaluate from scratch.
func (e *Engine) advanceWithRetry(ctx context.Context, appID uuid.UUID, full *domain.FullApplication) (bool, *domain.FullApplication, error) {
	moved, err := e.advanceOnce(ctx, full)
	if err == nil {
		return moved, full, nil
	}
	if !errors.Is(err, store.ErrConflict) {
		return false, full, err
	}

	reloaded, reloadErr := e.Store.LoadFull(ctx, appID)
	if reloadErr != nil {
		return false, full, fmt.Errorf("reload application after contention: %w", reloadErr)
	}
	moved, err = e.advanceOnce(ctx, reloaded)
	if err == nil {
		return moved, reloaded, nil
	}
	if !errors.Is(err, store.ErrConflict) {
		return false, reloaded, err
	}

	if logErr := e.Store.LogStep(ctx, appID, store.StepInput{
		StepName: "advance",
		Status:   domain.StepFailed,
		Message:  "ADVANCE_CONTENDED: transition still conflicted after one reload-and-retry",
	}); logErr != nil {
		return false, reloaded, fmt.Errorf("log advance contended: %w", logErr)
	}
	return false, reloaded, nil
}

func (e *Engine) recordStageResult(ctx context.Context, o StageOutcome) error {
	status := domain.StageCompleted
	if o.Failed {
		status = domain.StageFailed
	}

	switch o.Job.Stage {
	case queue.StageOCR:
		if o.Job.DocumentID == nil {
			return fmt.Errorf("ocr stage result missing document id")
		}
		return e.Store.UpdateDocumentStage(ctx, store.DocumentStageUpdate{
			DocumentID:    *o.Job.DocumentID,
			Stage:         "ocr",
			Attempt:       o.Job.Attempt,
			Status:        status,
			OCRText:       o.OCRText,
			OCRConfidence: o.OCRConf,
			OCRError:      o.ErrMessage,
		})
	case queue.StageExtract:
		if o.Job.DocumentID == nil {
			return fmt.Errorf("extract stage result missing document id")
		}
		return e.Store.UpdateDocumentStage(ctx, store.DocumentStageUpdate{
			DocumentID:        *o.Job.DocumentID,
			Stage:             "extract",
			Attempt:           o.Job.Attempt,
			Status:            status,
			ExtractedFields:   o.Extracted,
			ExtractConfidence: o.ExtractConf,
			ExtractError:      o.ErrMessage,
		})
	case queue.StageDecide:
		if o.Failed {
			// A decision-stage failure only ever reaches here once its
			// retries are exhausted (processDecide re-enqueues a retryable
			// failure instead of calling HandleStageCompletion), so it is
			// unconditionally terminal for the whole application: there is
			// no per-document granularity to fall back to the way OCR and
			// extraction have. Transition straight to PROCESSING_FAILED
			// rather than leaving advanceOnce to infer failure from an
			// absent Decision row, which it cannot distinguish from "still
			// running".
			return e.transitionContended(ctx, o.Job.ApplicationID, state.MakingDecision, state.ProcessingFailed, store.StepInput{
				StepName: "make_decision",
				Status:   domain.StepFailed,
				Message:  o.ErrMessage,
				Payload:  map[string]any{"reason": "DECISION_FAILED"},
				Attempt:  o.Job.Attempt,
			})
		}
		return e.Store.RecordDecision(ctx, o.Job.ApplicationID, o.DecisionOut)
	default:
		return fmt.Errorf("unknown stage %q", o.Job.Stage)
	}
}

// advanceOnce evaluates the current state against observed per-document
// stage statuses and applies at most one transition, per §4.4.2 step 4. It
// returns moved=true when a transition was applied, so the caller can
// reload and re-evaluate — several steps chain immediately (e.g.
// DECISION_COMPLETED -> APPROVED/REJECTED/NEEDS_REVIEW).
func (e *Engine) advanceOnce(ctx context.Context, full *domain.FullApplication) (bool, error) {
	appID := full.Application.ID

	switch full.Application.State {
	case state.ScanningDocuments:
		if !allTerminal(full.Documents, func(d *domain.Document) domain.StageStatus { return d.OCRStatus }) {
			return false, nil
		}
		if countSuccess(full.Documents, func(d *domain.Document) domain.StageStatus { return d.OCRStatus }) == 0 {
			return true, e.Store.Transition(ctx, appID, state.ScanningDocuments, state.ProcessingFailed, store.StepInput{
				StepName: "scan_documents",
				Status:   domain.StepFailed,
				Message:  "all documents failed OCR",
				Payload:  map[string]any{"reason": "ALL_OCR_FAILED"},
			})
		}
		return true, e.Store.Transition(ctx, appID, state.ScanningDocuments, state.OCRCompleted, store.StepInput{
			StepName: "scan_documents",
			Status:   domain.StepCompleted,
			Message:  "document scanning complete",
		})

	case state.OCRCompleted:
		successDocs := filterDocs(full.Documents, func(d *domain.Document) bool { return d.OCRStatus == domain.StageCompleted })
		partial := len(successDocs) < len(full.Documents)

		if err := e.Store.Transition(ctx, appID, state.OCRCompleted, state.Analyzing, store.StepInput{
			StepName: "extract_documents",
			Status:   domain.StepStarted,
			Message:  "structured extraction started",
			Payload:  map[string]any{"partial_success": partial},
		}); err != nil {
			return false, err
		}
		for _, doc := range successDocs {
			docID := doc.ID
			if err := e.Queue.Enqueue(ctx, queue.Job{
				ID:            uuid.NewString(),
				Stage:         queue.StageExtract,
				ApplicationID: appID,
				DocumentID:    &docID,
				EnqueuedAt:    e.Clock(),
				Attempt:       doc.ExtractAttempt + 1,
			}); err != nil {
				return false, fmt.Errorf("enqueue extraction job: %w", err)
			}
		}
		return true, nil

	case state.Analyzing:
		candidates := filterDocs(full.Documents, func(d *domain.Document) bool { return d.OCRStatus == domain.StageCompleted })
		if !allTerminal(candidates, func(d *domain.Document) domain.StageStatus { return d.ExtractStatus }) {
			return false, nil
		}
		successes := countSuccess(candidates, func(d *domain.Document) domain.StageStatus { return d.ExtractStatus })
		partial := len(candidates) < len(full.Documents)

		if successes == 0 {
			if partial {
				if err := e.Store.Transition(ctx, appID, state.Analyzing, state.AnalysisCompleted, store.StepInput{
					StepName: "extract_documents",
					Status:   domain.StepFailed,
					Message:  "extraction failed for the only available document",
				}); err != nil {
					return false, err
				}
				return true, e.Store.Transition(ctx, appID, state.AnalysisCompleted, state.NeedsReview, store.StepInput{
					StepName: "extract_documents",
					Status:   domain.StepFailed,
					Message:  "no extraction available for a decision",
				})
			}
			return true, e.Store.Transition(ctx, appID, state.Analyzing, state.ProcessingFailed, store.StepInput{
				StepName: "extract_documents",
				Status:   domain.StepFailed,
				Message:  "all extractions failed",
				Payload:  map[string]any{"reason": "ALL_EXTRACTION_FAILED"},
			})
		}
		return true, e.Store.Transition(ctx, appID, state.Analyzing, state.AnalysisCompleted, store.StepInput{
			StepName: "extract_documents",
			Status:   domain.StepCompleted,
			Message:  "structured extraction complete",
		})

	case state.AnalysisCompleted:
		if err := e.Store.Transition(ctx, appID, state.AnalysisCompleted, state.MakingDecision, store.StepInput{
			StepName: "make_decision",
			Status:   domain.StepStarted,
			Message:  "decision started",
		}); err != nil {
			return false, err
		}
		if err := e.Queue.Enqueue(ctx, queue.Job{
			ID:            uuid.NewString(),
			Stage:         queue.StageDecide,
			ApplicationID: appID,
			EnqueuedAt:    e.Clock(),
			Attempt:       1,
		}); err != nil {
			return false, fmt.Errorf("enqueue decision job: %w", err)
		}
		return true, nil

	case state.MakingDecision:
		if full.Decision == nil {
			return false, nil
		}
		if err := e.Store.Transition(ctx, appID, state.MakingDecision, state.DecisionCompleted, store.StepInput{
			StepName: "make_decision",
			Status:   domain.StepCompleted,
			Message:  "decision recorded",
		}); err != nil {
			return false, err
		}
		return true, nil

	case state.DecisionCompleted:
		var to state.State
		switch full.Decision.Outcome {
		case domain.OutcomeApproved:
			to = state.Approved
		case domain.OutcomeRejected:
			to = state.Rejected
		default:
			to = state.NeedsReview
		}
		return true, e.Store.Transition(ctx, appID, state.DecisionCompleted, to, store.StepInput{
			StepName: "finalize_decision",
			Status:   domain.StepCompleted,
			Message:  string(full.Decision.Outcome),
		})

	default:
		return false, nil
	}
}

func allTerminal(docs []*domain.Document, field func(*domain.Document) domain.StageStatus) bool {
	for _, d := range docs {
		if !field(d).Terminal() {
			return false
		}
	}
	return true
}

func countSuccess(docs []*domain.Document, field func(*domain.Document) domain.StageStatus) int {
	n := 0
	for _, d := range docs {
		if field(d) == domain.StageCompleted {
			n++
		}
	}
	return n
}

func filterDocs(docs []*domain.Document, pred func(*domain.Document) bool) []*domain.Document {
	out := make([]*domain.Document, 0, len(docs))
	for _, d := range docs {
		if pred(d) {
			out = append(out, d)
		}
	}
	return out
}
