package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/Muaazbinsaeed/ai-social-support-app-sub000/domain"
	"github.com/Muaazbinsaeed/ai-social-support-app-sub000/executor"
	"github.com/Muaazbinsaeed/ai-social-support-app-sub000/queue"
)

// Process implements worker.Processor: it runs the stage named by job.Stage,
// decides whether a failure should be retried per §4.4.4, and — once a
// result is final for this attempt — calls HandleStageCompletion to record
// it and advance the state machine. A job whose failure is retried is
// re-enqueued by the queue itself and does not reach HandleStageCompletion
// at all, since the document's stage status has not changed.
func (e *Engine) Process(ctx context.Context, job queue.Job) error {
	switch job.Stage {
	case queue.StageOCR:
		return e.processOCR(ctx, job)
	case queue.StageExtract:
		return e.processExtract(ctx, job)
	case queue.StageDecide:
		return e.processDecide(ctx, job)
	default:
		return fmt.Errorf("unknown job stage %q", job.Stage)
	}
}

// classify reports whether err is a retryable executor error and, if so,
// whether this job still has attempts remaining.
func (e *Engine) classify(job queue.Job, err error) (retry bool, execErr *executor.Error) {
	if !errors.As(err, &execErr) {
		return false, nil
	}
	return execErr.Class.Retryable() && job.Attempt < e.Config.MaxAttempts, execErr
}

func (e *Engine) processOCR(ctx context.Context, job queue.Job) error {
	if job.DocumentID == nil {
		return fmt.Errorf("ocr job missing document id")
	}
	full, err := e.Store.LoadFull(ctx, job.ApplicationID)
	if err != nil {
		return fmt.Errorf("load application for ocr job: %w", err)
	}
	doc := findDocument(full.Documents, *job.DocumentID)
	if doc == nil {
		return fmt.Errorf("document %s not found", job.DocumentID)
	}

	var result executor.OCRResult
	var runErr error
	if full.Application.CancelRequested {
		runErr = executor.NewError(executor.ClassCancelled, "cancelled before OCR dispatch")
	} else {
		stream, openErr := e.Storage.Open(ctx, doc.StorageHandle)
		if openErr != nil {
			runErr = executor.NewError(executor.ClassUpstreamUnavail, "open document: "+openErr.Error())
		} else {
			result, runErr = e.OCR.Run(ctx, stream, doc.ContentType)
			stream.Close()
		}
	}

	if runErr != nil {
		if retry, execErr := e.classify(job, runErr); retry {
			return e.Queue.FailJob(ctx, job, true)
		} else if execErr != nil {
			return e.finishOCR(ctx, job, executor.OCRResult{}, execErr)
		}
		return e.finishOCR(ctx, job, executor.OCRResult{}, executor.NewError(executor.ClassTransient, runErr.Error()))
	}
	return e.finishOCR(ctx, job, result, nil)
}

func (e *Engine) finishOCR(ctx context.Context, job queue.Job, result executor.OCRResult, execErr *executor.Error) error {
	outcome := StageOutcome{Job: job}
	if execErr != nil {
		outcome.Failed = true
		outcome.ErrMessage = execErr.Error()
	} else {
		outcome.OCRText = result.Text
		outcome.OCRConf = result.Confidence
	}
	return e.HandleStageCompletion(ctx, job.ApplicationID, outcome)
}

func (e *Engine) processExtract(ctx context.Context, job queue.Job) error {
	if job.DocumentID == nil {
		return fmt.Errorf("extract job missing document id")
	}
	full, err := e.Store.LoadFull(ctx, job.ApplicationID)
	if err != nil {
		return fmt.Errorf("load application for extract job: %w", err)
	}
	doc := findDocument(full.Documents, *job.DocumentID)
	if doc == nil {
		return fmt.Errorf("document %s not found", job.DocumentID)
	}

	var result executor.ExtractionResult
	var runErr error
	if full.Application.CancelRequested {
		runErr = executor.NewError(executor.ClassCancelled, "cancelled before extraction dispatch")
	} else {
		stream, openErr := e.Storage.Open(ctx, doc.StorageHandle)
		if openErr != nil {
			runErr = executor.NewError(executor.ClassUpstreamUnavail, "open document: "+openErr.Error())
		} else {
			result, runErr = e.Extraction.Run(ctx, executor.ExtractionRequest{
				Kind:          doc.Kind,
				OCRText:       doc.OCRText,
				StorageHandle: doc.StorageHandle,
				Stream:        stream,
			})
			stream.Close()
		}
	}

	if runErr != nil {
		if retry, execErr := e.classify(job, runErr); retry {
			return e.Queue.FailJob(ctx, job, true)
		} else if execErr != nil {
			return e.finishExtract(ctx, job, executor.ExtractionResult{}, execErr)
		}
		return e.finishExtract(ctx, job, executor.ExtractionResult{}, executor.NewError(executor.ClassTransient, runErr.Error()))
	}
	return e.finishExtract(ctx, job, result, nil)
}

func (e *Engine) finishExtract(ctx context.Context, job queue.Job, result executor.ExtractionResult, execErr *executor.Error) error {
	outcome := StageOutcome{Job: job}
	if execErr != nil {
		outcome.Failed = true
		outcome.ErrMessage = execErr.Error()
	} else {
		outcome.Extracted = result.Fields
		outcome.ExtractConf = result.Confidence
	}
	return e.HandleStageCompletion(ctx, job.ApplicationID, outcome)
}

func (e *Engine) processDecide(ctx context.Context, job queue.Job) error {
	full, err := e.Store.LoadFull(ctx, job.ApplicationID)
	if err != nil {
		return fmt.Errorf("load application for decision job: %w", err)
	}

	inputs := executor.DecisionInputs{Form: full.Application.Form}
	if bank := full.DocumentByKind(domain.BankStatement); bank != nil && bank.ExtractStatus == domain.StageCompleted {
		inputs.BankExtract = bank.ExtractedFields
	}
	if id := full.DocumentByKind(domain.IdentityCard); id != nil && id.ExtractStatus == domain.StageCompleted {
		inputs.IDExtract = id.ExtractedFields
	}

	var runErr error
	var result executor.DecisionResult
	if full.Application.CancelRequested {
		runErr = executor.NewError(executor.ClassCancelled, "cancelled before decision dispatch")
	} else {
		result, runErr = e.Decision.Run(ctx, inputs)
	}

	if runErr != nil {
		if retry, execErr := e.classify(job, runErr); retry {
			return e.Queue.FailJob(ctx, job, true)
		} else if execErr != nil {
			return e.finishDecide(ctx, job, executor.DecisionResult{}, execErr)
		}
		return e.finishDecide(ctx, job, executor.DecisionResult{}, executor.NewError(executor.ClassTransient, runErr.Error()))
	}
	return e.finishDecide(ctx, job, result, nil)
}

func (e *Engine) finishDecide(ctx context.Context, job queue.Job, result executor.DecisionResult, execErr *executor.Error) error {
	outcome := StageOutcome{Job: job}
	if execErr != nil {
		outcome.Failed = true
		outcome.ErrMessage = execErr.Error()
	} else {
		outcome.DecisionOut = domain.Decision{
			ApplicationID: job.ApplicationID,
			Outcome:       result.Outcome,
			Confidence:    result.Confidence,
			Reasoning:     result.Reasoning,
			BenefitAmount: result.BenefitAmount,
			DecidedAt:     e.Clock(),
		}
	}
	return e.HandleStageCompletion(ctx, job.ApplicationID, outcome)
}

func findDocument(docs []*domain.Document, id uuid.UUID) *domain.Document {
	for _, d := range docs {
		if d.ID == id {
			return d
		}
	}
	return nil
}
