// Package store implements the Application Store: the durable, transactional
// persistence layer that is the single source of truth for resumability. It
// is grounded on the teacher's pgx-based StateStore, generalized from a
// single generic "action execution" row to the four eligibility entities
// (Application, Document, WorkflowStep, Decision).
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Muaazbinsaeed/ai-social-support-app-sub000/domain"
	"github.com/Muaazbinsaeed/ai-social-support-app-sub000/state"
)

// StepInput carries the fields the caller supplies when writing a
// WorkflowStep as part of a Transition call.
type StepInput struct {
	StepName string
	Status   domain.StepStatus
	Message  string
	Payload  map[string]any
	Attempt  int
}

// DocumentMetadata is the caller-supplied metadata for AttachDocument.
type DocumentMetadata struct {
	Filename    string
	ByteSize    int64
	ContentType string
}

// DocumentStageUpdate carries a single stage result write, idempotent on
// (DocumentID, Stage, Attempt).
type DocumentStageUpdate struct {
	DocumentID uuid.UUID
	Stage      string // "ocr" or "extract"
	Attempt    int
	Status     domain.StageStatus

	// OCR fields
	OCRText       string
	OCRConfidence float64
	OCRError      string

	// Extraction fields
	ExtractedFields   map[string]any
	ExtractConfidence float64
	ExtractError      string
}

// ApplicationStore is the contract of §4.2: synchronous, transactional
// persistence for applications, documents, workflow steps and decisions.
type ApplicationStore interface {
	CreateApplication(ctx context.Context, ownerID uuid.UUID, form domain.Form) (uuid.UUID, error)
	AttachDocument(ctx context.Context, appID uuid.UUID, kind domain.DocumentKind, storageHandle string, meta DocumentMetadata) (uuid.UUID, error)
	Transition(ctx context.Context, appID uuid.UUID, expectedFrom, to state.State, step StepInput) error
	LogStep(ctx context.Context, appID uuid.UUID, step StepInput) error
	UpdateDocumentStage(ctx context.Context, update DocumentStageUpdate) error
	RecordDecision(ctx context.Context, appID uuid.UUID, d domain.Decision) error
	RequestCancel(ctx context.Context, appID uuid.UUID) error
	Load(ctx context.Context, appID uuid.UUID) (*domain.Application, error)
	LoadFull(ctx context.Context, appID uuid.UUID) (*domain.FullApplication, error)

	AcquireLease(ctx context.Context, appID uuid.UUID, workerID string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, appID uuid.UUID, workerID string) error
}

// PostgresStore implements ApplicationStore over a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an existing connection pool. Callers own the pool's
// lifecycle (construct via pgxpool.New, Close on shutdown).
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) CreateApplication(ctx context.Context, ownerID uuid.UUID, form domain.Form) (uuid.UUID, error) {
	id := uuid.New()
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("begin create application: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO applications (id, owner_id, full_name, national_id, phone, email, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())`,
		id, ownerID, form.FullName, form.NationalID, form.Phone, form.Email, state.Draft)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert application: %w", err)
	}

	if err := insertStep(ctx, tx, id, 1, "create_application", "", string(state.Draft), domain.StepCompleted, "application created", nil, 1); err != nil {
		return uuid.Nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("commit create application: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) AttachDocument(ctx context.Context, appID uuid.UUID, kind domain.DocumentKind, storageHandle string, meta DocumentMetadata) (uuid.UUID, error) {
	app, err := s.Load(ctx, appID)
	if err != nil {
		return uuid.Nil, err
	}
	switch app.State {
	case state.FormSubmitted, state.DocumentsUploaded, state.ProcessingFailed:
	default:
		return uuid.Nil, fmt.Errorf("%w: cannot attach document in state %s", ErrInvalidStateForAction, app.State)
	}

	id := uuid.New()
	err = s.pool.QueryRow(ctx, `
		INSERT INTO documents (id, application_id, kind, filename, byte_size, content_type, storage_handle,
			ocr_status, extract_status, ocr_attempt, extract_attempt, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8, 0, 0, NOW(), NOW())
		ON CONFLICT (application_id, kind) DO UPDATE SET
			filename = EXCLUDED.filename, byte_size = EXCLUDED.byte_size,
			content_type = EXCLUDED.content_type, storage_handle = EXCLUDED.storage_handle,
			ocr_status = EXCLUDED.ocr_status, extract_status = EXCLUDED.extract_status,
			ocr_attempt = 0, extract_attempt = 0, updated_at = NOW()
		RETURNING id`,
		id, appID, kind, meta.Filename, meta.ByteSize, meta.ContentType, storageHandle, domain.StagePending).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrDuplicateDocumentKind, err)
	}
	return id, nil
}

// Transition performs the atomic compare-and-set described in §4.2: it
// validates the transition against state.ValidTransitions, updates the row
// only if the current state still equals expectedFrom, and writes exactly
// one WorkflowStep. A mismatched expectedFrom yields ErrConflict.
func (s *PostgresStore) Transition(ctx context.Context, appID uuid.UUID, expectedFrom, to state.State, step StepInput) error {
	if err := state.Validate(expectedFrom, to); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTransition, err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transition: %w", err)
	}
	defer tx.Rollback(ctx)

	var timestampCol string
	switch to {
	case state.FormSubmitted:
		timestampCol = "submitted_at"
	case state.DecisionCompleted:
		timestampCol = "decided_at"
	case state.ScanningDocuments:
		timestampCol = "processed_at"
	}

	query := `UPDATE applications SET state = $1, updated_at = NOW()`
	args := []any{to, appID, expectedFrom}
	if timestampCol != "" {
		query = fmt.Sprintf(`UPDATE applications SET state = $1, %s = COALESCE(%s, NOW()), updated_at = NOW()`, timestampCol, timestampCol)
	}
	query += ` WHERE id = $2 AND state = $3`

	result, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("transition exec: %w", err)
	}
	if result.RowsAffected() == 0 {
		var current state.State
		if scanErr := tx.QueryRow(ctx, `SELECT state FROM applications WHERE id = $1`, appID).Scan(&current); scanErr != nil {
			if scanErr == pgx.ErrNoRows {
				return ErrNotFound
			}
			return fmt.Errorf("transition reload: %w", scanErr)
		}
		return fmt.Errorf("%w: expected %s, found %s", ErrConflict, expectedFrom, current)
	}

	seq, err := nextSequence(ctx, tx, appID)
	if err != nil {
		return err
	}
	if err := insertStep(ctx, tx, appID, seq, step.StepName, string(expectedFrom), string(to), step.Status, step.Message, step.Payload, step.Attempt); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transition: %w", err)
	}
	return nil
}

// LogStep appends a WorkflowStep without changing the application's state
// or validating a transition, for audit records that describe something
// that happened to the advance process itself rather than a state change
// (e.g. ADVANCE_CONTENDED, per §4.2/§7). FromState and ToState are both set
// to the application's current state.
func (s *PostgresStore) LogStep(ctx context.Context, appID uuid.UUID, step StepInput) error {
	app, err := s.Load(ctx, appID)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin log step: %w", err)
	}
	defer tx.Rollback(ctx)

	seq, err := nextSequence(ctx, tx, appID)
	if err != nil {
		return err
	}
	if err := insertStep(ctx, tx, appID, seq, step.StepName, string(app.State), string(app.State), step.Status, step.Message, step.Payload, step.Attempt); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func nextSequence(ctx context.Context, tx pgx.Tx, appID uuid.UUID) (int, error) {
	var seq int
	err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(sequence), 0) + 1 FROM workflow_steps WHERE application_id = $1`, appID).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("next sequence: %w", err)
	}
	return seq, nil
}

func insertStep(ctx context.Context, tx pgx.Tx, appID uuid.UUID, seq int, name, from, to string, status domain.StepStatus, message string, payload map[string]any, attempt int) error {
	var payloadJSON []byte
	if payload != nil {
		var err error
		payloadJSON, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal step payload: %w", err)
		}
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO workflow_steps (id, application_id, sequence, step_name, from_state, to_state, status, message, payload, started_at, completed_at, attempt)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW(), $10)`,
		uuid.New(), appID, seq, name, from, to, status, message, payloadJSON, attempt)
	if err != nil {
		return fmt.Errorf("insert workflow step: %w", err)
	}
	return nil
}

// UpdateDocumentStage writes OCR or extraction fields. The write is
// idempotent keyed by (DocumentID, Stage, Attempt): a repeat call with the
// same key is a no-op because the attempt column is only advanced by an
// explicit retry, and the engine never issues two distinct writes for one
// attempt.
func (s *PostgresStore) UpdateDocumentStage(ctx context.Context, u DocumentStageUpdate) error {
	var fieldsJSON []byte
	if u.ExtractedFields != nil {
		var err error
		fieldsJSON, err = json.Marshal(u.ExtractedFields)
		if err != nil {
			return fmt.Errorf("marshal extracted fields: %w", err)
		}
	}

	var query string
	var args []any
	switch u.Stage {
	case "ocr":
		query = `
			UPDATE documents SET ocr_status = $1, ocr_text = $2, ocr_confidence = $3, ocr_error = $4, ocr_attempt = $5, updated_at = NOW()
			WHERE id = $6 AND ocr_attempt <= $5`
		args = []any{u.Status, u.OCRText, u.OCRConfidence, u.OCRError, u.Attempt, u.DocumentID}
	case "extract":
		query = `
			UPDATE documents SET extract_status = $1, extracted_fields = $2, extract_confidence = $3, extract_error = $4, extract_attempt = $5, updated_at = NOW()
			WHERE id = $6 AND extract_attempt <= $5`
		args = []any{u.Status, fieldsJSON, u.ExtractConfidence, u.ExtractError, u.Attempt, u.DocumentID}
	default:
		return fmt.Errorf("update document stage: unknown stage %q", u.Stage)
	}

	result, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update document stage: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) RecordDecision(ctx context.Context, appID uuid.UUID, d domain.Decision) error {
	app, err := s.Load(ctx, appID)
	if err != nil {
		return err
	}
	if app.State != state.MakingDecision {
		return fmt.Errorf("%w: decision can only be recorded in MAKING_DECISION, application is in %s", ErrInvalidStateForAction, app.State)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO decisions (application_id, outcome, confidence, reasoning, benefit_amount, decided_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (application_id) DO UPDATE SET
			outcome = EXCLUDED.outcome, confidence = EXCLUDED.confidence,
			reasoning = EXCLUDED.reasoning, benefit_amount = EXCLUDED.benefit_amount, decided_at = NOW()`,
		appID, d.Outcome, d.Confidence, d.Reasoning, d.BenefitAmount)
	if err != nil {
		return fmt.Errorf("record decision: %w", err)
	}
	return nil
}

func (s *PostgresStore) RequestCancel(ctx context.Context, appID uuid.UUID) error {
	result, err := s.pool.Exec(ctx, `UPDATE applications SET cancel_requested = true, updated_at = NOW() WHERE id = $1`, appID)
	if err != nil {
		return fmt.Errorf("request cancel: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, appID uuid.UUID) (*domain.Application, error) {
	app := &domain.Application{}
	var leaseWorker *string
	var leaseAcquired, leaseExpires *time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT id, owner_id, full_name, national_id, phone, email, state, cancel_requested,
			created_at, submitted_at, processed_at, decided_at, updated_at,
			lease_worker_id, lease_acquired_at, lease_expires_at
		FROM applications WHERE id = $1`, appID).Scan(
		&app.ID, &app.OwnerID, &app.Form.FullName, &app.Form.NationalID, &app.Form.Phone, &app.Form.Email,
		&app.State, &app.CancelRequested, &app.CreatedAt, &app.SubmittedAt, &app.ProcessedAt, &app.DecidedAt, &app.UpdatedAt,
		&leaseWorker, &leaseAcquired, &leaseExpires)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load application: %w", err)
	}
	if leaseWorker != nil {
		app.Lease = &domain.Lease{WorkerID: *leaseWorker, AcquiredAt: *leaseAcquired, ExpiresAt: *leaseExpires}
	}
	return app, nil
}

func (s *PostgresStore) LoadFull(ctx context.Context, appID uuid.UUID) (*domain.FullApplication, error) {
	app, err := s.Load(ctx, appID)
	if err != nil {
		return nil, err
	}

	docRows, err := s.pool.Query(ctx, `
		SELECT id, application_id, kind, filename, byte_size, content_type, storage_handle,
			ocr_status, COALESCE(ocr_text, ''), COALESCE(ocr_confidence, 0), COALESCE(ocr_error, ''), ocr_attempt,
			extract_status, extracted_fields, COALESCE(extract_confidence, 0), COALESCE(extract_error, ''), extract_attempt,
			created_at, updated_at
		FROM documents WHERE application_id = $1 ORDER BY kind`, appID)
	if err != nil {
		return nil, fmt.Errorf("load documents: %w", err)
	}
	defer docRows.Close()

	var docs []*domain.Document
	for docRows.Next() {
		d := &domain.Document{}
		var fieldsJSON []byte
		if err := docRows.Scan(&d.ID, &d.ApplicationID, &d.Kind, &d.Filename, &d.ByteSize, &d.ContentType, &d.StorageHandle,
			&d.OCRStatus, &d.OCRText, &d.OCRConfidence, &d.OCRError, &d.OCRAttempt,
			&d.ExtractStatus, &fieldsJSON, &d.ExtractConfidence, &d.ExtractError, &d.ExtractAttempt,
			&d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		if len(fieldsJSON) > 0 {
			if err := json.Unmarshal(fieldsJSON, &d.ExtractedFields); err != nil {
				return nil, fmt.Errorf("unmarshal extracted fields: %w", err)
			}
		}
		docs = append(docs, d)
	}

	stepRows, err := s.pool.Query(ctx, `
		SELECT id, application_id, sequence, step_name, from_state, to_state, status,
			COALESCE(message, ''), payload, started_at, completed_at, attempt
		FROM workflow_steps WHERE application_id = $1 ORDER BY sequence`, appID)
	if err != nil {
		return nil, fmt.Errorf("load workflow steps: %w", err)
	}
	defer stepRows.Close()

	var steps []*domain.WorkflowStep
	for stepRows.Next() {
		st := &domain.WorkflowStep{}
		var payloadJSON []byte
		if err := stepRows.Scan(&st.ID, &st.ApplicationID, &st.Sequence, &st.StepName, &st.FromState, &st.ToState,
			&st.Status, &st.Message, &payloadJSON, &st.StartedAt, &st.CompletedAt, &st.Attempt); err != nil {
			return nil, fmt.Errorf("scan workflow step: %w", err)
		}
		if len(payloadJSON) > 0 {
			if err := json.Unmarshal(payloadJSON, &st.Payload); err != nil {
				return nil, fmt.Errorf("unmarshal step payload: %w", err)
			}
		}
		if st.CompletedAt != nil {
			st.DurationMS = st.CompletedAt.Sub(st.StartedAt).Milliseconds()
		}
		steps = append(steps, st)
	}

	var decision *domain.Decision
	if app.State.IsTerminal() {
		decision = &domain.Decision{}
		err := s.pool.QueryRow(ctx, `
			SELECT application_id, outcome, confidence, reasoning, benefit_amount, decided_at
			FROM decisions WHERE application_id = $1`, appID).Scan(
			&decision.ApplicationID, &decision.Outcome, &decision.Confidence, &decision.Reasoning, &decision.BenefitAmount, &decision.DecidedAt)
		if err == pgx.ErrNoRows {
			decision = nil
		} else if err != nil {
			return nil, fmt.Errorf("load decision: %w", err)
		}
	}

	return &domain.FullApplication{Application: app, Documents: docs, Steps: steps, Decision: decision}, nil
}

// AcquireLease sets the lease columns iff no lease is held or the existing
// one has expired, mirroring db/state_store.go's conditional UPDATE pattern.
func (s *PostgresStore) AcquireLease(ctx context.Context, appID uuid.UUID, workerID string, ttl time.Duration) (bool, error) {
	result, err := s.pool.Exec(ctx, `
		UPDATE applications
		SET lease_worker_id = $1, lease_acquired_at = NOW(), lease_expires_at = NOW() + $2::interval
		WHERE id = $3 AND (lease_worker_id IS NULL OR lease_expires_at <= NOW())`,
		workerID, fmt.Sprintf("%d milliseconds", ttl.Milliseconds()), appID)
	if err != nil {
		return false, fmt.Errorf("acquire lease: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// ReleaseLease clears the lease iff currently held by workerID.
func (s *PostgresStore) ReleaseLease(ctx context.Context, appID uuid.UUID, workerID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE applications
		SET lease_worker_id = NULL, lease_acquired_at = NULL, lease_expires_at = NULL
		WHERE id = $1 AND lease_worker_id = $2`, appID, workerID)
	if err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}
