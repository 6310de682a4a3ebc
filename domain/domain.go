// Package domain defines the entities of the eligibility workflow: the
// Application itself, its attached Documents, the append-only WorkflowStep
// audit trail, and the terminal Decision. These are plain data structures
// with JSON tags for API/store (de)serialization; no behavior lives here
// beyond simple derivations — the state machine is in package state.
package domain

import (
	"time"

	"github.com/google/uuid"

	"github.com/Muaazbinsaeed/ai-social-support-app-sub000/state"
)

// Form holds the applicant-provided fields required by FORM_SUBMITTED.
type Form struct {
	FullName   string `json:"full_name"`
	NationalID string `json:"national_id"`
	Phone      string `json:"phone"`
	Email      string `json:"email"`
}

// Lease is a short-lived exclusive claim on an Application's advance
// operation. A nil Lease means no worker currently holds the application.
type Lease struct {
	WorkerID   string    `json:"worker_id"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Expired reports whether the lease's TTL has elapsed as of now.
func (l *Lease) Expired(now time.Time) bool {
	return l == nil || !now.Before(l.ExpiresAt)
}

// Application is the workflow subject.
type Application struct {
	ID              uuid.UUID   `json:"id"`
	OwnerID         uuid.UUID   `json:"owner_id"`
	Form            Form        `json:"form"`
	State           state.State `json:"state"`
	CancelRequested bool        `json:"-"`
	CreatedAt       time.Time   `json:"created_at"`
	SubmittedAt     *time.Time  `json:"submitted_at,omitempty"`
	ProcessedAt     *time.Time  `json:"processed_at,omitempty"`
	DecidedAt       *time.Time  `json:"decided_at,omitempty"`
	UpdatedAt       time.Time   `json:"updated_at"`
	Lease           *Lease      `json:"lease,omitempty"`
}

// Progress returns the canonical 0..100 value for the application's current
// state.
func (a *Application) Progress() int {
	return state.Progress(a.State)
}

// DocumentKind enumerates the two required document types.
type DocumentKind string

const (
	BankStatement DocumentKind = "BANK_STATEMENT"
	IdentityCard  DocumentKind = "IDENTITY_CARD"
)

// StageStatus is the shared status enum for a document's OCR or extraction
// stage.
type StageStatus string

const (
	StagePending   StageStatus = "PENDING"
	StageRunning   StageStatus = "RUNNING"
	StageCompleted StageStatus = "COMPLETED"
	StageFailed    StageStatus = "FAILED"
)

// Terminal reports whether the stage has finished, successfully or not.
func (s StageStatus) Terminal() bool {
	return s == StageCompleted || s == StageFailed
}

// Document is a file attached to an Application.
type Document struct {
	ID            uuid.UUID    `json:"id"`
	ApplicationID uuid.UUID    `json:"application_id"`
	Kind          DocumentKind `json:"kind"`
	Filename      string       `json:"filename"`
	ByteSize      int64        `json:"byte_size"`
	ContentType   string       `json:"content_type"`
	StorageHandle string       `json:"storage_handle"`

	OCRStatus     StageStatus `json:"ocr_status"`
	OCRText       string      `json:"ocr_text,omitempty"`
	OCRConfidence float64     `json:"ocr_confidence,omitempty"`
	OCRError      string      `json:"ocr_error,omitempty"`
	OCRAttempt    int         `json:"ocr_attempt"`

	ExtractStatus     StageStatus       `json:"extract_status"`
	ExtractedFields   map[string]any    `json:"extracted_fields,omitempty"`
	ExtractConfidence float64           `json:"extract_confidence,omitempty"`
	ExtractError      string            `json:"extract_error,omitempty"`
	ExtractAttempt    int               `json:"extract_attempt"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StepStatus enumerates the outcome recorded on a WorkflowStep.
type StepStatus string

const (
	StepStarted   StepStatus = "STARTED"
	StepCompleted StepStatus = "COMPLETED"
	StepFailed    StepStatus = "FAILED"
	StepSkipped   StepStatus = "SKIPPED"
	StepCancelled StepStatus = "CANCELLED"
)

// WorkflowStep is an append-only audit record of state machine activity.
type WorkflowStep struct {
	ID            uuid.UUID      `json:"id"`
	ApplicationID uuid.UUID      `json:"application_id"`
	Sequence      int            `json:"sequence"`
	StepName      string         `json:"step_name"`
	FromState     state.State    `json:"from_state"`
	ToState       state.State    `json:"to_state"`
	Status        StepStatus     `json:"status"`
	Message       string         `json:"message,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
	StartedAt     time.Time      `json:"started_at"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	DurationMS    int64          `json:"duration_ms,omitempty"`
	Attempt       int            `json:"attempt"`
}

// Outcome is the terminal verdict of a Decision.
type Outcome string

const (
	OutcomeApproved    Outcome = "APPROVED"
	OutcomeRejected    Outcome = "REJECTED"
	OutcomeNeedsReview Outcome = "NEEDS_REVIEW"
)

// Decision is the terminal verdict for an Application, 0..1 per application.
type Decision struct {
	ApplicationID uuid.UUID `json:"application_id"`
	Outcome       Outcome   `json:"outcome"`
	Confidence    float64   `json:"confidence"`
	Reasoning     string    `json:"reasoning"`
	BenefitAmount *float64  `json:"benefit_amount,omitempty"`
	DecidedAt     time.Time `json:"decided_at"`
}

// FullApplication bundles an Application with its Documents, WorkflowSteps
// and Decision — the unit returned by a single load_full call.
type FullApplication struct {
	Application *Application
	Documents   []*Document
	Steps       []*WorkflowStep
	Decision    *Decision
}

// DocumentByKind returns the document of the given kind, or nil if absent.
func (f *FullApplication) DocumentByKind(kind DocumentKind) *Document {
	for _, d := range f.Documents {
		if d.Kind == kind {
			return d
		}
	}
	return nil
}
