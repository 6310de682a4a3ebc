package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Muaazbinsaeed/ai-social-support-app-sub000/domain"
	"github.com/Muaazbinsaeed/ai-social-support-app-sub000/state"
	"github.com/Muaazbinsaeed/ai-social-support-app-sub000/store"
)

// memStore is an in-process ApplicationStore test double, grounded on the
// same contract PostgresStore implements — a compare-and-set Transition,
// idempotent per-attempt document stage writes — without a database, per
// Design Note 4 (the queue runtime, and by extension the whole
// infrastructure layer, must be substitutable by an in-memory
// implementation for tests).
type memStore struct {
	mu    sync.Mutex
	apps  map[uuid.UUID]*domain.Application
	docs  map[uuid.UUID][]*domain.Document
	steps map[uuid.UUID][]*domain.WorkflowStep
	dec   map[uuid.UUID]*domain.Decision
	lease map[uuid.UUID]*domain.Lease
}

func newMemStore() *memStore {
	return &memStore{
		apps:  make(map[uuid.UUID]*domain.Application),
		docs:  make(map[uuid.UUID][]*domain.Document),
		steps: make(map[uuid.UUID][]*domain.WorkflowStep),
		dec:   make(map[uuid.UUID]*domain.Decision),
		lease: make(map[uuid.UUID]*domain.Lease),
	}
}

func (m *memStore) CreateApplication(ctx context.Context, ownerID uuid.UUID, form domain.Form) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.New()
	now := time.Now()
	m.apps[id] = &domain.Application{
		ID: id, OwnerID: ownerID, Form: form, State: state.Draft,
		CreatedAt: now, UpdatedAt: now,
	}
	m.steps[id] = append(m.steps[id], &domain.WorkflowStep{
		ID: uuid.New(), ApplicationID: id, Sequence: 1, StepName: "create_application",
		ToState: state.Draft, Status: domain.StepCompleted, StartedAt: now,
	})
	return id, nil
}

func (m *memStore) AttachDocument(ctx context.Context, appID uuid.UUID, kind domain.DocumentKind, storageHandle string, meta store.DocumentMetadata) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	app, ok := m.apps[appID]
	if !ok {
		return uuid.Nil, store.ErrNotFound
	}
	switch app.State {
	case state.FormSubmitted, state.DocumentsUploaded, state.ProcessingFailed:
	default:
		return uuid.Nil, fmt.Errorf("%w: cannot attach document in state %s", store.ErrInvalidStateForAction, app.State)
	}

	now := time.Now()
	for _, d := range m.docs[appID] {
		if d.Kind == kind {
			d.Filename, d.ByteSize, d.ContentType, d.StorageHandle = meta.Filename, meta.ByteSize, meta.ContentType, storageHandle
			d.UpdatedAt = now
			return d.ID, nil
		}
	}
	doc := &domain.Document{
		ID: uuid.New(), ApplicationID: appID, Kind: kind, Filename: meta.Filename,
		ByteSize: meta.ByteSize, ContentType: meta.ContentType, StorageHandle: storageHandle,
		OCRStatus: domain.StagePending, ExtractStatus: domain.StagePending,
		CreatedAt: now, UpdatedAt: now,
	}
	m.docs[appID] = append(m.docs[appID], doc)
	return doc.ID, nil
}

func (m *memStore) Transition(ctx context.Context, appID uuid.UUID, expectedFrom, to state.State, step store.StepInput) error {
	if err := state.Validate(expectedFrom, to); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidTransition, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	app, ok := m.apps[appID]
	if !ok {
		return store.ErrNotFound
	}
	if app.State != expectedFrom {
		return fmt.Errorf("%w: expected %s, found %s", store.ErrConflict, expectedFrom, app.State)
	}

	app.State = to
	app.UpdatedAt = time.Now()

	m.steps[appID] = append(m.steps[appID], &domain.WorkflowStep{
		ID: uuid.New(), ApplicationID: appID, Sequence: len(m.steps[appID]) + 1,
		StepName: step.StepName, FromState: expectedFrom, ToState: to,
		Status: step.Status, Message: step.Message, Payload: step.Payload,
		StartedAt: time.Now(), Attempt: step.Attempt,
	})
	return nil
}

func (m *memStore) LogStep(ctx context.Context, appID uuid.UUID, step store.StepInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	app, ok := m.apps[appID]
	if !ok {
		return store.ErrNotFound
	}
	m.steps[appID] = append(m.steps[appID], &domain.WorkflowStep{
		ID: uuid.New(), ApplicationID: appID, Sequence: len(m.steps[appID]) + 1,
		StepName: step.StepName, FromState: app.State, ToState: app.State,
		Status: step.Status, Message: step.Message, Payload: step.Payload,
		StartedAt: time.Now(), Attempt: step.Attempt,
	})
	return nil
}

func (m *memStore) UpdateDocumentStage(ctx context.Context, u store.DocumentStageUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, docs := range m.docs {
		for _, d := range docs {
			if d.ID != u.DocumentID {
				continue
			}
			switch u.Stage {
			case "ocr":
				if d.OCRAttempt > u.Attempt {
					return nil
				}
				d.OCRStatus, d.OCRText, d.OCRConfidence, d.OCRError, d.OCRAttempt = u.Status, u.OCRText, u.OCRConfidence, u.OCRError, u.Attempt
			case "extract":
				if d.ExtractAttempt > u.Attempt {
					return nil
				}
				d.ExtractStatus, d.ExtractedFields, d.ExtractConfidence, d.ExtractError, d.ExtractAttempt = u.Status, u.ExtractedFields, u.ExtractConfidence, u.ExtractError, u.Attempt
			}
			d.UpdatedAt = time.Now()
			return nil
		}
	}
	return store.ErrNotFound
}

func (m *memStore) RecordDecision(ctx context.Context, appID uuid.UUID, d domain.Decision) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	app, ok := m.apps[appID]
	if !ok {
		return store.ErrNotFound
	}
	if app.State != state.MakingDecision {
		return fmt.Errorf("%w: decision can only be recorded in MAKING_DECISION", store.ErrInvalidStateForAction)
	}
	dCopy := d
	m.dec[appID] = &dCopy
	return nil
}

func (m *memStore) RequestCancel(ctx context.Context, appID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	app, ok := m.apps[appID]
	if !ok {
		return store.ErrNotFound
	}
	app.CancelRequested = true
	return nil
}

func (m *memStore) Load(ctx context.Context, appID uuid.UUID) (*domain.Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	app, ok := m.apps[appID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *app
	return &cp, nil
}

func (m *memStore) LoadFull(ctx context.Context, appID uuid.UUID) (*domain.FullApplication, error) {
	app, err := m.Load(ctx, appID)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	docs := make([]*domain.Document, len(m.docs[appID]))
	for i, d := range m.docs[appID] {
		cp := *d
		docs[i] = &cp
	}
	steps := make([]*domain.WorkflowStep, len(m.steps[appID]))
	copy(steps, m.steps[appID])

	var decision *domain.Decision
	if d, ok := m.dec[appID]; ok {
		cp := *d
		decision = &cp
	}
	return &domain.FullApplication{Application: app, Documents: docs, Steps: steps, Decision: decision}, nil
}

func (m *memStore) AcquireLease(ctx context.Context, appID uuid.UUID, workerID string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	if l, ok := m.lease[appID]; ok && l.ExpiresAt.After(now) {
		return false, nil
	}
	m.lease[appID] = &domain.Lease{WorkerID: workerID, AcquiredAt: now, ExpiresAt: now.Add(ttl)}
	return true, nil
}

func (m *memStore) ReleaseLease(ctx context.Context, appID uuid.UUID, workerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.lease[appID]; ok && l.WorkerID == workerID {
		delete(m.lease, appID)
	}
	return nil
}

var _ store.ApplicationStore = (*memStore)(nil)
var _ store.LeaseManager = (*memStore)(nil)
