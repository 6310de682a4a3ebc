// Package queue implements the Job Queue Adapter of §4.2: three named
// stage queues (ocr, extract, decide) carrying typed jobs between the
// engine and the worker pool, with processing-deadline tracking so a
// worker crash mid-job surfaces as a lease-expiry rather than a silently
// stuck job.
package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Stage names the three queues the engine ever enqueues to.
type Stage string

const (
	StageOCR     Stage = "ocr"
	StageExtract Stage = "extract"
	StageDecide  Stage = "decide"
)

// Job is the payload carried on a stage queue. DocumentID is absent for
// decide jobs, which operate on the whole application rather than a single
// document.
type Job struct {
	ID            string     `json:"id"`
	Stage         Stage      `json:"stage"`
	ApplicationID uuid.UUID  `json:"application_id"`
	DocumentID    *uuid.UUID `json:"document_id,omitempty"`
	EnqueuedAt    time.Time  `json:"enqueued_at"`
	Attempt       int        `json:"attempt"`
}

// Queue is the Job Queue Adapter collaborator interface of §6. A crashed
// worker's job is recovered by an operator or a reaper sweeping
// MarkProcessing deadlines — this repo's worker pool re-enqueues on
// explicit failure only, and no in-process reaper sweeps expired
// MarkProcessing deadlines.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Dequeue(ctx context.Context, stage Stage, timeout time.Duration) (*Job, error)
	MarkProcessing(ctx context.Context, jobID string, deadline time.Time) error
	CompleteJob(ctx context.Context, jobID string) error
	FailJob(ctx context.Context, job Job, requeue bool) error
	Depth(ctx context.Context, stage Stage) (int, error)
}
