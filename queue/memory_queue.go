package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue is an in-process Queue for tests, per Design Note 4: tests
// exercise the engine and worker pool without a live Redis.
type MemoryQueue struct {
	mu         sync.Mutex
	queues     map[Stage][]Job
	processing map[string]time.Time
	notify     map[Stage]chan struct{}
}

// NewMemoryQueue constructs an empty queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		queues:     make(map[Stage][]Job),
		processing: make(map[string]time.Time),
		notify:     make(map[Stage]chan struct{}),
	}
}

func (q *MemoryQueue) signal(stage Stage) {
	ch, ok := q.notify[stage]
	if !ok {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, job Job) error {
	q.mu.Lock()
	q.queues[job.Stage] = append(q.queues[job.Stage], job)
	q.mu.Unlock()
	q.signal(job.Stage)
	return nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context, stage Stage, timeout time.Duration) (*Job, error) {
	deadline := time.Now().Add(timeout)
	for {
		q.mu.Lock()
		jobs := q.queues[stage]
		if len(jobs) > 0 {
			job := jobs[0]
			q.queues[stage] = jobs[1:]
			q.mu.Unlock()
			return &job, nil
		}
		if _, ok := q.notify[stage]; !ok {
			q.notify[stage] = make(chan struct{}, 1)
		}
		ch := q.notify[stage]
		q.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ch:
			continue
		case <-time.After(remaining):
			return nil, nil
		}
	}
}

func (q *MemoryQueue) MarkProcessing(ctx context.Context, jobID string, deadline time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.processing[jobID] = deadline
	return nil
}

func (q *MemoryQueue) CompleteJob(ctx context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.processing, jobID)
	return nil
}

func (q *MemoryQueue) FailJob(ctx context.Context, job Job, requeue bool) error {
	q.mu.Lock()
	delete(q.processing, job.ID)
	q.mu.Unlock()

	if !requeue {
		return nil
	}
	retry := job
	retry.ID = uuid.NewString()
	retry.Attempt = job.Attempt + 1
	retry.EnqueuedAt = time.Now()
	return q.Enqueue(ctx, retry)
}

func (q *MemoryQueue) Depth(ctx context.Context, stage Stage) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queues[stage]), nil
}
