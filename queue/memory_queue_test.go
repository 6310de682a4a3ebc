package queue

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueueEnqueueDequeueFIFO(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	first := Job{ID: uuid.NewString(), Stage: StageOCR, ApplicationID: uuid.New()}
	second := Job{ID: uuid.NewString(), Stage: StageOCR, ApplicationID: uuid.New()}
	require.NoError(t, q.Enqueue(ctx, first))
	require.NoError(t, q.Enqueue(ctx, second))

	got, err := q.Dequeue(ctx, StageOCR, time.Second)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, first.ID, got.ID)

	got, err = q.Dequeue(ctx, StageOCR, time.Second)
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)
}

func TestMemoryQueueDequeueTimesOutWhenEmpty(t *testing.T) {
	q := NewMemoryQueue()
	got, err := q.Dequeue(context.Background(), StageDecide, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryQueueDequeueWakesOnEnqueue(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()
	job := Job{ID: uuid.NewString(), Stage: StageExtract, ApplicationID: uuid.New()}

	resultCh := make(chan *Job, 1)
	go func() {
		got, _ := q.Dequeue(ctx, StageExtract, time.Second)
		resultCh <- got
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, q.Enqueue(ctx, job))

	select {
	case got := <-resultCh:
		require.NotNil(t, got)
		assert.Equal(t, job.ID, got.ID)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not wake on enqueue")
	}
}

func TestMemoryQueueFailJobRequeuesWithIncrementedAttempt(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()
	job := Job{ID: uuid.NewString(), Stage: StageOCR, ApplicationID: uuid.New(), Attempt: 0}

	require.NoError(t, q.Enqueue(ctx, job))
	got, err := q.Dequeue(ctx, StageOCR, time.Second)
	require.NoError(t, err)
	require.NoError(t, q.MarkProcessing(ctx, got.ID, time.Now().Add(time.Minute)))

	require.NoError(t, q.FailJob(ctx, *got, true))

	retried, err := q.Dequeue(ctx, StageOCR, time.Second)
	require.NoError(t, err)
	require.NotNil(t, retried)
	assert.Equal(t, 1, retried.Attempt)
	assert.NotEqual(t, job.ID, retried.ID)
}

func TestMemoryQueueFailJobWithoutRequeueDropsJob(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()
	job := Job{ID: uuid.NewString(), Stage: StageOCR, ApplicationID: uuid.New()}

	require.NoError(t, q.Enqueue(ctx, job))
	got, err := q.Dequeue(ctx, StageOCR, time.Second)
	require.NoError(t, err)
	require.NoError(t, q.FailJob(ctx, *got, false))

	depth, err := q.Depth(ctx, StageOCR)
	require.NoError(t, err)
	assert.Equal(t, 0, depth)
}
