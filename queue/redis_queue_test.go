package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestRedisQueue(t *testing.T) *RedisQueue {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisQueue(client, "")
}

func TestRedisQueueEnqueueDequeueRoundTrips(t *testing.T) {
	q := newTestRedisQueue(t)
	ctx := context.Background()

	job := Job{ID: uuid.NewString(), Stage: StageOCR, ApplicationID: uuid.New(), EnqueuedAt: time.Now()}
	require.NoError(t, q.Enqueue(ctx, job))

	got, err := q.Dequeue(ctx, StageOCR, time.Second)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, job.ID, got.ID)
}

func TestRedisQueueMarkProcessingThenCompleteClearsProcessingSet(t *testing.T) {
	q := newTestRedisQueue(t)
	ctx := context.Background()

	require.NoError(t, q.MarkProcessing(ctx, "job-1", time.Now().Add(time.Minute)))
	n, err := q.client.ZCard(ctx, q.processingKey()).Result()
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	require.NoError(t, q.CompleteJob(ctx, "job-1"))
	n, err = q.client.ZCard(ctx, q.processingKey()).Result()
	require.NoError(t, err)
	require.Equal(t, int64(0), n)
}

func TestRedisQueueFailJobRequeues(t *testing.T) {
	q := newTestRedisQueue(t)
	ctx := context.Background()

	job := Job{ID: uuid.NewString(), Stage: StageDecide, ApplicationID: uuid.New()}
	require.NoError(t, q.Enqueue(ctx, job))
	got, err := q.Dequeue(ctx, StageDecide, time.Second)
	require.NoError(t, err)

	require.NoError(t, q.FailJob(ctx, *got, true))

	depth, err := q.Depth(ctx, StageDecide)
	require.NoError(t, err)
	require.Equal(t, 1, depth)
}
