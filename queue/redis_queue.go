package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisQueue implements Queue over a single Redis client, grounded on the
// teacher's queue/redis package: BRPOP-style blocking dequeue via BLPop,
// and a processing sorted set keyed by deadline so MarkProcessing/
// CompleteJob never need a second store.
type RedisQueue struct {
	client *redis.Client
	prefix string
}

// NewRedisQueue wraps an already-connected client. prefix defaults to
// "workflow:queue:" when empty.
func NewRedisQueue(client *redis.Client, prefix string) *RedisQueue {
	if prefix == "" {
		prefix = "workflow:queue:"
	}
	return &RedisQueue{client: client, prefix: prefix}
}

func (q *RedisQueue) queueKey(stage Stage) string {
	return q.prefix + string(stage)
}

func (q *RedisQueue) processingKey() string {
	return q.prefix + "processing"
}

func (q *RedisQueue) Enqueue(ctx context.Context, job Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	return q.client.RPush(ctx, q.queueKey(job.Stage), data).Err()
}

func (q *RedisQueue) Dequeue(ctx context.Context, stage Stage, timeout time.Duration) (*Job, error) {
	result, err := q.client.BLPop(ctx, timeout, q.queueKey(stage)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}
	if len(result) < 2 {
		return nil, nil
	}

	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}
	return &job, nil
}

func (q *RedisQueue) MarkProcessing(ctx context.Context, jobID string, deadline time.Time) error {
	return q.client.ZAdd(ctx, q.processingKey(), redis.Z{
		Score:  float64(deadline.Unix()),
		Member: jobID,
	}).Err()
}

func (q *RedisQueue) CompleteJob(ctx context.Context, jobID string) error {
	return q.client.ZRem(ctx, q.processingKey(), jobID).Err()
}

func (q *RedisQueue) FailJob(ctx context.Context, job Job, requeue bool) error {
	if err := q.CompleteJob(ctx, job.ID); err != nil {
		return err
	}
	if !requeue {
		return nil
	}

	retry := job
	retry.ID = uuid.NewString()
	retry.Attempt = job.Attempt + 1
	retry.EnqueuedAt = time.Now()
	return q.Enqueue(ctx, retry)
}

func (q *RedisQueue) Depth(ctx context.Context, stage Stage) (int, error) {
	n, err := q.client.LLen(ctx, q.queueKey(stage)).Result()
	return int(n), err
}
