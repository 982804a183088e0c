package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// HeaderIdempotencyKey lets a client retry a create without duplicating the task.
const HeaderIdempotencyKey = "Idempotency-Key"

const pendingClaim = "-"

// Deduper remembers which task a client supplied key produced.
type Deduper interface {
	// Claim records key for userID. When the key was seen before, claimed is
	// false and taskID is the task it produced, or "" while still in flight.
	Claim(ctx context.Context, userID, key string) (taskID string, claimed bool, err error)
	Complete(ctx context.Context, userID, key, taskID string) error
	Release(ctx context.Context, userID, key string) error
}

// RedisDeduper stores idempotency keys in Redis so all instances can avoid
// creating the same task twice.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper using the provided Redis client and TTL.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (r *RedisDeduper) key(userID, key string) string {
	return fmt.Sprintf("idem:%s:%s", userID, key)
}

func (r *RedisDeduper) Claim(ctx context.Context, userID, key string) (string, bool, error) {
	k := r.key(userID, key)
	ok, err := r.client.SetNX(ctx, k, pendingClaim, r.ttl).Result()
	if err != nil {
		return "", false, err
	}
	if ok {
		return "", true, nil
	}
	val, err := r.client.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		// expired between the two calls
		return r.Claim(ctx, userID, key)
	}
	if err != nil {
		return "", false, err
	}
	if val == pendingClaim {
		return "", false, nil
	}
	return val, false, nil
}

// Complete binds key to the created task.
func (r *RedisDeduper) Complete(ctx context.Context, userID, key, taskID string) error {
	return r.client.Set(ctx, r.key(userID, key), taskID, r.ttl).Err()
}

// Release forgets key so the client may retry after a failed create.
func (r *RedisDeduper) Release(ctx context.Context, userID, key string) error {
	return r.client.Del(ctx, r.key(userID, key)).Err()
}
