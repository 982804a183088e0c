package storage

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"sticky-board/domain"
)

type backend interface {
	ListTasks(ctx context.Context, ownerID string, status domain.Status) ([]domain.Task, error)
	GetTask(ctx context.Context, id string) (domain.Task, error)
	CreateTask(ctx context.Context, t domain.Task) error
	UpdateTask(ctx context.Context, t domain.Task) error
	DeleteTask(ctx context.Context, t domain.Task) error
	GetUser(ctx context.Context, id string) (domain.User, error)
	CreateUser(ctx context.Context, u domain.User) error
}

// Cache wraps a store with Redis-backed caching of task listings. Any
// write for an owner evicts all of that owner's listings.
type Cache struct {
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
// A nil client or zero TTL turns caching off.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) ListTasks(ctx context.Context, ownerID string, status domain.Status) ([]domain.Task, error) {
	key := tasksCacheKey(ownerID, status)
	if tasks, ok := c.load(ctx, key); ok {
		return tasks, nil
	}
	tasks, err := c.base.ListTasks(ctx, ownerID, status)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, tasks)
	return tasks, nil
}

func (c *Cache) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return c.base.GetTask(ctx, id)
}

func (c *Cache) CreateTask(ctx context.Context, t domain.Task) error {
	if err := c.base.CreateTask(ctx, t); err != nil {
		return err
	}
	c.evict(ctx, t.OwnerID)
	return nil
}

func (c *Cache) UpdateTask(ctx context.Context, t domain.Task) error {
	if err := c.base.UpdateTask(ctx, t); err != nil {
		return err
	}
	c.evict(ctx, t.OwnerID)
	return nil
}

func (c *Cache) DeleteTask(ctx context.Context, t domain.Task) error {
	if err := c.base.DeleteTask(ctx, t); err != nil {
		return err
	}
	c.evict(ctx, t.OwnerID)
	return nil
}

func (c *Cache) GetUser(ctx context.Context, id string) (domain.User, error) {
	return c.base.GetUser(ctx, id)
}

func (c *Cache) CreateUser(ctx context.Context, u domain.User) error {
	return c.base.CreateUser(ctx, u)
}

func (c *Cache) load(ctx context.Context, key string) ([]domain.Task, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			// fall back to the table store on redis errors
			_ = c.redis.Del(ctx, key).Err()
		}
		return nil, false
	}
	var tasks []domain.Task
	if err := sonic.Unmarshal(data, &tasks); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return nil, false
	}
	return tasks, true
}

func (c *Cache) store(ctx context.Context, key string, tasks []domain.Task) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(tasks)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context, ownerID string) {
	if c.redis == nil {
		return
	}
	keys := []string{tasksCacheKey(ownerID, "")}
	for _, s := range domain.Statuses {
		keys = append(keys, tasksCacheKey(ownerID, s))
	}
	_, _ = c.redis.Del(ctx, keys...).Result()
}

func tasksCacheKey(ownerID string, status domain.Status) string {
	if status == "" {
		return "tasks:" + ownerID
	}
	return "tasks:" + ownerID + ":" + string(status)
}
