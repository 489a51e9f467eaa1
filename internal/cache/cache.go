package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kiranshivaraju/planwise/pkg/models"
	"github.com/redis/go-redis/v9"
)

// DefaultTTL bounds how long a finished job stays visible in the mirror.
const DefaultTTL = 24 * time.Hour

// Cache mirrors job status and progress for cheap status reads.
// The store stays the source of truth. Implementations must be safe for concurrent use.
type Cache interface {
	Ping(ctx context.Context) error
	SetJobStatus(ctx context.Context, jobID, status string) error
	GetJobStatus(ctx context.Context, jobID string) (string, bool, error)
	SetJobProgress(ctx context.Context, jobID string, p models.Progress) error
	GetJobProgress(ctx context.Context, jobID string) (models.Progress, bool, error)
	DeleteJob(ctx context.Context, jobID string) error
	Close() error
}

// RedisCache implements the Cache interface using go-redis/v9.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache creates a new RedisCache from a Redis URL.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	return &RedisCache{client: redis.NewClient(opts), ttl: DefaultTTL}, nil
}

// WithTTL returns a copy of the cache that expires keys after ttl.
func (c *RedisCache) WithTTL(ttl time.Duration) *RedisCache {
	return &RedisCache{client: c.client, ttl: ttl}
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) SetJobStatus(ctx context.Context, jobID, status string) error {
	return c.client.Set(ctx, JobStatusKey(jobID), status, c.ttl).Err()
}

func (c *RedisCache) GetJobStatus(ctx context.Context, jobID string) (string, bool, error) {
	val, err := c.client.Get(ctx, JobStatusKey(jobID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (c *RedisCache) SetJobProgress(ctx context.Context, jobID string, p models.Progress) error {
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode progress: %w", err)
	}
	return c.client.Set(ctx, JobProgressKey(jobID), b, c.ttl).Err()
}

func (c *RedisCache) GetJobProgress(ctx context.Context, jobID string) (models.Progress, bool, error) {
	val, err := c.client.Get(ctx, JobProgressKey(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.Progress{}, false, nil
	}
	if err != nil {
		return models.Progress{}, false, err
	}
	var p models.Progress
	if err := json.Unmarshal(val, &p); err != nil {
		return models.Progress{}, false, fmt.Errorf("decode progress: %w", err)
	}
	return p, true, nil
}

// DeleteJob removes both keys of a job in one round trip.
func (c *RedisCache) DeleteJob(ctx context.Context, jobID string) error {
	pipe := c.client.TxPipeline()
	pipe.Del(ctx, JobStatusKey(jobID))
	pipe.Del(ctx, JobProgressKey(jobID))
	_, err := pipe.Exec(ctx)
	return err
}

// Noop is used when REDIS_URL is not configured.
type Noop struct{}

func (Noop) Ping(context.Context) error                         { return nil }
func (Noop) SetJobStatus(context.Context, string, string) error { return nil }
func (Noop) GetJobStatus(context.Context, string) (string, bool, error) {
	return "", false, nil
}
func (Noop) SetJobProgress(context.Context, string, models.Progress) error { return nil }
func (Noop) GetJobProgress(context.Context, string) (models.Progress, bool, error) {
	return models.Progress{}, false, nil
}
func (Noop) DeleteJob(context.Context, string) error { return nil }
func (Noop) Close() error                            { return nil }

var (
	_ Cache = (*RedisCache)(nil)
	_ Cache = Noop{}
)
