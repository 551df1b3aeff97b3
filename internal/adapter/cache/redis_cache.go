package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/Borui-Eduation/student-records-sub000/internal/domain"
)

const redisKeyPrefix = "studio:workflow:"

// RedisCache shares compiled workflows between instances
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// RedisOptions configures the connection
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
	Timeout  time.Duration
}

// NewRedisClient connects to Redis and verifies the connection
func NewRedisClient(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		DialTimeout:  opts.Timeout,
		ReadTimeout:  opts.Timeout,
		WriteTimeout: opts.Timeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// NewRedisCache creates a cache over an existing client
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

// Get returns the cached workflow for key
func (c *RedisCache) Get(ctx context.Context, key string) (*domain.Workflow, bool, error) {
	payload, err := c.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read cached workflow: %w", err)
	}

	var wf domain.Workflow
	if err := json.Unmarshal(payload, &wf); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached workflow: %w", err)
	}
	return &wf, true, nil
}

// Set stores wf under key for the configured TTL
func (c *RedisCache) Set(ctx context.Context, key string, wf *domain.Workflow) error {
	payload, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("failed to encode workflow: %w", err)
	}
	if err := c.client.Set(ctx, redisKeyPrefix+key, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache workflow: %w", err)
	}
	return nil
}
