package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/Borui-Eduation/student-records-sub000/internal/logger"
)

// ThrottleService decides whether an actor may issue another request
type ThrottleService interface {
	// Allow records one request for key and reports whether it is within the limit
	Allow(ctx context.Context, key string) (allowed bool, retryAfter time.Duration, err error)
}

// ThrottleConfig configures per-actor request throttling
type ThrottleConfig struct {
	Requests  int
	Window    time.Duration
	BlockTime time.Duration
}

// redisThrottle counts requests per fixed window in Redis and blocks keys
// that exceed the limit
type redisThrottle struct {
	client *redis.Client
	config ThrottleConfig
	logger logger.Logger
}

// NewRedisThrottle creates a Redis backed throttle
func NewRedisThrottle(client *redis.Client, config ThrottleConfig, log logger.Logger) ThrottleService {
	if log == nil {
		log = logger.NewNoop()
	}
	return &redisThrottle{client: client, config: config, logger: log}
}

func (s *redisThrottle) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	blockKey := fmt.Sprintf("throttle:blocked:%s", key)
	countKey := fmt.Sprintf("throttle:count:%s", key)

	ttl, err := s.client.TTL(ctx, blockKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, 0, fmt.Errorf("failed to check block status: %w", err)
	}
	if ttl > 0 {
		return false, ttl, nil
	}

	count, err := s.client.Incr(ctx, countKey).Result()
	if err != nil {
		return false, 0, fmt.Errorf("failed to increment request counter: %w", err)
	}
	if count == 1 {
		if err := s.client.Expire(ctx, countKey, s.config.Window).Err(); err != nil {
			return false, 0, fmt.Errorf("failed to set counter window: %w", err)
		}
	}

	if int(count) <= s.config.Requests {
		return true, 0, nil
	}

	blockData := map[string]interface{}{
		"blocked_at":     time.Now().Unix(),
		"count":          count,
		"correlation_id": logger.CorrelationID(ctx),
	}
	pipeline := s.client.Pipeline()
	pipeline.HSet(ctx, blockKey, blockData)
	pipeline.Expire(ctx, blockKey, s.config.BlockTime)
	if _, err := pipeline.Exec(ctx); err != nil {
		return false, 0, fmt.Errorf("failed to block key: %w", err)
	}

	s.logger.Warn(ctx, "Actor blocked due to request rate", map[string]interface{}{
		"key":        key,
		"count":      count,
		"block_time": s.config.BlockTime.String(),
	})
	return false, s.config.BlockTime, nil
}

// noopThrottle allows everything
type noopThrottle struct{}

// NewNoopThrottle returns a throttle that never limits
func NewNoopThrottle() ThrottleService {
	return noopThrottle{}
}

func (noopThrottle) Allow(context.Context, string) (bool, time.Duration, error) {
	return true, 0, nil
}

// throttleMiddleware limits requests per actor. Errors from the backing store
// let the request through.
func throttleMiddleware(throttle ThrottleService, log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := ActorFrom(r.Context())
			if !ok || throttle == nil {
				next.ServeHTTP(w, r)
				return
			}

			allowed, retryAfter, err := throttle.Allow(r.Context(), actor.ID)
			if err != nil {
				log.Error(r.Context(), "Throttle check failed", err, map[string]interface{}{"actor_id": actor.ID})
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				if retryAfter > 0 {
					w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Round(time.Second)/time.Second)))
				}
				writeErrorResponse(w, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "Too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
