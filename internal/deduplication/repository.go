package deduplication

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"mailroute/pkg/circuitbreaker"
)

type Repository interface {
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
}

type RedisRepository struct {
	client redis.UniversalClient
}

func NewRedisRepository(client redis.UniversalClient) *RedisRepository {
	return &RedisRepository{client: client}
}

func (r *RedisRepository) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	success, err := r.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis SetNX failed: %w", err)
	}
	return success, nil
}

func (r *RedisRepository) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis DEL failed: %w", err)
	}
	return nil
}

// BreakerRepository stops calling Redis while it keeps failing.
type BreakerRepository struct {
	repo Repository
	cb   *circuitbreaker.Breaker
}

func NewBreakerRepository(repo Repository, cfg circuitbreaker.Config) Repository {
	if !cfg.Enabled {
		return repo
	}
	return &BreakerRepository{
		repo: repo,
		cb:   circuitbreaker.New("redis-dedup", cfg, nil),
	}
}

func (r *BreakerRepository) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	result, err := r.cb.Execute(ctx, func() (interface{}, error) {
		return r.repo.SetNX(ctx, key, value, ttl)
	})
	if err != nil {
		if r.cb.IsOpen() {
			return false, fmt.Errorf("circuit breaker is open for redis-dedup: %w", err)
		}
		return false, err
	}
	return result.(bool), nil
}

func (r *BreakerRepository) Delete(ctx context.Context, key string) error {
	_, err := r.cb.Execute(ctx, func() (interface{}, error) {
		return nil, r.repo.Delete(ctx, key)
	})
	return err
}
