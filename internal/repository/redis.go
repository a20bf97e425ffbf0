package repository

import (
	"context"
	"fmt"
	"time"

	"forwarder/internal/config"

	"github.com/redis/go-redis/v9"
)

const markerKeyPrefix = "running:"

// markerTTL guards against a marker leaking if the process dies without
// releasing it while another engine instance shares the same redis.
const markerTTL = 30 * time.Minute

// RedisMarkerRepository stores running markers as namespaced SETNX keys.
// Clear is called on startup so markers never survive a restart.
type RedisMarkerRepository struct {
	client *redis.Client
}

// NewRedisClient создает новый клиент Redis на основе конфигурации
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	options := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}

	return redis.NewClient(options)
}

func NewRedisMarkerRepository(client *redis.Client) *RedisMarkerRepository {
	return &RedisMarkerRepository{client: client}
}

func (r *RedisMarkerRepository) TryAcquire(ctx context.Context, taskID int64) (bool, error) {
	if r.client == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	ok, err := r.client.SetNX(ctx, markerKey(taskID), 1, markerTTL).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire marker: %w", err)
	}
	return ok, nil
}

func (r *RedisMarkerRepository) Release(ctx context.Context, taskID int64) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := r.client.Del(ctx, markerKey(taskID)).Err(); err != nil {
		return fmt.Errorf("failed to release marker: %w", err)
	}
	return nil
}

func (r *RedisMarkerRepository) Held(ctx context.Context, taskID int64) (bool, error) {
	if r.client == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	n, err := r.client.Exists(ctx, markerKey(taskID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check marker: %w", err)
	}
	return n > 0, nil
}

// Clear удаляет все маркеры; вызывается при старте процесса
func (r *RedisMarkerRepository) Clear(ctx context.Context) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}

	iter := r.client.Scan(ctx, 0, markerKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("failed to clear marker %s: %w", iter.Val(), err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan markers: %w", err)
	}
	return nil
}

func markerKey(taskID int64) string {
	return fmt.Sprintf("%s%d", markerKeyPrefix, taskID)
}

// Ping проверяет соединение с Redis
func Ping(ctx context.Context, client *redis.Client) error {
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close закрывает соединение с Redis
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
