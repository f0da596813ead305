package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDedupe реализует domain.DedupeStore через Redis SETNX.
type RedisDedupe struct {
	client *redis.Client
}

// NewRedisDedupe создаёт хранилище ключей дедупликации.
func NewRedisDedupe(client *redis.Client) *RedisDedupe {
	return &RedisDedupe{client: client}
}

// Once выполняет функцию, если ключ ещё не занят. При ошибке функции
// ключ освобождается, чтобы следующий тик мог повторить постановку.
func (c *RedisDedupe) Once(ctx context.Context, key string, ttl time.Duration, fn func() error) (bool, error) {
	ok, err := c.client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	if err := fn(); err != nil {
		_ = c.client.Del(ctx, key).Err()
		return false, err
	}
	return true, nil
}

// Release освобождает ключ.
func (c *RedisDedupe) Release(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}
