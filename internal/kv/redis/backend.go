package redis

import (
	"context"
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"

	"offline-quiz-store/internal/kv"
)

// Backend stores session records as plain Redis strings. Keys are enumerated
// with cursor SCAN so a shared instance with unrelated keys stays cheap to
// walk.
type Backend struct {
	client *redis.Client
}

func NewBackend(client *redis.Client) *Backend {
	return &Backend{client: client}
}

func (b *Backend) Get(ctx context.Context, key string) (string, error) {
	value, err := b.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", kv.ErrKeyNotFound
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

func (b *Backend) Set(ctx context.Context, key, value string) error {
	err := b.client.Set(ctx, key, value, 0).Err()
	if err != nil && strings.HasPrefix(err.Error(), "OOM") {
		// Redis reports maxmemory exhaustion as an OOM command error.
		return kv.ErrQuotaExceeded
	}
	return err
}

func (b *Backend) Delete(ctx context.Context, key string) error {
	return b.client.Del(ctx, key).Err()
}

func (b *Backend) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		matched, next, err := b.client.Scan(ctx, cursor, prefix+"*", 100).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, matched...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}
