package prompthistory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"
)

// MemoryStorage keeps values in process memory.
type MemoryStorage struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// NewMemoryStorage returns an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{values: make(map[string][]byte)}
}

func (storage *MemoryStorage) Get(ctx context.Context, key string) ([]byte, bool, error) {
	storage.mu.RLock()
	defer storage.mu.RUnlock()
	value, ok := storage.values[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), value...), true, nil
}

func (storage *MemoryStorage) Set(ctx context.Context, key string, value []byte) error {
	storage.mu.Lock()
	storage.values[key] = append([]byte(nil), value...)
	storage.mu.Unlock()
	return nil
}

func (storage *MemoryStorage) Delete(ctx context.Context, key string) error {
	storage.mu.Lock()
	delete(storage.values, key)
	storage.mu.Unlock()
	return nil
}

// RedisStorage keeps values in Redis without expiry.
type RedisStorage struct {
	client redis.Cmdable
}

// NewRedisStorage wraps an existing client.
func NewRedisStorage(client redis.Cmdable) (*RedisStorage, error) {
	if client == nil {
		return nil, fmt.Errorf("prompthistory: redis client is required")
	}
	return &RedisStorage{client: client}, nil
}

// OpenRedis parses a redis:// URL and pings the server.
func OpenRedis(ctx context.Context, rawURL string) (*redis.Client, error) {
	options, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("prompthistory: parse redis url: %w", err)
	}
	client := redis.NewClient(options)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("prompthistory: ping redis: %w", err)
	}
	return client, nil
}

func (storage *RedisStorage) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := storage.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (storage *RedisStorage) Set(ctx context.Context, key string, value []byte) error {
	return storage.client.Set(ctx, key, value, 0).Err()
}

func (storage *RedisStorage) Delete(ctx context.Context, key string) error {
	return storage.client.Del(ctx, key).Err()
}
