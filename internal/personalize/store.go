package personalize

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/deusflow/newsdigest/internal/cache"
)

// MemoryStore keeps entries in process for retention.
type MemoryStore struct {
	items *cache.Cache[CacheEntry]
}

func NewMemoryStore(retention time.Duration) *MemoryStore {
	return &MemoryStore{items: cache.New[CacheEntry](retention)}
}

func (m *MemoryStore) Get(ctx context.Context, key string) (*CacheEntry, error) {
	e, ok := m.items.Get(key)
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (m *MemoryStore) Set(ctx context.Context, e CacheEntry) error {
	m.items.Set(e.ProfileKey, e)
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.items.Delete(key)
	return nil
}

func (m *MemoryStore) Purge(ctx context.Context) error {
	m.items.Purge()
	return nil
}

// RedisStore shares entries between instances. Keys are prefix + sha256 of
// the profile key, values are JSON.
type RedisStore struct {
	client    *redis.Client
	prefix    string
	retention time.Duration
}

func NewRedisStore(client *redis.Client, prefix string, retention time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "newsdigest:digest:"
	}
	return &RedisStore{client: client, prefix: prefix, retention: retention}
}

// OpenRedis connects to url (redis://...) and checks the connection.
func OpenRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

func (r *RedisStore) redisKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return r.prefix + hex.EncodeToString(sum[:])
}

func (r *RedisStore) Get(ctx context.Context, key string) (*CacheEntry, error) {
	data, err := r.client.Get(ctx, r.redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var e CacheEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode cache entry: %w", err)
	}
	return &e, nil
}

func (r *RedisStore) Set(ctx context.Context, e CacheEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	if err := r.client.Set(ctx, r.redisKey(e.ProfileKey), data, r.retention).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.redisKey(key)).Err()
}

// Purge deletes every key under the prefix.
func (r *RedisStore) Purge(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}
