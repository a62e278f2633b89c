package persist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"parley/cmd/internal/chat"
)

// RedisStore keeps the snapshot under a single Redis key.
type RedisStore struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	owned  bool
}

// NewRedisClient parses redisURL and verifies connectivity.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("persist: parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("persist: connect redis: %w", err)
	}
	return client, nil
}

// NewRedisStore returns a store writing key on client. ttl <= 0 keeps the key
// forever. When owned is true, Close closes the client.
func NewRedisStore(client *redis.Client, key string, ttl time.Duration, owned bool) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("persist: nil redis client")
	}
	k, err := normalizeKey(key)
	if err != nil {
		return nil, err
	}
	if ttl < 0 {
		ttl = 0
	}
	return &RedisStore{client: client, key: k, ttl: ttl, owned: owned}, nil
}

// Load implements SnapshotStore.
func (s *RedisStore) Load(ctx context.Context) (chat.Snapshot, bool, error) {
	raw, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return chat.Snapshot{}, false, nil
	}
	if err != nil {
		return chat.Snapshot{}, false, fmt.Errorf("persist: get snapshot: %w", err)
	}

	snap, err := decode(raw)
	if err != nil {
		return chat.Snapshot{}, false, err
	}
	return snap, true, nil
}

// Save implements SnapshotStore.
func (s *RedisStore) Save(ctx context.Context, snap chat.Snapshot) error {
	raw, err := encode(snap)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("persist: set snapshot: %w", err)
	}
	return nil
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close implements SnapshotStore.
func (s *RedisStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}
