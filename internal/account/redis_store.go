package account

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps the accounts container as a single JSON value in Redis.
// It exists to prove the Store seam: a deployment that wants its credential
// catalogue off the local disk can point the same Service at Redis.
type RedisStore struct {
	client *redis.Client
	key    string
}

// RedisOptions configure the Redis-backed store.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces the container key; defaults to "agentauth:".
	Prefix string
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "agentauth:"
	}
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}
	return &RedisStore{client: client, key: prefix + "accounts"}, nil
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// Load fetches the container; a missing key is an empty container.
func (s *RedisStore) Load(ctx context.Context) (*Container, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return NewContainer(), nil
		}
		return nil, fmt.Errorf("load accounts from redis: %w", err)
	}
	var parsed Container
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse accounts from redis: %w", err)
	}
	if parsed.Version == 0 {
		parsed.Version = containerVersion
	}
	return &parsed, nil
}

// Save overwrites the container value.
func (s *RedisStore) Save(ctx context.Context, c *Container) error {
	if c == nil {
		return fmt.Errorf("container is nil")
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal accounts for redis: %w", err)
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("save accounts to redis: %w", err)
	}
	return nil
}
