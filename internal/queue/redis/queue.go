// Package redisqueue implements a work queue on a Redis list so several
// scraper processes can drain one batch.
package redisqueue

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

const defaultKey = "bulk-scraper:urls"

// Config controls the Redis connection and list key.
type Config struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

type listClient interface {
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LPop(ctx context.Context, key string) *redis.StringCmd
	LLen(ctx context.Context, key string) *redis.IntCmd
	Close() error
}

// Queue stores pending URLs in a Redis list. LPOP is atomic on the server,
// which gives the take-one-item guarantee across goroutines and processes.
type Queue struct {
	client listClient
	key    string
}

// New connects a Queue to the configured Redis instance.
func New(cfg Config) (*Queue, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, errors.New("redis addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewWithClient(client, cfg.Key), nil
}

// NewWithClient builds a queue on an existing client (tests).
func NewWithClient(client listClient, key string) *Queue {
	if key == "" {
		key = defaultKey
	}
	return &Queue{client: client, key: key}
}

// Ping verifies the server is reachable.
func (q *Queue) Ping(ctx context.Context) error {
	if _, err := q.Len(ctx); err != nil {
		return fmt.Errorf("ping redis queue: %w", err)
	}
	return nil
}

// Enqueue appends item to the tail of the list.
func (q *Queue) Enqueue(ctx context.Context, item string) error {
	if err := q.client.RPush(ctx, q.key, item).Err(); err != nil {
		return fmt.Errorf("redis rpush: %w", err)
	}
	return nil
}

// TryDequeue pops the head of the list without blocking.
func (q *Queue) TryDequeue(ctx context.Context) (string, bool, error) {
	item, err := q.client.LPop(ctx, q.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("redis lpop: %w", err)
	}
	return item, true, nil
}

// Len returns the list length.
func (q *Queue) Len(ctx context.Context) (int, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis llen: %w", err)
	}
	return int(n), nil
}

// Close closes the Redis client.
func (q *Queue) Close() error {
	if err := q.client.Close(); err != nil {
		return fmt.Errorf("close redis client: %w", err)
	}
	return nil
}
