package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sepsis-sentinel/dashboard/internal/domain"
)

// NewRedisClient connects to Redis using the cache configuration
func NewRedisClient(config domain.CacheConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}
	if config.PoolTimeout > 0 {
		opts.PoolTimeout = config.PoolTimeout
	}
	opts.MaxRetries = config.MaxRetries

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

// RedisHistory keeps one session's records in a Redis list. The key
// expires with the session, so nothing outlives it.
type RedisHistory struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisHistory creates a history bound to key
func NewRedisHistory(client *redis.Client, key string, ttl time.Duration) *RedisHistory {
	return &RedisHistory{client: client, key: key, ttl: ttl}
}

// Append pushes a record and refreshes the key TTL in one transaction.
func (h *RedisHistory) Append(ctx context.Context, record domain.PredictionRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal prediction record: %w", err)
	}

	_, err = h.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, h.key, data)
		pipe.Expire(ctx, h.key, h.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append prediction record: %w", err)
	}
	return nil
}

// All returns every record in insertion order.
func (h *RedisHistory) All(ctx context.Context) ([]domain.PredictionRecord, error) {
	values, err := h.client.LRange(ctx, h.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read prediction history: %w", err)
	}

	records := make([]domain.PredictionRecord, 0, len(values))
	for i, value := range values {
		var record domain.PredictionRecord
		if err := json.Unmarshal([]byte(value), &record); err != nil {
			return nil, fmt.Errorf("corrupt prediction record at %d: %w", i, err)
		}
		records = append(records, record)
	}
	return records, nil
}

// Last returns the most recent record, or nil when empty.
func (h *RedisHistory) Last(ctx context.Context) (*domain.PredictionRecord, error) {
	value, err := h.client.LIndex(ctx, h.key, -1).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read last prediction record: %w", err)
	}

	var record domain.PredictionRecord
	if err := json.Unmarshal([]byte(value), &record); err != nil {
		return nil, fmt.Errorf("corrupt prediction record: %w", err)
	}
	return &record, nil
}

// Len returns the number of records.
func (h *RedisHistory) Len(ctx context.Context) (int, error) {
	n, err := h.client.LLen(ctx, h.key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count prediction history: %w", err)
	}
	return int(n), nil
}

// Touch extends the key TTL without writing.
func (h *RedisHistory) Touch(ctx context.Context) error {
	return h.client.Expire(ctx, h.key, h.ttl).Err()
}

// Discard deletes the list. Called when the owning session ends.
func (h *RedisHistory) Discard(ctx context.Context) error {
	return h.client.Del(ctx, h.key).Err()
}
