package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const maxTxRetries = 3

// RedisStore implements RecordStore using Redis
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration // matches the conversation timeout
	logger *slog.Logger
}

// NewRedisStore creates a new Redis-backed store
func NewRedisStore(redisURL string, ttl time.Duration, logger *slog.Logger) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisStoreFromClient(client, ttl, logger), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{client: client, ttl: ttl, logger: logger}
}

// contextKey generates the Redis key for a conversation
func (r *RedisStore) contextKey(key string) string {
	return fmt.Sprintf("context:%s", key)
}

// Load loads a context record from Redis
func (r *RedisStore) Load(ctx context.Context, key string) (*ContextRecord, error) {
	data, err := r.client.Get(ctx, r.contextKey(key)).Bytes()
	if err == redis.Nil {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load context from Redis: %w", err)
	}
	return r.decode(key, data)
}

// decode treats a malformed record as missing; the next write overwrites it.
func (r *RedisStore) decode(key string, data []byte) (*ContextRecord, error) {
	var rec ContextRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		r.logger.Warn("discarding malformed context record", "conversation_key", key, "error", err)
		return nil, ErrRecordNotFound
	}
	return &rec, nil
}

// Update runs fn inside a WATCH/MULTI transaction, retrying when another writer wins.
func (r *RedisStore) Update(ctx context.Context, key string, fn UpdateFunc) (*ContextRecord, error) {
	redisKey := r.contextKey(key)
	var result *ContextRecord

	txf := func(tx *redis.Tx) error {
		var current *ContextRecord
		data, err := tx.Get(ctx, redisKey).Bytes()
		switch {
		case err == redis.Nil:
		case err != nil:
			return fmt.Errorf("failed to load context from Redis: %w", err)
		default:
			if rec, decodeErr := r.decode(key, data); decodeErr == nil {
				current = rec
			}
		}

		next, err := fn(current)
		if err != nil {
			return err
		}
		next.ConversationKey = key

		payload, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("failed to marshal context: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, redisKey, payload, r.ttl)
			return nil
		})
		if err == nil {
			result = next
		}
		return err
	}

	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := r.client.Watch(ctx, txf, redisKey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to save context to Redis: %w", err)
		}
		return result, nil
	}
	return nil, fmt.Errorf("failed to save context to Redis: %w", redis.TxFailedErr)
}

// Delete removes a conversation's context from Redis
func (r *RedisStore) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.contextKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to clear context: %w", err)
	}
	return nil
}

// DeleteAll removes every conversation context, scanning in batches.
func (r *RedisStore) DeleteAll(ctx context.Context) (int64, error) {
	var removed int64
	iter := r.client.Scan(ctx, 0, r.contextKey("*"), 100).Iterator()
	var batch []string
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := r.client.Del(ctx, batch...).Result()
		if err != nil {
			return fmt.Errorf("failed to clear contexts: %w", err)
		}
		removed += n
		batch = batch[:0]
		return nil
	}
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 100 {
			if err := flush(); err != nil {
				return removed, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("failed to scan contexts: %w", err)
	}
	if err := flush(); err != nil {
		return removed, err
	}
	return removed, nil
}

// Close closes the Redis connection
func (r *RedisStore) Close() error {
	return r.client.Close()
}
