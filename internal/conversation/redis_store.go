package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisContextStore keeps each user's context in a Redis list, one JSON
// entry per element, so contexts survive restarts and are shared between
// replicas.
type RedisContextStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisContextStore creates a store. A zero ttl keeps contexts forever.
func NewRedisContextStore(client *redis.Client, ttl time.Duration) *RedisContextStore {
	return &RedisContextStore{client: client, ttl: ttl}
}

func ctxKey(userID string) string {
	return fmt.Sprintf("recall:ctx:%s", userID)
}

func (s *RedisContextStore) Load(ctx context.Context, userID string) (*Context, error) {
	key := ctxKey(userID)

	vals, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange %s: %w", key, err)
	}
	if len(vals) == 0 {
		return nil, nil
	}

	c := &Context{UserID: userID, Entries: make([]Entry, 0, len(vals))}
	for _, v := range vals {
		var entry Entry
		if err := json.Unmarshal([]byte(v), &entry); err != nil {
			return nil, fmt.Errorf("decoding entry of %s: %w", key, err)
		}
		c.Entries = append(c.Entries, entry)
	}
	return c, nil
}

// Save replaces the stored list atomically.
func (s *RedisContextStore) Save(ctx context.Context, c *Context) error {
	key := ctxKey(c.UserID)

	vals := make([]any, 0, len(c.Entries))
	for _, e := range c.Entries {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshaling entry: %w", err)
		}
		vals = append(vals, string(data))
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	if len(vals) > 0 {
		pipe.RPush(ctx, key, vals...)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("pipeline exec for %s: %w", key, err)
	}
	return nil
}

func (s *RedisContextStore) Delete(ctx context.Context, userID string) error {
	key := ctxKey(userID)
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("del %s: %w", key, err)
	}
	return nil
}
