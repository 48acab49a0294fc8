package commands

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDecisionCache is the optional (command-set, utterance) -> command
// name cache described in SPEC_FULL.md §4.5, adapted from the teacher's
// shared/redis client (originally used for chat-state and rate-limit
// keys) to intent-decision caching.
type RedisDecisionCache struct {
	client *redis.Client
}

func NewRedisDecisionCache(addr, password string, db int) (*RedisDecisionCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return &RedisDecisionCache{client: client}, nil
}

func (c *RedisDecisionCache) Get(ctx context.Context, key string) (string, bool) {
	val, err := c.client.Get(ctx, decisionKey(key)).Result()
	if err != nil {
		return "", false
	}
	return val, true
}

func (c *RedisDecisionCache) Set(ctx context.Context, key, value string, ttl time.Duration) {
	_ = c.client.Set(ctx, decisionKey(key), value, ttl).Err()
}

func (c *RedisDecisionCache) Close() error {
	return c.client.Close()
}

func decisionKey(key string) string {
	return "intent-decision:" + key
}
