package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/agencyhub/agencyhub/domains/sessions/be/service"
)

const keyPrefix = "agencyhub:sessions"

// RedisCache is the shared fast path for session validation. Keys are scoped
// by tenant database name so hashes never collide across tenants.
type RedisCache struct {
	client redis.UniversalClient
}

func NewRedisCache(client redis.UniversalClient) *RedisCache {
	if client == nil {
		panic("redis cache requires client")
	}
	return &RedisCache{client: client}
}

func key(databaseName, tokenHash string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, databaseName, tokenHash)
}

func (c *RedisCache) Get(ctx context.Context, databaseName, tokenHash string) (service.Record, bool, error) {
	payload, err := c.client.Get(ctx, key(databaseName, tokenHash)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return service.Record{}, false, nil
		}
		return service.Record{}, false, err
	}

	var rec service.Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		// A corrupt entry is treated as a miss; the durable store is authoritative.
		_ = c.client.Del(ctx, key(databaseName, tokenHash)).Err()
		return service.Record{}, false, nil
	}
	return rec, true, nil
}

func (c *RedisCache) Set(ctx context.Context, databaseName string, rec service.Record, ttl time.Duration) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key(databaseName, rec.TokenHash), payload, ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, databaseName, tokenHash string) error {
	return c.client.Del(ctx, key(databaseName, tokenHash)).Err()
}

var _ service.Cache = (*RedisCache)(nil)
