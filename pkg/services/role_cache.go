package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RoleCache caches role lookups.
type RoleCache interface {
	Get(ctx context.Context, identityID uuid.UUID) (string, bool, error)
	Set(ctx context.Context, identityID uuid.UUID, role string) error
	Invalidate(ctx context.Context, identityID uuid.UUID) error
}

// redisRoleCache stores roles in Redis with a TTL.
type redisRoleCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisRoleCache returns a Redis-backed cache, or nil when client is nil
// or the TTL is zero (caching disabled).
func NewRedisRoleCache(client *redis.Client, ttl time.Duration) RoleCache {
	if client == nil || ttl <= 0 {
		return nil
	}
	return &redisRoleCache{client: client, ttl: ttl}
}

func roleCacheKey(identityID uuid.UUID) string {
	return "crm:role:" + identityID.String()
}

func (c *redisRoleCache) Get(ctx context.Context, identityID uuid.UUID) (string, bool, error) {
	role, err := c.client.Get(ctx, roleCacheKey(identityID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read cached role: %w", err)
	}
	return role, true, nil
}

func (c *redisRoleCache) Set(ctx context.Context, identityID uuid.UUID, role string) error {
	if err := c.client.Set(ctx, roleCacheKey(identityID), role, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache role: %w", err)
	}
	return nil
}

func (c *redisRoleCache) Invalidate(ctx context.Context, identityID uuid.UUID) error {
	if err := c.client.Del(ctx, roleCacheKey(identityID)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate cached role: %w", err)
	}
	return nil
}

// noopRoleCache is used when no cache is configured.
type noopRoleCache struct{}

func (noopRoleCache) Get(context.Context, uuid.UUID) (string, bool, error) { return "", false, nil }
func (noopRoleCache) Set(context.Context, uuid.UUID, string) error { return nil }
func (noopRoleCache) Invalidate(context.Context, uuid.UUID) error { return nil }
