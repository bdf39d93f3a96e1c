package entity

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go-hermes/internal/common/models"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// LookupCache maps external ids of rarely changing entities (admins,
// pipelines, stages) to local ids. Stale entries are tolerated.
type LookupCache interface {
	Get(ctx context.Context, t models.EntityType, system models.System, externalID int64) (int64, bool)
	Set(ctx context.Context, t models.EntityType, system models.System, externalID, localID int64)
	Invalidate(ctx context.Context, t models.EntityType, system models.System, externalID int64)
}

type NoopLookupCache struct{}

func (NoopLookupCache) Get(context.Context, models.EntityType, models.System, int64) (int64, bool) {
	return 0, false
}
func (NoopLookupCache) Set(context.Context, models.EntityType, models.System, int64, int64) {}
func (NoopLookupCache) Invalidate(context.Context, models.EntityType, models.System, int64) {}

type RedisLookupCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisLookupCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisLookupCache {
	return &RedisLookupCache{client: client, ttl: ttl, logger: logger.Named("lookup_cache")}
}

func cacheKey(t models.EntityType, system models.System, externalID int64) string {
	return fmt.Sprintf("hermes:lookup:%s:%s:%d", t, system, externalID)
}

func (c *RedisLookupCache) Get(ctx context.Context, t models.EntityType, system models.System, externalID int64) (int64, bool) {
	val, err := c.client.Get(ctx, cacheKey(t, system, externalID)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("cache read failed", zap.Error(err))
		}
		return 0, false
	}
	id, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func (c *RedisLookupCache) Set(ctx context.Context, t models.EntityType, system models.System, externalID, localID int64) {
	if err := c.client.Set(ctx, cacheKey(t, system, externalID), localID, c.ttl).Err(); err != nil {
		c.logger.Warn("cache write failed", zap.Error(err))
	}
}

func (c *RedisLookupCache) Invalidate(ctx context.Context, t models.EntityType, system models.System, externalID int64) {
	if err := c.client.Del(ctx, cacheKey(t, system, externalID)).Err(); err != nil {
		c.logger.Warn("cache delete failed", zap.Error(err))
	}
}

// LookupID resolves an external id through the cache, falling back to repo.
// A cached id whose row has gone is dropped and looked up again.
func LookupID(ctx context.Context, repo Repository, cache LookupCache, t models.EntityType, system models.System, externalID int64) (int64, error) {
	if externalID == 0 {
		return 0, ErrNotFound
	}
	if id, ok := cache.Get(ctx, t, system, externalID); ok {
		if _, err := repo.Get(ctx, t, id); err == nil {
			return id, nil
		}
		cache.Invalidate(ctx, t, system, externalID)
	}
	e, err := repo.FindByExternalID(ctx, t, system, externalID)
	if err != nil {
		return 0, err
	}
	cache.Set(ctx, t, system, externalID, e.EntityID())
	return e.EntityID(), nil
}
