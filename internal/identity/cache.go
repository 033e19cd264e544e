package identity

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// BindingCache is a read-through cache in front of FindUserAppBinding.
// Bindings are never deleted, so entries cannot go stale; the ttl only bounds memory.
type BindingCache interface {
	Get(ctx context.Context, tenantID, externalUserID string) (string, bool)
	Set(ctx context.Context, tenantID, externalUserID, internalUserID string)
}

type RedisCache struct {
	rdb redis.Cmdable
	ttl time.Duration
	log *zap.SugaredLogger
}

func NewRedisCache(rdb redis.Cmdable, ttl time.Duration, log *zap.SugaredLogger) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl, log: log}
}

func cacheKey(tenantID, externalUserID string) string {
	return "embed:binding:" + url.QueryEscape(tenantID) + ":" + url.QueryEscape(externalUserID)
}

func (c *RedisCache) Get(ctx context.Context, tenantID, externalUserID string) (string, bool) {
	v, err := c.rdb.Get(ctx, cacheKey(tenantID, externalUserID)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warnw("binding cache get", "tenant", tenantID, "err", err)
		}
		return "", false
	}
	return v, v != ""
}

func (c *RedisCache) Set(ctx context.Context, tenantID, externalUserID, internalUserID string) {
	if err := c.rdb.Set(ctx, cacheKey(tenantID, externalUserID), internalUserID, c.ttl).Err(); err != nil {
		c.log.Warnw("binding cache set", "tenant", tenantID, "err", err)
	}
}
