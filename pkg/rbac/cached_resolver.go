package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/scopeguard/pkg/observability"
	"github.com/platinummonkey/scopeguard/pkg/permcache"
)

// DefaultCacheTTL is how long a resolved permission may be served from cache
const DefaultCacheTTL = permcache.DefaultTTL

// Query kinds used as cache and metric labels
const (
	kindPermission = "permission"
	kindAll        = "all"
	kindField      = "field"
)

// CachedResolver serves resolutions from a permission cache and falls back
// to the underlying resolver on a miss. Cache backend failures degrade to
// resolving from the store; store failures are returned.
type CachedResolver struct {
	resolver PermissionResolver
	cache    permcache.Cache
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewCachedResolver wraps resolver with cache. metrics may be nil.
func NewCachedResolver(resolver PermissionResolver, cache permcache.Cache, logger *observability.Logger, metrics *observability.Metrics) *CachedResolver {
	return &CachedResolver{
		resolver: resolver,
		cache:    cache,
		logger:   logger,
		metrics:  metrics,
	}
}

// GetEffectivePermission returns the cached or freshly resolved permission
func (c *CachedResolver) GetEffectivePermission(ctx context.Context, userID int64, entityType EntityType, operation Operation) (EffectivePermission, error) {
	key := permcache.PermissionKey(userID, string(entityType), string(operation))
	return cachedResolve(ctx, c, kindPermission, userID, key, func(ctx context.Context) (EffectivePermission, error) {
		return c.resolver.GetEffectivePermission(ctx, userID, entityType, operation)
	})
}

// GetAllPermissions returns the cached or freshly resolved permission map
func (c *CachedResolver) GetAllPermissions(ctx context.Context, userID int64) ([]EffectivePermission, error) {
	return cachedResolve(ctx, c, kindAll, userID, permcache.AllPermissionsKey(userID), func(ctx context.Context) ([]EffectivePermission, error) {
		return c.resolver.GetAllPermissions(ctx, userID)
	})
}

// GetFieldAccessLevel returns the cached or freshly resolved field access level
func (c *CachedResolver) GetFieldAccessLevel(ctx context.Context, userID int64, entityType EntityType, fieldName string) (AccessLevel, error) {
	key := permcache.FieldAccessKey(userID, string(entityType), fieldName)
	return cachedResolve(ctx, c, kindField, userID, key, func(ctx context.Context) (AccessLevel, error) {
		return c.resolver.GetFieldAccessLevel(ctx, userID, entityType, fieldName)
	})
}

// InvalidateUserPermissions drops every cached resolution for the user.
// All entries linked to the user are gone when it returns nil.
func (c *CachedResolver) InvalidateUserPermissions(ctx context.Context, userID int64) error {
	removed, err := c.cache.InvalidateUser(ctx, userID)
	if err != nil {
		c.countCacheError("invalidate")
		return fmt.Errorf("failed to invalidate permissions for user %d: %w", userID, err)
	}

	if c.metrics != nil {
		c.metrics.CacheInvalidationsTotal.Inc()
		c.metrics.CacheInvalidatedKeys.Add(float64(removed))
	}
	c.logger.WithFields(map[string]interface{}{
		"user_id": userID,
		"removed": removed,
	}).Debug("Invalidated cached permissions")

	return nil
}

func cachedResolve[T any](ctx context.Context, c *CachedResolver, kind string, userID int64, key string, resolve func(context.Context) (T, error)) (T, error) {
	data, err := c.cache.Get(ctx, key)
	switch {
	case err == nil:
		var value T
		if err := json.Unmarshal(data, &value); err == nil {
			c.countHit(kind)
			return value, nil
		}
		c.countCacheError("decode")
		c.logger.WithField("key", key).Warn("Discarding undecodable cached permission")
	case errors.Is(err, permcache.ErrCacheMiss):
	default:
		c.countCacheError("get")
		c.logger.WithError(err).WithField("key", key).Warn("Permission cache read failed")
	}
	c.countMiss(kind)

	start := time.Now()
	value, err := resolve(ctx)
	if c.metrics != nil {
		c.metrics.PermissionResolveDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		c.countResolution(kind, "error")
		return value, err
	}
	c.countResolution(kind, "resolved")

	// A canceled request must not leave a key behind in the user's key set
	if ctx.Err() != nil {
		return value, nil
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		c.countCacheError("encode")
		return value, nil
	}
	if err := c.cache.Set(ctx, userID, key, encoded); err != nil {
		c.countCacheError("set")
		c.logger.WithError(err).WithField("key", key).Warn("Permission cache write failed")
	}

	return value, nil
}

func (c *CachedResolver) countHit(kind string) {
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.WithLabelValues(kind).Inc()
	}
}

func (c *CachedResolver) countMiss(kind string) {
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.WithLabelValues(kind).Inc()
	}
}

func (c *CachedResolver) countCacheError(op string) {
	if c.metrics != nil {
		c.metrics.CacheErrorsTotal.WithLabelValues(op).Inc()
	}
}

func (c *CachedResolver) countResolution(kind, outcome string) {
	if c.metrics != nil {
		c.metrics.PermissionChecksTotal.WithLabelValues(kind, outcome).Inc()
	}
}
