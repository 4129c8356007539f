package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const (
	cacheVersionKey = "rbac:version"
	bumpChannel     = "rbac.bump"
)

// Cache keeps role permission sets in redis for a bounded TTL. Every grant,
// role or permission mutation bumps a global version so stale keys are never
// read again.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
	group  singleflight.Group
}

// NewCache instantiates the cache helper. A zero ttl disables caching.
func NewCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *Cache {
	return &Cache{client: client, ttl: ttl, logger: logger}
}

// Enabled reports whether lookups go through redis.
func (c *Cache) Enabled() bool {
	return c != nil && c.client != nil && c.ttl > 0
}

// Version returns the current cache version, initialising when missing.
func (c *Cache) Version(ctx context.Context) (int64, error) {
	if !c.Enabled() {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.SetNX(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, cacheVersionKey).Int64()
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

// Fetch returns the cached permission set of roleID or loads and stores it.
// Concurrent misses for the same key share one load. A caller whose own
// context is still live never inherits the cancellation of the caller that
// started the load. Redis failures fall back to the loader.
func (c *Cache) Fetch(ctx context.Context, roleID int64, loader func(context.Context, int64) ([]string, error)) ([]string, error) {
	if !c.Enabled() {
		return loader(ctx, roleID)
	}
	ver, err := c.Version(ctx)
	if err != nil {
		c.warn("rbac cache version", err)
		return loader(ctx, roleID)
	}
	key := roleKey(roleID, ver)
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var perms []string
		if err := json.Unmarshal(payload, &perms); err == nil {
			return perms, nil
		}
		c.warn("rbac cache decode", err)
	} else if !errors.Is(err, redis.Nil) {
		c.warn("rbac cache get", err)
		return loader(ctx, roleID)
	}

	resultCh := c.group.DoChan(key, func() (any, error) {
		perms, err := loader(ctx, roleID)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(perms)
		if err == nil {
			err = c.client.Set(ctx, key, raw, c.ttl).Err()
		}
		if err != nil {
			c.warn("rbac cache set", err)
		}
		return perms, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-resultCh:
		if res.Err != nil {
			if joinedCancelled(ctx, res.Err) {
				// The load belonged to a caller whose context ended first.
				return loader(ctx, roleID)
			}
			return nil, res.Err
		}
		shared := res.Val.([]string)
		perms := make([]string, len(shared))
		copy(perms, shared)
		return perms, nil
	}
}

// Bump invalidates every cached permission set and publishes the new version.
func (c *Cache) Bump(ctx context.Context) error {
	if !c.Enabled() {
		return nil
	}
	ver, err := c.client.Incr(ctx, cacheVersionKey).Result()
	if err != nil {
		return err
	}
	return c.client.Publish(ctx, bumpChannel, strconv.FormatInt(ver, 10)).Err()
}

func joinedCancelled(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (c *Cache) warn(msg string, err error) {
	if c.logger != nil {
		c.logger.Warn(msg, slog.Any("error", err))
	}
}

func roleKey(roleID int64, version int64) string {
	return "rbac:perms:" + strconv.FormatInt(roleID, 10) + ":" + strconv.FormatInt(version, 10)
}
