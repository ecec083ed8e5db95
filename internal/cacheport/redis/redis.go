// Package redis adapts github.com/redis/go-redis/v9 to memoria's Cache
// port: generation-style key/value cache plus a SetNX-based keyed lock.
// Adapted from the teacher's per-workspace-generation caching
// (internal/workspaces/redis_cache.go: GenerationCache,
// RedisGenerationCache, AcquireCommitLock via SetNX, pub/sub invalidation)
// to per-(user_id,group_id) profile caching and per-memory_id write locks.
package redis

import (
	"context"
	"crypto/tls"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"memoria/internal/merrors"
)

// Cache is a Redis-backed ports.Cache implementation.
type Cache struct {
	client goredis.UniversalClient
}

// Options mirrors the teacher's config.RedisConfig shape.
type Options struct {
	Addr                  string
	Password              string
	DB                    int
	TLSInsecureSkipVerify bool
}

// New connects to Redis and verifies connectivity with a Ping, matching the
// teacher's NewRedisGenerationCache construction idiom.
func New(ctx context.Context, opts Options) (*Cache, error) {
	ropts := &goredis.Options{Addr: opts.Addr, Password: opts.Password, DB: opts.DB}
	if opts.TLSInsecureSkipVerify {
		ropts.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}
	client := goredis.NewClient(ropts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, merrors.Transient("redis ping failed", err)
	}
	return &Cache{client: client}, nil
}

func (c *Cache) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == goredis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, merrors.Transient("redis get failed", err)
	}
	return val, true, nil
}

func (c *Cache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return merrors.Transient("redis set failed", err)
	}
	return nil
}

func (c *Cache) Invalidate(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return merrors.Transient("redis invalidate failed", err)
	}
	return nil
}

// AcquireLock mirrors the teacher's AcquireCommitLock (SetNX with a TTL).
func (c *Cache) AcquireLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context), bool, error) {
	ok, err := c.client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return nil, false, merrors.Transient("redis acquire lock failed", err)
	}
	if !ok {
		return nil, false, nil
	}
	release := func(releaseCtx context.Context) {
		_ = c.client.Del(releaseCtx, key).Err()
	}
	return release, true, nil
}

// PublishInvalidation and SubscribeInvalidations extend beyond the minimal
// Cache port for components (e.g. ProfileBuilder) that want cross-replica
// cache-bust notifications, mirroring the teacher's pub/sub pattern.
func (c *Cache) PublishInvalidation(ctx context.Context, channel, payload string) error {
	if err := c.client.Publish(ctx, channel, payload).Err(); err != nil {
		return merrors.Transient("redis publish failed", err)
	}
	return nil
}

func (c *Cache) SubscribeInvalidations(ctx context.Context, channel string) (<-chan string, func()) {
	ch := make(chan string, 1)
	sub := c.client.Subscribe(ctx, channel)
	go func() {
		for msg := range sub.Channel() {
			select {
			case ch <- msg.Payload:
			default:
			}
		}
	}()
	cancel := func() {
		_ = sub.Close()
		close(ch)
	}
	return ch, cancel
}
