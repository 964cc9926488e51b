// Package redis implements cache.Cache on Redis for multi-replica
// deployments. Locks use SET NX PX for acquisition and small Lua scripts
// for compare-and-delete release and compare-and-expire extension, so the
// fencing value is always honored atomically. Batch counters use INCR;
// replica liveness is derived from the presence marker's remaining PTTL.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	c := rediscache.New(client)
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/ludari/ludari/cache"
)

var (
	_ cache.Cache          = (*Cache)(nil)
	_ cache.ReplicaTracker = (*Cache)(nil)
)

// releaseScript deletes the lock only when the stored value matches.
var releaseScript = goredis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

// extendScript restarts the TTL only when the stored value matches.
var extendScript = goredis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0`)

// Option configures the Cache.
type Option func(*Cache)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// WithKeyPrefix overrides the key namespace, allowing one Redis back end
// to be shared across tenants.
func WithKeyPrefix(prefix string) Option {
	return func(c *Cache) { c.prefix = prefix }
}

// Cache implements cache.Cache backed by Redis. The caller owns the
// client lifecycle.
type Cache struct {
	client goredis.Cmdable
	prefix string
	logger *slog.Logger
}

// New creates a Redis-backed cache.
func New(client goredis.Cmdable, opts ...Option) *Cache {
	c := &Cache{client: client, prefix: "ludari:", logger: slog.Default()}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ── key layout ──

func (c *Cache) lockKey(key string) string        { return c.prefix + "lock:" + key }
func (c *Cache) contextKey(name string) string    { return c.prefix + "context:" + name }
func (c *Cache) batchKey(name string) string      { return c.prefix + "batch:" + name }
func (c *Cache) replicaKey(replica string) string { return c.prefix + "replica:" + replica }

// AcquireLock atomically test-and-sets the lock via SET NX PX.
func (c *Cache) AcquireLock(ctx context.Context, key string, opts cache.LockOptions) cache.AcquireResult {
	value := opts.Value
	if value == "" {
		value = uuid.NewString()
	}

	ok, err := c.client.SetNX(ctx, c.lockKey(key), value, opts.TTL).Result()
	if err != nil {
		c.logger.Warn("ludari/redis: acquire lock failed",
			slog.String("key", key), slog.String("error", err.Error()))
		return cache.AcquireResult{}
	}
	if !ok {
		return cache.AcquireResult{}
	}
	return cache.AcquireResult{
		Acquired:  true,
		LockValue: value,
		ExpiresAt: time.Now().Add(opts.TTL),
	}
}

// ReleaseLock atomically compare-and-deletes through a Lua script.
func (c *Cache) ReleaseLock(ctx context.Context, key, lockValue string) bool {
	n, err := releaseScript.Run(ctx, c.client, []string{c.lockKey(key)}, lockValue).Int64()
	if err != nil {
		c.logger.Warn("ludari/redis: release lock failed",
			slog.String("key", key), slog.String("error", err.Error()))
		return false
	}
	return n == 1
}

// ExtendLock atomically compare-and-expires through a Lua script.
func (c *Cache) ExtendLock(ctx context.Context, key, lockValue string, ttl time.Duration) bool {
	n, err := extendScript.Run(ctx, c.client, []string{c.lockKey(key)}, lockValue, ttl.Milliseconds()).Int64()
	if err != nil {
		c.logger.Warn("ludari/redis: extend lock failed",
			slog.String("key", key), slog.String("error", err.Error()))
		return false
	}
	return n == 1
}

// SetJobContext stores the JSON-serialized context map, with expiry when
// a TTL is given.
func (c *Cache) SetJobContext(ctx context.Context, jobName string, jobCtx map[string]any, ttl time.Duration) {
	data, err := json.Marshal(jobCtx)
	if err != nil {
		c.logger.Warn("ludari/redis: serialize job context failed",
			slog.String("job", jobName), slog.String("error", err.Error()))
		return
	}
	if err := c.client.Set(ctx, c.contextKey(jobName), data, ttl).Err(); err != nil {
		c.logger.Warn("ludari/redis: set job context failed",
			slog.String("job", jobName), slog.String("error", err.Error()))
	}
}

// GetJobContext returns the stored context, or nil if absent, expired,
// or undeserializable.
func (c *Cache) GetJobContext(ctx context.Context, jobName string) map[string]any {
	data, err := c.client.Get(ctx, c.contextKey(jobName)).Bytes()
	if err != nil {
		if !errors.Is(err, goredis.Nil) {
			c.logger.Warn("ludari/redis: get job context failed",
				slog.String("job", jobName), slog.String("error", err.Error()))
		}
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		c.logger.Warn("ludari/redis: deserialize job context failed",
			slog.String("job", jobName), slog.String("error", err.Error()))
		return nil
	}
	return m
}

// DeleteJobContext removes the stored context.
func (c *Cache) DeleteJobContext(ctx context.Context, jobName string) {
	if err := c.client.Del(ctx, c.contextKey(jobName)).Err(); err != nil {
		c.logger.Warn("ludari/redis: delete job context failed",
			slog.String("job", jobName), slog.String("error", err.Error()))
	}
}

// IncrementBatch atomically increments the job's counter via INCR.
// The fallback value on error is 1.
func (c *Cache) IncrementBatch(ctx context.Context, jobName string) int64 {
	n, err := c.client.Incr(ctx, c.batchKey(jobName)).Result()
	if err != nil {
		c.logger.Warn("ludari/redis: increment batch failed",
			slog.String("job", jobName), slog.String("error", err.Error()))
		return 1
	}
	return n
}

// GetBatch returns the current counter, or 0 when absent.
func (c *Cache) GetBatch(ctx context.Context, jobName string) int64 {
	n, err := c.client.Get(ctx, c.batchKey(jobName)).Int64()
	if err != nil {
		if !errors.Is(err, goredis.Nil) {
			c.logger.Warn("ludari/redis: get batch failed",
				slog.String("job", jobName), slog.String("error", err.Error()))
		}
		return 0
	}
	return n
}

// ResetBatch deletes the counter.
func (c *Cache) ResetBatch(ctx context.Context, jobName string) {
	if err := c.client.Del(ctx, c.batchKey(jobName)).Err(); err != nil {
		c.logger.Warn("ludari/redis: reset batch failed",
			slog.String("job", jobName), slog.String("error", err.Error()))
	}
}

// IsHealthy acquires and releases a disposable lock as a round trip.
func (c *Cache) IsHealthy(ctx context.Context) bool {
	key := "health:" + uuid.NewString()
	res := c.AcquireLock(ctx, key, cache.LockOptions{TTL: time.Second})
	if !res.Acquired {
		return false
	}
	return c.ReleaseLock(ctx, key, res.LockValue)
}

// RegisterReplica refreshes the presence marker for a replica.
func (c *Cache) RegisterReplica(ctx context.Context, replicaID string, ttl time.Duration) {
	if err := c.client.Set(ctx, c.replicaKey(replicaID), "1", ttl).Err(); err != nil {
		c.logger.Warn("ludari/redis: register replica failed",
			slog.String("replica", replicaID), slog.String("error", err.Error()))
	}
}

// PingReplica reports a replica healthy only while its marker retains
// strictly more than the healthy-TTL floor.
func (c *Cache) PingReplica(ctx context.Context, replicaID string) bool {
	ttl, err := c.client.PTTL(ctx, c.replicaKey(replicaID)).Result()
	if err != nil {
		c.logger.Warn("ludari/redis: ping replica failed",
			slog.String("replica", replicaID), slog.String("error", err.Error()))
		return false
	}
	return ttl > cache.HealthyTTLFloor
}
