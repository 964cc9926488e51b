// Package memory implements cache.Cache in-process. Every mutation runs
// inside a single critical section, so acquire, release, and extend are
// atomic without further coordination. Entries carry absolute deadlines
// and expire lazily on access; Cleanup sweeps what access never touches.
// The cache owns no timers, so there is nothing to keep a process alive
// and nothing for Destroy to cancel beyond the maps themselves.
package memory

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ludari/ludari/cache"
)

var (
	_ cache.Cache          = (*Cache)(nil)
	_ cache.Cleaner        = (*Cache)(nil)
	_ cache.Destroyer      = (*Cache)(nil)
	_ cache.ReplicaTracker = (*Cache)(nil)
)

// Option configures the Cache.
type Option func(*Cache)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

type lockEntry struct {
	value     string
	expiresAt time.Time
}

type contextEntry struct {
	data      []byte    // JSON-serialized context map
	expiresAt time.Time // zero means no expiry
}

// Cache is the in-process cache.Cache implementation. Intended for
// single-replica deployments, unit testing, and development.
type Cache struct {
	mu sync.Mutex

	locks    map[string]lockEntry
	contexts map[string]contextEntry
	batches  map[string]int64
	replicas map[string]time.Time // replica id -> marker expiry

	logger *slog.Logger
}

// New returns a new empty Cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		locks:    make(map[string]lockEntry),
		contexts: make(map[string]contextEntry),
		batches:  make(map[string]int64),
		replicas: make(map[string]time.Time),
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// AcquireLock atomically test-and-sets the lock for key.
func (c *Cache) AcquireLock(_ context.Context, key string, opts cache.LockOptions) cache.AcquireResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if e, ok := c.locks[key]; ok && e.expiresAt.After(now) {
		return cache.AcquireResult{}
	}

	value := opts.Value
	if value == "" {
		value = uuid.NewString()
	}
	expiresAt := now.Add(opts.TTL)
	c.locks[key] = lockEntry{value: value, expiresAt: expiresAt}
	return cache.AcquireResult{Acquired: true, LockValue: value, ExpiresAt: expiresAt}
}

// ReleaseLock atomically compare-and-deletes.
func (c *Cache) ReleaseLock(_ context.Context, key, lockValue string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.locks[key]
	if !ok || !e.expiresAt.After(time.Now()) || e.value != lockValue {
		return false
	}
	delete(c.locks, key)
	return true
}

// ExtendLock atomically compare-and-expires, restarting the TTL from now.
func (c *Cache) ExtendLock(_ context.Context, key, lockValue string, ttl time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.locks[key]
	if !ok || !e.expiresAt.After(time.Now()) || e.value != lockValue {
		return false
	}
	e.expiresAt = time.Now().Add(ttl)
	c.locks[key] = e
	return true
}

// SetJobContext stores a JSON-serialized context map.
func (c *Cache) SetJobContext(_ context.Context, jobName string, jobCtx map[string]any, ttl time.Duration) {
	data, err := json.Marshal(jobCtx)
	if err != nil {
		c.logger.Warn("ludari/cache: serialize job context failed",
			slog.String("job", jobName), slog.String("error", err.Error()))
		return
	}

	e := contextEntry{data: data}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}

	c.mu.Lock()
	c.contexts[jobName] = e
	c.mu.Unlock()
}

// GetJobContext returns a fresh copy of the stored context, or nil.
func (c *Cache) GetJobContext(_ context.Context, jobName string) map[string]any {
	c.mu.Lock()
	e, ok := c.contexts[jobName]
	if ok && !e.expiresAt.IsZero() && !e.expiresAt.After(time.Now()) {
		delete(c.contexts, jobName)
		ok = false
	}
	c.mu.Unlock()

	if !ok {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(e.data, &m); err != nil {
		c.logger.Warn("ludari/cache: deserialize job context failed",
			slog.String("job", jobName), slog.String("error", err.Error()))
		return nil
	}
	return m
}

// DeleteJobContext removes the stored context.
func (c *Cache) DeleteJobContext(_ context.Context, jobName string) {
	c.mu.Lock()
	delete(c.contexts, jobName)
	c.mu.Unlock()
}

// IncrementBatch atomically increments the job's batch counter.
func (c *Cache) IncrementBatch(_ context.Context, jobName string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.batches[jobName]++
	return c.batches[jobName]
}

// GetBatch returns the current counter, or 0 when absent.
func (c *Cache) GetBatch(_ context.Context, jobName string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.batches[jobName]
}

// ResetBatch deletes the counter.
func (c *Cache) ResetBatch(_ context.Context, jobName string) {
	c.mu.Lock()
	delete(c.batches, jobName)
	c.mu.Unlock()
}

// IsHealthy acquires and releases a disposable lock.
func (c *Cache) IsHealthy(ctx context.Context) bool {
	key := "health:" + uuid.NewString()
	res := c.AcquireLock(ctx, key, cache.LockOptions{TTL: time.Second})
	if !res.Acquired {
		return false
	}
	return c.ReleaseLock(ctx, key, res.LockValue)
}

// RegisterReplica refreshes the presence marker for a replica.
func (c *Cache) RegisterReplica(_ context.Context, replicaID string, ttl time.Duration) {
	c.mu.Lock()
	c.replicas[replicaID] = time.Now().Add(ttl)
	c.mu.Unlock()
}

// PingReplica reports a replica healthy only while its marker retains
// strictly more than the healthy-TTL floor.
func (c *Cache) PingReplica(_ context.Context, replicaID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiry, ok := c.replicas[replicaID]
	if !ok {
		return false
	}
	return time.Until(expiry) > cache.HealthyTTLFloor
}

// Cleanup sweeps expired locks, contexts, and replica markers.
func (c *Cache) Cleanup(_ context.Context) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	for k, e := range c.locks {
		if !e.expiresAt.After(now) {
			delete(c.locks, k)
		}
	}
	for k, e := range c.contexts {
		if !e.expiresAt.IsZero() && !e.expiresAt.After(now) {
			delete(c.contexts, k)
		}
	}
	for k, expiry := range c.replicas {
		if !expiry.After(now) {
			delete(c.replicas, k)
		}
	}
}

// Destroy drops all state. The cache owns no timers, so there is nothing
// else to cancel.
func (c *Cache) Destroy(_ context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.locks = make(map[string]lockEntry)
	c.contexts = make(map[string]contextEntry)
	c.batches = make(map[string]int64)
	c.replicas = make(map[string]time.Time)
}
