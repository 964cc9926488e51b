// Package cache defines the distributed coordination contract: locks
// fenced by an opaque lock value, per-job dynamic context with TTL,
// monotonic batch counters, and replica liveness probes.
//
// Every cache operation is non-throwing. Implementations swallow back-end
// failures, log them internally, and return the documented fallback:
// an unacquired result, false, nil, 0, or 1. The core treats a failed
// lock acquire as "this replica will not run this firing" and a failed
// release as "the watchdog will eventually clean it up".
package cache

import (
	"context"
	"time"
)

// AcquireResult is the outcome of a lock acquisition attempt. LockValue
// is the fencing token required for release and extension; ExpiresAt is
// the absolute expiry of the granted lock.
type AcquireResult struct {
	Acquired  bool
	LockValue string
	ExpiresAt time.Time
}

// LockOptions configures a lock acquisition. When Value is empty the
// implementation generates a fresh opaque identifier.
type LockOptions struct {
	TTL   time.Duration
	Value string
}

// Cache is the coordination contract consumed by the Manager.
type Cache interface {
	// AcquireLock atomically test-and-sets the lock for key. Concurrent
	// acquirers see exactly one winner; an expired lock counts as absent.
	AcquireLock(ctx context.Context, key string, opts LockOptions) AcquireResult

	// ReleaseLock atomically compare-and-deletes. Returns true only if a
	// lock exists at key and its stored value equals lockValue.
	ReleaseLock(ctx context.Context, key, lockValue string) bool

	// ExtendLock atomically compare-and-expires, restarting the TTL from
	// now. Returns true only on value match.
	ExtendLock(ctx context.Context, key, lockValue string, ttl time.Duration) bool

	// SetJobContext stores a JSON-serializable context map. A zero TTL
	// means no expiry; a repeat set replaces the prior value and timer.
	SetJobContext(ctx context.Context, jobName string, jobCtx map[string]any, ttl time.Duration)

	// GetJobContext returns a defensive copy of the stored context, or
	// nil if absent, expired, or undeserializable.
	GetJobContext(ctx context.Context, jobName string) map[string]any

	// DeleteJobContext removes the stored context. Idempotent.
	DeleteJobContext(ctx context.Context, jobName string)

	// IncrementBatch atomically increments the job's batch counter,
	// zero-initializing on first use. The fallback value on error is 1.
	IncrementBatch(ctx context.Context, jobName string) int64

	// GetBatch returns the current counter, or 0 when absent.
	GetBatch(ctx context.Context, jobName string) int64

	// ResetBatch deletes the counter. Idempotent.
	ResetBatch(ctx context.Context, jobName string)

	// IsHealthy round-trips the back end, typically by acquiring and
	// releasing a disposable lock.
	IsHealthy(ctx context.Context) bool
}

// Cleaner is the optional compaction hook invoked periodically by the
// Manager.
type Cleaner interface {
	Cleanup(ctx context.Context)
}

// Destroyer is the optional teardown hook. Implementations must cancel
// every timer they own.
type Destroyer interface {
	Destroy(ctx context.Context)
}

// ReplicaTracker is the optional replica liveness capability. Caches that
// do not track replicas simply do not implement it; the Manager then
// treats liveness as unprovable and preserves the replica roster as-is.
type ReplicaTracker interface {
	// RegisterReplica refreshes the presence marker for a replica.
	RegisterReplica(ctx context.Context, replicaID string, ttl time.Duration)

	// PingReplica returns true only if the replica's presence marker
	// exists with strictly more than 5 seconds of TTL remaining.
	PingReplica(ctx context.Context, replicaID string) bool
}

// HealthyTTLFloor is the minimum remaining marker TTL for PingReplica to
// report a replica healthy.
const HealthyTTLFloor = 5 * time.Second
