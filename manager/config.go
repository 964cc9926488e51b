package manager

import (
	"log/slog"
	"time"

	"github.com/ludari/ludari/cache"
	"github.com/ludari/ludari/handler"
	"github.com/ludari/ludari/storage"
)

// Environment variables consumed by the core.
const (
	// EnvReplicaID supplies the default replica identifier.
	EnvReplicaID = "LUDARI_REPLICA_ID"

	// EnvEnvironment is consulted only to raise the log level of the
	// "replica id taken from environment" notice in production.
	EnvEnvironment = "LUDARI_ENV"
)

const (
	defaultWatchInterval = 5
	minWatchInterval     = 1
	maxWatchInterval     = 5

	// maxControlRetries bounds the optimistic-concurrency retry loop on
	// Control updates.
	maxControlRetries = 5

	// replicaMarkerTTL is the liveness marker TTL; the marker is
	// refreshed on every watch tick, which fires at most every 5s.
	replicaMarkerTTL = 30 * time.Second

	// probeTimeout is the per-replica liveness probe deadline in prepare.
	probeTimeout = 5 * time.Second

	// defaultLockTTLSeconds applies when a distributed job's context
	// does not carry a "ttl" entry.
	defaultLockTTLSeconds = 30

	// watchdogInterval is the deadlock sweep cadence.
	watchdogInterval = 60 * time.Second
)

// Config configures a Manager. Storage and Logger are required; the rest
// is optional.
type Config struct {
	// ReplicaID identifies this replica in the fleet. It must match a
	// UUID or [A-Za-z0-9_-]{8,}. Defaults to LUDARI_REPLICA_ID, else a
	// fresh random identifier.
	ReplicaID string

	// Storage is the shared persistence back end. Required.
	Storage storage.Storage

	// Cache is the shared coordination back end. Defaults to the
	// in-process implementation.
	Cache cache.Cache

	// Logger receives the manager's log lines, gated by
	// Control.LogLevel. Required.
	Logger *slog.Logger

	// Handler dispatches jobs of type "method". Without one, method
	// jobs are not schedulable.
	Handler handler.Handler

	// QuerySecret, when non-empty, enables envelope encryption of job
	// query strings at rest. Validated against the strength rules.
	QuerySecret string

	// Enabled gates whether this replica schedules jobs at all.
	Enabled bool

	// WatchInterval is the watch-job cadence in seconds, clamped to
	// [1, 5]. Defaults to 5.
	WatchInterval int

	// ReleaseLocksOnShutdown controls whether Destroy releases the locks
	// this replica still holds. Defaults to true.
	ReleaseLocksOnShutdown *bool
}
