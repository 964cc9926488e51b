// Package manager implements the orchestration core: lifecycle, the
// scheduling loop, the per-firing execution pipeline, cross-replica
// synchronization through the shared Control record, distributed lock
// acquisition and release, stale-lock detection, and graceful shutdown.
package manager

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	cronlib "github.com/robfig/cron/v3"

	"github.com/ludari/ludari"
	"github.com/ludari/ludari/backoff"
	"github.com/ludari/ludari/cache"
	memcache "github.com/ludari/ludari/cache/memory"
	"github.com/ludari/ludari/envelope"
	"github.com/ludari/ludari/handler"
	"github.com/ludari/ludari/id"
	"github.com/ludari/ludari/lens"
	"github.com/ludari/ludari/storage"
)

// Execution is a bound execution closure invoked by one firing. The
// returned value becomes the JobRun result through the serializer laws.
type Execution func(ctx context.Context, jobCtx map[string]any, l *lens.Lens) (any, error)

// cronParser accepts 5- or 6-field cron expressions plus descriptors.
var cronParser = cronlib.NewParser(
	cronlib.SecondOptional | cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// activeLock tracks one lock acquired by this replica and not yet
// released. The deadlock watchdog reclaims entries that outlive twice
// their TTL.
type activeLock struct {
	jobName    string
	lockValue  string
	acquiredAt time.Time
	ttl        time.Duration
}

// Manager is one orchestrator replica. Create it with New, bring it up
// with Initialize, and tear it down with Destroy. All public APIs are
// safe for concurrent use.
type Manager struct {
	storage      storage.Storage
	cache        cache.Cache
	logger       *slog.Logger
	handler      handler.Handler
	querySecret  string
	replicaID    string
	enabled      bool
	watchSeconds int
	releaseLocks bool

	runner      *cronlib.Cron
	retry       backoff.Strategy
	logLevel    atomic.Value // storage.LogLevel
	isResetting atomic.Bool

	mu          sync.Mutex
	initialized bool
	destroyed   bool
	controlID   id.ControlID
	cronJobs    map[string]cronlib.EntryID
	inline      map[string]Execution
	activeLocks map[string]activeLock

	sweepInterval time.Duration
	watchdogStop  chan struct{}
	wg            sync.WaitGroup
}

// New validates the configuration and creates a Manager. Nothing is
// scheduled until Initialize runs.
func New(cfg Config) (*Manager, error) {
	if cfg.Storage == nil {
		return nil, ludari.ErrNoStorage
	}
	if cfg.Logger == nil {
		return nil, ludari.ErrNoLogger
	}
	if cfg.QuerySecret != "" {
		if err := envelope.ValidateSecret(cfg.QuerySecret); err != nil {
			return nil, err
		}
	}

	replicaID := cfg.ReplicaID
	fromEnv := false
	if replicaID == "" {
		if v := os.Getenv(EnvReplicaID); v != "" {
			replicaID = v
			fromEnv = true
		}
	}
	if replicaID == "" {
		replicaID = uuid.NewString()
	} else if err := validateReplicaID(replicaID); err != nil {
		return nil, err
	}

	watchSeconds := cfg.WatchInterval
	if watchSeconds == 0 {
		watchSeconds = defaultWatchInterval
	}
	if watchSeconds < minWatchInterval {
		watchSeconds = minWatchInterval
	}
	if watchSeconds > maxWatchInterval {
		watchSeconds = maxWatchInterval
	}

	c := cfg.Cache
	if c == nil {
		c = memcache.New(memcache.WithLogger(cfg.Logger))
	}

	releaseLocks := true
	if cfg.ReleaseLocksOnShutdown != nil {
		releaseLocks = *cfg.ReleaseLocksOnShutdown
	}

	m := &Manager{
		storage:       cfg.Storage,
		cache:         c,
		logger:        cfg.Logger,
		handler:       cfg.Handler,
		querySecret:   cfg.QuerySecret,
		replicaID:     replicaID,
		enabled:       cfg.Enabled,
		watchSeconds:  watchSeconds,
		releaseLocks:  releaseLocks,
		runner:        cronlib.New(cronlib.WithParser(cronParser)),
		retry:         backoff.ForControlRetry(),
		cronJobs:      make(map[string]cronlib.EntryID),
		inline:        make(map[string]Execution),
		activeLocks:   make(map[string]activeLock),
		sweepInterval: watchdogInterval,
	}
	m.logLevel.Store(storage.LogLevelInfo)

	if fromEnv {
		msg := "replica id taken from environment"
		if os.Getenv(EnvEnvironment) == "production" {
			m.logger.Warn(msg, slog.String("replica", replicaID))
		} else {
			m.logger.Debug(msg, slog.String("replica", replicaID))
		}
	}

	return m, nil
}

// ReplicaID returns this replica's identifier.
func (m *Manager) ReplicaID() string { return m.replicaID }

// Initialize prepares the Control record, registers this replica,
// schedules every enabled job, and starts the deadlock watchdog.
// Idempotent.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return ludari.ErrDestroyed
	}
	if m.initialized {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	if err := m.prepare(ctx); err != nil {
		return fmt.Errorf("ludari: initialize: %w", err)
	}

	m.mu.Lock()
	m.watchdogStop = make(chan struct{})
	m.initialized = true
	m.mu.Unlock()

	m.wg.Add(1)
	go m.watchdogLoop()
	m.runner.Start()

	m.logInfo("manager initialized", slog.String("replica", m.replicaID))
	return nil
}

// Destroy stops every timer, cancels the watchdog, releases the locks
// this replica still holds, clears the inline registry, and tears down
// the cache. Idempotent and best-effort.
func (m *Manager) Destroy(ctx context.Context) error {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return nil
	}
	m.destroyed = true
	stop := m.watchdogStop
	for name, entry := range m.cronJobs {
		m.runner.Remove(entry)
		delete(m.cronJobs, name)
	}
	held := make([]activeLock, 0, len(m.activeLocks))
	for key, al := range m.activeLocks {
		held = append(held, al)
		delete(m.activeLocks, key)
	}
	m.inline = make(map[string]Execution)
	m.mu.Unlock()

	m.runner.Stop()
	if stop != nil {
		close(stop)
		m.wg.Wait()
	}

	if m.releaseLocks {
		for _, al := range held {
			if !m.cache.ReleaseLock(ctx, al.jobName, al.lockValue) {
				m.logger.Warn("lock release failed during shutdown",
					slog.String("job", al.jobName))
			}
		}
	}

	switch c := m.cache.(type) {
	case cache.Destroyer:
		c.Destroy(ctx)
	case cache.Cleaner:
		c.Cleanup(ctx)
	}

	m.logger.Info("manager destroyed", slog.String("replica", m.replicaID))
	return nil
}

// ensureReady gates every public API on the manager lifecycle.
func (m *Manager) ensureReady() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.destroyed {
		return ludari.ErrDestroyed
	}
	if !m.initialized {
		return ludari.ErrNotInitialized
	}
	return nil
}

func (m *Manager) isDestroyed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.destroyed
}

// ── log gate ──

func (m *Manager) setLogLevel(l storage.LogLevel) {
	m.logLevel.Store(l)
}

func (m *Manager) level() storage.LogLevel {
	l, _ := m.logLevel.Load().(storage.LogLevel)
	return l
}

func (m *Manager) logError(msg string, args ...any) {
	if m.level().Allows(storage.LogLevelError) {
		m.logger.Error(msg, args...)
	}
}

func (m *Manager) logWarn(msg string, args ...any) {
	if m.level().Allows(storage.LogLevelWarn) {
		m.logger.Warn(msg, args...)
	}
}

func (m *Manager) logInfo(msg string, args ...any) {
	if m.level().Allows(storage.LogLevelInfo) {
		m.logger.Info(msg, args...)
	}
}

func (m *Manager) logDebug(msg string, args ...any) {
	if m.level().Allows(storage.LogLevelDebug) {
		m.logger.Debug(msg, args...)
	}
}
