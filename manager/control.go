package manager

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ludari/ludari"
	"github.com/ludari/ludari/cache"
	"github.com/ludari/ludari/id"
	"github.com/ludari/ludari/storage"
)

// prepare brings this replica into the fleet: it creates the Control
// singleton if absent, prunes replicas that fail the liveness probe,
// registers itself, clears its own stale flag, ensures the watch job
// exists, and schedules every enabled job.
func (m *Manager) prepare(ctx context.Context) error {
	c, err := m.loadOrCreateControl(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.controlID = c.ID
	m.mu.Unlock()
	m.setLogLevel(c.LogLevel)

	tracker, hasTracker := m.cache.(cache.ReplicaTracker)
	if hasTracker {
		tracker.RegisterReplica(ctx, m.replicaID, replicaMarkerTTL)
	}

	if err := m.reconcileReplicas(ctx, c, tracker, hasTracker); err != nil {
		return err
	}

	// Clear our own stale flag so startup does not trigger an immediate
	// self-reset.
	if _, err := m.updateControlWithRetry(ctx, c.ID, func(cur *storage.Control) (storage.ControlPatch, bool) {
		if !slices.Contains(cur.Stale, m.replicaID) {
			return storage.ControlPatch{}, false
		}
		return storage.ControlPatch{
			Stale:    remove(cur.Stale, m.replicaID),
			StaleSet: true,
		}, true
	}); err != nil {
		return err
	}

	if err := m.ensureWatchJob(ctx); err != nil {
		return err
	}
	return m.initializeJobs(ctx)
}

func (m *Manager) loadOrCreateControl(ctx context.Context) (*storage.Control, error) {
	c, err := m.storage.GetControl(ctx)
	if err != nil {
		return nil, fmt.Errorf("load control: %w", err)
	}
	if c != nil {
		return c, nil
	}

	created, err := m.storage.CreateControl(ctx, &storage.Control{
		Entity:   ludari.NewEntity(),
		ID:       id.NewControlID(),
		Enabled:  true,
		LogLevel: storage.LogLevelInfo,
		Replicas: []string{m.replicaID},
		Stale:    []string{},
		Version:  uuid.NewString(),
	})
	if err == nil {
		return created, nil
	}
	if !ludari.IsConflict(err) {
		return nil, fmt.Errorf("create control: %w", err)
	}

	// Another replica won the race; read theirs.
	c, err = m.storage.GetControl(ctx)
	if err != nil || c == nil {
		return nil, fmt.Errorf("reload control after create conflict: %w", err)
	}
	return c, nil
}

// reconcileReplicas probes each listed replica and rewrites the roster in
// exact-replacement mode when anything changed. Without a replica
// tracker, liveness is unprovable and the roster is preserved as-is,
// only appending self if missing.
func (m *Manager) reconcileReplicas(ctx context.Context, c *storage.Control, tracker cache.ReplicaTracker, hasTracker bool) error {
	if !hasTracker {
		if slices.Contains(c.Replicas, m.replicaID) {
			return nil
		}
		_, err := m.updateControlWithRetry(ctx, c.ID, func(cur *storage.Control) (storage.ControlPatch, bool) {
			if slices.Contains(cur.Replicas, m.replicaID) {
				return storage.ControlPatch{}, false
			}
			// Union with the current roster so concurrent additions by
			// other replicas are not lost.
			merged := append(slices.Clone(cur.Replicas), m.replicaID)
			return storage.ControlPatch{Replicas: merged, ReplicasSet: true}, true
		})
		return err
	}

	var probeMu sync.Mutex
	healthy := make([]string, 0, len(c.Replicas)+1)
	g := new(errgroup.Group)
	for _, replica := range c.Replicas {
		if replica == m.replicaID {
			continue
		}
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, probeTimeout)
			defer cancel()
			if tracker.PingReplica(pctx, replica) {
				probeMu.Lock()
				healthy = append(healthy, replica)
				probeMu.Unlock()
			} else {
				m.logDebug("dropping unresponsive replica", slog.String("replica", replica))
			}
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // probes never return errors

	healthy = append(healthy, m.replicaID)
	sort.Strings(healthy)
	if sameMembers(healthy, c.Replicas) {
		return nil
	}

	_, err := m.updateControlWithRetry(ctx, c.ID, func(cur *storage.Control) (storage.ControlPatch, bool) {
		return storage.ControlPatch{
			Replicas:    healthy,
			ReplicasSet: true,
			Stale:       intersect(cur.Stale, healthy),
			StaleSet:    true,
		}, true
	})
	return err
}

// ensureWatchJob creates the reserved watch job if absent. Its cron is
// the only expression the core constructs itself.
func (m *Manager) ensureWatchJob(ctx context.Context) error {
	existing, err := m.storage.FindJobByName(ctx, storage.WatchJobName)
	if err != nil {
		return fmt.Errorf("find watch job: %w", err)
	}
	if existing != nil {
		return nil
	}

	_, err = m.storage.CreateJob(ctx, &storage.Job{
		Entity:  ludari.NewEntity(),
		ID:      id.NewJobID(),
		Name:    storage.WatchJobName,
		Type:    storage.TypeQuery,
		Enabled: true,
		Cron:    fmt.Sprintf("*/%d * * * * *", m.watchSeconds),
		Persist: false,
		Silent:  true,
	})
	if err != nil && !ludari.IsConflict(err) {
		return fmt.Errorf("create watch job: %w", err)
	}
	return nil
}

// updateControlWithRetry applies a composed Control patch under
// optimistic concurrency. Each attempt refetches the record, hands it to
// compose, carries the refreshed version as the update expectation, and
// retries conflicts with exponential backoff plus jitter. compose
// returning false means the desired state already holds.
func (m *Manager) updateControlWithRetry(
	ctx context.Context,
	controlID id.ControlID,
	compose func(cur *storage.Control) (storage.ControlPatch, bool),
) (*storage.Control, error) {
	var lastErr error
	for attempt := 1; attempt <= maxControlRetries; attempt++ {
		cur, err := m.storage.GetControl(ctx)
		if err != nil {
			return nil, fmt.Errorf("refetch control: %w", err)
		}
		if cur == nil {
			return nil, fmt.Errorf("ludari: control record missing")
		}
		if cur.ID.String() != controlID.String() {
			return nil, fmt.Errorf("ludari: control identity changed from %s to %s", controlID, cur.ID)
		}

		patch, needed := compose(cur)
		if !needed {
			return cur, nil
		}
		expect := cur.Version
		patch.ExpectVersion = &expect

		updated, err := m.storage.UpdateControl(ctx, controlID, patch)
		if err == nil {
			return updated, nil
		}
		if !isConflictErr(err) {
			return nil, err
		}
		lastErr = err

		delay := m.retry.Delay(attempt)
		m.logDebug("control update conflict, retrying",
			slog.Int("attempt", attempt), slog.Duration("backoff", delay))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, fmt.Errorf("ludari: control update failed after %d attempts: %w", maxControlRetries, lastErr)
}

// triggerReset marks every replica stale (including self) and rotates
// the Control version. Conflicts mean another replica already triggered
// a reset, which is fine.
func (m *Manager) triggerReset(ctx context.Context) {
	m.mu.Lock()
	controlID := m.controlID
	m.mu.Unlock()

	if _, err := m.updateControlWithRetry(ctx, controlID, func(cur *storage.Control) (storage.ControlPatch, bool) {
		fresh := uuid.NewString()
		return storage.ControlPatch{
			Stale:    slices.Clone(cur.Replicas),
			StaleSet: true,
			Version:  &fresh,
		}, true
	}); err != nil {
		m.logDebug("reset already triggered by another replica", slog.String("error", err.Error()))
	}
}

// resetJobs rebuilds this replica's scheduler when it finds itself in the
// stale set, then clears its flag. Guarded against reentry.
func (m *Manager) resetJobs(ctx context.Context, c *storage.Control) {
	if !slices.Contains(c.Stale, m.replicaID) {
		return
	}
	if !m.isResetting.CompareAndSwap(false, true) {
		return
	}
	defer m.isResetting.Store(false)

	m.logDebug("rebuilding scheduler after fleet reset", slog.String("replica", m.replicaID))
	m.stopAllJobs()
	if err := m.initializeJobs(ctx); err != nil {
		m.logWarn("scheduler rebuild failed", slog.String("error", err.Error()))
	}

	if _, err := m.updateControlWithRetry(ctx, c.ID, func(cur *storage.Control) (storage.ControlPatch, bool) {
		if !slices.Contains(cur.Stale, m.replicaID) {
			return storage.ControlPatch{}, false
		}
		return storage.ControlPatch{
			Stale:    remove(cur.Stale, m.replicaID),
			StaleSet: true,
		}, true
	}); err != nil {
		m.logDebug("stale flag clear lost a version race", slog.String("error", err.Error()))
	}
}

// ── helpers ──

// isConflictErr matches the typed conflict code plus the message shapes
// other storage back ends surface for optimistic-concurrency failures.
func isConflictErr(err error) bool {
	if ludari.IsConflict(err) {
		return true
	}
	msg := err.Error()
	for _, marker := range []string{"version mismatch", "optimistic lock", "concurrent modification"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func remove(list []string, item string) []string {
	out := make([]string, 0, len(list))
	for _, v := range list {
		if v != item {
			out = append(out, v)
		}
	}
	return out
}

func intersect(list, keep []string) []string {
	out := make([]string, 0, len(list))
	for _, v := range list {
		if slices.Contains(keep, v) {
			out = append(out, v)
		}
	}
	return out
}

func sameMembers(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := slices.Clone(a)
	bs := slices.Clone(b)
	sort.Strings(as)
	sort.Strings(bs)
	return slices.Equal(as, bs)
}
