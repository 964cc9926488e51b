package manager

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ludari/ludari/cache"
)

// watchdogLoop periodically reclaims locks this replica acquired but
// never released, and gives the cache its compaction tick. The ticker is
// canceled by Destroy; it never keeps the process alive on its own.
func (m *Manager) watchdogLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.watchdogStop:
			return
		case <-ticker.C:
			ctx := context.Background()
			m.sweepLocks(ctx)
			if cleaner, ok := m.cache.(cache.Cleaner); ok {
				cleaner.Cleanup(ctx)
			}
		}
	}
}

// sweepLocks releases every tracked lock older than twice its TTL. The
// entry is dropped whether or not the release succeeds, so repeated
// attempts do not accumulate. Entries still within bounds are reported
// in a single debug summary.
func (m *Manager) sweepLocks(ctx context.Context) {
	now := time.Now()

	m.mu.Lock()
	var stale []activeLock
	var active []string
	for key, al := range m.activeLocks {
		age := now.Sub(al.acquiredAt)
		if age > 2*al.ttl {
			stale = append(stale, al)
			delete(m.activeLocks, key)
			continue
		}
		active = append(active, fmt.Sprintf("%s:%ds", al.jobName, int(age.Seconds())))
	}
	m.mu.Unlock()

	for _, al := range stale {
		m.cache.ReleaseLock(ctx, al.jobName, al.lockValue)
		m.logWarn("released stale lock", "job", al.jobName)
	}
	if len(active) > 0 {
		m.logDebug("active locks: " + strings.Join(active, " "))
	}
}
