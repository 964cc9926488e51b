package manager

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ludari/ludari/storage"
)

// initializeJobs loads every non-deleted job plus the watch job and
// attaches cron timers. A disabled Control or a disabled replica leaves
// the scheduler empty.
func (m *Manager) initializeJobs(ctx context.Context) error {
	c, err := m.storage.GetControl(ctx)
	if err != nil {
		return fmt.Errorf("load control: %w", err)
	}
	if c == nil || !c.Enabled || !m.enabled {
		m.logDebug("scheduling disabled",
			slog.Bool("replica_enabled", m.enabled))
		return nil
	}

	jobs := make([]*storage.Job, 0)
	page := 1
	for {
		p, findErr := m.storage.FindJobs(ctx, storage.JobFilter{
			Deleted:  storage.DeletedExclude,
			Page:     page,
			PageSize: 200,
		})
		if findErr != nil {
			return fmt.Errorf("load jobs: %w", findErr)
		}
		jobs = append(jobs, p.Data...)
		if page >= p.LastPage {
			break
		}
		page++
	}

	// The watch job is excluded from listings but still scheduled.
	watch, err := m.storage.FindJobByName(ctx, storage.WatchJobName)
	if err != nil {
		return fmt.Errorf("load watch job: %w", err)
	}
	if watch != nil {
		jobs = append(jobs, watch)
	}

	scheduled := 0
	for _, j := range jobs {
		if m.scheduleJob(j) && j.Name != storage.WatchJobName {
			scheduled++
		}
	}
	m.logInfo("scheduled jobs", slog.Int("count", scheduled))
	return nil
}

// scheduleJob replaces any existing timer for the job's name, then
// attaches a fresh one unless the job is unschedulable. Reports whether
// a timer is now attached.
func (m *Manager) scheduleJob(j *storage.Job) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.cronJobs[j.Name]; ok {
		m.runner.Remove(existing)
		delete(m.cronJobs, j.Name)
	}

	if m.destroyed || !j.Enabled || j.Cron == "" || j.Deleted != nil {
		return false
	}
	if j.Type == storage.TypeQuery && j.Query == "" && j.Name != storage.WatchJobName {
		m.logDebug("skipping query job without a query", slog.String("job", j.Name))
		return false
	}
	if j.Type == storage.TypeMethod && m.handler == nil {
		m.logWarn("skipping method job without a configured handler", slog.String("job", j.Name))
		return false
	}

	snapshot := j.Clone()
	entryID, err := m.runner.AddFunc(j.Cron, func() { m.executeJob(snapshot) })
	if err != nil {
		m.logWarn("failed to schedule job",
			slog.String("job", j.Name), slog.String("cron", j.Cron), slog.String("error", err.Error()))
		return false
	}
	m.cronJobs[j.Name] = entryID

	if j.Name != storage.WatchJobName {
		m.logDebug("job scheduled", slog.String("job", j.Name), slog.String("cron", j.Cron))
	}
	return true
}

// stopJob removes the timer for a job name, if one exists.
func (m *Manager) stopJob(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.cronJobs[name]; ok {
		m.runner.Remove(entry)
		delete(m.cronJobs, name)
	}
}

// stopAllJobs clears the whole timer map.
func (m *Manager) stopAllJobs() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, entry := range m.cronJobs {
		m.runner.Remove(entry)
		delete(m.cronJobs, name)
	}
}
