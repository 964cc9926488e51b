package manager

import (
	"context"
	"fmt"

	"github.com/ludari/ludari"
	"github.com/ludari/ludari/envelope"
	"github.com/ludari/ludari/id"
	"github.com/ludari/ludari/storage"
)

// RegisterInlineHandler binds an execution closure to a job name for
// jobs of type "inline". Reserved names are refused. Registration is
// per-replica: each replica registers its own closures.
func (m *Manager) RegisterInlineHandler(name string, exec Execution) error {
	if err := validateJobName(name); err != nil {
		return err
	}
	if exec == nil {
		return fmt.Errorf("ludari: inline handler for %q is nil", name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		return ludari.ErrDestroyed
	}
	m.inline[name] = exec
	return nil
}

// UnregisterInlineHandler removes an inline binding. Idempotent.
func (m *Manager) UnregisterInlineHandler(name string) {
	m.mu.Lock()
	delete(m.inline, name)
	m.mu.Unlock()
}

// CreateJob validates and persists a new job definition, encrypting its
// query when a secret is configured, and propagates the change to the
// fleet for scheduled query and method jobs.
func (m *Manager) CreateJob(ctx context.Context, j *storage.Job) (*storage.Job, error) {
	if err := m.ensureReady(); err != nil {
		return nil, err
	}
	if j == nil {
		return nil, fmt.Errorf("ludari: job definition is required")
	}
	if err := m.validateJobDefinition(j); err != nil {
		return nil, err
	}

	def := j.Clone()
	if def.Query != "" && m.querySecret != "" {
		enc, err := envelope.Encrypt(def.Query, m.querySecret)
		if err != nil {
			return nil, err
		}
		def.Query = enc
	}

	created, err := m.storage.CreateJob(ctx, def)
	if err != nil {
		return nil, err
	}

	m.scheduleJob(created)
	if (created.Type == storage.TypeQuery || created.Type == storage.TypeMethod) && created.Cron != "" {
		m.triggerReset(ctx)
	}
	return created, nil
}

// UpdateJob validates and applies a partial update, pushes an updated
// context into the cache, replaces the local timer, and propagates the
// change to the fleet for query and method jobs.
func (m *Manager) UpdateJob(ctx context.Context, jobID id.JobID, patch storage.JobPatch) (*storage.Job, error) {
	if err := m.ensureReady(); err != nil {
		return nil, err
	}
	if jobID.IsNil() {
		return nil, fmt.Errorf("ludari: job id is required")
	}

	cur, err := m.storage.FindJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, ludari.NewNotFound("job", jobID.String())
	}
	if isReservedName(cur.Name) {
		return nil, fmt.Errorf("ludari: job %q is system-owned and cannot be modified", cur.Name)
	}

	if patch.Name != nil {
		if err := validateJobName(*patch.Name); err != nil {
			return nil, err
		}
	}
	if patch.Type != nil {
		if err := validateJobType(*patch.Type); err != nil {
			return nil, err
		}
	}
	if patch.Cron != nil {
		if err := validateCron(*patch.Cron); err != nil {
			return nil, err
		}
	}
	if patch.Query != nil && *patch.Query != "" && m.querySecret != "" {
		enc, encErr := envelope.Encrypt(*patch.Query, m.querySecret)
		if encErr != nil {
			return nil, encErr
		}
		patch.Query = &enc
	}
	if patch.Context != nil {
		m.cache.SetJobContext(ctx, cur.Name, patch.Context, 0)
	}

	updated, err := m.storage.UpdateJob(ctx, jobID, patch)
	if err != nil {
		return nil, err
	}

	m.scheduleJob(updated)
	if updated.Type == storage.TypeQuery || updated.Type == storage.TypeMethod {
		m.triggerReset(ctx)
	}
	return updated, nil
}

// ToggleJob flips a job's enabled flag.
func (m *Manager) ToggleJob(ctx context.Context, jobID id.JobID) (*storage.Job, error) {
	return m.setJobEnabled(ctx, jobID, nil)
}

// EnableJob enables a job, short-circuiting when already enabled.
func (m *Manager) EnableJob(ctx context.Context, jobID id.JobID) (*storage.Job, error) {
	enabled := true
	return m.setJobEnabled(ctx, jobID, &enabled)
}

// DisableJob disables a job, short-circuiting when already disabled.
func (m *Manager) DisableJob(ctx context.Context, jobID id.JobID) (*storage.Job, error) {
	enabled := false
	return m.setJobEnabled(ctx, jobID, &enabled)
}

// setJobEnabled implements toggle/enable/disable. A nil target flips the
// current state.
func (m *Manager) setJobEnabled(ctx context.Context, jobID id.JobID, target *bool) (*storage.Job, error) {
	if err := m.ensureReady(); err != nil {
		return nil, err
	}
	if jobID.IsNil() {
		return nil, fmt.Errorf("ludari: job id is required")
	}

	cur, err := m.storage.FindJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, ludari.NewNotFound("job", jobID.String())
	}
	if isReservedName(cur.Name) {
		return nil, fmt.Errorf("ludari: job %q is system-owned and cannot be modified", cur.Name)
	}

	next := !cur.Enabled
	if target != nil {
		if cur.Enabled == *target {
			return cur, nil
		}
		next = *target
	}
	return m.UpdateJob(ctx, jobID, storage.JobPatch{Enabled: &next})
}

// GetJob returns a job by id. The watch job is hidden.
func (m *Manager) GetJob(ctx context.Context, jobID id.JobID) (*storage.Job, error) {
	if err := m.ensureReady(); err != nil {
		return nil, err
	}

	j, err := m.storage.FindJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j == nil || j.Name == storage.WatchJobName {
		return nil, nil
	}
	return j, nil
}

// DeleteJob stops the job's timer and soft-deletes it.
func (m *Manager) DeleteJob(ctx context.Context, jobID id.JobID) error {
	if err := m.ensureReady(); err != nil {
		return err
	}
	if jobID.IsNil() {
		return fmt.Errorf("ludari: job id is required")
	}

	cur, err := m.storage.FindJob(ctx, jobID)
	if err != nil {
		return err
	}
	if cur == nil {
		return ludari.NewNotFound("job", jobID.String())
	}
	if isReservedName(cur.Name) {
		return fmt.Errorf("ludari: job %q is system-owned and cannot be deleted", cur.Name)
	}

	m.stopJob(cur.Name)
	return m.storage.DeleteJob(ctx, jobID)
}

// ListJobs returns a filtered page of jobs. Any watch-job row that
// slipped through the storage filter is removed.
func (m *Manager) ListJobs(ctx context.Context, filter storage.JobFilter) (*storage.Page[*storage.Job], error) {
	if err := m.ensureReady(); err != nil {
		return nil, err
	}

	page, err := m.storage.FindJobs(ctx, filter)
	if err != nil {
		return nil, err
	}
	filtered := page.Data[:0]
	for _, j := range page.Data {
		if j.Name == storage.WatchJobName {
			page.Total--
			continue
		}
		filtered = append(filtered, j)
	}
	page.Data = filtered
	return page, nil
}

// ListJobRuns returns a filtered page of execution records.
func (m *Manager) ListJobRuns(ctx context.Context, filter storage.RunFilter) (*storage.Page[*storage.JobRun], error) {
	if err := m.ensureReady(); err != nil {
		return nil, err
	}
	return m.storage.FindJobRuns(ctx, filter)
}

// GetControl returns the Control singleton.
func (m *Manager) GetControl(ctx context.Context) (*storage.Control, error) {
	if err := m.ensureReady(); err != nil {
		return nil, err
	}
	return m.storage.GetControl(ctx)
}

// ToggleControl flips the global kill-switch. No version expectation is
// carried, so concurrent writers overwrite each other deliberately.
func (m *Manager) ToggleControl(ctx context.Context) (*storage.Control, error) {
	if err := m.ensureReady(); err != nil {
		return nil, err
	}

	c, err := m.storage.GetControl(ctx)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("ludari: control record missing")
	}

	next := !c.Enabled
	return m.storage.UpdateControl(ctx, c.ID, storage.ControlPatch{Enabled: &next})
}

// PurgeControl resets the fleet roster for operations: the replica and
// stale sets are emptied in exact-replacement mode, then prepare re-runs
// so this replica re-registers cleanly.
func (m *Manager) PurgeControl(ctx context.Context) error {
	if err := m.ensureReady(); err != nil {
		return err
	}

	m.mu.Lock()
	controlID := m.controlID
	m.mu.Unlock()

	if _, err := m.updateControlWithRetry(ctx, controlID, func(_ *storage.Control) (storage.ControlPatch, bool) {
		return storage.ControlPatch{
			Replicas:    []string{},
			ReplicasSet: true,
			Stale:       []string{},
			StaleSet:    true,
		}, true
	}); err != nil {
		return err
	}
	return m.prepare(ctx)
}
