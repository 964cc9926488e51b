package manager

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ludari/ludari"
	"github.com/ludari/ludari/cache"
	"github.com/ludari/ludari/envelope"
	"github.com/ludari/ludari/lens"
	"github.com/ludari/ludari/storage"
)

// executeJob is the cron entry point for one firing. It refreshes the
// log gate, acts on a pending fleet reset, short-circuits the watch job,
// binds the execution closure, and hands off to the pipeline.
func (m *Manager) executeJob(j *storage.Job) {
	ctx := context.Background()

	c, err := m.storage.GetControl(ctx)
	if err != nil {
		m.logWarn("control refresh failed", slog.String("error", err.Error()))
	} else if c != nil {
		m.setLogLevel(c.LogLevel)
		if len(c.Stale) > 0 {
			m.resetJobs(ctx, c)
		}
	}

	if j.Name == storage.WatchJobName {
		// The watch job only provides the periodic tick above; it also
		// keeps this replica's liveness marker fresh.
		if tracker, ok := m.cache.(cache.ReplicaTracker); ok {
			tracker.RegisterReplica(ctx, m.replicaID, replicaMarkerTTL)
		}
		return
	}

	m.handleJob(ctx, j.Name, m.bindExecution(j))
}

// bindExecution builds the closure for the job's execution binding.
func (m *Manager) bindExecution(j *storage.Job) Execution {
	switch j.Type {
	case storage.TypeQuery:
		query := j.Query
		return func(ctx context.Context, _ map[string]any, _ *lens.Lens) (any, error) {
			q := query
			if m.querySecret != "" {
				decrypted, err := envelope.Decrypt(q, m.querySecret)
				if err != nil {
					return nil, err
				}
				q = decrypted
			}
			sanitized, err := envelope.SanitizeQuery(q)
			if err != nil {
				return nil, err
			}
			executor, ok := m.storage.(storage.QueryExecutor)
			if !ok {
				return nil, ludari.ErrQueryNotSupported
			}
			return executor.ExecuteQuery(ctx, sanitized)
		}

	case storage.TypeMethod:
		name := j.Name
		return func(ctx context.Context, jobCtx map[string]any, l *lens.Lens) (any, error) {
			if m.handler == nil {
				return nil, fmt.Errorf("ludari: no handler configured for method job %q", name)
			}
			return m.handler.ExecuteMethod(ctx, name, jobCtx, l)
		}

	default: // inline
		name := j.Name
		return func(ctx context.Context, jobCtx map[string]any, l *lens.Lens) (any, error) {
			m.mu.Lock()
			fn, ok := m.inline[name]
			m.mu.Unlock()
			if !ok {
				m.logWarn("no inline handler registered", slog.String("job", name))
				return nil, nil
			}
			return fn(ctx, jobCtx, l)
		}
	}
}

// handleJob is the per-firing pipeline: load the latest definition,
// allocate a lens, open a JobRun when the job persists, resolve static
// plus dynamic context, take the distributed lock when asked, run the
// bound execution, record the outcome, and release the lock.
func (m *Manager) handleJob(ctx context.Context, name string, exec Execution) {
	if m.isDestroyed() {
		return
	}
	if name == "" {
		m.logError("firing rejected: job name is required")
		return
	}

	j, err := m.storage.FindJobByName(ctx, name)
	if err != nil {
		m.logWarn("job load failed", slog.String("job", name), slog.String("error", err.Error()))
		return
	}
	if j == nil || !j.Enabled || j.Deleted != nil {
		return
	}

	l := lens.New()

	var run *storage.JobRun
	if j.Persist {
		run, err = m.storage.CreateJobRun(ctx, &storage.JobRun{
			Entity:  ludari.NewEntity(),
			JobID:   j.ID,
			Started: time.Now().UTC(),
		})
		if err != nil {
			m.logWarn("job run create failed", slog.String("job", name), slog.String("error", err.Error()))
			run = nil
		}
	}

	jobCtx := make(map[string]any, len(j.Context))
	for k, v := range j.Context {
		jobCtx[k] = v
	}
	distributed := truthy(jobCtx["distributed"])
	if distributed {
		for k, v := range m.cache.GetJobContext(ctx, name) {
			jobCtx[k] = v
		}
	}

	var lockValue string
	locked := false
	if distributed {
		ttl := time.Duration(numberOr(jobCtx["ttl"], defaultLockTTLSeconds)) * time.Second
		res := m.cache.AcquireLock(ctx, name, cache.LockOptions{TTL: ttl})
		if !res.Acquired {
			m.logDebug("lock held elsewhere, skipping firing", slog.String("job", name))
			return
		}
		locked = true
		lockValue = res.LockValue

		m.mu.Lock()
		m.activeLocks["lock:"+name] = activeLock{
			jobName:    name,
			lockValue:  lockValue,
			acquiredAt: time.Now(),
			ttl:        ttl,
		}
		m.mu.Unlock()
	}
	defer func() {
		if !locked {
			return
		}
		if !m.cache.ReleaseLock(ctx, name, lockValue) {
			m.logWarn("lock release failed; watchdog will reclaim", slog.String("job", name))
		}
		m.mu.Lock()
		delete(m.activeLocks, "lock:"+name)
		m.mu.Unlock()
	}()

	if truthy(jobCtx["batch"]) {
		jobCtx["batchCount"] = m.cache.IncrementBatch(ctx, name)
	}

	if !j.Silent {
		m.logInfo("Job started: " + name)
	}

	result, execErr := m.invoke(ctx, exec, jobCtx, l)
	now := time.Now().UTC()

	if execErr != nil {
		_ = l.CaptureError(execErr, "Job execution failed") //nolint:errcheck // titled capture cannot fail
		m.logWarn("Job failed: "+name, slog.String("error", execErr.Error()))
		if run != nil {
			frames, _ := l.Frames() //nolint:errcheck // frames of captured errors always serialize
			if _, uerr := m.storage.UpdateJobRun(ctx, run.ID, storage.JobRunPatch{
				Failed:    &now,
				Result:    frames,
				HasResult: true,
			}); uerr != nil {
				m.logWarn("job run update failed", slog.String("job", name), slog.String("error", uerr.Error()))
			}
		}
		return
	}

	if truthy(jobCtx["runOnce"]) {
		disabled := false
		if _, uerr := m.storage.UpdateJob(ctx, j.ID, storage.JobPatch{Enabled: &disabled}); uerr != nil {
			m.logWarn("runOnce disable failed", slog.String("job", name), slog.String("error", uerr.Error()))
		}
		if truthy(jobCtx["batch"]) {
			m.cache.ResetBatch(ctx, name)
		}
	}

	if run != nil {
		if _, uerr := m.storage.UpdateJobRun(ctx, run.ID, storage.JobRunPatch{
			Completed: &now,
			Result:    serializeResult(result, l),
			HasResult: true,
		}); uerr != nil {
			m.logWarn("job run update failed", slog.String("job", name), slog.String("error", uerr.Error()))
		}
	}

	if !j.Silent {
		m.logInfo("Job completed: " + name)
	}
}

// invoke runs the execution closure, converting panics into errors so a
// misbehaving job can never take the scheduler down.
func (m *Manager) invoke(ctx context.Context, exec Execution, jobCtx map[string]any, l *lens.Lens) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("ludari: job panicked: %v", r)
		}
	}()
	return exec(ctx, jobCtx, l)
}

// serializeResult derives the persisted JobRun result: a returned Lens
// yields its frames, an empty return falls back to the pipeline lens's
// frames when it captured anything, and everything else passes through.
func serializeResult(v any, l *lens.Lens) any {
	if lv, ok := v.(*lens.Lens); ok {
		frames, _ := lv.Frames() //nolint:errcheck // captured frames always serialize
		return frames
	}
	if isEmptyResult(v) && !l.IsEmpty() {
		frames, _ := l.Frames() //nolint:errcheck // captured frames always serialize
		return frames
	}
	return v
}

func isEmptyResult(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []byte:
		return len(t) == 0
	default:
		return false
	}
}

// truthy interprets a context flag: explicit booleans, non-zero numbers,
// and the string "true". Absent flags are false.
func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t == "true"
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	default:
		return false
	}
}

// numberOr extracts a numeric context entry, falling back when absent or
// non-numeric.
func numberOr(v any, fallback float64) float64 {
	switch t := v.(type) {
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case float64:
		return t
	default:
		return fallback
	}
}
