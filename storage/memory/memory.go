// Package memory implements storage.Storage fully in memory.
// Safe for concurrent access. Intended for unit testing and development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ludari/ludari"
	"github.com/ludari/ludari/id"
	"github.com/ludari/ludari/storage"
)

var _ storage.Storage = (*Store)(nil)

// QueryFunc executes a raw query string on behalf of query-type jobs.
type QueryFunc func(ctx context.Context, query string) (any, error)

// Option configures the Store.
type Option func(*Store)

// WithQueryFunc enables ExecuteQuery, delegating to fn.
func WithQueryFunc(fn QueryFunc) Option {
	return func(s *Store) { s.queryFn = fn }
}

// Store is an in-memory implementation of storage.Storage.
type Store struct {
	mu sync.RWMutex

	control *storage.Control
	jobs    map[string]*storage.Job // key: job ID
	names   map[string]string       // live job name -> job ID
	runs    map[string]*storage.JobRun

	queryFn QueryFunc
}

// New returns a new empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		jobs:  make(map[string]*storage.Job),
		names: make(map[string]string),
		runs:  make(map[string]*storage.JobRun),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ──────────────────────────────────────────────────
// Control
// ──────────────────────────────────────────────────

// GetControl returns the singleton, or (nil, nil) if absent.
func (s *Store) GetControl(_ context.Context) (*storage.Control, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.control == nil {
		return nil, nil
	}
	return s.control.Clone(), nil
}

// CreateControl persists the singleton.
func (s *Store) CreateControl(_ context.Context, c *storage.Control) (*storage.Control, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.control != nil {
		return nil, ludari.NewConflict("control already exists")
	}

	cp := c.Clone()
	if cp.Entity.CreatedAt.IsZero() {
		cp.Entity = ludari.NewEntity()
	}
	s.control = cp
	return cp.Clone(), nil
}

// UpdateControl applies a partial update with optional optimistic
// version verification.
func (s *Store) UpdateControl(_ context.Context, controlID id.ControlID, patch storage.ControlPatch) (*storage.Control, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.control == nil || s.control.ID.String() != controlID.String() {
		return nil, ludari.NewNotFound("control", controlID.String())
	}
	if patch.ExpectVersion != nil && *patch.ExpectVersion != s.control.Version {
		return nil, ludari.NewConflict("control version mismatch")
	}

	c := s.control
	if patch.Enabled != nil {
		c.Enabled = *patch.Enabled
	}
	if patch.LogLevel != nil {
		c.LogLevel = *patch.LogLevel
	}
	if patch.ReplicasSet {
		c.Replicas = append([]string(nil), patch.Replicas...)
	}
	if patch.StaleSet {
		c.Stale = append([]string(nil), patch.Stale...)
	}
	if patch.Version != nil {
		c.Version = *patch.Version
	}
	c.Touch()
	return c.Clone(), nil
}

// ──────────────────────────────────────────────────
// Jobs
// ──────────────────────────────────────────────────

// FindJobs returns a filtered page of jobs, excluding the watch job.
func (s *Store) FindJobs(_ context.Context, filter storage.JobFilter) (*storage.Page[*storage.Job], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*storage.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if j.Name == storage.WatchJobName {
			continue
		}
		if filter.Name != "" && j.Name != filter.Name {
			continue
		}
		if filter.Type != "" && j.Type != filter.Type {
			continue
		}
		if filter.Enabled != nil && j.Enabled != *filter.Enabled {
			continue
		}
		switch filter.Deleted {
		case storage.DeletedExclude:
			if j.Deleted != nil {
				continue
			}
		case storage.DeletedOnly:
			if j.Deleted == nil {
				continue
			}
		}
		matched = append(matched, j.Clone())
	}

	sort.Slice(matched, func(i, k int) bool {
		if !matched[i].CreatedAt.Equal(matched[k].CreatedAt) {
			return matched[i].CreatedAt.Before(matched[k].CreatedAt)
		}
		return matched[i].Name < matched[k].Name
	})

	return storage.Paginate(matched, filter.Page, filter.PageSize), nil
}

// FindJob returns a job by id, or (nil, nil) if absent or tombstoned.
func (s *Store) FindJob(_ context.Context, jobID id.JobID) (*storage.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[jobID.String()]
	if !ok || j.Deleted != nil {
		return nil, nil
	}
	return j.Clone(), nil
}

// FindJobByName returns a live job by name, or (nil, nil).
func (s *Store) FindJobByName(_ context.Context, name string) (*storage.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobID, ok := s.names[name]
	if !ok {
		return nil, nil
	}
	return s.jobs[jobID].Clone(), nil
}

// CreateJob persists a new job.
func (s *Store) CreateJob(_ context.Context, j *storage.Job) (*storage.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.names[j.Name]; exists {
		return nil, ludari.NewConflict("job name " + j.Name + " already exists")
	}

	cp := j.Clone()
	if cp.ID.IsNil() {
		cp.ID = id.NewJobID()
	}
	if cp.Entity.CreatedAt.IsZero() {
		cp.Entity = ludari.NewEntity()
	}
	s.jobs[cp.ID.String()] = cp
	s.names[cp.Name] = cp.ID.String()
	return cp.Clone(), nil
}

// UpdateJob applies a partial update, maintaining the name index.
func (s *Store) UpdateJob(_ context.Context, jobID id.JobID, patch storage.JobPatch) (*storage.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID.String()]
	if !ok {
		return nil, ludari.NewNotFound("job", jobID.String())
	}

	if patch.Name != nil && *patch.Name != j.Name {
		if otherID, exists := s.names[*patch.Name]; exists && otherID != jobID.String() {
			return nil, ludari.NewConflict("job name " + *patch.Name + " already exists")
		}
		delete(s.names, j.Name)
		j.Name = *patch.Name
		if j.Deleted == nil {
			s.names[j.Name] = jobID.String()
		}
	}
	if patch.Type != nil {
		j.Type = *patch.Type
	}
	if patch.Enabled != nil {
		j.Enabled = *patch.Enabled
	}
	if patch.Cron != nil {
		j.Cron = *patch.Cron
	}
	if patch.Query != nil {
		j.Query = *patch.Query
	}
	if patch.Context != nil {
		cp := make(map[string]any, len(patch.Context))
		for k, v := range patch.Context {
			cp[k] = v
		}
		j.Context = cp
	}
	if patch.Persist != nil {
		j.Persist = *patch.Persist
	}
	if patch.Silent != nil {
		j.Silent = *patch.Silent
	}
	j.Touch()
	return j.Clone(), nil
}

// DeleteJob soft-deletes a job.
func (s *Store) DeleteJob(_ context.Context, jobID id.JobID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID.String()]
	if !ok {
		return ludari.NewNotFound("job", jobID.String())
	}
	now := time.Now().UTC()
	j.Deleted = &now
	j.Touch()
	delete(s.names, j.Name)
	return nil
}

// ──────────────────────────────────────────────────
// Job runs
// ──────────────────────────────────────────────────

// CreateJobRun persists a new run.
func (s *Store) CreateJobRun(_ context.Context, r *storage.JobRun) (*storage.JobRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[r.JobID.String()]; !ok {
		return nil, ludari.NewStorageError(ludari.CodeInvalidReference, "job run references unknown job "+r.JobID.String())
	}

	cp := r.Clone()
	if cp.ID.IsNil() {
		cp.ID = id.NewRunID()
	}
	if cp.Entity.CreatedAt.IsZero() {
		cp.Entity = ludari.NewEntity()
	}
	s.runs[cp.ID.String()] = cp
	return cp.Clone(), nil
}

// UpdateJobRun applies a partial update to a run.
func (s *Store) UpdateJobRun(_ context.Context, runID id.RunID, patch storage.JobRunPatch) (*storage.JobRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.runs[runID.String()]
	if !ok {
		return nil, ludari.NewNotFound("job run", runID.String())
	}
	if patch.Completed != nil {
		t := *patch.Completed
		r.Completed = &t
	}
	if patch.Failed != nil {
		t := *patch.Failed
		r.Failed = &t
	}
	if patch.HasResult {
		r.Result = patch.Result
	}
	r.Touch()
	return r.Clone(), nil
}

// FindJobRuns returns a filtered page of runs, newest first.
func (s *Store) FindJobRuns(_ context.Context, filter storage.RunFilter) (*storage.Page[*storage.JobRun], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*storage.JobRun, 0, len(s.runs))
	for _, r := range s.runs {
		if !filter.JobID.IsNil() && r.JobID.String() != filter.JobID.String() {
			continue
		}
		if filter.StartedAfter != nil && !r.Started.After(*filter.StartedAfter) {
			continue
		}
		if filter.StartedBefore != nil && !r.Started.Before(*filter.StartedBefore) {
			continue
		}
		if filter.Status != "" && r.Status() != filter.Status {
			continue
		}
		matched = append(matched, r.Clone())
	}

	sort.Slice(matched, func(i, k int) bool {
		return matched[i].Started.After(matched[k].Started)
	})

	return storage.Paginate(matched, filter.Page, filter.PageSize), nil
}

// ExecuteQuery delegates to the configured QueryFunc.
func (s *Store) ExecuteQuery(ctx context.Context, query string) (any, error) {
	s.mu.RLock()
	fn := s.queryFn
	s.mu.RUnlock()

	if fn == nil {
		return nil, ludari.NewStorageError(ludari.CodeNotSupported, "raw query execution is not configured")
	}
	return fn(ctx, query)
}
