package bunstore

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/ludari/ludari"
	"github.com/ludari/ludari/id"
	"github.com/ludari/ludari/storage"
)

// FindJobs returns a filtered page of jobs, always excluding the
// reserved watch job.
func (s *Store) FindJobs(ctx context.Context, filter storage.JobFilter) (*storage.Page[*storage.Job], error) {
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = storage.DefaultPageSize
	}

	base := func(q *bun.SelectQuery) *bun.SelectQuery {
		q = q.Where("name != ?", storage.WatchJobName)
		if filter.Name != "" {
			q = q.Where("name = ?", filter.Name)
		}
		if filter.Type != "" {
			q = q.Where("type = ?", string(filter.Type))
		}
		if filter.Enabled != nil {
			q = q.Where("enabled = ?", *filter.Enabled)
		}
		switch filter.Deleted {
		case storage.DeletedExclude:
			q = q.Where("deleted IS NULL")
		case storage.DeletedOnly:
			q = q.Where("deleted IS NOT NULL")
		}
		return q
	}

	total, err := base(s.db.NewSelect().Model((*jobModel)(nil))).Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("ludari/bun: count jobs: %w", err)
	}

	lastPage := (total + pageSize - 1) / pageSize
	if lastPage < 1 {
		lastPage = 1
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	if page > lastPage {
		page = lastPage
	}

	var models []jobModel
	err = base(s.db.NewSelect().Model(&models)).
		Order("created_at ASC", "name ASC").
		Limit(pageSize).
		Offset((page - 1) * pageSize).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("ludari/bun: find jobs: %w", err)
	}

	jobs := make([]*storage.Job, 0, len(models))
	for i := range models {
		j, convErr := fromJobModel(&models[i])
		if convErr != nil {
			return nil, convErr
		}
		jobs = append(jobs, j)
	}

	return &storage.Page[*storage.Job]{
		Data:     jobs,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
		LastPage: lastPage,
	}, nil
}

// FindJob returns a job by id, or (nil, nil) if absent or tombstoned.
func (s *Store) FindJob(ctx context.Context, jobID id.JobID) (*storage.Job, error) {
	m := new(jobModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", jobID.String()).
		Where("deleted IS NULL").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("ludari/bun: find job: %w", err)
	}
	return fromJobModel(m)
}

// FindJobByName returns a live job by name, or (nil, nil).
func (s *Store) FindJobByName(ctx context.Context, name string) (*storage.Job, error) {
	m := new(jobModel)
	err := s.db.NewSelect().Model(m).
		Where("name = ?", name).
		Where("deleted IS NULL").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("ludari/bun: find job by name: %w", err)
	}
	return fromJobModel(m)
}

// CreateJob persists a new job. The partial unique index on live names
// turns duplicates into a conflict.
func (s *Store) CreateJob(ctx context.Context, j *storage.Job) (*storage.Job, error) {
	cp := j.Clone()
	if cp.ID.IsNil() {
		cp.ID = id.NewJobID()
	}
	if cp.Entity.CreatedAt.IsZero() {
		cp.Entity = ludari.NewEntity()
	}

	if _, err := s.db.NewInsert().Model(toJobModel(cp)).Exec(ctx); err != nil {
		if isDuplicateKey(err) {
			return nil, ludari.NewConflict("job name " + cp.Name + " already exists")
		}
		return nil, fmt.Errorf("ludari/bun: create job: %w", err)
	}
	return cp, nil
}

// UpdateJob applies a partial update.
func (s *Store) UpdateJob(ctx context.Context, jobID id.JobID, patch storage.JobPatch) (*storage.Job, error) {
	q := s.db.NewUpdate().Model((*jobModel)(nil)).
		Where("id = ?", jobID.String()).
		Set("updated_at = ?", time.Now().UTC())

	if patch.Name != nil {
		q = q.Set("name = ?", *patch.Name)
	}
	if patch.Type != nil {
		q = q.Set("type = ?", string(*patch.Type))
	}
	if patch.Enabled != nil {
		q = q.Set("enabled = ?", *patch.Enabled)
	}
	if patch.Cron != nil {
		q = q.Set("cron = ?", *patch.Cron)
	}
	if patch.Query != nil {
		q = q.Set("query = ?", *patch.Query)
	}
	if patch.Context != nil {
		q = q.Set("context = ?", string(marshalMap(patch.Context)))
	}
	if patch.Persist != nil {
		q = q.Set("persist = ?", *patch.Persist)
	}
	if patch.Silent != nil {
		q = q.Set("silent = ?", *patch.Silent)
	}

	res, err := q.Exec(ctx)
	if err != nil {
		if isDuplicateKey(err) {
			return nil, ludari.NewConflict("job name already exists")
		}
		return nil, fmt.Errorf("ludari/bun: update job: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return nil, ludari.NewNotFound("job", jobID.String())
	}

	m := new(jobModel)
	if err = s.db.NewSelect().Model(m).Where("id = ?", jobID.String()).Scan(ctx); err != nil {
		return nil, fmt.Errorf("ludari/bun: reload job: %w", err)
	}
	return fromJobModel(m)
}

// DeleteJob soft-deletes a job by stamping its tombstone.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	now := time.Now().UTC()
	res, err := s.db.NewUpdate().Model((*jobModel)(nil)).
		Where("id = ?", jobID.String()).
		Where("deleted IS NULL").
		Set("deleted = ?", now).
		Set("updated_at = ?", now).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("ludari/bun: delete job: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return ludari.NewNotFound("job", jobID.String())
	}
	return nil
}
