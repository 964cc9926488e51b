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

// CreateJobRun persists a new run. The job_id foreign key turns unknown
// references into INVALID_REFERENCE.
func (s *Store) CreateJobRun(ctx context.Context, r *storage.JobRun) (*storage.JobRun, error) {
	cp := r.Clone()
	if cp.ID.IsNil() {
		cp.ID = id.NewRunID()
	}
	if cp.Entity.CreatedAt.IsZero() {
		cp.Entity = ludari.NewEntity()
	}

	m, err := toJobRunModel(cp)
	if err != nil {
		return nil, err
	}
	if _, err = s.db.NewInsert().Model(m).Exec(ctx); err != nil {
		if isForeignKeyViolation(err) {
			return nil, ludari.NewStorageError(ludari.CodeInvalidReference,
				"job run references unknown job "+cp.JobID.String())
		}
		return nil, fmt.Errorf("ludari/bun: create job run: %w", err)
	}
	return cp, nil
}

// UpdateJobRun applies a partial update to a run.
func (s *Store) UpdateJobRun(ctx context.Context, runID id.RunID, patch storage.JobRunPatch) (*storage.JobRun, error) {
	q := s.db.NewUpdate().Model((*jobRunModel)(nil)).
		Where("id = ?", runID.String()).
		Set("updated_at = ?", time.Now().UTC())

	if patch.Completed != nil {
		q = q.Set("completed = ?", *patch.Completed)
	}
	if patch.Failed != nil {
		q = q.Set("failed = ?", *patch.Failed)
	}
	if patch.HasResult {
		result, err := marshalResult(patch.Result)
		if err != nil {
			return nil, err
		}
		if result == nil {
			q = q.Set("result = NULL")
		} else {
			q = q.Set("result = ?", string(result))
		}
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("ludari/bun: update job run: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return nil, ludari.NewNotFound("job run", runID.String())
	}

	m := new(jobRunModel)
	if err = s.db.NewSelect().Model(m).Where("id = ?", runID.String()).Scan(ctx); err != nil {
		return nil, fmt.Errorf("ludari/bun: reload job run: %w", err)
	}
	return fromJobRunModel(m)
}

// FindJobRuns returns a filtered page of runs, newest first.
func (s *Store) FindJobRuns(ctx context.Context, filter storage.RunFilter) (*storage.Page[*storage.JobRun], error) {
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = storage.DefaultPageSize
	}

	base := func(q *bun.SelectQuery) *bun.SelectQuery {
		if !filter.JobID.IsNil() {
			q = q.Where("job_id = ?", filter.JobID.String())
		}
		if filter.StartedAfter != nil {
			q = q.Where("started > ?", *filter.StartedAfter)
		}
		if filter.StartedBefore != nil {
			q = q.Where("started < ?", *filter.StartedBefore)
		}
		switch filter.Status {
		case storage.RunCompleted:
			q = q.Where("completed IS NOT NULL")
		case storage.RunFailed:
			q = q.Where("failed IS NOT NULL")
		case storage.RunRunning:
			q = q.Where("completed IS NULL").Where("failed IS NULL")
		}
		return q
	}

	total, err := base(s.db.NewSelect().Model((*jobRunModel)(nil))).Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("ludari/bun: count job runs: %w", err)
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

	var models []jobRunModel
	err = base(s.db.NewSelect().Model(&models)).
		Order("started DESC").
		Limit(pageSize).
		Offset((page - 1) * pageSize).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("ludari/bun: find job runs: %w", err)
	}

	runs := make([]*storage.JobRun, 0, len(models))
	for i := range models {
		r, convErr := fromJobRunModel(&models[i])
		if convErr != nil {
			return nil, convErr
		}
		runs = append(runs, r)
	}

	return &storage.Page[*storage.JobRun]{
		Data:     runs,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
		LastPage: lastPage,
	}, nil
}
