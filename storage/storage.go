package storage

import (
	"context"
	"time"

	"github.com/ludari/ludari/id"
)

// DeletedFilter selects jobs by tombstone state.
type DeletedFilter string

// Deleted filter values. The zero value returns all rows.
const (
	DeletedAll     DeletedFilter = ""
	DeletedExclude DeletedFilter = "null"
	DeletedOnly    DeletedFilter = "not-null"
)

// JobFilter narrows FindJobs. Zero-value fields match everything.
type JobFilter struct {
	Name    string
	Type    JobType
	Enabled *bool
	Deleted DeletedFilter

	Page     int
	PageSize int
}

// RunFilter narrows FindJobRuns. StartedAfter and StartedBefore are
// strict inequalities.
type RunFilter struct {
	JobID         id.JobID
	StartedAfter  *time.Time
	StartedBefore *time.Time
	Status        RunStatus

	Page     int
	PageSize int
}

// DefaultPageSize applies when a filter leaves PageSize unset.
const DefaultPageSize = 50

// Page is a paginated response. Page is 1-based and clamped to
// [1, LastPage] by implementations.
type Page[T any] struct {
	Data     []T `json:"data"`
	Total    int `json:"total"`
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
	LastPage int `json:"last_page"`
}

// Paginate slices items according to the requested 1-based page and page
// size, clamping the page into range. Shared by storage implementations.
func Paginate[T any](items []T, page, pageSize int) *Page[T] {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	total := len(items)
	lastPage := (total + pageSize - 1) / pageSize
	if lastPage < 1 {
		lastPage = 1
	}
	if page < 1 {
		page = 1
	}
	if page > lastPage {
		page = lastPage
	}

	start := (page - 1) * pageSize
	end := start + pageSize
	if start > total {
		start = total
	}
	if end > total {
		end = total
	}

	return &Page[T]{
		Data:     items[start:end],
		Total:    total,
		Page:     page,
		PageSize: pageSize,
		LastPage: lastPage,
	}
}

// Storage is the persistence contract consumed by the Manager.
//
// Error taxonomy: absent singletons and filtered misses return (nil, nil);
// targeted operations on missing rows return a NOT_FOUND *ludari.StorageError;
// duplicate Control rows, duplicate live job names, and optimistic-version
// mismatches return CONFLICT; a JobRun referencing an unknown job returns
// INVALID_REFERENCE.
type Storage interface {
	// GetControl returns the Control singleton, or (nil, nil) if absent.
	GetControl(ctx context.Context) (*Control, error)

	// CreateControl persists the singleton. Fails with CONFLICT if a
	// Control already exists.
	CreateControl(ctx context.Context, c *Control) (*Control, error)

	// UpdateControl applies a partial update, refreshing UpdatedAt. When
	// the patch carries ExpectVersion it must equal the stored version.
	UpdateControl(ctx context.Context, controlID id.ControlID, patch ControlPatch) (*Control, error)

	// FindJobs returns a filtered page of jobs. The reserved watch job is
	// always excluded from results.
	FindJobs(ctx context.Context, filter JobFilter) (*Page[*Job], error)

	// FindJob returns a job by id, or (nil, nil) if absent or tombstoned.
	FindJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// FindJobByName returns a job by name, or (nil, nil) if absent or
	// tombstoned.
	FindJobByName(ctx context.Context, name string) (*Job, error)

	// CreateJob persists a new job. Fails with CONFLICT when the name
	// collides with another live job.
	CreateJob(ctx context.Context, j *Job) (*Job, error)

	// UpdateJob applies a partial update. Renames that collide with
	// another live job fail with CONFLICT.
	UpdateJob(ctx context.Context, jobID id.JobID, patch JobPatch) (*Job, error)

	// DeleteJob soft-deletes a job by stamping its tombstone.
	DeleteJob(ctx context.Context, jobID id.JobID) error

	// CreateJobRun persists a new run. Fails with INVALID_REFERENCE when
	// the referenced job does not exist.
	CreateJobRun(ctx context.Context, r *JobRun) (*JobRun, error)

	// UpdateJobRun applies a partial update to a run.
	UpdateJobRun(ctx context.Context, runID id.RunID, patch JobRunPatch) (*JobRun, error)

	// FindJobRuns returns a filtered page of runs, newest first.
	FindJobRuns(ctx context.Context, filter RunFilter) (*Page[*JobRun], error)
}

// QueryExecutor is the optional raw-query capability used by jobs of type
// "query". Back ends that cannot execute raw queries simply do not
// implement it.
type QueryExecutor interface {
	ExecuteQuery(ctx context.Context, query string) (any, error)
}
