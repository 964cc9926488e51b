package bunstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/ludari/ludari"
	"github.com/ludari/ludari/id"
	"github.com/ludari/ludari/storage"
)

// ── Control model ─────────────────────────────────────────────────

type controlModel struct {
	bun.BaseModel `bun:"table:ludari_controls"`

	ID        string    `bun:"id,pk"`
	Enabled   bool      `bun:"enabled,notnull"`
	LogLevel  string    `bun:"log_level,notnull,default:'info'"`
	Replicas  []byte    `bun:"replicas,type:jsonb"`
	Stale     []byte    `bun:"stale,type:jsonb"`
	Version   string    `bun:"version,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

func toControlModel(c *storage.Control) *controlModel {
	return &controlModel{
		ID:        c.ID.String(),
		Enabled:   c.Enabled,
		LogLevel:  string(c.LogLevel),
		Replicas:  marshalStrings(c.Replicas),
		Stale:     marshalStrings(c.Stale),
		Version:   c.Version,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func fromControlModel(m *controlModel) (*storage.Control, error) {
	parsedID, err := id.ParseControlID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("ludari/bun: parse control id %q: %w", m.ID, err)
	}
	return &storage.Control{
		Entity:   ludari.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:       parsedID,
		Enabled:  m.Enabled,
		LogLevel: storage.LogLevel(m.LogLevel),
		Replicas: unmarshalStrings(m.Replicas),
		Stale:    unmarshalStrings(m.Stale),
		Version:  m.Version,
	}, nil
}

// ── Job model ─────────────────────────────────────────────────────

type jobModel struct {
	bun.BaseModel `bun:"table:ludari_jobs"`

	ID        string     `bun:"id,pk"`
	Name      string     `bun:"name,notnull"`
	Type      string     `bun:"type,notnull"`
	Enabled   bool       `bun:"enabled,notnull,default:false"`
	Cron      string     `bun:"cron"`
	Query     string     `bun:"query"`
	Context   []byte     `bun:"context,type:jsonb"`
	Persist   bool       `bun:"persist,notnull,default:false"`
	Silent    bool       `bun:"silent,notnull,default:false"`
	Deleted   *time.Time `bun:"deleted"`
	CreatedAt time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
}

func toJobModel(j *storage.Job) *jobModel {
	return &jobModel{
		ID:        j.ID.String(),
		Name:      j.Name,
		Type:      string(j.Type),
		Enabled:   j.Enabled,
		Cron:      j.Cron,
		Query:     j.Query,
		Context:   marshalMap(j.Context),
		Persist:   j.Persist,
		Silent:    j.Silent,
		Deleted:   j.Deleted,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
}

func fromJobModel(m *jobModel) (*storage.Job, error) {
	parsedID, err := id.ParseJobID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("ludari/bun: parse job id %q: %w", m.ID, err)
	}
	return &storage.Job{
		Entity:  ludari.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:      parsedID,
		Name:    m.Name,
		Type:    storage.JobType(m.Type),
		Enabled: m.Enabled,
		Cron:    m.Cron,
		Query:   m.Query,
		Context: unmarshalMap(m.Context),
		Persist: m.Persist,
		Silent:  m.Silent,
		Deleted: m.Deleted,
	}, nil
}

// ── Job run model ─────────────────────────────────────────────────

type jobRunModel struct {
	bun.BaseModel `bun:"table:ludari_job_runs"`

	ID        string     `bun:"id,pk"`
	JobID     string     `bun:"job_id,notnull"`
	Started   time.Time  `bun:"started,notnull"`
	Completed *time.Time `bun:"completed"`
	Failed    *time.Time `bun:"failed"`
	Result    []byte     `bun:"result,type:jsonb"`
	CreatedAt time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
}

func toJobRunModel(r *storage.JobRun) (*jobRunModel, error) {
	result, err := marshalResult(r.Result)
	if err != nil {
		return nil, err
	}
	return &jobRunModel{
		ID:        r.ID.String(),
		JobID:     r.JobID.String(),
		Started:   r.Started,
		Completed: r.Completed,
		Failed:    r.Failed,
		Result:    result,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}, nil
}

func fromJobRunModel(m *jobRunModel) (*storage.JobRun, error) {
	parsedID, err := id.ParseRunID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("ludari/bun: parse run id %q: %w", m.ID, err)
	}
	parsedJobID, err := id.ParseJobID(m.JobID)
	if err != nil {
		return nil, fmt.Errorf("ludari/bun: parse run job id %q: %w", m.JobID, err)
	}

	run := &storage.JobRun{
		Entity:    ludari.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:        parsedID,
		JobID:     parsedJobID,
		Started:   m.Started,
		Completed: m.Completed,
		Failed:    m.Failed,
	}
	if len(m.Result) > 0 {
		var v any
		if unmarshalErr := json.Unmarshal(m.Result, &v); unmarshalErr == nil {
			run.Result = v
		}
	}
	return run, nil
}
