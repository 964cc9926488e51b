package storage

import (
	"time"

	"github.com/ludari/ludari"
	"github.com/ludari/ludari/id"
)

// WatchJobName is the reserved system job providing the periodic tick for
// reset detection. It is never surfaced through public listing or lookup.
const WatchJobName = "__watch__"

// JobType selects the execution binding for a job.
type JobType string

// Job types.
const (
	TypeInline JobType = "inline"
	TypeMethod JobType = "method"
	TypeQuery  JobType = "query"
)

// Job is a scheduled or ad-hoc job definition. Name is unique among
// non-deleted jobs. Query holds either plaintext or the crypto envelope
// produced when a query secret is configured. Context is consumed as
// static execution context; Deleted is the soft-delete tombstone.
type Job struct {
	ludari.Entity

	ID      id.JobID       `json:"id"`
	Name    string         `json:"name"`
	Type    JobType        `json:"type"`
	Enabled bool           `json:"enabled"`
	Cron    string         `json:"cron,omitempty"`
	Query   string         `json:"query,omitempty"`
	Context map[string]any `json:"context,omitempty"`
	Persist bool           `json:"persist"`
	Silent  bool           `json:"silent"`
	Deleted *time.Time     `json:"deleted,omitempty"`
}

// Clone returns a deep copy.
func (j *Job) Clone() *Job {
	cp := *j
	if j.Context != nil {
		cp.Context = make(map[string]any, len(j.Context))
		for k, v := range j.Context {
			cp.Context[k] = v
		}
	}
	if j.Deleted != nil {
		d := *j.Deleted
		cp.Deleted = &d
	}
	return &cp
}

// JobPatch is a partial update of a Job. Nil fields are left unchanged;
// a non-nil Context replaces the stored map wholesale.
type JobPatch struct {
	Name    *string
	Type    *JobType
	Enabled *bool
	Cron    *string
	Query   *string
	Context map[string]any
	Persist *bool
	Silent  *bool
}
