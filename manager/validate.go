package manager

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/ludari/ludari/storage"
)

var (
	jobNameRe   = regexp.MustCompile(`^[A-Za-z0-9_-]{1,100}$`)
	replicaIDRe = regexp.MustCompile(`^[A-Za-z0-9_-]{8,}$`)
)

// isReservedName reports whether a job name is system-owned.
func isReservedName(name string) bool {
	return name == storage.WatchJobName ||
		strings.HasPrefix(name, "__") ||
		strings.HasPrefix(name, "system:") ||
		strings.HasPrefix(name, "internal:")
}

// validateJobName enforces the format and reservation rules for
// caller-supplied job names.
func validateJobName(name string) error {
	if name == "" {
		return fmt.Errorf("ludari: job name is required")
	}
	if isReservedName(name) {
		return fmt.Errorf("ludari: job name %q is reserved for the system", name)
	}
	if !jobNameRe.MatchString(name) {
		return fmt.Errorf("ludari: job name %q must match [A-Za-z0-9_-]{1,100}", name)
	}
	return nil
}

// validateReplicaID accepts a UUID or [A-Za-z0-9_-]{8,}.
func validateReplicaID(replicaID string) error {
	if _, err := uuid.Parse(replicaID); err == nil {
		return nil
	}
	if replicaIDRe.MatchString(replicaID) {
		return nil
	}
	return fmt.Errorf("ludari: replica id %q must be a UUID or match [A-Za-z0-9_-]{8,}", replicaID)
}

// validateCron parses the expression through the scheduler's parser.
func validateCron(expr string) error {
	if expr == "" {
		return nil
	}
	if _, err := cronParser.Parse(expr); err != nil {
		return fmt.Errorf("ludari: invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// validateJobType checks the execution binding.
func validateJobType(t storage.JobType) error {
	switch t {
	case storage.TypeInline, storage.TypeMethod, storage.TypeQuery:
		return nil
	case "":
		return fmt.Errorf("ludari: job type is required")
	default:
		return fmt.Errorf("ludari: unknown job type %q", t)
	}
}

// validateJobDefinition applies the creation rules: a scheduled, enabled
// query job needs a query; a scheduled, enabled method job needs a
// configured handler.
func (m *Manager) validateJobDefinition(j *storage.Job) error {
	if err := validateJobName(j.Name); err != nil {
		return err
	}
	if err := validateJobType(j.Type); err != nil {
		return err
	}
	if err := validateCron(j.Cron); err != nil {
		return err
	}
	if j.Type == storage.TypeQuery && j.Enabled && j.Cron != "" && j.Query == "" {
		return fmt.Errorf("ludari: scheduled query job %q requires a query", j.Name)
	}
	if j.Type == storage.TypeMethod && j.Enabled && j.Cron != "" && m.handler == nil {
		return fmt.Errorf("ludari: scheduled method job %q requires a configured handler", j.Name)
	}
	return nil
}
