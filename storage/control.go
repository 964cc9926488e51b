package storage

import (
	"slices"

	"github.com/ludari/ludari"
	"github.com/ludari/ludari/id"
)

// LogLevel gates which manager log lines are emitted, ordered
// error < warn < info < debug.
type LogLevel string

// Log levels.
const (
	LogLevelError LogLevel = "error"
	LogLevelWarn  LogLevel = "warn"
	LogLevelInfo  LogLevel = "info"
	LogLevelDebug LogLevel = "debug"
)

func (l LogLevel) rank() int {
	switch l {
	case LogLevelError:
		return 0
	case LogLevelWarn:
		return 1
	case LogLevelDebug:
		return 3
	default:
		// Unknown levels gate as info (permissive).
		return 2
	}
}

// Allows reports whether a line at the given level passes this gate.
func (l LogLevel) Allows(line LogLevel) bool {
	return line.rank() <= l.rank()
}

// Control is the singleton record describing the fleet: the global
// kill-switch, the roster of live replicas, the subset that must
// reschedule, and an opaque version token for optimistic concurrency.
// Invariant: Stale ⊆ Replicas.
type Control struct {
	ludari.Entity

	ID       id.ControlID `json:"id"`
	Enabled  bool         `json:"enabled"`
	LogLevel LogLevel     `json:"log_level"`
	Replicas []string     `json:"replicas"`
	Stale    []string     `json:"stale"`
	Version  string       `json:"version"`
}

// Clone returns a deep copy.
func (c *Control) Clone() *Control {
	cp := *c
	cp.Replicas = slices.Clone(c.Replicas)
	cp.Stale = slices.Clone(c.Stale)
	return &cp
}

// ControlPatch is a partial update of the Control record. Nil fields are
// left unchanged. ExpectVersion, when set, must equal the stored version
// or the update fails with a CONFLICT error; Version, when set, replaces
// the stored token (writers rotate it to force conflict on peers).
type ControlPatch struct {
	Enabled       *bool
	LogLevel      *LogLevel
	Replicas      []string
	ReplicasSet   bool
	Stale         []string
	StaleSet      bool
	Version       *string
	ExpectVersion *string
}
