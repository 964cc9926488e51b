// Package lens provides the per-execution frame buffer. A running job
// captures titled frames (error, warn, info, debug, metric) into a Lens;
// the serialized frame array is persisted as the JobRun result when the
// execution itself returns nothing.
package lens

import (
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"
)

// Level classifies a captured frame.
type Level string

// Frame levels.
const (
	LevelError  Level = "error"
	LevelWarn   Level = "warn"
	LevelInfo   Level = "info"
	LevelDebug  Level = "debug"
	LevelMetric Level = "metric"
)

// ErrMissingTitle is returned when a frame without a non-empty title is
// captured. This is the only failure mode of a Lens.
var ErrMissingTitle = errors.New("ludari/lens: frame requires a non-empty title")

// Frame is one captured event. Extra keys are flattened into the
// serialized JSON object alongside the named fields.
type Frame struct {
	Title       string
	Message     string
	Level       Level
	MetricName  string
	MetricValue float64
	MetricUnit  string
	Timestamp   time.Time
	Extra       map[string]any
}

// MarshalJSON flattens the frame into a single JSON object, merging
// Extra keys with the named fields. Named fields win on overlap.
func (f Frame) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(f.Extra)+7)
	for k, v := range f.Extra {
		m[k] = v
	}
	m["title"] = f.Title
	if f.Message != "" {
		m["message"] = f.Message
	}
	if f.Level != "" {
		m["level"] = f.Level
	}
	if f.MetricName != "" {
		m["metricName"] = f.MetricName
		m["metricValue"] = f.MetricValue
		if f.MetricUnit != "" {
			m["metricUnit"] = f.MetricUnit
		}
	}
	if !f.Timestamp.IsZero() {
		m["timestamp"] = f.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	return json.Marshal(m)
}

func (f Frame) clone() Frame {
	cp := f
	if f.Extra != nil {
		cp.Extra = make(map[string]any, len(f.Extra))
		for k, v := range f.Extra {
			cp.Extra[k] = v
		}
	}
	return cp
}

// Lens is a growable ordered sequence of frames. Safe for concurrent use.
type Lens struct {
	mu     sync.Mutex
	frames []Frame
}

// New creates an empty Lens.
func New() *Lens {
	return &Lens{}
}

// Capture appends a frame. The frame's timestamp is assigned at capture
// time if absent. Frames with a missing or empty title are rejected.
func (l *Lens) Capture(f Frame) error {
	if f.Title == "" {
		return ErrMissingTitle
	}
	if f.Timestamp.IsZero() {
		f.Timestamp = time.Now().UTC()
	}

	l.mu.Lock()
	l.frames = append(l.frames, f.clone())
	l.mu.Unlock()
	return nil
}

// CaptureInfo captures an info-level frame.
func (l *Lens) CaptureInfo(message, title string) error {
	return l.Capture(Frame{Title: title, Message: message, Level: LevelInfo})
}

// CaptureWarn captures a warn-level frame.
func (l *Lens) CaptureWarn(message, title string) error {
	return l.Capture(Frame{Title: title, Message: message, Level: LevelWarn})
}

// CaptureDebug captures a debug-level frame.
func (l *Lens) CaptureDebug(message, title string) error {
	return l.Capture(Frame{Title: title, Message: message, Level: LevelDebug})
}

// CaptureError captures an error-level frame recording the error's
// message, dynamic type name, and the stack at the capture site.
func (l *Lens) CaptureError(err error, title string) error {
	f := Frame{Title: title, Level: LevelError}
	if err != nil {
		f.Message = err.Error()
		f.Extra = map[string]any{
			"errorType": fmt.Sprintf("%T", err),
			"stack":     string(debug.Stack()),
		}
	}
	return l.Capture(f)
}

// CaptureErrorMessage captures an error-level frame from a plain message.
func (l *Lens) CaptureErrorMessage(message, title string) error {
	return l.Capture(Frame{Title: title, Message: message, Level: LevelError})
}

// CaptureMetric captures a metric frame. The frame title is
// "Metric: <name>".
func (l *Lens) CaptureMetric(name string, value float64, unit string) error {
	return l.Capture(Frame{
		Title:       "Metric: " + name,
		Level:       LevelMetric,
		MetricName:  name,
		MetricValue: value,
		MetricUnit:  unit,
	})
}

// Frames serializes the captured frames as a single JSON array.
func (l *Lens) Frames() (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.frames) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(l.frames)
	if err != nil {
		return "", fmt.Errorf("ludari/lens: serialize frames: %w", err)
	}
	return string(data), nil
}

// FrameArray returns a defensive copy of the captured frames.
func (l *Lens) FrameArray() []Frame {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Frame, len(l.frames))
	for i, f := range l.frames {
		out[i] = f.clone()
	}
	return out
}

// Clear discards all captured frames.
func (l *Lens) Clear() {
	l.mu.Lock()
	l.frames = nil
	l.mu.Unlock()
}

// IsEmpty reports whether no frames have been captured.
func (l *Lens) IsEmpty() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.frames) == 0
}

// Count returns the number of captured frames.
func (l *Lens) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.frames)
}
