package lens_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ludari/ludari/lens"
)

func TestCapture_RejectsMissingTitle(t *testing.T) {
	l := lens.New()

	if err := l.Capture(lens.Frame{Message: "no title"}); !errors.Is(err, lens.ErrMissingTitle) {
		t.Fatalf("Capture without title: err = %v, want ErrMissingTitle", err)
	}
	if !l.IsEmpty() {
		t.Error("rejected frame must not be recorded")
	}
}

func TestCapture_AssignsTimestamp(t *testing.T) {
	l := lens.New()

	if err := l.CaptureInfo("hello", "Greeting"); err != nil {
		t.Fatalf("CaptureInfo: %v", err)
	}

	frames := l.FrameArray()
	if len(frames) != 1 {
		t.Fatalf("Count = %d, want 1", len(frames))
	}
	if frames[0].Timestamp.IsZero() {
		t.Error("expected timestamp assigned at capture")
	}
}

func TestCapture_PreservesExplicitTimestamp(t *testing.T) {
	l := lens.New()

	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := l.Capture(lens.Frame{Title: "Pinned", Timestamp: ts}); err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if got := l.FrameArray()[0].Timestamp; !got.Equal(ts) {
		t.Errorf("Timestamp = %v, want %v", got, ts)
	}
}

func TestFrames_RoundTrip(t *testing.T) {
	l := lens.New()

	if err := l.CaptureInfo("hello", "Greeting"); err != nil {
		t.Fatalf("CaptureInfo: %v", err)
	}
	if err := l.CaptureMetric("lat", 42, "ms"); err != nil {
		t.Fatalf("CaptureMetric: %v", err)
	}

	serialized, err := l.Frames()
	if err != nil {
		t.Fatalf("Frames: %v", err)
	}

	var parsed []map[string]any
	if unmarshalErr := json.Unmarshal([]byte(serialized), &parsed); unmarshalErr != nil {
		t.Fatalf("Unmarshal: %v", unmarshalErr)
	}
	if len(parsed) != 2 {
		t.Fatalf("parsed %d frames, want 2", len(parsed))
	}

	if parsed[0]["title"] != "Greeting" || parsed[0]["level"] != "info" {
		t.Errorf("frame[0] = %v, want title=Greeting level=info", parsed[0])
	}
	if parsed[1]["title"] != "Metric: lat" {
		t.Errorf("frame[1] title = %v, want %q", parsed[1]["title"], "Metric: lat")
	}
	if v, ok := parsed[1]["metricValue"].(float64); !ok || v != 42 {
		t.Errorf("frame[1] metricValue = %v, want 42", parsed[1]["metricValue"])
	}
	if parsed[1]["metricUnit"] != "ms" {
		t.Errorf("frame[1] metricUnit = %v, want ms", parsed[1]["metricUnit"])
	}
}

func TestCaptureError_RecordsTypeAndStack(t *testing.T) {
	l := lens.New()

	if err := l.CaptureError(errors.New("boom"), "Job execution failed"); err != nil {
		t.Fatalf("CaptureError: %v", err)
	}

	f := l.FrameArray()[0]
	if f.Message != "boom" || f.Level != lens.LevelError {
		t.Errorf("frame = %+v, want message=boom level=error", f)
	}
	if f.Extra["errorType"] == "" {
		t.Error("expected errorType recorded")
	}
	if s, _ := f.Extra["stack"].(string); s == "" {
		t.Error("expected stack recorded")
	}
}

func TestFrameArray_DefensiveCopy(t *testing.T) {
	l := lens.New()

	if err := l.Capture(lens.Frame{Title: "Original", Extra: map[string]any{"k": "v"}}); err != nil {
		t.Fatalf("Capture: %v", err)
	}

	frames := l.FrameArray()
	frames[0].Title = "Mutated"
	frames[0].Extra["k"] = "mutated"

	again := l.FrameArray()
	if again[0].Title != "Original" {
		t.Errorf("Title = %q, caller mutation leaked into the lens", again[0].Title)
	}
	if again[0].Extra["k"] != "v" {
		t.Errorf("Extra[k] = %v, caller mutation leaked into the lens", again[0].Extra["k"])
	}
}

func TestClear(t *testing.T) {
	l := lens.New()

	if err := l.CaptureDebug("d", "D"); err != nil {
		t.Fatalf("CaptureDebug: %v", err)
	}
	if err := l.CaptureWarn("w", "W"); err != nil {
		t.Fatalf("CaptureWarn: %v", err)
	}
	if l.Count() != 2 {
		t.Fatalf("Count = %d, want 2", l.Count())
	}

	l.Clear()
	if !l.IsEmpty() {
		t.Error("expected empty lens after Clear")
	}
	serialized, err := l.Frames()
	if err != nil {
		t.Fatalf("Frames: %v", err)
	}
	if serialized != "[]" {
		t.Errorf("Frames = %q, want []", serialized)
	}
}
