package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestZerologAdapter_Fields(t *testing.T) {
	var buf bytes.Buffer
	l := NewZerologAdapter(&buf, "debug")

	l.Info("pass complete",
		String("stream", "c1"),
		Int("delivered", 2),
		Bool("systemic", false),
		Duration("took", 1500*time.Millisecond),
		Err(errors.New("boom")),
	)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line: %v (%s)", err, buf.String())
	}
	if rec["message"] != "pass complete" {
		t.Errorf("message = %v, want pass complete", rec["message"])
	}
	if rec["stream"] != "c1" {
		t.Errorf("stream = %v, want c1", rec["stream"])
	}
	if rec["delivered"] != float64(2) {
		t.Errorf("delivered = %v, want 2", rec["delivered"])
	}
	if rec["error"] != "boom" {
		t.Errorf("error = %v, want boom", rec["error"])
	}
	if rec["level"] != "info" {
		t.Errorf("level = %v, want info", rec["level"])
	}
}

func TestZerologAdapter_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := NewZerologAdapter(&buf, "warn")

	l.Debug("hidden")
	l.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected no output below warn, got %q", buf.String())
	}

	l.Warn("shown")
	if buf.Len() == 0 {
		t.Fatal("expected warn output")
	}
}

func TestZerologAdapter_With(t *testing.T) {
	var buf bytes.Buffer
	l := NewZerologAdapter(&buf, "info").With(String("component", "reconciler"))

	l.Info("hello")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if rec["component"] != "reconciler" {
		t.Errorf("component = %v, want reconciler", rec["component"])
	}
}
