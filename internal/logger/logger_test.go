package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestNewTextLogger(t *testing.T) {
	var buf bytes.Buffer
	l := New(WithWriter(&buf))
	l.Info("turn persisted", "thread_id", "main")

	out := buf.String()
	if !strings.Contains(out, "turn persisted") || !strings.Contains(out, "thread_id=main") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(WithWriter(&buf), WithLevel("warn"))
	l.Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("info should be filtered at warn, got %q", buf.String())
	}
	l.Warn("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Errorf("expected warn output, got %q", buf.String())
	}
}

func TestJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	l := New(WithWriter(&buf), WithJSON(true), WithLevel("debug"))
	l.Debug("structured", "count", 42)

	var parsed map[string]any
	if err := json.Unmarshal(buf.Bytes(), &parsed); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if parsed["msg"] != "structured" || parsed["count"] != float64(42) {
		t.Errorf("unexpected record %v", parsed)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for name, want := range tests {
		if got := ParseLevel(name); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", name, got, want)
		}
	}
}
