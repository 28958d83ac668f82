package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func captureJSON(t *testing.T, level string) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetupWriter(&buf, level, "json")
	t.Cleanup(func() { Setup("info", "console") })
	return &buf
}

func decodeLine(t *testing.T, line string) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(line), &m); err != nil {
		t.Fatalf("invalid JSON log line %q: %v", line, err)
	}
	return m
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		level  string
		expect zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"DEBUG", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"unknown", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			Setup(tt.level, "console")
			if got := zerolog.GlobalLevel(); got != tt.expect {
				t.Errorf("level %s: expected %v, got %v", tt.level, tt.expect, got)
			}
		})
	}
}

func TestKeyValueFields(t *testing.T) {
	buf := captureJSON(t, "debug")

	Log.Info("trace replaced", "tokens", 4, "trace_id", "abc")

	m := decodeLine(t, strings.TrimSpace(buf.String()))
	if m["message"] != "trace replaced" {
		t.Errorf("unexpected message: %v", m["message"])
	}
	if m["tokens"] != float64(4) {
		t.Errorf("expected tokens=4, got %v", m["tokens"])
	}
	if m["trace_id"] != "abc" {
		t.Errorf("expected trace_id=abc, got %v", m["trace_id"])
	}
}

func TestOrphanKeyIgnored(t *testing.T) {
	buf := captureJSON(t, "info")

	Log.Info("odd args", "key1", "value1", "orphan_key")

	m := decodeLine(t, strings.TrimSpace(buf.String()))
	if _, ok := m["orphan_key"]; ok {
		t.Error("orphan key should not be logged")
	}
	if m["key1"] != "value1" {
		t.Errorf("expected key1=value1, got %v", m["key1"])
	}
}

func TestNonStringKeyAndError(t *testing.T) {
	buf := captureJSON(t, "info")

	Log.Warn("projection failed", 123, "value", "err", errors.New("singular"))

	m := decodeLine(t, strings.TrimSpace(buf.String()))
	if m["123"] != "value" {
		t.Errorf("expected non-string key to be formatted, got %v", m)
	}
	if m["err"] != "singular" {
		t.Errorf("expected err=singular, got %v", m["err"])
	}
}

func TestWithComponent(t *testing.T) {
	buf := captureJSON(t, "info")

	Log.With("session").Info("cleared")

	m := decodeLine(t, strings.TrimSpace(buf.String()))
	if m["component"] != "session" {
		t.Errorf("expected component=session, got %v", m["component"])
	}
}

func TestLevelFiltering(t *testing.T) {
	buf := captureJSON(t, "error")

	Log.Debug("filtered")
	Log.Info("filtered")
	Log.Warn("filtered")
	Log.Error("kept")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %q", len(lines), buf.String())
	}
	if decodeLine(t, lines[0])["message"] != "kept" {
		t.Errorf("unexpected line %s", lines[0])
	}
}
