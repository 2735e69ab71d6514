package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("invalid JSON log line %q: %v", line, err)
		}
		out = append(out, entry)
	}
	return out
}

func TestLogger_SessionFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Session{InstanceID: "inst-1", UserID: "user-9"}).WithOutput(&buf)

	logger.Info("connected", map[string]any{"screen": "home"})

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e["instance_id"] != "inst-1" {
		t.Errorf("instance_id = %v, want inst-1", e["instance_id"])
	}
	if e["user_id"] != "user-9" {
		t.Errorf("user_id = %v, want user-9", e["user_id"])
	}
	if e["level"] != "info" {
		t.Errorf("level = %v, want info", e["level"])
	}
	fields, ok := e["fields"].(map[string]any)
	if !ok || fields["screen"] != "home" {
		t.Errorf("fields = %v, want screen=home", e["fields"])
	}
}

func TestLogger_OmitsEmptyUserID(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(Session{InstanceID: "inst-1"}).WithOutput(&buf).Debug("x", nil)

	entries := decodeLines(t, &buf)
	if _, ok := entries[0]["user_id"]; ok {
		t.Error("user_id should be omitted when empty")
	}
}

func TestLogger_SetLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Session{InstanceID: "inst-1"}).WithOutput(&buf)

	if !logger.SetLevel("warn") {
		t.Fatal("SetLevel(warn) returned false")
	}
	logger.Info("dropped", nil)
	logger.Warn("kept", nil)

	entries := decodeLines(t, &buf)
	if len(entries) != 1 || entries[0]["message"] != "kept" {
		t.Fatalf("expected only the warn entry, got %v", entries)
	}

	if logger.SetLevel("verbose") {
		t.Error("SetLevel accepted an unknown level")
	}
}

func TestLogger_NamedAndWith(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Session{InstanceID: "inst-1"}).WithOutput(&buf).
		Named("transport").
		With(map[string]any{"connection_id": "c-1"})

	logger.Error("read failed", nil)

	e := decodeLines(t, &buf)[0]
	if e["component"] != "transport" {
		t.Errorf("component = %v, want transport", e["component"])
	}
	if e["connection_id"] != "c-1" {
		t.Errorf("connection_id = %v, want c-1", e["connection_id"])
	}
}

func TestNop_DoesNotPanic(t *testing.T) {
	logger := Nop()
	logger.Info("ignored", map[string]any{"k": "v"})
	logger.Sugar().Infof("ignored %d", 1)
}
