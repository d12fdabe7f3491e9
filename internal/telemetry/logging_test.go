package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"DEBUG":   slog.LevelDebug,
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"ERROR":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewLogger_JSONWithAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo, "json")

	WithFingerprint(WithTaskID(logger, "t-1"), "0123456789abcdef0123").Info("task started")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected json output: %v (%s)", err, buf.String())
	}
	if line["task_id"] != "t-1" {
		t.Errorf("expected task_id, got %v", line["task_id"])
	}
	if line["fingerprint"] != "0123456789ab" {
		t.Errorf("expected short fingerprint, got %v", line["fingerprint"])
	}
}

func TestNewLogger_Text(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(&buf, slog.LevelInfo, "text").Debug("hidden")
	NewLogger(&buf, slog.LevelInfo, "text").Info("shown", "repo", "octo/repo")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("debug line should be filtered at INFO")
	}
	if !strings.Contains(out, "repo=octo/repo") {
		t.Errorf("expected text attrs, got %q", out)
	}
}

func TestFromContext(t *testing.T) {
	logger := Discard()
	ctx := WithLogger(context.Background(), logger)
	if FromContext(ctx) != logger {
		t.Error("expected logger from context")
	}
	if FromContext(context.Background()) != slog.Default() {
		t.Error("expected default logger")
	}
}
