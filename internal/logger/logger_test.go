package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"
)

func parseLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("failed to parse log line %q: %v", line, err)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "DEBUG", "json")

	Info("image uploaded", "image_id", "abc-123", "bytes", 42)

	entries := parseLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	e := entries[0]
	if e["msg"] != "image uploaded" || e["level"] != "INFO" {
		t.Errorf("unexpected entry %v", e)
	}
	if e["image_id"] != "abc-123" || e["bytes"] != float64(42) {
		t.Errorf("missing structured fields in %v", e)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "ERROR", "json")

	Debug("hidden")
	Info("hidden")
	Warn("hidden")
	Error("visible")

	entries := parseLines(t, &buf)
	if len(entries) != 1 || entries[0]["msg"] != "visible" {
		t.Errorf("expected only the error entry, got %v", entries)
	}
}

func TestSetLevelIgnoresInvalid(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "json")

	SetLevel("LOUD")

	Info("still info")
	entries := parseLines(t, &buf)
	if len(entries) != 1 {
		t.Errorf("invalid level must not change filtering, got %v", entries)
	}
}

func TestIsTerminalOnRegularFile(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "log")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	defer f.Close()

	if isTerminal(f.Fd()) {
		t.Error("regular file must not be detected as a terminal")
	}
}

func TestWithBindsAttributes(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "DEBUG", "json")

	With("image_id", "xyz").Info("processing")

	entries := parseLines(t, &buf)
	if len(entries) != 1 || entries[0]["image_id"] != "xyz" {
		t.Errorf("expected bound attribute, got %v", entries)
	}
}
