package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestNewWithOptions_JSONDefault(t *testing.T) {
	var buf bytes.Buffer
	lgr := NewWithOptions(Options{Output: &buf})

	lgr.Info("hello", "email", "a@co.com")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON output, got %q: %v", buf.String(), err)
	}
	if entry["msg"] != "hello" || entry["email"] != "a@co.com" {
		t.Errorf("unexpected entry: %v", entry)
	}
}

func TestNewWithOptions_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	lgr := NewWithOptions(Options{Format: "TEXT", Output: &buf})

	lgr.Info("hello")

	if !strings.Contains(buf.String(), "msg=hello") {
		t.Errorf("expected text output, got %q", buf.String())
	}
}

func TestNewWithOptions_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	lgr := NewWithOptions(Options{Level: "error", Output: &buf})

	lgr.Warn("dropped")
	if buf.Len() != 0 {
		t.Errorf("expected warn to be filtered at error level, got %q", buf.String())
	}

	lgr.Error("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Errorf("expected error entry, got %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
