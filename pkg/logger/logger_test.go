package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := New(Config{Level: "loud", Format: "json"}); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := New(Config{Level: "info", Format: "xml"}); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nudge.log")
	log, err := New(Config{Level: "debug", Format: "json", Output: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.Named("writer").WithSession("01ABC").Warn("queue full", Seq(3))
	_ = log.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	line := string(data)
	for _, want := range []string{`"session_id":"01ABC"`, `"seq":3`, `"logger":"writer"`, `"level":"warn"`} {
		if !strings.Contains(line, want) {
			t.Errorf("log line %q missing %s", line, want)
		}
	}
}

func TestNopDoesNotPanic(t *testing.T) {
	NewNop().Named("x").Info("ignored", String("k", "v"))
}
