package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewLogger(t *testing.T) {
	if l := NewLogger(nil); l == nil {
		t.Fatal("NewLogger(nil) returned nil")
	}

	var buf bytes.Buffer
	l := NewLogger(&Config{Level: LevelDebug, Output: &buf})
	if l == nil {
		t.Fatal("NewLogger() returned nil")
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&Config{Level: LevelWarn, Output: &buf})

	l.Debug("should not appear")
	l.Info("should not appear either")
	if buf.Len() != 0 {
		t.Errorf("expected nothing logged below configured level, got %q", buf.String())
	}

	l.Warn("node leak detected", "handle", 7)
	if !strings.Contains(buf.String(), "node leak detected") {
		t.Errorf("expected warn message, got: %s", buf.String())
	}
	if !strings.Contains(buf.String(), "handle=7") {
		t.Errorf("expected key=value pair in output, got: %s", buf.String())
	}
}

func TestGlobalLoggerFunctions(t *testing.T) {
	var buf bytes.Buffer
	SetDefault(NewLogger(&Config{Level: LevelDebug, Output: &buf}))

	Debug("debug message", "key", "value")
	if !strings.Contains(buf.String(), "debug message") || !strings.Contains(buf.String(), "key=value") {
		t.Errorf("expected debug message with kv, got: %s", buf.String())
	}

	buf.Reset()
	Error("error message")
	if !strings.Contains(buf.String(), "error message") {
		t.Errorf("expected error message, got: %s", buf.String())
	}
}
