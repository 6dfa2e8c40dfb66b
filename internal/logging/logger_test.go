package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCallLoggerWritesJSONLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calls.log")
	l := &CallLogger{enabled: true}
	if err := l.SetOutput(path); err != nil {
		t.Fatalf("SetOutput: %v", err)
	}
	defer l.Close()

	l.Log(&CallLog{CorrelationID: 1, Method: "add", Success: true, DurationMs: 5})

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), `"method":"add"`) {
		t.Fatalf("log file missing method field: %s", data)
	}
}

func TestCallLoggerDisabledWritesNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calls.log")
	l := &CallLogger{enabled: false}
	if err := l.SetOutput(path); err != nil {
		t.Fatalf("SetOutput: %v", err)
	}
	defer l.Close()

	l.Log(&CallLog{CorrelationID: 1, Method: "add"})

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(data) != 0 {
		t.Fatalf("expected no output, got %s", data)
	}
}
