package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// CallLog represents a single RPC call's outcome, parent-side.
type CallLog struct {
	Timestamp     time.Time `json:"timestamp"`
	InstanceID    string    `json:"instance_id,omitempty"`
	CorrelationID uint64    `json:"correlation_id"`
	TraceID       string    `json:"trace_id,omitempty"`
	SpanID        string    `json:"span_id,omitempty"`
	Method        string    `json:"method"`
	DurationMs    int64     `json:"duration_ms"`
	Success       bool      `json:"success"`
	Error         string    `json:"error,omitempty"`
	Attempts      int       `json:"attempts,omitempty"`
	Retries       int       `json:"retries,omitempty"`
}

// CallLogger handles per-call logging, separate from the operational
// logger in slog.go/structured.go.
type CallLogger struct {
	mu      sync.Mutex
	enabled bool
	file    *os.File
	console bool
}

var defaultCallLogger = &CallLogger{enabled: true, console: true}

// Default returns the default call logger.
func Default() *CallLogger {
	return defaultCallLogger
}

// SetOutput sets the log output file.
func (l *CallLogger) SetOutput(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		l.file.Close()
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	l.file = f
	return nil
}

// SetConsole enables/disables console output.
func (l *CallLogger) SetConsole(enabled bool) {
	l.mu.Lock()
	l.console = enabled
	l.mu.Unlock()
}

// Log writes a call log entry.
func (l *CallLogger) Log(entry *CallLog) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled {
		return
	}

	entry.Timestamp = time.Now()

	if l.console {
		status := "✓"
		if !entry.Success {
			status = "✗"
		}
		retry := ""
		if entry.Retries > 0 {
			retry = fmt.Sprintf(" [retry:%d]", entry.Retries)
		}
		instance := ""
		if entry.InstanceID != "" {
			instance = " instance=" + entry.InstanceID
		}
		fmt.Printf("[call] %s id=%d%s %s %dms%s\n",
			status, entry.CorrelationID, instance, entry.Method, entry.DurationMs, retry)
		if entry.Error != "" {
			fmt.Printf("[call]   error: %s\n", entry.Error)
		}
	}

	if l.file != nil {
		data, _ := json.Marshal(entry)
		l.file.Write(append(data, '\n'))
	}
}

// Close closes the log file.
func (l *CallLogger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}
