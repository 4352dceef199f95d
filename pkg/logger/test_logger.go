package logger

import (
	"sync"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

// TestLogger extends Logger with log capture for testing
type TestLogger struct {
	*Logger
	observed *observer.ObservedLogs
	mu       sync.Mutex
}

// NewTestLogger returns a debug-level logger that writes to t.Log and
// records every message.
func NewTestLogger(t *testing.T) *TestLogger {
	core, observed := observer.New(zapcore.DebugLevel)
	tee := zapcore.NewTee(zaptest.NewLogger(t).Core(), core)
	return &TestLogger{
		Logger:   &Logger{Logger: zap.New(tee).Named(LoggerName)},
		observed: observed,
	}
}

// InstallTestLogger makes a TestLogger the global logger for the duration
// of the test.
func InstallTestLogger(t *testing.T) *TestLogger {
	tl := NewTestLogger(t)
	loggerMutex.RLock()
	prev := globalLogger
	loggerMutex.RUnlock()
	SetGlobalLogger(tl.Logger)
	t.Cleanup(func() {
		SetGlobalLogger(&Logger{Logger: prev})
	})
	return tl
}

// GetLogs returns captured messages in order.
func (tl *TestLogger) GetLogs() []string {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	entries := tl.observed.All()
	logs := make([]string, 0, len(entries))
	for _, e := range entries {
		logs = append(logs, e.Message)
	}
	return logs
}

// Entries returns the captured entries with their fields.
func (tl *TestLogger) Entries() []observer.LoggedEntry {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	return tl.observed.All()
}

// PrintLogs prints all captured logs to the test output
func (tl *TestLogger) PrintLogs(t *testing.T) {
	t.Log("Captured logs:")
	for i, log := range tl.GetLogs() {
		if log != "" {
			t.Logf("[%d] %s", i, log)
		}
	}
}
