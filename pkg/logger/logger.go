// Package logger is the process-wide zap logger. Code logs through Get()
// or FromContext(ctx); tests swap the global with InstallTestLogger.
package logger

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	LoggerName         = "sftpbox"
	DefaultLevel       = "info"
	LogFilePermissions = 0600
)

var (
	globalLogger *zap.Logger
	loggerMutex  sync.RWMutex
)

// Logger adds printf helpers on top of zap.
type Logger struct {
	*zap.Logger
}

func (l *Logger) log(level zapcore.Level, msg string, fields ...zap.Field) {
	if l == nil || l.Logger == nil {
		return
	}
	if ce := l.Logger.Check(level, msg); ce != nil {
		ce.Write(fields...)
	}
}

func (l *Logger) Debug(msg string, fields ...zap.Field) { l.log(zapcore.DebugLevel, msg, fields...) }
func (l *Logger) Info(msg string, fields ...zap.Field)  { l.log(zapcore.InfoLevel, msg, fields...) }
func (l *Logger) Warn(msg string, fields ...zap.Field)  { l.log(zapcore.WarnLevel, msg, fields...) }
func (l *Logger) Error(msg string, fields ...zap.Field) { l.log(zapcore.ErrorLevel, msg, fields...) }

func (l *Logger) Debugf(format string, args ...interface{}) {
	l.Debug(fmt.Sprintf(format, args...))
}

func (l *Logger) Infof(format string, args ...interface{}) {
	l.Info(fmt.Sprintf(format, args...))
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	l.Warn(fmt.Sprintf(format, args...))
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.Error(fmt.Sprintf(format, args...))
}

// With returns a child logger carrying fields on every entry.
func (l *Logger) With(fields ...zap.Field) *Logger {
	if l == nil || l.Logger == nil {
		return l
	}
	return &Logger{Logger: l.Logger.With(fields...)}
}

// Get returns the global logger. Before Initialize has run it is a
// console logger on stderr at info level.
func Get() *Logger {
	loggerMutex.RLock()
	l := globalLogger
	loggerMutex.RUnlock()
	if l != nil {
		return &Logger{Logger: l}
	}

	if err := Initialize(Config{Level: DefaultLevel, EnableConsole: true}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		SetGlobalLogger(&Logger{Logger: zap.NewNop()})
	}

	loggerMutex.RLock()
	defer loggerMutex.RUnlock()
	return &Logger{Logger: globalLogger}
}

func SetGlobalLogger(l *Logger) {
	loggerMutex.Lock()
	defer loggerMutex.Unlock()
	if l == nil {
		globalLogger = nil
		return
	}
	globalLogger = l.Logger
}

// Sync flushes the global logger. Errors from syncing a terminal are
// ignored.
func Sync() {
	loggerMutex.RLock()
	l := globalLogger
	loggerMutex.RUnlock()
	if l != nil {
		_ = l.Sync()
	}
}
