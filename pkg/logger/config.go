package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects where log entries go. Console output is written to
// stderr so a passthrough command keeps a clean stdout.
type Config struct {
	Level         string
	FilePath      string
	Format        string // console or json, file output only
	EnableConsole bool

	ConsoleWriter io.Writer
}

// ParseLevel accepts zap level names and falls back to info.
func ParseLevel(level string) zapcore.Level {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

// Initialize replaces the global logger.
func Initialize(config Config) error {
	level := ParseLevel(config.Level)

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "time"
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	var cores []zapcore.Core

	if config.EnableConsole {
		consoleConfig := encoderConfig
		consoleConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		consoleConfig.EncodeCaller = nil
		consoleConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(t.Format("15:04:05"))
		}
		var w io.Writer = os.Stderr
		if config.ConsoleWriter != nil {
			w = config.ConsoleWriter
		}
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(consoleConfig),
			zapcore.AddSync(w),
			level,
		))
	}

	if config.FilePath != "" {
		file, err := os.OpenFile(config.FilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, LogFilePermissions)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		fileConfig := encoderConfig
		fileConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder := zapcore.NewConsoleEncoder(fileConfig)
		if config.Format == "json" {
			encoder = zapcore.NewJSONEncoder(fileConfig)
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(file), level))
	}

	var core zapcore.Core = zapcore.NewNopCore()
	if len(cores) > 0 {
		core = zapcore.NewTee(cores...)
	}
	SetGlobalLogger(&Logger{Logger: zap.New(core, zap.AddCaller(), zap.AddCallerSkip(2)).Named(LoggerName)})
	return nil
}
