package logging

import (
	"log/slog"
	"os"
)

// Logger is a thin wrapper around slog with the key-value call style used
// throughout the service.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger writing structured text to stdout.
func NewLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.NewTextHandler(os.Stdout, nil)),
	}
}

// NewLoggerWithLevel creates a Logger with an explicit minimum level
// ("debug", "warn", "error"; anything else means info).
func NewLoggerWithLevel(level string) *Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return &Logger{
		Logger: slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: l})),
	}
}

// With returns a Logger carrying the given attributes on every record.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}
