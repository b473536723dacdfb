// Package logger provides leveled logging with support for debug, info, warn, and error
// levels. It wraps log/slog to provide level-based filtering with either text or JSON
// output, selected at startup from configuration.
package logger

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

var defaultLogger *slog.Logger

// Init initializes the default logger with the specified level and format.
// Level is one of debug/info/warn/error; format is one of text/json.
func Init(level string, format string) {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "info":
		l = slog.LevelInfo
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: l}
	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	defaultLogger = slog.New(handler)
}

// Debug logs a formatted message at DebugLevel
func Debug(format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Debug(fmt.Sprintf(format, args...))
	}
}

// Info logs a formatted message at InfoLevel
func Info(format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Info(fmt.Sprintf(format, args...))
	}
}

// Warn logs a formatted message at WarnLevel
func Warn(format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Warn(fmt.Sprintf(format, args...))
	}
}

// Error logs a formatted message at ErrorLevel
func Error(format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Error(fmt.Sprintf(format, args...))
	}
}

// Fatal logs a formatted message at ErrorLevel and exits
func Fatal(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if defaultLogger != nil {
		defaultLogger.Error(msg)
	} else {
		fmt.Fprintln(os.Stderr, msg)
	}
	os.Exit(1)
}
