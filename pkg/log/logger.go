// Package log provides structured logging utilities for the GMP mining proxy.
// It wraps the standard library's slog package with additional convenience methods.
package log

import (
	"log/slog"
	"os"
	"strings"
)

// Logger wraps slog.Logger with additional context and convenience methods
type Logger struct {
	*slog.Logger
	service string
	version string
}

// New creates a new logger with the specified configuration
func New(service, version, level, format string) *Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn", "warning":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: logLevel == slog.LevelDebug,
	}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	baseLogger := slog.New(handler).With(
		"service", service,
		"version", version,
	)

	return &Logger{
		Logger:  baseLogger,
		service: service,
		version: version,
	}
}

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields ...any) *Logger {
	return &Logger{
		Logger:  l.With(fields...),
		service: l.service,
		version: l.version,
	}
}

// WithComponent returns a logger with a component field
func (l *Logger) WithComponent(component string) *Logger {
	return l.WithFields("component", component)
}

// WithMiner returns a logger with miner-specific fields
func (l *Logger) WithMiner(minerID string) *Logger {
	return l.WithFields("miner_id", minerID)
}

// WithWork returns a logger with work-item fields
func (l *Logger) WithWork(workID string, dispatchCount int) *Logger {
	return l.WithFields("work_id", workID, "dispatch_count", dispatchCount)
}

// WithError returns a logger with error context
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.WithFields("error", err.Error())
}

// LogDispatch logs a successful work dispatch
func (l *Logger) LogDispatch(workID, minerID string, dispatchCount int, fee float64) {
	l.Info("work dispatched",
		"work_id", workID,
		"miner_id", minerID,
		"dispatch_count", dispatchCount,
		"fee", fee,
	)
}

// LogSubmission logs a solution submission and its outcome
func (l *Logger) LogSubmission(workID, minerID, outcome string) {
	l.Info("solution submitted",
		"work_id", workID,
		"miner_id", minerID,
		"outcome", outcome,
	)
}

// LogDecline logs a declined work request (debug level, declines are frequent)
func (l *Logger) LogDecline(minerID, reason string) {
	l.Debug("work request declined",
		"miner_id", minerID,
		"reason", reason,
	)
}
