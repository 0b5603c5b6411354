// Package logging configures the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

var logLevel = new(slog.LevelVar)

// ParseLevel maps DEBUG, INFO, WARN and ERROR (any case) to a slog level.
// Anything else is Info.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New builds a logger writing to w. format is "json" or "text".
func New(w io.Writer, level, format string) *slog.Logger {
	logLevel.Set(ParseLevel(level))
	opts := &slog.HandlerOptions{Level: logLevel}
	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// Configure installs a stderr logger as the slog default and returns it.
func Configure(level, format string) *slog.Logger {
	logger := New(os.Stderr, level, format)
	slog.SetDefault(logger)
	return logger
}

// SetLevel changes the level of loggers built by this package.
func SetLevel(level slog.Level) {
	logLevel.Set(level)
}
