// Package logging installs the process-wide slog handler.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation limits for the log file.
const (
	MaxSizeMB  = 10
	MaxBackups = 5
	MaxAgeDays = 30
)

// Options selects the handler.
type Options struct {
	Level  string // debug, info, warn or error
	Format string // json or text
	File   string // empty logs to Stderr
}

// ParseLevel maps a level name to a slog.Level.
// PRE: none
// POST: Returns an error for unknown names; the empty string is info
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", name)
}

// NewHandler builds a handler writing to w.
func NewHandler(w io.Writer, opts Options) (slog.Handler, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	ho := &slog.HandlerOptions{Level: level}
	switch opts.Format {
	case "json":
		return slog.NewJSONHandler(w, ho), nil
	case "", "text":
		return slog.NewTextHandler(w, ho), nil
	}
	return nil, fmt.Errorf("unknown log format %q", opts.Format)
}

// Setup installs the default logger and returns a func that flushes and
// closes the log file, if any.
// PRE: none
// POST: slog.Default writes to the configured destination
func Setup(opts Options) (closeFn func() error, err error) {
	var w io.Writer = os.Stderr
	closeFn = func() error { return nil }
	if opts.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    MaxSizeMB,
			MaxBackups: MaxBackups,
			MaxAge:     MaxAgeDays,
			Compress:   true,
		}
		w = rotator
		closeFn = rotator.Close
	}

	h, err := NewHandler(w, opts)
	if err != nil {
		closeFn()
		return nil, err
	}
	slog.SetDefault(slog.New(h))
	return closeFn, nil
}
