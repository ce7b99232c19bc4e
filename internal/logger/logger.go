// Package logger holds the process-wide structured logger.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Log is the global logger. It discards output until Init is called so
// library code and tests stay quiet.
var Log = slog.New(slog.NewTextHandler(io.Discard, nil))

// Init configures Log. level is one of debug, info, warn, error; sink is
// "stderr" (default), "stdout" or "file:/path". Empty values fall back to
// MURMUR_LOG_LEVEL and MURMUR_LOG_SINK.
func Init(level, sink string) {
	if strings.TrimSpace(level) == "" {
		level = os.Getenv("MURMUR_LOG_LEVEL")
	}
	if strings.TrimSpace(sink) == "" {
		sink = os.Getenv("MURMUR_LOG_SINK")
	}
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var out io.Writer = os.Stderr
	switch {
	case sink == "stdout":
		out = os.Stdout
	case strings.HasPrefix(sink, "file:"):
		path := strings.TrimPrefix(sink, "file:")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file %s: %v\n", path, err)
			break
		}
		out = f
	}
	Log = slog.New(slog.NewTextHandler(out, opts))
}

// SetOutput points Log at w; used by the TUI, which owns the terminal.
func SetOutput(w io.Writer, level string) {
	Log = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)}))
}

// ParseLevel maps a level name to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func Debug(msg string, args ...any) { Log.Debug(msg, args...) }
func Info(msg string, args ...any)  { Log.Info(msg, args...) }
func Warn(msg string, args ...any)  { Log.Warn(msg, args...) }
func Error(msg string, args ...any) { Log.Error(msg, args...) }
