package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// ParseLevel maps "debug", "info", "warn", "error" to a slog level.
// Unknown values map to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// New returns a structured logger with the given level and format writing to w.
// level: "debug", "info", "warn", "error" (default "info").
// format: "json" or "text" (default "json").
// A nil w writes to stderr.
func New(level, format string, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var h slog.Handler
	if strings.ToLower(format) == "text" {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}

	return slog.New(h)
}

// Open returns a logger writing into path, or into stderr when path is empty.
// With quiet set only errors are logged. The returned closer releases the log file.
func Open(path, level, format string, quiet bool) (*slog.Logger, io.Closer, error) {
	if quiet {
		level = "error"
	}

	if path == "" {
		return New(level, format, os.Stderr), io.NopCloser(nil), nil
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}

	return New(level, format, f), f, nil
}
