package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	charmlog "github.com/charmbracelet/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config selects the log level, output format and an optional rotating file.
type Config struct {
	// Level accepts "debug", "info", "warn", "error" (case-insensitive).
	Level string
	// Format is "text" (default), "json" or "pretty".
	Format string
	// File, when set, receives a copy of every log line.
	File string
}

// Setup creates a configured *slog.Logger, sets it as the default, and returns it.
// Unrecognized levels default to info and unrecognized formats to text.
func Setup(cfg Config) (*slog.Logger, error) {
	lvl := ParseLevel(cfg.Level)

	var w io.Writer = os.Stderr
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, err
		}
		w = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		})
	}

	logger := slog.New(newHandler(w, strings.ToLower(cfg.Format), lvl))
	slog.SetDefault(logger)
	return logger, nil
}

func newHandler(w io.Writer, format string, lvl slog.Level) slog.Handler {
	switch format {
	case "json":
		return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})
	case "pretty":
		return charmlog.NewWithOptions(w, charmlog.Options{
			ReportTimestamp: true,
			Level:           charmlog.Level(lvl),
			Prefix:          "checkin",
		})
	default:
		return slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})
	}
}

// ParseLevel maps a level name to a slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
