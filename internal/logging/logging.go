// Package logging builds slog loggers from configuration so that every
// component receives an explicit *slog.Logger instead of relying on the
// process-wide default.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// Log levels accepted by Config.Level.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Log output formats accepted by Config.Format.
const (
	FormatJSON = "json"
	FormatText = "text"
)

// Config holds logging settings.
type Config struct {
	Level  string `json:"level,omitempty" yaml:"level,omitempty" toml:"level"`
	Format string `json:"format,omitempty" yaml:"format,omitempty" toml:"format"`
	File   string `json:"file,omitempty" yaml:"file,omitempty" toml:"file"`
}

// DefaultConfig returns the logging defaults: info-level text output to
// stderr, no file sink.
func DefaultConfig() Config {
	return Config{Level: LevelInfo, Format: FormatText}
}

// NewFromConfig creates a logger based on cfg. When cfg.File is set the
// logger writes to both stderr and the file; the returned closer releases the
// file handle and is nil otherwise.
func NewFromConfig(cfg Config) (*slog.Logger, io.Closer, error) {
	level := parseLevel(cfg.Level)
	handler := newHandler(cfg.Format, os.Stderr, level)

	var closer io.Closer
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
			return nil, nil, err
		}
		file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, nil, err
		}
		closer = file
		handler = newHandler(cfg.Format, io.MultiWriter(os.Stderr, file), level)
	}
	return slog.New(handler), closer, nil
}

// NewDefault creates a text logger writing to stderr at info level.
func NewDefault() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// NewForTest creates a silent logger for tests.
func NewForTest() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// WithRun returns a logger with run context attached.
func WithRun(logger *slog.Logger, runID string) *slog.Logger {
	return logger.With("run_id", runID)
}

func parseLevel(level string) slog.Level {
	switch level {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newHandler(format string, w io.Writer, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	switch format {
	case FormatJSON:
		return slog.NewJSONHandler(w, opts)
	case FormatText:
		return slog.NewTextHandler(w, opts)
	default:
		return slog.NewTextHandler(w, opts)
	}
}
