package logger

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation parameters for captured worker output.
const (
	DefaultMaxSizeMB  = 10
	DefaultMaxBackups = 3
	DefaultMaxAgeDays = 7
)

// Config describes log destinations. The supervisor itself logs to the
// console through slog; the media worker's stderr (native runtime debug
// output) is captured to a rotated file when Dir or WorkerPath is set.
// Rotation parameters follow lumberjack semantics.
type Config struct {
	Level      string `json:"level" mapstructure:"level"`
	NoColor    bool   `json:"no_color" mapstructure:"no_color"`
	Dir        string `json:"dir" mapstructure:"dir"`
	WorkerPath string `json:"worker_path" mapstructure:"worker_path"`
	MaxSizeMB  int    `json:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `json:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `json:"compress" mapstructure:"compress"`
}

// New builds the application logger.
func New(c Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(c.Level)}
	if c.NoColor {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(NewColorTextHandler(os.Stderr, opts, true))
}

// WorkerWriter returns the rotated writer that captures the media worker's
// stderr, or nil when capture is not configured.
func (c Config) WorkerWriter() io.WriteCloser {
	path := c.WorkerPath
	if path == "" && c.Dir != "" {
		path = filepath.Join(c.Dir, "worker.stderr.log")
	}
	if path == "" {
		return nil
	}
	return &lj.Logger{
		Filename:   path,
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
