package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation parameters for console and install logs.
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// Config describes log destinations for a managed server.
// ConsoleWriter produces Dir/<id>/console.log and InstallWriter
// produces Dir/<id>/install.log. Rotation follows lumberjack semantics.
type Config struct {
	Dir        string `mapstructure:"dir"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// ConsoleWriter returns a rotating writer for a server's console output.
// Returns nil when no log directory is configured.
func (c Config) ConsoleWriter(id string) io.WriteCloser {
	return c.writer(id, "console.log")
}

// InstallWriter returns a rotating writer for a server's install pipeline log.
func (c Config) InstallWriter(id string) io.WriteCloser {
	return c.writer(id, "install.log")
}

func (c Config) writer(id, name string) io.WriteCloser {
	if c.Dir == "" {
		return nil
	}
	dir := filepath.Join(c.Dir, id)
	_ = os.MkdirAll(dir, 0o750)
	return &lj.Logger{
		Filename:   filepath.Join(dir, name),
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}
}

func valOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Setup installs the process-wide slog default with colored console output.
func Setup(level string) error {
	var lvl slog.Level
	switch level {
	case "", "info":
		lvl = slog.LevelInfo
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return fmt.Errorf("unknown log level %q", level)
	}
	h := newConsoleHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(h))
	return nil
}
