// Package logging configures structured slog output for sopfusion.
//
// The CLI logs to stderr by default. With --debug, or when serving MCP over
// stdio, logs go to a size-rotated JSON file under ~/.sopfusion/logs/.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Config contains logging configuration.
type Config struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string
	// FilePath is the path to the log file. Empty means stderr only.
	FilePath string
	// MaxSizeMB is the maximum size in MB before rotation (default: 10).
	MaxSizeMB int
	// MaxFiles is the maximum number of rotated files to keep (default: 5).
	MaxFiles int
	// WriteToStderr also mirrors records to stderr.
	WriteToStderr bool
}

// DefaultConfig returns defaults for file logging.
func DefaultConfig() Config {
	return Config{
		Level:         "info",
		FilePath:      DefaultLogPath(),
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: true,
	}
}

// DebugConfig returns configuration for --debug runs.
func DebugConfig() Config {
	cfg := DefaultConfig()
	cfg.Level = "debug"
	return cfg
}

// StdioServerConfig returns a file-only configuration. Stdout carries JSON-RPC
// in MCP stdio mode and stderr is often captured by the client, so neither may
// receive log records.
func StdioServerConfig(level string) Config {
	cfg := DefaultConfig()
	cfg.Level = level
	cfg.WriteToStderr = false
	return cfg
}

// Setup builds a JSON logger from cfg and returns it with a cleanup function
// that flushes and closes the log file.
func Setup(cfg Config) (*slog.Logger, func(), error) {
	level := parseLevel(cfg.Level)

	if cfg.FilePath == "" {
		handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
		return slog.New(handler), func() {}, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	writer, err := NewRotatingWriter(cfg.FilePath, cfg.MaxSizeMB, cfg.MaxFiles)
	if err != nil {
		return nil, nil, err
	}

	var output io.Writer = writer
	if cfg.WriteToStderr {
		output = io.MultiWriter(writer, os.Stderr)
	}

	handler := slog.NewJSONHandler(output, &slog.HandlerOptions{
		Level: level,
	})

	cleanup := func() {
		_ = writer.Sync()
		_ = writer.Close()
	}

	return slog.New(handler), cleanup, nil
}

// SetupDefault installs a logger built from cfg as the slog default.
func SetupDefault(cfg Config) (func(), error) {
	logger, cleanup, err := Setup(cfg)
	if err != nil {
		return nil, err
	}

	slog.SetDefault(logger)
	logger.Debug("logging initialized",
		slog.String("log_file", cfg.FilePath),
		slog.String("level", cfg.Level),
		slog.Bool("stderr", cfg.WriteToStderr))

	return cleanup, nil
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// parseLevel converts string level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LevelFromString converts a config level name to slog.Level.
func LevelFromString(level string) slog.Level {
	return parseLevel(level)
}
