// Package logger builds the process-wide slog logger.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

type config struct {
	level  slog.Level
	json   bool
	writer io.Writer
}

// Option configures a logger created with New.
type Option func(*config)

// WithLevel sets the minimum level from its name (debug, info, warn, error).
// Unknown names mean info.
func WithLevel(name string) Option {
	return func(c *config) {
		c.level = ParseLevel(name)
	}
}

// WithJSON switches to the JSON handler for service deployments.
func WithJSON(json bool) Option {
	return func(c *config) {
		c.json = json
	}
}

// WithWriter overrides the output writer. Defaults to os.Stderr.
func WithWriter(w io.Writer) Option {
	return func(c *config) {
		c.writer = w
	}
}

func New(opts ...Option) *slog.Logger {
	c := &config{level: slog.LevelInfo, writer: os.Stderr}
	for _, opt := range opts {
		opt(c)
	}
	handlerOpts := &slog.HandlerOptions{Level: c.level}
	if c.json {
		return slog.New(slog.NewJSONHandler(c.writer, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(c.writer, handlerOpts))
}

func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
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
