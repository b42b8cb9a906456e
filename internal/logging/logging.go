// Package logging builds the slog loggers used by the bridge and the CLI.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/pkg/errors"
)

type Option func(*options)

type options struct {
	writer    io.Writer
	addSource bool
}

// WithWriter sends log output to w instead of stderr.
func WithWriter(w io.Writer) Option {
	return func(o *options) {
		o.writer = w
	}
}

// WithSource adds file:line to every record.
func WithSource() Option {
	return func(o *options) {
		o.addSource = true
	}
}

// New returns a logger writing records at or above level in the given
// format, "text" or "json".
func New(level, format string, opts ...Option) (*slog.Logger, error) {
	cfg := options{writer: os.Stderr}
	for _, opt := range opts {
		opt(&cfg)
	}

	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	handlerOptions := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: cfg.addSource,
	}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "", "text":
		handler = slog.NewTextHandler(cfg.writer, handlerOptions)
	case "json":
		handler = slog.NewJSONHandler(cfg.writer, handlerOptions)
	default:
		return nil, errors.Errorf("unknown log format %q", format)
	}

	return slog.New(handler), nil
}

// ParseLevel accepts debug, info, warn(ing) and error in any case. An empty
// level is info.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, errors.Errorf("unknown log level %q", level)
	}
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// Err is the attribute every package logs errors under.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}
