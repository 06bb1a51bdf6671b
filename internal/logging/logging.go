// Package logging builds the process slog.Logger and carries request-scoped loggers in a context.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"pulseboard/internal/config"
)

type ctxKey struct{}

// New returns a logger writing json (the default) or text records at level.
func New(w io.Writer, format string, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if strings.EqualFold(format, "text") {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	return slog.New(h)
}

// Setup builds the logger for a command from cfg, tags it with the service and env, and installs it as slog's default.
func Setup(cfg *config.Config, service string) *slog.Logger {
	logger := New(os.Stderr, cfg.LogFormat, cfg.SlogLevel()).With("service", service)
	if cfg.Env != "" {
		logger = logger.With("env", cfg.Env)
	}
	slog.SetDefault(logger)
	return logger
}

// WithLogger stores l in ctx.
func WithLogger(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger stored by WithLogger, or slog.Default.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}
