// Package logging provides structured logging configuration using log/slog.
//
// This package integrates with chi's RequestID middleware to propagate
// request IDs through structured log entries, enabling request tracing
// across the entire request lifecycle.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/natefinch/lumberjack"

	"github.com/JonMunkholm/salesingest/internal/core"
)

// Options controls the global logger.
type Options struct {
	// Level values: "debug", "info", "warn", "error" (default: "info")
	Level string
	// Format values: "text", "json" (default: "text")
	Format string

	// File, when set, receives a copy of every entry and is rotated by size.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int

	// Output replaces stdout; used by tests.
	Output io.Writer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// NewHandler builds the slog handler described by opts. The returned closer
// releases the log file, if any.
func NewHandler(opts Options) (slog.Handler, io.Closer) {
	var out io.Writer = os.Stdout
	if opts.Output != nil {
		out = opts.Output
	}

	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		file := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   true,
		}
		out = io.MultiWriter(out, file)
		closer = file
	}

	hopts := &slog.HandlerOptions{Level: parseLevel(opts.Level)}
	if strings.ToLower(opts.Format) == "json" {
		return slog.NewJSONHandler(out, hopts), closer
	}
	return slog.NewTextHandler(out, hopts), closer
}

// Setup configures the global slog logger.
//
// Use "json" format in production for machine parsing (ELK, CloudWatch, etc.)
// Use "text" format in development for human readability.
func Setup(opts Options) io.Closer {
	handler, closer := NewHandler(opts)
	slog.SetDefault(slog.New(handler))
	return closer
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// FromContext returns a logger enriched with request context.
//
// When called with a request context that contains a chi RequestID,
// the returned logger includes request_id in all log entries. The caller
// identity is added as tenant_id and reseller_id when present.
//
// Usage:
//
//	func handleRequest(w http.ResponseWriter, r *http.Request) {
//	    logger := logging.FromContext(r.Context())
//	    logger.Info("batch submitted", "batch_id", id)
//	}
func FromContext(ctx context.Context) *slog.Logger {
	logger := slog.Default()

	// Chi's RequestID middleware stores the ID in context
	if reqID := middleware.GetReqID(ctx); reqID != "" {
		logger = logger.With("request_id", reqID)
	}
	if id, ok := core.IdentityFromContext(ctx); ok {
		logger = logger.With("tenant_id", id.TenantID)
		if id.ResellerID != "" {
			logger = logger.With("reseller_id", id.ResellerID)
		}
	}

	return logger
}

// WithFields returns a logger with additional structured fields.
//
// Usage:
//
//	log := logging.WithFields(ctx, "batch_id", id, "format", format)
//	log.Info("preview built")
func WithFields(ctx context.Context, args ...any) *slog.Logger {
	return FromContext(ctx).With(args...)
}
