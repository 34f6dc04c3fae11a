// Package logging wires the core's structured logging. Every long-lived
// component takes a *slog.Logger at construction time rather than reaching
// for a package-level global, so tests can inject a discard logger and a
// hosting tool can route logs wherever it likes.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"
)

// Options configures New.
type Options struct {
	// Level is the minimum level that reaches any handler.
	Level slog.Level
	// Color enables ANSI coloring of the human-readable handler. Disable
	// for non-terminal output (files, CI logs).
	Color bool
	// JSON, if non-nil, receives a second structured JSON stream alongside
	// the human-readable one. Typically a file opened for offline ingestion.
	JSON io.Writer
}

// New builds a logger that fans out through slog-multi: a colorized
// human-readable handler on stderr, and optionally a JSON handler for
// offline ingestion. Mirrors the teacher's previously-unwired slog-multi
// dependency, now actually exercised.
func New(opts Options) *slog.Logger {
	handlers := []slog.Handler{
		newColorHandler(os.Stderr, opts.Level, opts.Color),
	}

	if opts.JSON != nil {
		handlers = append(handlers, slog.NewJSONHandler(opts.JSON, &slog.HandlerOptions{
			Level: opts.Level,
		}))
	}

	return slog.New(slogmulti.Fanout(handlers...))
}

// Discard returns a logger that drops everything, for tests and callers
// that don't want core diagnostics.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// contextKey namespaces values this package stores in a context.Context.
type contextKey struct{}

// WithLogger attaches a logger to ctx, for operations that thread a logger
// implicitly through a call chain (e.g. runtime callbacks that don't carry
// one of their own).
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext retrieves a logger attached with WithLogger, or Discard() if
// none was attached.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(contextKey{}).(*slog.Logger); ok {
		return l
	}
	return Discard()
}
