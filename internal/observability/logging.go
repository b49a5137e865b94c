// Package observability provides structured logging and metrics for the
// pr-copilot agent.
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// LogConfig configures the logging behavior.
type LogConfig struct {
	// Level sets the minimum log level: "debug", "info", "warn", "error".
	Level string

	// Format specifies output format: "json" or "text". JSON is recommended
	// for production; text for development.
	Format string

	// Output is the writer for log output (defaults to os.Stderr so that
	// stdout stays clean for the chat REPL and the MCP stdio framing).
	Output io.Writer

	// RedactPatterns are additional regex patterns for sensitive data
	// redaction on top of the defaults.
	RedactPatterns []string
}

// DefaultRedactPatterns covers common secrets that must never reach logs:
// API keys, bearer tokens, and connection-string passwords.
var DefaultRedactPatterns = []string{
	`(?i)(api[_-]?key|apikey)[\s:=]+["']?([a-zA-Z0-9_\-]{16,})["']?`,
	`(?i)(bearer|token)[\s:]+([a-zA-Z0-9_\-\.]{16,})`,
	`(?i)(password|passwd|pwd)=([^\s"']+)`,
}

// NewLogger builds a slog.Logger from the config and installs it as the
// process default.
func NewLogger(cfg LogConfig) *slog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	level := parseLevel(cfg.Level)
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	redacts := compileRedactPatterns(append(append([]string{}, DefaultRedactPatterns...), cfg.RedactPatterns...))
	logger := slog.New(&redactingHandler{inner: handler, redacts: redacts})
	slog.SetDefault(logger)
	return logger
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

func compileRedactPatterns(patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			// A broken user pattern should not take logging down.
			continue
		}
		out = append(out, re)
	}
	return out
}

// redactingHandler rewrites string attribute values through the redaction
// patterns before delegating to the wrapped handler.
type redactingHandler struct {
	inner   slog.Handler
	redacts []*regexp.Regexp
}

func (h *redactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *redactingHandler) Handle(ctx context.Context, record slog.Record) error {
	clean := slog.NewRecord(record.Time, record.Level, h.redact(record.Message), record.PC)
	record.Attrs(func(attr slog.Attr) bool {
		if attr.Value.Kind() == slog.KindString {
			attr.Value = slog.StringValue(h.redact(attr.Value.String()))
		}
		clean.AddAttrs(attr)
		return true
	})
	return h.inner.Handle(ctx, clean)
}

func (h *redactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &redactingHandler{inner: h.inner.WithAttrs(attrs), redacts: h.redacts}
}

func (h *redactingHandler) WithGroup(name string) slog.Handler {
	return &redactingHandler{inner: h.inner.WithGroup(name), redacts: h.redacts}
}

func (h *redactingHandler) redact(s string) string {
	for _, re := range h.redacts {
		s = re.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}
