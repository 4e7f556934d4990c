// Package logging builds the JSON slog loggers used by every binary. Keys
// follow Cloud Logging conventions: "message" and "severity".
package logging

import (
	"context"
	"io"
	"log/slog"
	"strings"
)

// ComponentKey names the attribute that tags log lines with a pipeline stage.
const ComponentKey = "component"

// ParseLevel maps LOG_LEVEL values onto slog levels, defaulting to info.
func ParseLevel(value string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
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

// HandlerOptions renames the message and level keys for Cloud Logging.
func HandlerOptions(level slog.Level) *slog.HandlerOptions {
	return &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) > 0 {
				return a
			}
			switch a.Key {
			case slog.MessageKey:
				return slog.Attr{Key: "message", Value: a.Value}
			case slog.LevelKey:
				return slog.Attr{Key: "severity", Value: a.Value}
			}
			return a
		},
	}
}

// New returns a JSON logger writing to w and tagged with the service name.
func New(w io.Writer, service, level string) *slog.Logger {
	handler := slog.NewJSONHandler(w, HandlerOptions(ParseLevel(level)))
	return slog.New(&componentHandler{Handler: handler}).With("service", service)
}

// Component returns a logger whose messages are prefixed with [name].
func Component(logger *slog.Logger, name string) *slog.Logger {
	return logger.With(ComponentKey, name)
}

// componentHandler prefixes messages with the component attribute so stages
// are easy to tell apart in the log viewer's summary line.
type componentHandler struct {
	slog.Handler
	component string
}

func (h *componentHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	component := h.component
	for _, a := range attrs {
		if a.Key == ComponentKey {
			component = a.Value.String()
		}
	}
	return &componentHandler{Handler: h.Handler.WithAttrs(attrs), component: component}
}

func (h *componentHandler) WithGroup(name string) slog.Handler {
	return &componentHandler{Handler: h.Handler.WithGroup(name), component: h.component}
}

func (h *componentHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.component == "" {
		return h.Handler.Handle(ctx, r)
	}
	prefixed := slog.NewRecord(r.Time, r.Level, "["+h.component+"] "+r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		prefixed.AddAttrs(a)
		return true
	})
	return h.Handler.Handle(ctx, prefixed)
}
