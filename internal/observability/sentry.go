// Package observability holds the process-wide metrics, error reporting and
// tracing setup shared by the binaries.
package observability

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"
)

// FlushTimeout bounds how long shutdown waits for buffered events.
const FlushTimeout = 2 * time.Second

// SentryConfig configures error reporting.
type SentryConfig struct {
	DSN         string
	Environment string
	Release     string
	ServerName  string
}

// InitSentry configures the global Sentry hub. An empty DSN leaves error
// reporting disabled.
func InitSentry(cfg SentryConfig, logger *slog.Logger) error {
	if cfg.DSN == "" {
		logger.Warn("sentry DSN not configured, error reporting disabled")
		return nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
		Release:     cfg.Release,
		ServerName:  cfg.ServerName,
		BeforeSend:  scrub,
	})
	if err != nil {
		return fmt.Errorf("sentry init: %w", err)
	}
	logger.Info("sentry initialized", "environment", cfg.Environment)
	return nil
}

// scrub drops credentials from captured requests.
func scrub(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
	if event.Request != nil && event.Request.Headers != nil {
		delete(event.Request.Headers, "Authorization")
		delete(event.Request.Headers, "Cookie")
	}
	return event
}

// Flush waits up to timeout for buffered events to be sent.
func Flush(timeout time.Duration) bool {
	return sentry.Flush(timeout)
}

// Recover reports a panic to Sentry and re-panics. Use as a deferred call at
// the top of long-running goroutines.
func Recover() {
	if r := recover(); r != nil {
		err, ok := r.(error)
		if !ok {
			err = fmt.Errorf("panic: %v", r)
		}
		sentry.CaptureException(err)
		sentry.Flush(FlushTimeout)
		panic(r)
	}
}
