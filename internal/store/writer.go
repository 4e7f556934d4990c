package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Default retry policy of the Writer.
const (
	DefaultMaxRetries   = 5
	DefaultInitialDelay = 500 * time.Millisecond
	DefaultMaxDelay     = 30 * time.Second
)

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithRetryPolicy overrides the retry budget and delays.
func WithRetryPolicy(maxRetries int, initialDelay, maxDelay time.Duration) WriterOption {
	return func(w *Writer) {
		w.maxRetries = maxRetries
		w.initialDelay = initialDelay
		w.maxDelay = maxDelay
	}
}

// WithWriterLogger sets the logger used to report retries.
func WithWriterLogger(logger *slog.Logger) WriterOption {
	return func(w *Writer) {
		w.logger = logger
	}
}

// Writer performs single store writes with bounded exponential backoff.
// A write that hits ErrAlreadyExists counts as applied.
type Writer struct {
	store        Store
	maxRetries   int
	initialDelay time.Duration
	maxDelay     time.Duration
	logger       *slog.Logger
}

// NewWriter constructs a Writer over s.
func NewWriter(s Store, opts ...WriterOption) *Writer {
	w := &Writer{
		store:        s,
		maxRetries:   DefaultMaxRetries,
		initialDelay: DefaultInitialDelay,
		maxDelay:     DefaultMaxDelay,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.maxRetries < 0 {
		w.maxRetries = 0
	}
	return w
}

// Do runs op until it succeeds, fails with a non-retryable error or the retry
// budget is spent. The delay doubles after every retry up to the max delay.
func (w *Writer) Do(ctx context.Context, op func(context.Context) error) error {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     w.initialDelay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         w.maxDelay,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()

	attempts := 0
	err := backoff.RetryNotify(func() error {
		attempts++
		err := op(ctx)
		switch {
		case err == nil, errors.Is(err, ErrAlreadyExists):
			return nil
		case IsRetryable(err):
			return err
		default:
			return backoff.Permanent(err)
		}
	}, backoff.WithContext(backoff.WithMaxRetries(b, uint64(w.maxRetries)), ctx), func(err error, next time.Duration) {
		writeRetryCounter.Inc()
		w.logger.Warn("store write failed, retrying", "attempt", attempts, "next_delay", next, "error", err)
	})
	if err == nil {
		return nil
	}

	writeFailureCounter.Inc()
	if IsRetryable(err) {
		return fmt.Errorf("store write gave up after %d attempts: %w", attempts, err)
	}
	return err
}

// Upsert writes doc through Do.
func (w *Writer) Upsert(ctx context.Context, collection string, doc Document) error {
	return w.Do(ctx, func(ctx context.Context) error {
		return w.store.Upsert(ctx, collection, doc)
	})
}

// Create inserts doc through Do. An existing document is left untouched.
func (w *Writer) Create(ctx context.Context, collection string, doc Document) error {
	return w.Do(ctx, func(ctx context.Context) error {
		return w.store.Create(ctx, collection, doc)
	})
}

// Patch updates top-level fields through Do.
func (w *Writer) Patch(ctx context.Context, collection, id, userID string, fields map[string]any) error {
	return w.Do(ctx, func(ctx context.Context) error {
		return w.store.Patch(ctx, collection, id, userID, fields)
	})
}
