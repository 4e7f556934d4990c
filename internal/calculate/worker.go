// Package calculate consumes the calculation queue and stores the training-load
// metrics of enriched activities.
package calculate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/JoranSlingerland/running-backend/internal/domain"
	"github.com/JoranSlingerland/running-backend/internal/observability"
	"github.com/JoranSlingerland/running-backend/internal/queue"
	"github.com/JoranSlingerland/running-backend/internal/store"
)

var tracer = otel.Tracer("github.com/JoranSlingerland/running-backend/internal/calculate")

var (
	calculatedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "running_backend",
		Subsystem: "calculate",
		Name:      "activities_calculated_total",
		Help:      "Number of activities with stored training-load metrics.",
	})
	skippedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "running_backend",
		Subsystem: "calculate",
		Name:      "jobs_skipped_total",
		Help:      "Jobs that ended without work because a document was missing.",
	}, []string{"missing"})
)

func init() {
	prometheus.MustRegister(calculatedCounter, skippedCounter)
}

// Option configures a Worker.
type Option func(*Worker)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		w.logger = logger
	}
}

// Worker handles calculation jobs.
type Worker struct {
	store  store.Store
	writer *store.Writer
	logger *slog.Logger
}

// NewWorker constructs a Worker.
func NewWorker(s store.Store, w *store.Writer, opts ...Option) *Worker {
	worker := &Worker{store: s, writer: w, logger: slog.Default()}
	for _, opt := range opts {
		opt(worker)
	}
	return worker
}

// Handle implements queue.Handler.
func (w *Worker) Handle(ctx context.Context, msg queue.Message) error {
	job, err := queue.DecodeJob(msg.Body)
	if err != nil {
		return err
	}

	ctx, span := tracer.Start(ctx, "calculate.activity", trace.WithAttributes(
		attribute.String("activity.id", job.ActivityID),
		attribute.String("user.id", job.UserID),
	))
	defer span.End()

	if err := w.Process(ctx, job); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// Process computes and stores the metrics of one activity. A missing activity
// or stream ends the job without error; it may race ingestion.
func (w *Worker) Process(ctx context.Context, job domain.Job) error {
	var activity domain.Activity
	found, err := w.load(ctx, domain.CollectionActivities, job, &activity)
	if err != nil || !found {
		return err
	}
	var stream domain.Stream
	found, err = w.load(ctx, domain.CollectionStreams, job, &stream)
	if err != nil || !found {
		return err
	}

	var settings domain.UserSettings
	if err := w.store.Get(ctx, domain.CollectionUsers, job.UserID, "", &settings); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return queue.Permanent(fmt.Errorf("settings for user %s: %w", job.UserID, err))
		}
		return err
	}

	if err := Apply(&activity, &stream, settings); err != nil {
		return queue.Permanent(fmt.Errorf("calculate activity %s: %w", job.ActivityID, err))
	}

	if err := w.writer.Upsert(ctx, domain.CollectionActivities, store.Document{ID: activity.ID, UserID: job.UserID, Body: activity}); err != nil {
		return fmt.Errorf("store activity %s: %w", activity.ID, err)
	}
	calculatedCounter.Inc()
	observability.RecordActivityCalculated(time.Now())
	w.logger.Info("calculated activity", "activity_id", job.ActivityID, "user_id", job.UserID)
	return nil
}

func (w *Worker) load(ctx context.Context, collection string, job domain.Job, out any) (bool, error) {
	err := w.store.Get(ctx, collection, job.ActivityID, job.UserID, out)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, store.ErrNotFound):
		w.logger.Error("document not found, skipping", "collection", collection, "activity_id", job.ActivityID, "user_id", job.UserID)
		skippedCounter.WithLabelValues(collection).Inc()
		return false, nil
	default:
		return false, fmt.Errorf("load %s %s: %w", collection, job.ActivityID, err)
	}
}
