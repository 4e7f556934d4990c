// Package enrich consumes the enrichment queue: it loads the full activity and
// its streams from Strava, stores both and schedules the calculation step.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/JoranSlingerland/running-backend/internal/domain"
	"github.com/JoranSlingerland/running-backend/internal/observability"
	"github.com/JoranSlingerland/running-backend/internal/queue"
	"github.com/JoranSlingerland/running-backend/internal/store"
	"github.com/JoranSlingerland/running-backend/internal/strava"
)

var tracer = otel.Tracer("github.com/JoranSlingerland/running-backend/internal/enrich")

var (
	enrichedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "running_backend",
		Subsystem: "enrich",
		Name:      "activities_enriched_total",
		Help:      "Number of activities stored with full data.",
	})
	rateLimitCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "running_backend",
		Subsystem: "enrich",
		Name:      "rate_limit_waits_total",
		Help:      "Number of times the worker waited for the Strava rate limit window.",
	})
)

func init() {
	prometheus.MustRegister(enrichedCounter, rateLimitCounter)
}

// Option configures a Worker.
type Option func(*Worker)

// WithClock replaces the clock used for rate-limit sleeps.
func WithClock(clk clock.Clock) Option {
	return func(w *Worker) {
		w.clock = clk
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		w.logger = logger
	}
}

// Worker handles enrichment jobs.
type Worker struct {
	store     store.Store
	writer    *store.Writer
	connector strava.Connector
	publisher queue.Publisher
	clock     clock.Clock
	logger    *slog.Logger
}

// NewWorker constructs a Worker.
func NewWorker(s store.Store, w *store.Writer, connector strava.Connector, publisher queue.Publisher, opts ...Option) *Worker {
	worker := &Worker{
		store:     s,
		writer:    w,
		connector: connector,
		publisher: publisher,
		clock:     clock.New(),
		logger:    slog.Default(),
	}
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

	ctx, span := tracer.Start(ctx, "enrich.activity", trace.WithAttributes(
		attribute.String("activity.id", job.ActivityID),
		attribute.String("user.id", job.UserID),
		attribute.Int("delivery.attempt", msg.Attempt),
	))
	defer span.End()

	if err := w.Process(ctx, job); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// Process enriches one activity. Running it twice for the same job stores the
// same documents.
func (w *Worker) Process(ctx context.Context, job domain.Job) error {
	w.logger.Info("enriching activity", "activity_id", job.ActivityID, "user_id", job.UserID)

	api, err := w.connector.Connect(ctx, job.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, strava.ErrNotConnected) {
			return queue.Permanent(err)
		}
		return err
	}

	detail, err := api.GetActivity(ctx, job.ActivityID)
	switch {
	case strava.IsRateLimited(err):
		return w.waitOutRateLimit(ctx, job.ActivityID)
	case strava.IsNotFound(err):
		return queue.Permanent(fmt.Errorf("activity %s no longer exists on strava: %w", job.ActivityID, err))
	case err != nil:
		return err
	}

	stream, err := api.GetStreams(ctx, job.ActivityID, domain.StreamChannels)
	switch {
	case strava.IsRateLimited(err):
		return w.waitOutRateLimit(ctx, job.ActivityID)
	case strava.IsNotFound(err):
		w.logger.Info("activity has no streams", "activity_id", job.ActivityID)
		stream = &domain.Stream{}
	case err != nil:
		return err
	}
	stream.ID = job.ActivityID
	stream.UserID = job.UserID

	activity := strava.Normalize(*detail, job.UserID, true)
	var existing domain.Activity
	err = w.store.Get(ctx, domain.CollectionActivities, activity.ID, job.UserID, &existing)
	switch {
	case err == nil:
		activity.PreserveFrom(existing)
	case !errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("load stored activity %s: %w", activity.ID, err)
	}

	if err := w.writer.Upsert(ctx, domain.CollectionActivities, store.Document{ID: activity.ID, UserID: job.UserID, Body: activity}); err != nil {
		return fmt.Errorf("store activity %s: %w", activity.ID, err)
	}
	if err := w.writer.Upsert(ctx, domain.CollectionStreams, store.Document{ID: stream.ID, UserID: job.UserID, Body: stream}); err != nil {
		return fmt.Errorf("store stream %s: %w", stream.ID, err)
	}
	if err := queue.PublishJobs(ctx, w.publisher, queue.CalculationQueue, []domain.Job{domain.JobFor(activity)}); err != nil {
		return err
	}

	enrichedCounter.Inc()
	observability.RecordActivityEnriched(w.clock.Now())
	return nil
}
