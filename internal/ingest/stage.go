// Package ingest loads the sync checkpoint of a user, fetches the activities
// recorded since then and hands them to the enrichment queue.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/JoranSlingerland/running-backend/internal/domain"
	"github.com/JoranSlingerland/running-backend/internal/queue"
	"github.com/JoranSlingerland/running-backend/internal/store"
	"github.com/JoranSlingerland/running-backend/internal/strava"
)

// Option configures a Stage.
type Option func(*Stage)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Stage) {
		s.logger = logger
	}
}

// Stage implements the ingestion steps. Persisting is left to the caller so
// each step can run as its own durable activity.
type Stage struct {
	store     store.Store
	connector strava.Connector
	publisher queue.Publisher
	logger    *slog.Logger
}

// NewStage constructs a Stage.
func NewStage(s store.Store, connector strava.Connector, publisher queue.Publisher, opts ...Option) *Stage {
	stage := &Stage{
		store:     s,
		connector: connector,
		publisher: publisher,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(stage)
	}
	return stage
}

// LoadCheckpoint returns the id and start date of the user's most recent
// activity, or a zero checkpoint when none is stored.
func (s *Stage) LoadCheckpoint(ctx context.Context, userID string) (domain.Checkpoint, error) {
	rows, err := s.store.Query(ctx, domain.CollectionActivities, store.Query{
		UserID:     userID,
		OrderBy:    "start_date",
		Descending: true,
		Limit:      1,
	})
	if err != nil {
		return domain.Checkpoint{}, fmt.Errorf("load checkpoint for user %s: %w", userID, err)
	}
	if len(rows) == 0 {
		return domain.Checkpoint{}, nil
	}

	var latest struct {
		ID        string    `json:"id"`
		StartDate time.Time `json:"start_date"`
	}
	if err := json.Unmarshal(rows[0], &latest); err != nil {
		return domain.Checkpoint{}, fmt.Errorf("decode checkpoint for user %s: %w", userID, err)
	}
	if latest.ID == "" || latest.StartDate.IsZero() {
		return domain.Checkpoint{}, nil
	}
	return domain.Checkpoint{ID: &latest.ID, StartDate: &latest.StartDate}, nil
}

// Fetch lists the user's activities after the checkpoint, or the full history
// for a zero checkpoint, and normalizes them as not yet enriched.
func (s *Stage) Fetch(ctx context.Context, userID string, cp domain.Checkpoint) ([]domain.Activity, error) {
	api, err := s.connector.Connect(ctx, userID)
	if err != nil {
		return nil, err
	}

	var after *time.Time
	if !cp.IsZero() {
		after = cp.StartDate
	}
	wire, err := api.ListActivities(ctx, after)
	if err != nil {
		return nil, fmt.Errorf("list activities for user %s: %w", userID, err)
	}

	activities := make([]domain.Activity, 0, len(wire))
	for _, a := range wire {
		activities = append(activities, strava.Normalize(a, userID, false))
	}
	s.logger.Info("fetched activities", "user_id", userID, "count", len(activities), "full_history", after == nil)
	return activities, nil
}

// Enqueue publishes one enrichment job per activity. Duplicates are not
// filtered; enrichment is idempotent.
func (s *Stage) Enqueue(ctx context.Context, activities []domain.Activity) (int, error) {
	jobs := make([]domain.Job, 0, len(activities))
	for _, a := range activities {
		jobs = append(jobs, domain.JobFor(a))
	}
	if err := queue.PublishJobs(ctx, s.publisher, queue.EnrichmentQueue, jobs); err != nil {
		return 0, err
	}
	return len(jobs), nil
}

// Documents converts activities into store documents.
func Documents(activities []domain.Activity) []store.Document {
	docs := make([]store.Document, 0, len(activities))
	for _, a := range activities {
		docs = append(docs, store.Document{ID: a.ID, UserID: a.UserID, Body: a})
	}
	return docs
}
