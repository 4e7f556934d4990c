package pipeline

import (
	"context"

	"github.com/JoranSlingerland/running-backend/internal/domain"
	"github.com/JoranSlingerland/running-backend/internal/ingest"
	"github.com/JoranSlingerland/running-backend/internal/store"
)

// Activities holds the durable steps of a sync run. Every step is safe to
// re-execute: persisting keeps existing documents and duplicate enrichment
// jobs converge on the same stored state.
type Activities struct {
	Stage     *ingest.Stage
	Persister *store.BatchPersister
}

// LoadCheckpoint finds the most recent stored activity of the user.
func (a *Activities) LoadCheckpoint(ctx context.Context, userID string) (domain.Checkpoint, error) {
	return a.Stage.LoadCheckpoint(ctx, userID)
}

// FetchActivities lists the activities recorded after the checkpoint.
func (a *Activities) FetchActivities(ctx context.Context, userID string, cp domain.Checkpoint) ([]domain.Activity, error) {
	return a.Stage.Fetch(ctx, userID, cp)
}

// PersistChunk creates one chunk of activities and returns how many were written.
func (a *Activities) PersistChunk(ctx context.Context, chunk []domain.Activity) (int, error) {
	if err := a.Persister.Persist(ctx, domain.CollectionActivities, ingest.Documents(chunk)); err != nil {
		return 0, err
	}
	return len(chunk), nil
}

// EnqueueForEnrichment publishes an enrichment job per activity.
func (a *Activities) EnqueueForEnrichment(ctx context.Context, activities []domain.Activity) (int, error) {
	return a.Stage.Enqueue(ctx, activities)
}
