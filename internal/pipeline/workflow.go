// Package pipeline runs the per-user sync as a durable go-workflows workflow:
// load the checkpoint, fetch new activities, persist them in chunks and queue
// them for enrichment.
package pipeline

import (
	"fmt"
	"time"

	"github.com/cschleiden/go-workflows/workflow"

	"github.com/JoranSlingerland/running-backend/internal/domain"
	"github.com/JoranSlingerland/running-backend/internal/store"
)

// Result summarizes a finished sync run.
type Result struct {
	UserID     string            `json:"user_id"`
	Checkpoint domain.Checkpoint `json:"checkpoint"`
	Fetched    int               `json:"fetched"`
	Persisted  int               `json:"persisted"`
	Enqueued   int               `json:"enqueued"`
	Chunks     int               `json:"chunks"`
}

// StepOptions applies to every step of SyncWorkflow.
var StepOptions = workflow.ActivityOptions{
	RetryOptions: workflow.RetryOptions{
		MaxAttempts:        3,
		FirstRetryInterval: 5 * time.Second,
		MaxRetryInterval:   time.Minute,
		BackoffCoefficient: 2,
	},
}

// SyncWorkflow synchronizes one user. Completed steps are not re-run when the
// workflow is replayed after a crash.
func SyncWorkflow(ctx workflow.Context, userID string) (Result, error) {
	logger := workflow.Logger(ctx).With("user_id", userID)
	var a *Activities

	result := Result{UserID: userID}

	cp, err := workflow.ExecuteActivity[domain.Checkpoint](ctx, StepOptions, a.LoadCheckpoint, userID).Get(ctx)
	if err != nil {
		return result, fmt.Errorf("load checkpoint: %w", err)
	}
	result.Checkpoint = cp

	activities, err := workflow.ExecuteActivity[[]domain.Activity](ctx, StepOptions, a.FetchActivities, userID, cp).Get(ctx)
	if err != nil {
		return result, fmt.Errorf("fetch activities: %w", err)
	}
	result.Fetched = len(activities)
	if len(activities) == 0 {
		logger.Debug("no new activities")
		return result, nil
	}

	for i, chunk := range store.Chunk(activities, store.DefaultChunkSize) {
		n, err := workflow.ExecuteActivity[int](ctx, StepOptions, a.PersistChunk, chunk).Get(ctx)
		if err != nil {
			return result, fmt.Errorf("persist chunk %d: %w", i, err)
		}
		result.Persisted += n
		result.Chunks++
	}

	enqueued, err := workflow.ExecuteActivity[int](ctx, StepOptions, a.EnqueueForEnrichment, activities).Get(ctx)
	if err != nil {
		return result, fmt.Errorf("enqueue for enrichment: %w", err)
	}
	result.Enqueued = enqueued

	logger.Debug("sync finished", "fetched", result.Fetched, "persisted", result.Persisted, "enqueued", result.Enqueued)
	return result, nil
}
