package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/cschleiden/go-workflows/tester"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JoranSlingerland/running-backend/internal/domain"
	"github.com/JoranSlingerland/running-backend/internal/ingest"
	"github.com/JoranSlingerland/running-backend/internal/queue"
	"github.com/JoranSlingerland/running-backend/internal/store"
	"github.com/JoranSlingerland/running-backend/internal/store/memory"
	"github.com/JoranSlingerland/running-backend/internal/strava"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func activities(n int) []domain.Activity {
	out := make([]domain.Activity, n)
	for i := range out {
		out[i] = domain.Activity{ID: fmt.Sprint(i), UserID: "user-1"}
	}
	return out
}

func TestSyncWorkflowRunsStepsInOrder(t *testing.T) {
	wft := tester.NewWorkflowTester[Result](SyncWorkflow, tester.WithLogger(quietLogger()))
	var a *Activities

	id := "7"
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cp := domain.Checkpoint{ID: &id, StartDate: &start}
	fetched := activities(3)

	wft.OnActivity(a.LoadCheckpoint, mock.Anything, "user-1").Return(cp, nil)
	wft.OnActivity(a.FetchActivities, mock.Anything, "user-1", mock.Anything).Return(fetched, nil)
	wft.OnActivity(a.PersistChunk, mock.Anything, mock.Anything).Return(3, nil).Once()
	wft.OnActivity(a.EnqueueForEnrichment, mock.Anything, mock.Anything).Return(3, nil).Once()

	wft.Execute(context.Background(), "user-1")

	require.True(t, wft.WorkflowFinished())
	result, err := wft.WorkflowResult()
	require.NoError(t, err)
	require.Equal(t, "user-1", result.UserID)
	require.Equal(t, 3, result.Fetched)
	require.Equal(t, 3, result.Persisted)
	require.Equal(t, 3, result.Enqueued)
	require.Equal(t, 1, result.Chunks)
	require.Equal(t, id, *result.Checkpoint.ID)
	wft.AssertExpectations(t)
}

func TestSyncWorkflowPersistsInChunks(t *testing.T) {
	wft := tester.NewWorkflowTester[Result](SyncWorkflow, tester.WithLogger(quietLogger()))
	var a *Activities

	fetched := activities(store.DefaultChunkSize*2 + 1)
	wft.OnActivity(a.LoadCheckpoint, mock.Anything, "user-1").Return(domain.Checkpoint{}, nil)
	wft.OnActivity(a.FetchActivities, mock.Anything, "user-1", mock.Anything).Return(fetched, nil)
	wft.OnActivity(a.PersistChunk, mock.Anything, mock.Anything).Return(store.DefaultChunkSize, nil).Twice()
	wft.OnActivity(a.PersistChunk, mock.Anything, mock.Anything).Return(1, nil).Once()
	wft.OnActivity(a.EnqueueForEnrichment, mock.Anything, mock.Anything).Return(len(fetched), nil)

	wft.Execute(context.Background(), "user-1")

	require.True(t, wft.WorkflowFinished())
	result, err := wft.WorkflowResult()
	require.NoError(t, err)
	require.Equal(t, 3, result.Chunks)
	require.Equal(t, len(fetched), result.Persisted)
	wft.AssertExpectations(t)
}

func TestSyncWorkflowStopsWithoutNewActivities(t *testing.T) {
	wft := tester.NewWorkflowTester[Result](SyncWorkflow, tester.WithLogger(quietLogger()))
	var a *Activities

	wft.OnActivity(a.LoadCheckpoint, mock.Anything, "user-1").Return(domain.Checkpoint{}, nil)
	wft.OnActivity(a.FetchActivities, mock.Anything, "user-1", mock.Anything).Return([]domain.Activity{}, nil)

	wft.Execute(context.Background(), "user-1")

	require.True(t, wft.WorkflowFinished())
	result, err := wft.WorkflowResult()
	require.NoError(t, err)
	require.Zero(t, result.Fetched)
	require.Zero(t, result.Enqueued)
	wft.AssertExpectations(t)
}

func TestSyncWorkflowFailsWhenPersistFails(t *testing.T) {
	wft := tester.NewWorkflowTester[Result](SyncWorkflow, tester.WithLogger(quietLogger()))
	var a *Activities

	wft.OnActivity(a.LoadCheckpoint, mock.Anything, "user-1").Return(domain.Checkpoint{}, nil)
	wft.OnActivity(a.FetchActivities, mock.Anything, "user-1", mock.Anything).Return(activities(2), nil)
	wft.OnActivity(a.PersistChunk, mock.Anything, mock.Anything).Return(0, errors.New("store down"))

	wft.Execute(context.Background(), "user-1")

	require.True(t, wft.WorkflowFinished())
	_, err := wft.WorkflowResult()
	require.ErrorContains(t, err, "persist chunk 0")
}

func TestActivitiesAgainstMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	recorder := queue.NewRecorder()
	api := &listAPI{activities: []strava.Activity{{ID: 1}, {ID: 2}}}
	for i := range api.activities {
		api.activities[i].StartDate = time.Date(2024, 2, i+1, 9, 0, 0, 0, time.UTC)
	}

	acts := &Activities{
		Stage:     ingest.NewStage(s, listConnector{api: api}, recorder, ingest.WithLogger(quietLogger())),
		Persister: store.NewBatchPersister(store.NewWriter(s), 0, 0),
	}

	cp, err := acts.LoadCheckpoint(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, cp.IsZero())

	fetched, err := acts.FetchActivities(ctx, "user-1", cp)
	require.NoError(t, err)
	require.Len(t, fetched, 2)

	n, err := acts.PersistChunk(ctx, fetched)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, 2, s.Len(domain.CollectionActivities))

	n, err = acts.EnqueueForEnrichment(ctx, fetched)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Len(t, recorder.Jobs(queue.EnrichmentQueue), 2)

	cp, err = acts.LoadCheckpoint(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, "2", *cp.ID)
}

func TestInstanceID(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.Equal(t, "sync-user-1-1704067200000000000", InstanceID("user-1", at))
	require.NotEqual(t, InstanceID("user-1", at), InstanceID("user-1", at.Add(time.Millisecond)))
}

func TestOwnerOf(t *testing.T) {
	cases := []struct {
		id    string
		owner string
		ok    bool
	}{
		{id: "sync-alice-1700000000", owner: "alice", ok: true},
		{id: "sync-alice-bob-1700000000", owner: "alice-bob", ok: true},
		{id: InstanceID("user-1", time.Unix(1, 5)), owner: "user-1", ok: true},
		{id: "sync-alice-", ok: false},
		{id: "sync-alice-12x", ok: false},
		{id: "sync--1700000000", ok: false},
		{id: "sync-1700000000", ok: false},
		{id: "other-alice-1700000000", ok: false},
	}
	for _, tc := range cases {
		t.Run(tc.id, func(t *testing.T) {
			owner, ok := OwnerOf(tc.id)
			require.Equal(t, tc.ok, ok)
			require.Equal(t, tc.owner, owner)
		})
	}
}

type listConnector struct {
	api strava.API
}

func (c listConnector) Connect(context.Context, string) (strava.API, error) {
	return c.api, nil
}

type listAPI struct {
	activities []strava.Activity
}

func (a *listAPI) ListActivities(context.Context, *time.Time) ([]strava.Activity, error) {
	return a.activities, nil
}

func (a *listAPI) GetActivity(context.Context, string) (*strava.Activity, error) {
	return nil, strava.ErrRateLimited
}

func (a *listAPI) GetStreams(context.Context, string, []string) (*domain.Stream, error) {
	return nil, strava.ErrRateLimited
}
