package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cschleiden/go-workflows/backend"
	"github.com/cschleiden/go-workflows/client"
	"github.com/cschleiden/go-workflows/worker"
	"github.com/cschleiden/go-workflows/workflow"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/JoranSlingerland/running-backend/internal/domain"
	"github.com/JoranSlingerland/running-backend/internal/observability"
	"github.com/JoranSlingerland/running-backend/internal/store"
)

const usersPageSize = 200

// ErrNotFinished is returned by Result while the run is still going.
var ErrNotFinished = errors.New("sync run not finished")

var syncStartedCounter = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "running_backend",
	Subsystem: "pipeline",
	Name:      "sync_runs_started_total",
	Help:      "Number of sync workflow instances created.",
})

func init() {
	prometheus.MustRegister(syncStartedCounter)
}

// Runner starts sync runs and reads their results.
type Runner struct {
	backend backend.Backend
	client  *client.Client
	clock   clock.Clock
}

// NewRunner constructs a Runner over the workflow backend b.
func NewRunner(b backend.Backend) *Runner {
	return &Runner{backend: b, client: client.New(b), clock: clock.New()}
}

// InstanceID names the sync run of userID started at t. Nanosecond precision
// keeps runs started in the same second apart.
func InstanceID(userID string, t time.Time) string {
	return fmt.Sprintf("sync-%s-%d", userID, t.UnixNano())
}

// OwnerOf returns the user a sync instance id was created for. The id is read
// from the right so user ids that contain dashes parse exactly.
func OwnerOf(instanceID string) (string, bool) {
	rest, ok := strings.CutPrefix(instanceID, "sync-")
	if !ok {
		return "", false
	}
	i := strings.LastIndexByte(rest, '-')
	if i <= 0 {
		return "", false
	}
	stamp := rest[i+1:]
	if stamp == "" || strings.TrimLeft(stamp, "0123456789") != "" {
		return "", false
	}
	return rest[:i], true
}

// Start creates a SyncWorkflow instance for userID.
func (r *Runner) Start(ctx context.Context, userID string) (*workflow.Instance, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errors.New("user id is required")
	}
	instance, err := r.client.CreateWorkflowInstance(ctx, client.WorkflowInstanceOptions{
		InstanceID: InstanceID(userID, r.clock.Now()),
	}, SyncWorkflow, userID)
	if err != nil {
		return nil, fmt.Errorf("start sync for user %s: %w", userID, err)
	}
	syncStartedCounter.Inc()
	return instance, nil
}

// Result waits up to timeout for the run to finish and returns its result.
// An instance the backend cannot find yields backend.ErrInstanceNotFound.
func (r *Runner) Result(ctx context.Context, instance *workflow.Instance, timeout time.Duration) (Result, error) {
	if _, err := r.backend.GetWorkflowInstanceState(ctx, instance); err != nil {
		if errors.Is(err, backend.ErrInstanceNotFound) {
			return Result{}, err
		}
		// sqlite reports unknown instances with an untyped error.
		return Result{}, errors.Join(backend.ErrInstanceNotFound, err)
	}
	if err := r.client.WaitForWorkflowInstance(ctx, instance, timeout); err != nil {
		if errors.Is(err, backend.ErrInstanceNotFound) {
			return Result{}, err
		}
		return Result{}, fmt.Errorf("%w: %v", ErrNotFinished, err)
	}
	result, err := client.GetWorkflowResult[Result](ctx, r.client, instance, timeout)
	if err != nil {
		return result, err
	}
	observability.RecordSyncFinished(r.clock.Now())
	return result, nil
}

// Cancel stops a running sync. Steps that already finished are not undone.
func (r *Runner) Cancel(ctx context.Context, instance *workflow.Instance) error {
	if err := r.client.CancelWorkflowInstance(ctx, instance); err != nil {
		return fmt.Errorf("cancel sync %s: %w", instance.InstanceID, err)
	}
	return nil
}

// StartAll starts a sync for every user with stored settings. A user whose run
// cannot be created is logged and skipped.
func (r *Runner) StartAll(ctx context.Context, users store.Store, logger *slog.Logger) (int, error) {
	started := 0
	after := ""
	for {
		raw, err := users.Query(ctx, domain.CollectionUsers, store.Query{OrderBy: "id", Limit: usersPageSize, After: after})
		if err != nil {
			return started, fmt.Errorf("list users: %w", err)
		}
		prev := after
		for _, body := range raw {
			var user struct {
				ID string `json:"id"`
			}
			if err := json.Unmarshal(body, &user); err != nil || user.ID == "" {
				continue
			}
			after = user.ID
			if _, err := r.Start(ctx, user.ID); err != nil {
				logger.Error("scheduled sync not started", "user_id", user.ID, "error", err)
				continue
			}
			started++
		}
		if len(raw) < usersPageSize || after == prev {
			return started, nil
		}
	}
}

// NewWorker builds a go-workflows worker hosting SyncWorkflow and its steps.
func NewWorker(b backend.Backend, activities *Activities) (*worker.Worker, error) {
	w := worker.New(b, nil)
	if err := w.RegisterWorkflow(SyncWorkflow); err != nil {
		return nil, fmt.Errorf("register sync workflow: %w", err)
	}
	if err := w.RegisterActivity(activities); err != nil {
		return nil, fmt.Errorf("register sync activities: %w", err)
	}
	return w, nil
}
