// Package requeue puts stored activities back on the work queues: a scanner
// for activities the pipeline has not finished and a manual re-queue for a
// user's activities.
package requeue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/JoranSlingerland/running-backend/internal/domain"
	"github.com/JoranSlingerland/running-backend/internal/queue"
	"github.com/JoranSlingerland/running-backend/internal/store"
)

// Defaults for paging and read fan-out.
const (
	DefaultPageSize    = 500
	DefaultConcurrency = 10
)

// ErrQueueNotAllowed is returned for queues outside AllowedQueues.
var ErrQueueNotAllowed = errors.New("queue not allowed")

// AllowedQueues lists the queues a manual re-queue may target.
var AllowedQueues = []string{
	queue.EnrichmentQueue,
	queue.PoisonQueue(queue.EnrichmentQueue),
	queue.CalculationQueue,
	queue.PoisonQueue(queue.CalculationQueue),
}

// Rule selects stored activities that belong on Queue.
type Rule struct {
	Queue  string
	Equals map[string]any
}

// DefaultRules re-enqueue activities that were never enriched and enriched
// activities whose metrics are missing.
var DefaultRules = []Rule{
	{Queue: queue.EnrichmentQueue, Equals: map[string]any{"full_data": false}},
	{Queue: queue.CalculationQueue, Equals: map[string]any{"custom_fields_calculated": false, "full_data": true}},
}

var requeuedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "running_backend",
	Subsystem: "requeue",
	Name:      "jobs_total",
	Help:      "Jobs re-published by the scanner and manual re-queue.",
}, []string{"queue", "trigger"})

func init() {
	prometheus.MustRegister(requeuedCounter)
}

// Option configures a Requeuer.
type Option func(*Requeuer)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Requeuer) {
		r.logger = logger
	}
}

// WithPageSize sets how many activities are read per query.
func WithPageSize(n int) Option {
	return func(r *Requeuer) {
		if n > 0 {
			r.pageSize = n
		}
	}
}

// WithRules replaces DefaultRules for Scan.
func WithRules(rules ...Rule) Option {
	return func(r *Requeuer) {
		r.rules = rules
	}
}

// Requeuer reads activities from the store and publishes their jobs.
type Requeuer struct {
	store     store.Store
	publisher queue.Publisher
	rules     []Rule
	pageSize  int
	logger    *slog.Logger
}

// New constructs a Requeuer.
func New(s store.Store, p queue.Publisher, opts ...Option) *Requeuer {
	r := &Requeuer{
		store:     s,
		publisher: p,
		rules:     DefaultRules,
		pageSize:  DefaultPageSize,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Scan publishes a job for every activity matched by the rules and returns
// the count per queue. Rules are scanned concurrently.
func (r *Requeuer) Scan(ctx context.Context) (map[string]int, error) {
	var mu sync.Mutex
	counts := make(map[string]int, len(r.rules))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(DefaultConcurrency)
	for _, rule := range r.rules {
		g.Go(func() error {
			n, err := r.publishMatching(gctx, rule.Queue, store.Query{Equals: rule.Equals}, "scheduled")
			mu.Lock()
			counts[rule.Queue] += n
			mu.Unlock()
			if err != nil {
				return fmt.Errorf("requeue %s: %w", rule.Queue, err)
			}
			return nil
		})
	}
	err := g.Wait()

	r.logger.Info("scheduled requeue finished", "counts", counts, "error", err)
	return counts, err
}

// Requeue publishes jobs for the user's activities to target, or only for
// activityID when it is set.
func (r *Requeuer) Requeue(ctx context.Context, userID, target, activityID string) (int, error) {
	if !slices.Contains(AllowedQueues, target) {
		return 0, fmt.Errorf("%w: %q", ErrQueueNotAllowed, target)
	}

	if activityID != "" {
		var activity domain.Activity
		err := r.store.Get(ctx, domain.CollectionActivities, activityID, userID, &activity)
		switch {
		case errors.Is(err, store.ErrNotFound):
			return 0, nil
		case err != nil:
			return 0, err
		}
		if err := queue.PublishJobs(ctx, r.publisher, target, []domain.Job{{ActivityID: activityID, UserID: userID}}); err != nil {
			return 0, err
		}
		requeuedCounter.WithLabelValues(target, "manual").Inc()
		return 1, nil
	}

	return r.publishMatching(ctx, target, store.Query{UserID: userID}, "manual")
}

// publishMatching pages through the activities selected by q in id order and
// publishes one job per activity to target.
func (r *Requeuer) publishMatching(ctx context.Context, target string, q store.Query, trigger string) (int, error) {
	q.OrderBy = "id"
	q.Limit = r.pageSize

	total := 0
	for {
		rows, err := r.store.Query(ctx, domain.CollectionActivities, q)
		if err != nil {
			return total, err
		}
		if len(rows) == 0 {
			return total, nil
		}

		jobs, err := jobsFrom(rows)
		if err != nil {
			return total, err
		}
		if err := queue.PublishJobs(ctx, r.publisher, target, jobs); err != nil {
			return total, err
		}
		total += len(jobs)
		requeuedCounter.WithLabelValues(target, trigger).Add(float64(len(jobs)))

		if len(rows) < q.Limit {
			return total, nil
		}
		q.After = jobs[len(jobs)-1].ActivityID
	}
}

func jobsFrom(rows []json.RawMessage) ([]domain.Job, error) {
	jobs := make([]domain.Job, 0, len(rows))
	for _, row := range rows {
		var ref struct {
			ID     string `json:"id"`
			UserID string `json:"userId"`
		}
		if err := json.Unmarshal(row, &ref); err != nil {
			return nil, fmt.Errorf("decode activity: %w", err)
		}
		jobs = append(jobs, domain.Job{ActivityID: ref.ID, UserID: ref.UserID})
	}
	return jobs, nil
}
