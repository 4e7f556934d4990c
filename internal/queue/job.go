// Package queue moves jobs between pipeline stages over Kafka or Pub/Sub and
// routes messages that cannot be processed to the poison queues.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/JoranSlingerland/running-backend/internal/domain"
)

// Work queues and the suffix of their poison counterparts.
const (
	EnrichmentQueue  = "enrichment-queue"
	CalculationQueue = "calculate-fields-queue"
	PoisonSuffix     = "-poison"
)

// ErrMalformed marks payloads that can never be processed.
var ErrMalformed = errors.New("malformed job")

// PoisonQueue returns the poison queue of queue.
func PoisonQueue(queue string) string {
	return queue + PoisonSuffix
}

// OriginQueue returns the work queue a poison queue belongs to.
func OriginQueue(poison string) string {
	return strings.TrimSuffix(poison, PoisonSuffix)
}

// EncodeJob renders a job as the queue payload.
func EncodeJob(job domain.Job) ([]byte, error) {
	return json.Marshal(job)
}

// DecodeJob parses a queue payload. Errors are permanent and wrap ErrMalformed.
func DecodeJob(body []byte) (domain.Job, error) {
	var job domain.Job
	if err := json.Unmarshal(body, &job); err != nil {
		return domain.Job{}, Permanent(fmt.Errorf("%w: %v", ErrMalformed, err))
	}
	if job.ActivityID == "" || job.UserID == "" {
		return domain.Job{}, Permanent(fmt.Errorf("%w: activity_id and user_id are required", ErrMalformed))
	}
	return job, nil
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err so consumers skip redelivery and poison the message.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Publisher sends raw payloads to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, payloads ...[]byte) error
}

// PublishJobs encodes jobs and publishes them in one call.
func PublishJobs(ctx context.Context, p Publisher, queue string, jobs []domain.Job) error {
	if len(jobs) == 0 {
		return nil
	}
	payloads := make([][]byte, 0, len(jobs))
	for _, job := range jobs {
		body, err := EncodeJob(job)
		if err != nil {
			return err
		}
		payloads = append(payloads, body)
	}
	if err := p.Publish(ctx, queue, payloads...); err != nil {
		return fmt.Errorf("publish %d jobs to %s: %w", len(jobs), queue, err)
	}
	return nil
}
