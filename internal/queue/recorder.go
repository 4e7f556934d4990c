package queue

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/JoranSlingerland/running-backend/internal/domain"
)

// Recorder is an in-memory Publisher that keeps every payload per queue.
type Recorder struct {
	mu       sync.Mutex
	messages map[string][][]byte
	// Err, when set, is returned by Publish instead of recording.
	Err error
}

// NewRecorder constructs an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{messages: make(map[string][][]byte)}
}

// Publish implements Publisher.
func (r *Recorder) Publish(_ context.Context, queue string, payloads ...[]byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	for _, p := range payloads {
		r.messages[queue] = append(r.messages[queue], append([]byte(nil), p...))
	}
	return nil
}

// Payloads returns the payloads published to queue.
func (r *Recorder) Payloads(queue string) [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.messages[queue]...)
}

// Jobs decodes the payloads published to queue, skipping anything that is not a job.
func (r *Recorder) Jobs(queue string) []domain.Job {
	var jobs []domain.Job
	for _, p := range r.Payloads(queue) {
		var job domain.Job
		if err := json.Unmarshal(p, &job); err == nil {
			jobs = append(jobs, job)
		}
	}
	return jobs
}
