package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"cloud.google.com/go/pubsub"
)

// PubSubPublisher publishes to Pub/Sub topics named after the queues.
type PubSubPublisher struct {
	client *pubsub.Client
	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

// NewPubSubPublisher wraps client. The caller owns the client.
func NewPubSubPublisher(client *pubsub.Client) *PubSubPublisher {
	return &PubSubPublisher{client: client, topics: make(map[string]*pubsub.Topic)}
}

// Publish implements Publisher and waits for every message to be acknowledged by the server.
func (p *PubSubPublisher) Publish(ctx context.Context, queue string, payloads ...[]byte) error {
	topic := p.topic(queue)
	results := make([]*pubsub.PublishResult, 0, len(payloads))
	for _, payload := range payloads {
		results = append(results, topic.Publish(ctx, &pubsub.Message{Data: payload}))
	}

	var errs []error
	for _, res := range results {
		if _, err := res.Get(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	publishedCounter.WithLabelValues(queue).Add(float64(len(payloads) - len(errs)))
	return errors.Join(errs...)
}

func (p *PubSubPublisher) topic(id string) *pubsub.Topic {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.topics[id]; ok {
		return t
	}
	t := p.client.Topic(id)
	p.topics[id] = t
	return t
}

// Close flushes and stops every topic.
func (p *PubSubPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, t := range p.topics {
		t.Stop()
		delete(p.topics, id)
	}
	return nil
}

// PubSubReceiver consumes a subscription with the same delivery budget as the
// Kafka Processor. The server-side delivery attempt seeds the local counter.
type PubSubReceiver struct {
	dispatcher
	sub   *pubsub.Subscription
	queue string
}

// NewPubSubReceiver constructs a receiver for the subscription of queue.
func NewPubSubReceiver(sub *pubsub.Subscription, queue string, handler Handler, opts ...Option) *PubSubReceiver {
	return &PubSubReceiver{dispatcher: newDispatcher(handler, opts), sub: sub, queue: queue}
}

// Run blocks until ctx is cancelled or the subscription fails.
func (r *PubSubReceiver) Run(ctx context.Context) error {
	err := r.sub.Receive(ctx, func(ctx context.Context, m *pubsub.Message) {
		msg := Message{
			Topic:     r.queue,
			Timestamp: m.PublishTime,
			Key:       []byte(m.OrderingKey),
			Body:      m.Data,
			Attempt:   1,
		}
		if m.DeliveryAttempt != nil {
			msg.Attempt = *m.DeliveryAttempt
		}
		if r.dispatch(ctx, msg) {
			m.Ack()
			return
		}
		m.Nack()
	})
	if err != nil {
		return err
	}
	return ctx.Err()
}

// LogPublisher logs payloads instead of sending them. Used when no broker is configured.
type LogPublisher struct {
	Logger *slog.Logger
}

// Publish implements Publisher.
func (p LogPublisher) Publish(_ context.Context, queue string, payloads ...[]byte) error {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	for _, payload := range payloads {
		logger.Info("publish (log only)", "queue", queue, "payload", string(payload))
	}
	return nil
}
