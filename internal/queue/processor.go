package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultMaxDeliveries is the delivery budget of a message before it is poisoned.
const DefaultMaxDeliveries = 5

var tracer = otel.Tracer("github.com/JoranSlingerland/running-backend/internal/queue")

// Reader exposes the minimal kafka.Reader interface needed by the processor.
type Reader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

// Handler processes one delivery of a message.
type Handler interface {
	Handle(context.Context, Message) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(context.Context, Message) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

// Message is a queue record independent of the transport.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Key       []byte
	Body      []byte
	// Attempt counts deliveries of this message, starting at 1.
	Attempt int
}

// Option configures a Processor or PubSubReceiver.
type Option func(*dispatcher)

// WithLogger overrides the logger used to report errors.
func WithLogger(logger *slog.Logger) Option {
	return func(d *dispatcher) {
		d.logger = logger
	}
}

// WithMaxDeliveries sets the delivery budget.
func WithMaxDeliveries(n int) Option {
	return func(d *dispatcher) {
		if n > 0 {
			d.maxDeliveries = n
		}
	}
}

// WithRetryDelay sets the base delay between deliveries. It doubles per attempt.
func WithRetryDelay(delay time.Duration) Option {
	return func(d *dispatcher) {
		d.retryDelay = delay
	}
}

// WithPoisonPublisher enables routing of exhausted messages to <topic>-poison.
// Without it such messages are logged and dropped.
func WithPoisonPublisher(p Publisher) Option {
	return func(d *dispatcher) {
		d.poison = p
	}
}

type dispatcher struct {
	handler       Handler
	poison        Publisher
	maxDeliveries int
	retryDelay    time.Duration
	logger        *slog.Logger
}

func newDispatcher(handler Handler, opts []Option) dispatcher {
	d := dispatcher{
		handler:       handler,
		maxDeliveries: DefaultMaxDeliveries,
		retryDelay:    time.Second,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(&d)
	}
	return d
}

// dispatch runs the handler until the message is processed or poisoned and
// reports whether it may be acknowledged. It only returns false once ctx is done.
func (d *dispatcher) dispatch(ctx context.Context, msg Message) bool {
	ctx, span := tracer.Start(ctx, "queue.dispatch", trace.WithAttributes(
		attribute.String("messaging.destination.name", msg.Topic),
		attribute.Int64("messaging.kafka.offset", msg.Offset),
	))
	defer span.End()

	if msg.Attempt < 1 {
		msg.Attempt = 1
	}
	for {
		err := d.handler.Handle(ctx, msg)
		if err == nil {
			recordProcessed(msg)
			return true
		}
		recordHandlerError(msg)
		span.RecordError(err)
		if ctx.Err() != nil {
			return false
		}

		if IsPermanent(err) || msg.Attempt >= d.maxDeliveries {
			span.SetStatus(codes.Error, err.Error())
			return d.quarantine(ctx, msg, err)
		}

		d.logger.Warn("handler error, redelivering", "queue", msg.Topic, "offset", msg.Offset, "attempt", msg.Attempt, "error", err)
		if !sleep(ctx, d.backoffDelay(msg.Attempt)) {
			return false
		}
		msg.Attempt++
	}
}

func (d *dispatcher) quarantine(ctx context.Context, msg Message, cause error) bool {
	d.logger.Error("message failed permanently", "queue", msg.Topic, "offset", msg.Offset, "attempt", msg.Attempt, "error", cause)
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("queue", msg.Topic)
		scope.SetTag("permanent", boolTag(IsPermanent(cause)))
		sentry.CaptureException(cause)
	})

	if d.poison == nil {
		d.logger.Error("no poison queue configured, dropping message", "queue", msg.Topic, "body", string(msg.Body))
		return true
	}
	// The message must not be acknowledged before its poison copy exists, so
	// publishing is retried until it succeeds or the consumer stops.
	target := PoisonQueue(msg.Topic)
	for attempt := 1; ; attempt++ {
		err := d.poison.Publish(ctx, target, msg.Body)
		if err == nil {
			recordPoisoned(msg.Topic)
			return true
		}
		d.logger.Error("poison publish failed, retrying", "queue", target, "attempt", attempt, "error", err)
		if !sleep(ctx, d.backoffDelay(attempt)) {
			return false
		}
	}
}

// backoffDelay doubles the base delay per attempt, capped at one minute.
func (d *dispatcher) backoffDelay(attempt int) time.Duration {
	delay := time.Duration(1<<uint(attempt-1)) * d.retryDelay
	if delay > time.Minute {
		delay = time.Minute
	}
	return delay
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func boolTag(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// Processor pulls messages from Kafka and dispatches them to a Handler.
type Processor struct {
	dispatcher
	reader Reader
}

// NewProcessor constructs a Processor with the provided reader and handler.
func NewProcessor(reader Reader, handler Handler, opts ...Option) *Processor {
	return &Processor{dispatcher: newDispatcher(handler, opts), reader: reader}
}

// Run processes messages until the context is cancelled. A message is
// committed once it was handled or moved to its poison queue. Run never
// fetches past an unsettled message: a later commit on the same partition
// would mark it consumed.
func (p *Processor) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, err := p.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return err
			}
			p.logger.Error("fetch error", "error", err)
			continue
		}

		settled := p.dispatch(ctx, Message{
			Topic:     msg.Topic,
			Partition: msg.Partition,
			Offset:    msg.Offset,
			Timestamp: msg.Time,
			Key:       msg.Key,
			Body:      msg.Value,
			Attempt:   1,
		})
		if !settled {
			if err := ctx.Err(); err != nil {
				return err
			}
			return fmt.Errorf("message %s/%d at offset %d left unsettled", msg.Topic, msg.Partition, msg.Offset)
		}

		if err := p.reader.CommitMessages(ctx, msg); err != nil {
			p.logger.Error("commit error", "queue", msg.Topic, "offset", msg.Offset, "error", err)
		}
	}
}
