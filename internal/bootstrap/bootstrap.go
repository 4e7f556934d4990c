// Package bootstrap wires the dependencies shared by the api, consumer and
// scheduler binaries from configuration.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JoranSlingerland/running-backend/internal/config"
	"github.com/JoranSlingerland/running-backend/internal/logging"
	"github.com/JoranSlingerland/running-backend/internal/observability"
	"github.com/JoranSlingerland/running-backend/internal/queue"
	"github.com/JoranSlingerland/running-backend/internal/store"
	firestorestore "github.com/JoranSlingerland/running-backend/internal/store/firestore"
	"github.com/JoranSlingerland/running-backend/internal/store/memory"
	"github.com/JoranSlingerland/running-backend/internal/store/postgres"
	"github.com/JoranSlingerland/running-backend/internal/strava"
)

// Service holds initialized dependencies.
type Service struct {
	Config    config.Config
	Logger    *slog.Logger
	Store     store.Store
	Writer    *store.Writer
	Publisher queue.Publisher
	Tokens    *strava.TokenManager

	pubsub  *pubsub.Client
	closers []func()
}

// New loads configuration and opens the store and the queue publisher.
func New(ctx context.Context, serviceName string) (*Service, error) {
	cfg := config.Load(serviceName)
	logger := logging.New(os.Stdout, serviceName, cfg.LogLevel)
	slog.SetDefault(logger)

	svc := &Service{Config: cfg, Logger: logger}

	if err := observability.InitSentry(observability.SentryConfig{
		DSN:         cfg.SentryDSN,
		Environment: cfg.Environment,
		ServerName:  serviceName,
	}, logger); err != nil {
		return nil, err
	}

	if err := svc.openStore(ctx); err != nil {
		svc.Close()
		return nil, err
	}
	svc.Writer = store.NewWriter(svc.Store,
		store.WithRetryPolicy(cfg.WriterMaxRetries, cfg.WriterBaseDelay, cfg.WriterMaxDelay),
		store.WithWriterLogger(logging.Component(logger, "store")),
	)

	if err := svc.openPublisher(ctx); err != nil {
		svc.Close()
		return nil, err
	}

	tokenOpts := []strava.TokenOption{strava.WithTokenLogger(logging.Component(logger, "strava"))}
	if cfg.StravaBaseURL != "" {
		tokenOpts = append(tokenOpts, strava.WithAPIBaseURL(cfg.StravaBaseURL))
	}
	svc.Tokens = strava.NewTokenManager(svc.Store, svc.Writer, cfg.StravaClientID, cfg.StravaClientSecret, tokenOpts...)

	logger.Info("initialized service",
		"environment", cfg.Environment,
		"store", cfg.StoreBackend,
		"queue", cfg.QueueBackend,
	)
	return svc, nil
}

func (s *Service) openStore(ctx context.Context) error {
	switch s.Config.StoreBackend {
	case config.StorePostgres:
		pool, err := pgxpool.New(ctx, s.Config.PostgresURL)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		s.closers = append(s.closers, pool.Close)
		pg := postgres.New(pool)
		if err := pg.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate postgres: %w", err)
		}
		s.Store = pg

	case config.StoreFirestore:
		client, err := firestore.NewClient(ctx, s.Config.GCPProject)
		if err != nil {
			return fmt.Errorf("firestore init: %w", err)
		}
		s.closers = append(s.closers, func() { _ = client.Close() })
		s.Store = firestorestore.New(client)

	case config.StoreMemory:
		s.Logger.Warn("using in-memory store, documents are lost on exit")
		s.Store = memory.New()

	default:
		return fmt.Errorf("unknown store backend %q", s.Config.StoreBackend)
	}
	return nil
}

func (s *Service) openPublisher(ctx context.Context) error {
	switch s.Config.QueueBackend {
	case config.QueueKafka:
		p := queue.NewKafkaPublisher(s.Config.KafkaBrokers)
		s.closers = append(s.closers, func() { _ = p.Close() })
		s.Publisher = p

	case config.QueuePubSub:
		client, err := pubsub.NewClient(ctx, s.Config.GCPProject)
		if err != nil {
			return fmt.Errorf("pubsub init: %w", err)
		}
		p := queue.NewPubSubPublisher(client)
		s.closers = append(s.closers, func() {
			_ = p.Close()
			_ = client.Close()
		})
		s.pubsub = client
		s.Publisher = p

	case config.QueueLog:
		s.Logger.Warn("queue publishing disabled, jobs are only logged")
		s.Publisher = queue.LogPublisher{Logger: logging.Component(s.Logger, "queue")}

	default:
		return fmt.Errorf("unknown queue backend %q", s.Config.QueueBackend)
	}
	return nil
}

// Consumer is a long-running queue reader.
type Consumer interface {
	Run(ctx context.Context) error
}

// NewConsumer builds a consumer of queueName for the configured broker.
// Delivery limits and retry delay come from configuration.
func (s *Service) NewConsumer(queueName string, handler queue.Handler, opts ...queue.Option) (Consumer, error) {
	opts = append([]queue.Option{
		queue.WithLogger(logging.Component(s.Logger, queueName)),
		queue.WithMaxDeliveries(s.Config.MaxDeliveries),
		queue.WithRetryDelay(s.Config.RetryDelay),
	}, opts...)

	switch s.Config.QueueBackend {
	case config.QueueKafka:
		reader := queue.NewKafkaReader(queue.ReaderConfig{
			Brokers: s.Config.KafkaBrokers,
			GroupID: s.Config.ConsumerGroupID,
			Topic:   queueName,
		})
		s.closers = append(s.closers, func() { _ = reader.Close() })
		return queue.NewProcessor(reader, handler, opts...), nil

	case config.QueuePubSub:
		sub := s.pubsub.Subscription(s.Config.SubscriptionName(queueName))
		return queue.NewPubSubReceiver(sub, queueName, handler, opts...), nil

	default:
		return nil, fmt.Errorf("queue backend %q cannot consume", s.Config.QueueBackend)
	}
}

// Close releases connections in reverse order of opening and flushes Sentry.
func (s *Service) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
	observability.Flush(observability.FlushTimeout)
}
