package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"sync"
	"syscall"

	"github.com/JoranSlingerland/running-backend/internal/bootstrap"
	"github.com/JoranSlingerland/running-backend/internal/calculate"
	"github.com/JoranSlingerland/running-backend/internal/enrich"
	"github.com/JoranSlingerland/running-backend/internal/logging"
	"github.com/JoranSlingerland/running-backend/internal/observability"
	"github.com/JoranSlingerland/running-backend/internal/poison"
	"github.com/JoranSlingerland/running-backend/internal/queue"
	httptransport "github.com/JoranSlingerland/running-backend/internal/transport/http"
)

type subscription struct {
	queue   string
	handler queue.Handler
	opts    []queue.Option
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	svc, err := bootstrap.New(ctx, "running-consumer")
	if err != nil {
		log.Fatalf("failed to initialize service: %v", err)
	}
	defer svc.Close()
	logger := svc.Logger

	enricher := enrich.NewWorker(svc.Store, svc.Writer, svc.Tokens, svc.Publisher,
		enrich.WithLogger(logging.Component(logger, "enrich")))
	calculator := calculate.NewWorker(svc.Store, svc.Writer,
		calculate.WithLogger(logging.Component(logger, "calculate")))
	notifier := poison.NewHandler(svc.Writer, poison.WithLogger(logging.Component(logger, "poison")))

	// Poison queues are terminal: a failing notification is logged, never re-poisoned.
	subscriptions := []subscription{
		{queue: queue.EnrichmentQueue, handler: enricher, opts: []queue.Option{queue.WithPoisonPublisher(svc.Publisher)}},
		{queue: queue.CalculationQueue, handler: calculator, opts: []queue.Option{queue.WithPoisonPublisher(svc.Publisher)}},
		{queue: queue.PoisonQueue(queue.EnrichmentQueue), handler: notifier},
		{queue: queue.PoisonQueue(queue.CalculationQueue), handler: notifier},
	}

	var wg sync.WaitGroup
	for _, sub := range subscriptions {
		consumer, err := svc.NewConsumer(sub.queue, sub.handler, sub.opts...)
		if err != nil {
			logger.Error("consumer init failed", "queue", sub.queue, "error", err)
			cancel()
			break
		}

		wg.Add(1)
		go func(name string, c bootstrap.Consumer) {
			defer wg.Done()
			defer observability.Recover()

			logger.Info("consumer started", "queue", name, "group", svc.Config.ConsumerGroupID)
			if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("consumer stopped with error", "queue", name, "error", err)
			}
		}(sub.queue, consumer)
	}

	metrics := httptransport.NewMetricsServer(svc.Config.MetricsAddress)
	if err := httptransport.Serve(ctx, metrics, logger); err != nil {
		logger.Error("metrics server error", "error", err)
		cancel()
	}

	logger.Info("consumer shutdown requested")
	wg.Wait()
}
