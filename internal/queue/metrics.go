package queue

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	publishedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "running_backend",
		Subsystem: "queue",
		Name:      "messages_published_total",
		Help:      "Number of messages published per queue.",
	}, []string{"queue"})

	processedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "running_backend",
		Subsystem: "queue",
		Name:      "messages_processed_total",
		Help:      "Number of messages successfully handled.",
	}, []string{"queue"})

	handlerErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "running_backend",
		Subsystem: "queue",
		Name:      "handler_errors_total",
		Help:      "Number of failed delivery attempts per queue.",
	}, []string{"queue"})

	poisonedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "running_backend",
		Subsystem: "queue",
		Name:      "messages_poisoned_total",
		Help:      "Number of messages moved to a poison queue.",
	}, []string{"queue"})

	lastMessageGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "running_backend",
		Subsystem: "queue",
		Name:      "last_message_timestamp_seconds",
		Help:      "Unix timestamp of the most recent successfully processed message per queue.",
	}, []string{"queue"})
)

func init() {
	prometheus.MustRegister(publishedCounter, processedCounter, handlerErrorCounter, poisonedCounter, lastMessageGauge)
}

func recordProcessed(msg Message) {
	processedCounter.WithLabelValues(msg.Topic).Inc()
	if !msg.Timestamp.IsZero() {
		lastMessageGauge.WithLabelValues(msg.Topic).Set(float64(msg.Timestamp.Unix()))
	}
}

func recordHandlerError(msg Message) {
	handlerErrorCounter.WithLabelValues(msg.Topic).Inc()
}

func recordPoisoned(topic string) {
	poisonedCounter.WithLabelValues(topic).Inc()
}
