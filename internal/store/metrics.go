package store

import "github.com/prometheus/client_golang/prometheus"

var (
	writeRetryCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "running_backend",
		Subsystem: "store",
		Name:      "write_retries_total",
		Help:      "Number of store writes retried after a transient failure.",
	})

	writeFailureCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "running_backend",
		Subsystem: "store",
		Name:      "write_failures_total",
		Help:      "Number of store writes that failed permanently or exhausted their retries.",
	})

	batchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "running_backend",
		Subsystem: "store",
		Name:      "batch_duration_seconds",
		Help:      "Time spent persisting one chunk of documents.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	})
)

func init() {
	prometheus.MustRegister(writeRetryCounter, writeFailureCounter, batchDuration)
}
