package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	activityEnrichedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "running_backend",
		Subsystem: "pipeline",
		Name:      "last_activity_enriched_timestamp_seconds",
		Help:      "Unix timestamp of the most recent activity stored with full data.",
	})
	activityCalculatedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "running_backend",
		Subsystem: "pipeline",
		Name:      "last_activity_calculated_timestamp_seconds",
		Help:      "Unix timestamp of the most recent activity stored with training-load metrics.",
	})
	syncFinishedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "running_backend",
		Subsystem: "pipeline",
		Name:      "last_sync_finished_timestamp_seconds",
		Help:      "Unix timestamp of the most recent sync run that completed its steps.",
	})
)

func init() {
	prometheus.MustRegister(activityEnrichedGauge, activityCalculatedGauge, syncFinishedGauge)
}

// RecordActivityEnriched updates the enrichment watermark gauge.
func RecordActivityEnriched(ts time.Time) {
	setWatermark(activityEnrichedGauge, ts)
}

// RecordActivityCalculated updates the calculation watermark gauge.
func RecordActivityCalculated(ts time.Time) {
	setWatermark(activityCalculatedGauge, ts)
}

// RecordSyncFinished updates the sync watermark gauge.
func RecordSyncFinished(ts time.Time) {
	setWatermark(syncFinishedGauge, ts)
}

func setWatermark(g prometheus.Gauge, ts time.Time) {
	if ts.IsZero() {
		return
	}
	g.Set(float64(ts.Unix()))
}
