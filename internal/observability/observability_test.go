package observability

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestWatermarksIgnoreZeroTime(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	RecordActivityEnriched(ts)
	RecordActivityEnriched(time.Time{})
	require.Equal(t, float64(ts.Unix()), testutil.ToFloat64(activityEnrichedGauge))

	RecordSyncFinished(ts.Add(time.Hour))
	require.Equal(t, float64(ts.Add(time.Hour).Unix()), testutil.ToFloat64(syncFinishedGauge))
}

func TestInitSentryWithoutDSNIsNoop(t *testing.T) {
	require.NoError(t, InitSentry(SentryConfig{}, slog.New(slog.NewTextHandler(io.Discard, nil))))
}

func TestScrubRemovesCredentials(t *testing.T) {
	event := &sentry.Event{Request: &sentry.Request{Headers: map[string]string{
		"Authorization": "Bearer x",
		"Cookie":        "session=y",
		"Accept":        "application/json",
	}}}
	scrubbed := scrub(event, nil)
	require.Equal(t, map[string]string{"Accept": "application/json"}, scrubbed.Request.Headers)
}
