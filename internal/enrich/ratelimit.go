package enrich

import (
	"context"
	"fmt"
	"time"

	"github.com/JoranSlingerland/running-backend/internal/strava"
)

// MaxSleepStep bounds a single sleep while waiting out a rate limit.
const MaxSleepStep = 30 * time.Second

const rateLimitWindow = 15 * time.Minute

// UntilNextQuarterHour returns the time left until the next :00, :15, :30 or
// :45 mark. Exactly on a mark it returns a full window.
func UntilNextQuarterHour(now time.Time) time.Duration {
	return now.Truncate(rateLimitWindow).Add(rateLimitWindow).Sub(now)
}

// waitOutRateLimit sleeps until Strava's limit window resets and then fails,
// so the message is delivered again once calls are allowed.
func (w *Worker) waitOutRateLimit(ctx context.Context, activityID string) error {
	total := UntilNextQuarterHour(w.clock.Now())
	w.logger.Warn("strava rate limit exceeded, sleeping", "activity_id", activityID, "sleep", total)
	rateLimitCounter.Inc()

	remaining := total
	for remaining > 0 {
		step := min(remaining, MaxSleepStep)
		timer := w.clock.Timer(step)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		remaining -= step
		if remaining > 0 {
			w.logger.Info("waiting for strava rate limit window", "activity_id", activityID, "remaining", remaining)
		}
	}
	return fmt.Errorf("%w: waited %s before requeueing activity %s", strava.ErrRateLimited, total, activityID)
}
