package calculate

import (
	"errors"
	"fmt"
	"sort"

	"github.com/JoranSlingerland/running-backend/internal/domain"
	"github.com/JoranSlingerland/running-backend/internal/trimp"
)

// ErrInvalidSettings is returned when the athlete's settings cannot produce metrics.
var ErrInvalidSettings = errors.New("invalid user settings")

const runType = "Run"

// Apply computes the derived metrics of activity in place from its stream and
// the athlete's settings and marks it calculated. Heart-rate metrics need
// has_heartrate; pace metrics are computed for runs only.
func Apply(activity *domain.Activity, stream *domain.Stream, settings domain.UserSettings) error {
	isRun := activity.Type == runType
	if err := validate(settings, activity.HasHeartrate, isRun); err != nil {
		return err
	}

	activity.ResetDerived()
	hr := settings.HeartRate

	if activity.HasHeartrate {
		times := stream.TimeData()
		heartrate := stream.HeartrateData()

		var hrTrimp, elapsed float64
		for i := range activity.Laps {
			lap := &activity.Laps[i]
			start := elapsed
			elapsed += lap.ElapsedTime

			startIdx, endIdx := LapIndices(times, start, elapsed)
			lap.StartIndex = &startIdx
			lap.EndIndex = &endIdx

			if avg, ok := mean(window(heartrate, startIdx, endIdx)); ok {
				lap.AverageHeartrate = avg
			}
			reserve := trimp.HRReserve(lap.AverageHeartrate, hr.Resting, hr.Max)
			lap.HRReserve = &reserve

			load, err := trimp.Trimp(lap.MovingTime, reserve, settings.Gender, true)
			if err != nil {
				return fmt.Errorf("lap %d hr trimp: %w", i, err)
			}
			lap.HRTrimp = &load
			hrTrimp += load
		}

		reserve := trimp.HRReserve(activity.AverageHeartrate, hr.Resting, hr.Max)
		activity.HRReserve = &reserve
		activity.HRTrimp = &hrTrimp

		maxPct := trimp.HRMaxPercentage(activity.AverageHeartrate, hr.Max)
		activity.HRMaxPercentage = &maxPct
		if activity.MovingTime > 0 {
			estimate, err := trimp.EstimateVO2Max(activity.Distance, activity.MovingTime, maxPct, true)
			if err != nil {
				return fmt.Errorf("vo2max estimate: %w", err)
			}
			activity.VO2MaxEstimate = &domain.VO2MaxEstimate{
				WorkoutVO2Max:    estimate.WorkoutVO2Max,
				VO2MaxPercentage: estimate.VO2MaxPercentage,
				EstimatedVO2Max:  estimate.EstimatedVO2Max,
			}
		}
	}

	if isRun {
		threshold := settings.Pace.Threshold
		var paceTrimp float64
		for i := range activity.Laps {
			lap := &activity.Laps[i]
			reserve := trimp.PaceReserve(lap.AverageSpeed, threshold)
			lap.PaceReserve = &reserve

			load, err := trimp.Trimp(lap.MovingTime, reserve, settings.Gender, true)
			if err != nil {
				return fmt.Errorf("lap %d pace trimp: %w", i, err)
			}
			lap.PaceTrimp = &load
			paceTrimp += load
		}
		reserve := trimp.PaceReserve(activity.AverageSpeed, threshold)
		activity.PaceReserve = &reserve
		activity.PaceTrimp = &paceTrimp
	}

	activity.CustomFieldsCalculated = true
	return nil
}

// LapIndices locates a lap spanning [start, end) seconds of elapsed time in the
// sorted time channel. Both indices are the first sample at or after the bound.
func LapIndices(times []float64, start, end float64) (int, int) {
	return sort.SearchFloat64s(times, start), sort.SearchFloat64s(times, end)
}

func validate(settings domain.UserSettings, needHR, needPace bool) error {
	if needHR {
		hr := settings.HeartRate
		if hr.Max <= hr.Resting {
			return fmt.Errorf("%w: max heart rate %.0f must exceed resting %.0f", ErrInvalidSettings, hr.Max, hr.Resting)
		}
	}
	if needPace && settings.Pace.Threshold <= 0 {
		return fmt.Errorf("%w: pace threshold must be positive", ErrInvalidSettings)
	}
	if needHR || needPace {
		if _, err := trimp.GenderConstant(settings.Gender); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
		}
	}
	return nil
}

func window(data []float64, start, end int) []float64 {
	if start >= len(data) || start >= end {
		return nil
	}
	return data[start:min(end, len(data))]
}

func mean(values []float64) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values)), true
}
