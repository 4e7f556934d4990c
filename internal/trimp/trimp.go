// Package trimp computes training-load metrics from workout measurements and
// the athlete's physiological settings. All functions are pure.
package trimp

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidArgument is returned for inputs the formulas are not defined for.
var ErrInvalidArgument = errors.New("invalid argument")

const (
	trimpWeighting = 0.64

	vo2HRMaxOffset = 0.26
	vo2HRMaxScale  = 0.706
)

var genderConstants = map[string]float64{
	"male":   1.92,
	"female": 1.67,
}

// HRReserve returns the fraction of heart-rate reserve used by avgHR.
func HRReserve(avgHR, restingHR, maxHR float64) float64 {
	return (avgHR - restingHR) / (maxHR - restingHR)
}

// PaceReserve returns avgSpeed relative to the threshold pace.
func PaceReserve(avgSpeed, thresholdPace float64) float64 {
	return avgSpeed / thresholdPace
}

// HRMaxPercentage returns avgHR as a fraction of maxHR.
func HRMaxPercentage(avgHR, maxHR float64) float64 {
	return avgHR / maxHR
}

// GenderConstant returns the exponent weighting for the given gender.
func GenderConstant(gender string) (float64, error) {
	c, ok := genderConstants[gender]
	if !ok {
		return 0, fmt.Errorf("%w: unknown gender %q", ErrInvalidArgument, gender)
	}
	return c, nil
}

// Trimp returns the training impulse for a duration spent at the given reserve.
// When inSeconds is true the duration is converted to minutes first.
func Trimp(duration, reserve float64, gender string, inSeconds bool) (float64, error) {
	k, err := GenderConstant(gender)
	if err != nil {
		return 0, err
	}
	minutes := toMinutes(duration, inSeconds)
	return minutes * reserve * trimpWeighting * math.Exp(k*reserve), nil
}

// VO2MaxPercentage maps a heart-rate-max fraction onto a VO2max fraction.
// It returns nil when the result falls outside [0, 1].
func VO2MaxPercentage(hrMaxPercentage float64) *float64 {
	pct := (hrMaxPercentage - vo2HRMaxOffset) / vo2HRMaxScale
	if pct < 0 || pct > 1 {
		return nil
	}
	return &pct
}

// Estimate is the result of EstimateVO2Max.
type Estimate struct {
	WorkoutVO2Max    float64
	VO2MaxPercentage *float64
	EstimatedVO2Max  *float64
}

// EstimateVO2Max estimates VO2max from a workout's distance in meters, its
// duration and the average heart rate as a fraction of max.
func EstimateVO2Max(distance, duration, hrMaxPercentage float64, inSeconds bool) (Estimate, error) {
	minutes := toMinutes(duration, inSeconds)
	if minutes <= 0 {
		return Estimate{}, fmt.Errorf("%w: duration must be positive", ErrInvalidArgument)
	}

	metersPerMinute := distance / minutes
	rawVO2 := -4.60 + 0.182258*metersPerMinute + 0.000104*metersPerMinute*metersPerMinute
	workoutFraction := 0.8 +
		0.1894393*math.Exp(-0.012778*minutes) +
		0.2989558*math.Exp(-0.1932605*minutes)

	est := Estimate{
		WorkoutVO2Max:    rawVO2 / workoutFraction,
		VO2MaxPercentage: VO2MaxPercentage(hrMaxPercentage),
	}
	if est.VO2MaxPercentage != nil && *est.VO2MaxPercentage > 0 {
		v := est.WorkoutVO2Max / *est.VO2MaxPercentage
		est.EstimatedVO2Max = &v
	}
	return est, nil
}

func toMinutes(duration float64, inSeconds bool) float64 {
	if inSeconds {
		return duration / 60
	}
	return duration
}
