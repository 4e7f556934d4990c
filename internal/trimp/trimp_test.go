package trimp

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHRReserve(t *testing.T) {
	require.InDelta(t, 0.714286, HRReserve(150, 50, 190), 1e-6)
}

func TestPaceReserveAndHRMax(t *testing.T) {
	require.InDelta(t, 0.8, PaceReserve(4, 5), 1e-9)
	require.InDelta(t, 0.75, HRMaxPercentage(150, 200), 1e-9)
}

func TestTrimpWorkedExample(t *testing.T) {
	got, err := Trimp(60, 0.5, "male", false)
	require.NoError(t, err)
	require.InDelta(t, 50.15, got, 0.01)

	inSeconds, err := Trimp(3600, 0.5, "male", true)
	require.NoError(t, err)
	require.InDelta(t, got, inSeconds, 1e-9)
}

func TestTrimpUnknownGender(t *testing.T) {
	_, err := Trimp(60, 0.5, "other", false)
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = GenderConstant("")
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestTrimpMonotonic(t *testing.T) {
	for _, gender := range []string{"male", "female"} {
		prev := -1.0
		for r := 0.0; r <= 1.0; r += 0.05 {
			v, err := Trimp(45, r, gender, false)
			require.NoError(t, err)
			require.GreaterOrEqual(t, v, prev, "gender=%s reserve=%.2f", gender, r)
			prev = v
		}

		prev = -1.0
		for d := 0.0; d <= 240; d += 15 {
			v, err := Trimp(d, 0.6, gender, false)
			require.NoError(t, err)
			require.GreaterOrEqual(t, v, prev, "gender=%s duration=%.0f", gender, d)
			prev = v
		}
	}
}

func TestVO2MaxPercentageRange(t *testing.T) {
	require.Nil(t, VO2MaxPercentage(0))
	require.Nil(t, VO2MaxPercentage(1.2))

	pct := VO2MaxPercentage(0.9)
	require.NotNil(t, pct)
	require.InDelta(t, (0.9-0.26)/0.706, *pct, 1e-9)
}

func TestEstimateVO2Max(t *testing.T) {
	est, err := EstimateVO2Max(10000, 50, 0.9, false)
	require.NoError(t, err)

	mpm := 10000.0 / 50
	raw := -4.60 + 0.182258*mpm + 0.000104*mpm*mpm
	frac := 0.8 + 0.1894393*math.Exp(-0.012778*50) + 0.2989558*math.Exp(-0.1932605*50)
	require.InDelta(t, raw/frac, est.WorkoutVO2Max, 1e-9)
	require.NotNil(t, est.VO2MaxPercentage)
	require.NotNil(t, est.EstimatedVO2Max)
	require.InDelta(t, est.WorkoutVO2Max / *est.VO2MaxPercentage, *est.EstimatedVO2Max, 1e-9)

	seconds, err := EstimateVO2Max(10000, 3000, 0.9, true)
	require.NoError(t, err)
	require.InDelta(t, est.WorkoutVO2Max, seconds.WorkoutVO2Max, 1e-9)
}

func TestEstimateVO2MaxWithoutHeartRateMapping(t *testing.T) {
	est, err := EstimateVO2Max(5000, 25, 0, false)
	require.NoError(t, err)
	require.Nil(t, est.VO2MaxPercentage)
	require.Nil(t, est.EstimatedVO2Max)
}

func TestEstimateVO2MaxRejectsZeroDuration(t *testing.T) {
	_, err := EstimateVO2Max(5000, 0, 0.8, true)
	require.ErrorIs(t, err, ErrInvalidArgument)
}
