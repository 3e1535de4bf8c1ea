package morph

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buildenergy/epwmorph/internal/domain"
)

func monthlyDelta(variable string, kind domain.TransformKind, bins ...float64) domain.Delta {
	if len(bins) == 1 {
		v := bins[0]
		bins = make([]float64, 12)
		for i := range bins {
			bins[i] = v
		}
	}
	return domain.Delta{
		Pathway:    "ssp245",
		Variable:   variable,
		Year:       2050,
		Percentile: 50,
		Kind:       kind,
		Bins:       bins,
	}
}

// hourlyYear builds an 8760-hour series with a daily sinusoid around a
// monthly baseline.
func hourlyYear(monthBase [12]float64, swing float64) []float64 {
	out := make([]float64, domain.HoursPerYear)
	for h := range out {
		m := domain.MonthOfHour(h)
		hod := float64(domain.HourOfDay(h))
		out[h] = monthBase[m] + swing*math.Sin((hod-9)*math.Pi/12)
	}
	return out
}

func constantYear(v float64) []float64 {
	out := make([]float64, domain.HoursPerYear)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestShift_AppliesMonthlyBins(t *testing.T) {
	base := hourlyYear([12]float64{5, 6, 8, 12, 16, 20, 23, 22, 18, 13, 8, 5}, 4)
	bins := []float64{1, 1.2, 1.4, 1.6, 1.8, 2, 2.2, 2.1, 1.9, 1.7, 1.5, 1.3}
	d := monthlyDelta("tas", domain.Additive, bins...)

	out, err := Shift(base, d)
	require.NoError(t, err)
	for h := range out {
		assert.InDelta(t, bins[domain.MonthOfHour(h)], out[h]-base[h], 1e-12)
	}
}

func TestShift_IsInverseRecoverable(t *testing.T) {
	base := hourlyYear([12]float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}, 2)
	d := monthlyDelta("tas", domain.Additive, 3.5)

	out, err := Shift(base, d)
	require.NoError(t, err)
	for h := range out {
		assert.InDelta(t, base[h], out[h]-3.5, 1e-12)
	}
}

func TestStretch_UnitRatioIsNoOp(t *testing.T) {
	base := hourlyYear([12]float64{2, 3, 4, 5, 6, 7, 7, 6, 5, 4, 3, 2}, 1)
	d := monthlyDelta("sfcWind", domain.Multiplicative, 1.0)

	out, err := Stretch(base, d)
	require.NoError(t, err)
	assert.Equal(t, base, out)
}

func TestStretch_ScalesByBinRatio(t *testing.T) {
	base := constantYear(5)
	d := monthlyDelta("sfcWind", domain.Multiplicative, 1.2)

	out, err := Stretch(base, d)
	require.NoError(t, err)
	for _, v := range out {
		assert.InDelta(t, 6.0, v, 1e-12)
	}
}

func TestStretch_FallbackBinsApplyAsShift(t *testing.T) {
	base := constantYear(0)
	d := monthlyDelta("sfcWind", domain.Multiplicative, 0)
	d.FallbackBins = []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}

	out, err := Stretch(base, d)
	require.NoError(t, err)
	for _, v := range out {
		assert.Zero(t, v, "a calm year with a calm projection stays calm")
	}
}

func TestStretch_DiurnalBins(t *testing.T) {
	base := constantYear(10)
	bins := make([]float64, 24)
	for i := range bins {
		bins[i] = 1 + float64(i)/100
	}
	d := domain.Delta{Variable: "sfcWind", Kind: domain.Multiplicative, Bins: bins}

	out, err := Stretch(base, d)
	require.NoError(t, err)
	for h := 0; h < 48; h++ {
		assert.InDelta(t, 10*bins[h%24], out[h], 1e-12)
	}
}

func TestShift_BadBinCount(t *testing.T) {
	base := constantYear(1)
	d := domain.Delta{Variable: "tas", Bins: []float64{1, 2, 3}}

	_, err := Shift(base, d)
	var incomplete *domain.IncompleteDeltaError
	require.ErrorAs(t, err, &incomplete)
}

func TestShiftStretch_EqualExtremeDeltasIsPureShift(t *testing.T) {
	base := hourlyYear([12]float64{5, 6, 8, 12, 16, 20, 23, 22, 18, 13, 8, 5}, 4)
	mean := monthlyDelta("tas", domain.Additive, 2.0)
	max := monthlyDelta("tasmax", domain.Additive, 2.0)
	min := monthlyDelta("tasmin", domain.Additive, 2.0)

	out, err := ShiftStretch(base, mean, max, min)
	require.NoError(t, err)
	for h := range out {
		assert.InDelta(t, base[h]+2.0, out[h], 1e-9)
	}
}

func TestShiftStretch_WidensDiurnalSwing(t *testing.T) {
	base := hourlyYear([12]float64{10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 10}, 4)
	mean := monthlyDelta("tas", domain.Additive, 1.0)
	max := monthlyDelta("tasmax", domain.Additive, 2.0)
	min := monthlyDelta("tasmin", domain.Additive, 0.0)

	out, err := ShiftStretch(base, mean, max, min)
	require.NoError(t, err)

	// Hot hours warm more than the mean shift, cool hours less.
	for h := range out {
		applied := out[h] - base[h]
		if base[h] > 10.5 {
			assert.Greater(t, applied, 1.0, "hour %d above monthly mean", h)
		}
		if base[h] < 9.5 {
			assert.Less(t, applied, 1.0, "hour %d below monthly mean", h)
		}
	}

	// Monthly means still move by the mean delta.
	gotMeans := monthlyMeans(out)
	baseMeans := monthlyMeans(base)
	for m := 0; m < 12; m++ {
		assert.InDelta(t, baseMeans[m]+1.0, gotMeans[m], 1e-9)
	}
}

func TestShiftStretch_DegenerateSwingFallsBackToShift(t *testing.T) {
	base := constantYear(15)
	mean := monthlyDelta("tas", domain.Additive, 1.5)
	max := monthlyDelta("tasmax", domain.Additive, 3.0)
	min := monthlyDelta("tasmin", domain.Additive, 0.5)

	out, err := ShiftStretch(base, mean, max, min)
	require.NoError(t, err)
	for _, v := range out {
		assert.InDelta(t, 16.5, v, 1e-12)
	}
}

func TestShiftStretch_RejectsPartialYear(t *testing.T) {
	_, err := ShiftStretch(make([]float64, 100),
		monthlyDelta("tas", domain.Additive, 1),
		monthlyDelta("tasmax", domain.Additive, 1),
		monthlyDelta("tasmin", domain.Additive, 1))
	var incomplete *domain.IncompleteDeltaError
	require.ErrorAs(t, err, &incomplete)
}

func TestRelativeStretch_ScalesByShareOfMonthlyMean(t *testing.T) {
	// Alternating dark and bright hours with a 200 W/m2 monthly mean;
	// a +20 W/m2 delta stretches the month by 1.1.
	base := make([]float64, domain.HoursPerYear)
	for h := range base {
		if h%2 == 1 {
			base[h] = 400
		}
	}
	d := monthlyDelta("rsds", domain.Additive, 20)

	out, err := RelativeStretch(base, d)
	require.NoError(t, err)
	for h := range out {
		if h%2 == 0 {
			assert.Zero(t, out[h], "hour %d should stay dark", h)
		} else {
			assert.InDelta(t, 440.0, out[h], 1e-9)
		}
	}
}

func TestRelativeStretch_ZeroMeanMonthPassesThrough(t *testing.T) {
	base := constantYear(250)
	for h := range base {
		if domain.MonthOfHour(h) == 0 {
			base[h] = 0
		}
	}
	d := monthlyDelta("rsds", domain.Additive, 25)

	out, err := RelativeStretch(base, d)
	require.NoError(t, err)
	for h := range out {
		if domain.MonthOfHour(h) == 0 {
			assert.Zero(t, out[h])
		} else {
			assert.InDelta(t, 275.0, out[h], 1e-9)
		}
	}
}

func TestRelativeStretch_RejectsPartialYear(t *testing.T) {
	_, err := RelativeStretch(make([]float64, 100), monthlyDelta("rsds", domain.Additive, 5))
	var incomplete *domain.IncompleteDeltaError
	require.ErrorAs(t, err, &incomplete)
}

func TestRelativeStretch_RejectsDiurnalBins(t *testing.T) {
	d := monthlyDelta("rsds", domain.Additive, 5)
	d.Bins = make([]float64, 24)
	_, err := RelativeStretch(constantYear(200), d)
	var incomplete *domain.IncompleteDeltaError
	require.ErrorAs(t, err, &incomplete)
}

func TestDewPoint_NeverExceedsTemperature(t *testing.T) {
	for _, temp := range []float64{-20, -5, 0, 10, 25, 40} {
		for _, rh := range []float64{1, 20, 50, 80, 100} {
			td := DewPoint(temp, rh)
			assert.LessOrEqual(t, td, temp, "temp=%v rh=%v", temp, rh)
		}
	}
}

func TestDewPoint_SaturatedAirCondensesAtAirTemperature(t *testing.T) {
	assert.InDelta(t, 20.0, DewPoint(20, 100), 1e-9)
}

func TestDewPoint_KnownValue(t *testing.T) {
	// 25 C at 50% humidity dews near 13.9 C.
	assert.InDelta(t, 13.9, DewPoint(25, 50), 0.1)
}

func TestOpaqueSkyCover_PreservesOpaqueFraction(t *testing.T) {
	assert.InDelta(t, 4.0, OpaqueSkyCover(4, 8, 8), 1e-12)
	assert.InDelta(t, 5.0, OpaqueSkyCover(4, 8, 10), 1e-12)
	assert.InDelta(t, 2.0, OpaqueSkyCover(4, 8, 4), 1e-12)
}

func TestOpaqueSkyCover_ClearPresentSkyPassesThrough(t *testing.T) {
	assert.Zero(t, OpaqueSkyCover(0, 0, 6))
}

func TestOpaqueSkyCover_NeverExceedsTotal(t *testing.T) {
	assert.LessOrEqual(t, OpaqueSkyCover(8, 8, 5), 5.0)
}
