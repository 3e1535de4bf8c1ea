// Package morph applies time-binned change signals to hourly weather
// series using the Belcher morphing procedures: shift for additive
// signals, stretch for multiplicative ones, and the combined
// shift-and-stretch refinement for dry-bulb temperature.
package morph

import (
	"math"

	"github.com/buildenergy/epwmorph/internal/domain"
)

// Shift adds the delta's bin value to every hour. The input slice is
// never mutated.
func Shift(base []float64, d domain.Delta) ([]float64, error) {
	out := make([]float64, len(base))
	for h, v := range base {
		dv, err := d.Bin(h)
		if err != nil {
			return nil, err
		}
		out[h] = v + dv
	}
	return out, nil
}

// Stretch multiplies every hour by the delta's bin ratio. Bins that fell
// back to additive derivation are applied as shifts, so a calm baseline
// stays calm instead of dividing by zero upstream.
func Stretch(base []float64, d domain.Delta) ([]float64, error) {
	out := make([]float64, len(base))
	for h, v := range base {
		dv, err := d.Bin(h)
		if err != nil {
			return nil, err
		}
		if isFallbackHour(d, h) {
			out[h] = v + dv
			continue
		}
		out[h] = v * dv
	}
	return out, nil
}

// ShiftStretch applies the combined Belcher temperature morph:
//
//	m[h] = b[h] + Δmean[m] + s[m]·(b[h] − μ[m])
//
// where s[m] scales the diurnal swing by the ratio of the projected
// extreme-temperature change to the observed monthly swing. A month whose
// observed swing is degenerate gets a pure shift.
func ShiftStretch(base []float64, mean, max, min domain.Delta) ([]float64, error) {
	if len(base) != domain.HoursPerYear {
		return nil, &domain.IncompleteDeltaError{Variable: mean.Variable,
			Reason: "combined morph needs a full hourly year"}
	}
	monthlyMean := monthlyMeans(base)
	swingMax, swingMin := monthlyDailyExtremes(base)

	scale := make([]float64, 12)
	for m := 0; m < 12; m++ {
		dMax, err := binValue(max, m)
		if err != nil {
			return nil, err
		}
		dMin, err := binValue(min, m)
		if err != nil {
			return nil, err
		}
		swing := swingMax[m] - swingMin[m]
		if math.Abs(swing) < 1e-9 {
			continue // degenerate swing, pure shift
		}
		scale[m] = (dMax - dMin) / swing
	}

	out := make([]float64, len(base))
	for h, v := range base {
		m := domain.MonthOfHour(h)
		dMean, err := binValue(mean, m)
		if err != nil {
			return nil, err
		}
		out[h] = v + dMean + scale[m]*(v-monthlyMean[m])
	}
	return out, nil
}

// RelativeStretch stretches every hour by one plus the additive delta's
// share of the baseline's own monthly mean, the Belcher treatment for
// global horizontal radiation: the modelled change in W/m2 becomes a
// fraction of the observed monthly level before scaling, so night hours
// stay zero. A month with no observed signal passes through unchanged.
func RelativeStretch(base []float64, d domain.Delta) ([]float64, error) {
	if len(base) != domain.HoursPerYear {
		return nil, &domain.IncompleteDeltaError{Variable: d.Variable,
			Reason: "relative stretch needs a full hourly year"}
	}
	means := monthlyMeans(base)
	var factors [12]float64
	for m := 0; m < 12; m++ {
		dv, err := binValue(d, m)
		if err != nil {
			return nil, err
		}
		factors[m] = 1
		if math.Abs(means[m]) > 1e-9 {
			factors[m] = 1 + dv/means[m]
		}
	}
	out := make([]float64, len(base))
	for h, v := range base {
		out[h] = v * factors[domain.MonthOfHour(h)]
	}
	return out, nil
}

// binIndex maps an hour to the delta's own bin index.
func binIndex(d domain.Delta, hour int) int {
	if len(d.Bins) == 24 {
		return domain.HourOfDay(hour)
	}
	return domain.MonthOfHour(hour)
}

// binValue reads a monthly delta bin directly, rejecting diurnal deltas:
// the combined temperature morph is defined on calendar months only.
func binValue(d domain.Delta, month int) (float64, error) {
	if len(d.Bins) != 12 {
		return 0, &domain.IncompleteDeltaError{Variable: d.Variable,
			Reason: "combined morph needs monthly bins"}
	}
	return d.Bins[month], nil
}

// monthlyMeans computes the mean of an hourly year per calendar month.
func monthlyMeans(base []float64) [12]float64 {
	var sums [12]float64
	var counts [12]int
	for h, v := range base {
		m := domain.MonthOfHour(h)
		sums[m] += v
		counts[m]++
	}
	var means [12]float64
	for m := range sums {
		means[m] = sums[m] / float64(counts[m])
	}
	return means
}

// monthlyDailyExtremes computes, per calendar month, the mean of the
// daily maxima and the mean of the daily minima.
func monthlyDailyExtremes(base []float64) (maxes, mins [12]float64) {
	var maxSums, minSums [12]float64
	var days [12]int
	for d := 0; d < len(base)/24; d++ {
		hi, lo := base[d*24], base[d*24]
		for h := d*24 + 1; h < (d+1)*24; h++ {
			hi = math.Max(hi, base[h])
			lo = math.Min(lo, base[h])
		}
		m := domain.MonthOfHour(d * 24)
		maxSums[m] += hi
		minSums[m] += lo
		days[m]++
	}
	for m := 0; m < 12; m++ {
		maxes[m] = maxSums[m] / float64(days[m])
		mins[m] = minSums[m] / float64(days[m])
	}
	return maxes, mins
}
