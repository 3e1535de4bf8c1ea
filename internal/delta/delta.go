// Package delta derives time-binned change signals from paired ensemble
// statistics: additive differences for shifted variables, ratios for
// stretched ones.
package delta

import (
	"fmt"
	"math"

	"github.com/buildenergy/epwmorph/internal/domain"
)

// baselineEpsilon guards ratio derivation: a baseline bin smaller than
// this in magnitude cannot anchor a meaningful stretch factor.
const baselineEpsilon = 1e-9

// Derive computes the change signal between a baseline and a future
// ensemble statistic. Multiplicative bins whose baseline magnitude is
// below epsilon fall back to an additive difference, with the bin index
// recorded in FallbackBins. Mismatched inputs fail with
// IncompleteDeltaError.
func Derive(baseline, future domain.EnsembleStat, kind domain.TransformKind, year int) (domain.Delta, error) {
	if err := checkPair(baseline, future); err != nil {
		return domain.Delta{}, err
	}
	if kind == domain.Derived {
		return domain.Delta{}, &domain.IncompleteDeltaError{
			Variable: baseline.Variable,
			Reason:   "derived variables carry no change signal of their own",
		}
	}

	d := domain.Delta{
		Pathway:    baseline.Pathway,
		Variable:   baseline.Variable,
		Year:       year,
		Percentile: baseline.Percentile,
		Kind:       kind,
		Bins:       make([]float64, len(baseline.Bins)),
	}
	for i := range baseline.Bins {
		b, f := baseline.Bins[i], future.Bins[i]
		if kind == domain.Additive {
			d.Bins[i] = f - b
			continue
		}
		if math.Abs(b) < baselineEpsilon {
			d.Bins[i] = f - b
			d.FallbackBins = append(d.FallbackBins, i)
			continue
		}
		d.Bins[i] = f / b
	}
	return d, nil
}

func checkPair(baseline, future domain.EnsembleStat) error {
	reason := ""
	switch {
	case len(baseline.Bins) == 0:
		reason = "baseline statistic has no bins"
	case len(baseline.Bins) != len(future.Bins):
		reason = fmt.Sprintf("bin count mismatch: baseline %d, future %d", len(baseline.Bins), len(future.Bins))
	case baseline.Variable != future.Variable:
		reason = fmt.Sprintf("variable mismatch: %q vs %q", baseline.Variable, future.Variable)
	case baseline.Pathway != future.Pathway:
		reason = fmt.Sprintf("pathway mismatch: %q vs %q", baseline.Pathway, future.Pathway)
	case baseline.Percentile != future.Percentile:
		reason = fmt.Sprintf("percentile mismatch: %v vs %v", baseline.Percentile, future.Percentile)
	}
	if reason != "" {
		return &domain.IncompleteDeltaError{Variable: baseline.Variable, Reason: reason}
	}
	return nil
}

// IsFallback reports whether a bin index derived additively inside an
// otherwise multiplicative delta.
func IsFallback(d domain.Delta, bin int) bool {
	for _, b := range d.FallbackBins {
		if b == bin {
			return true
		}
	}
	return false
}
