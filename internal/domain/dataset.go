package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// DatasetKey addresses one raw climate-model time series: the unit of
// caching and remote fetch.
type DatasetKey struct {
	Model      string `json:"model"`
	Pathway    string `json:"pathway"`
	Variable   string `json:"variable"` // model-variable code, e.g. "tas"
	Resolution string `json:"resolution"`
}

func (k DatasetKey) String() string {
	return fmt.Sprintf("%s/%s/%s/%s", k.Model, k.Pathway, k.Variable, k.Resolution)
}

// Hash returns a deterministic filesystem-safe identifier for the key.
// Hashing keeps cache filenames bounded regardless of model naming.
func (k DatasetKey) Hash() string {
	sum := sha256.Sum256([]byte(k.String()))
	return hex.EncodeToString(sum[:16])
}

// RawDataset is a gridded time series for one DatasetKey, spanning decades
// at (typically) monthly resolution. Once stored, the cache owns it;
// consumers treat it as read-only.
type RawDataset struct {
	Key   DatasetKey  `json:"key"`
	Lats  []float64   `json:"lats"`
	Lons  []float64   `json:"lons"`
	Times []time.Time `json:"times"`

	// Values is indexed [cell][t] with cell = latIdx*len(Lons) + lonIdx.
	Values [][]float64 `json:"values"`
}

// CellIndex converts a (latIdx, lonIdx) pair to the flat cell index.
func (d *RawDataset) CellIndex(latIdx, lonIdx int) int {
	return latIdx*len(d.Lons) + lonIdx
}

// Cells returns the number of grid cells.
func (d *RawDataset) Cells() int { return len(d.Lats) * len(d.Lons) }

// Validate checks the internal consistency of a dataset, typically after
// decoding it from the remote source or the cache.
func (d *RawDataset) Validate() error {
	if len(d.Lats) == 0 || len(d.Lons) == 0 {
		return fmt.Errorf("dataset %s: empty grid", d.Key)
	}
	if len(d.Times) == 0 {
		return fmt.Errorf("dataset %s: no timestamps", d.Key)
	}
	if len(d.Values) != d.Cells() {
		return fmt.Errorf("dataset %s: %d cell rows, want %d", d.Key, len(d.Values), d.Cells())
	}
	for i, row := range d.Values {
		if len(row) != len(d.Times) {
			return fmt.Errorf("dataset %s: cell %d has %d values, want %d", d.Key, i, len(row), len(d.Times))
		}
	}
	return nil
}

// GridCellSeries is a single time series extracted from a RawDataset at a
// resolved coordinate. Derived, never persisted.
type GridCellSeries struct {
	Key    DatasetKey
	Times  []time.Time
	Values []float64
}

// SliceYears returns the subseries whose timestamps fall within the year
// range, inclusive.
func (s GridCellSeries) SliceYears(r YearRange) GridCellSeries {
	out := GridCellSeries{Key: s.Key}
	for i, t := range s.Times {
		if r.Contains(t.Year()) {
			out.Times = append(out.Times, t)
			out.Values = append(out.Values, s.Values[i])
		}
	}
	return out
}

// EnsembleStat is one time-binned statistic aggregated across a model set
// at a requested percentile: 12 monthly bins or 24 diurnal bins.
type EnsembleStat struct {
	Pathway    string
	Variable   string
	Window     YearRange
	Percentile float64
	ModelCount int
	Bins       []float64
}

// TransformKind tags how a change signal applies to hourly values.
type TransformKind int

const (
	// Additive shifts each hour by the bin's delta.
	Additive TransformKind = iota
	// Multiplicative stretches each hour by the bin's ratio.
	Multiplicative
	// Derived variables carry no signal of their own: they are recomputed
	// from the morphed values of their prerequisites.
	Derived
)

func (k TransformKind) String() string {
	switch k {
	case Additive:
		return "additive"
	case Multiplicative:
		return "multiplicative"
	case Derived:
		return "derived"
	default:
		return fmt.Sprintf("TransformKind(%d)", int(k))
	}
}

// Delta is a time-binned change signal for one variable under one
// (pathway, percentile, future-year) combination.
type Delta struct {
	Pathway    string
	Variable   string
	Year       int
	Percentile float64
	Kind       TransformKind
	Bins       []float64

	// FallbackBins lists bin indices where a multiplicative derivation fell
	// back to additive because the baseline magnitude was near zero.
	FallbackBins []int
}

// Bin returns the delta value broadcast to an hour index: monthly bins map
// through the hour's calendar month, diurnal bins through hour-of-day.
func (d Delta) Bin(hour int) (float64, error) {
	switch len(d.Bins) {
	case 12:
		return d.Bins[MonthOfHour(hour)], nil
	case 24:
		return d.Bins[HourOfDay(hour)], nil
	default:
		return 0, &IncompleteDeltaError{Variable: d.Variable,
			Reason: fmt.Sprintf("%d bins, want 12 or 24", len(d.Bins))}
	}
}
