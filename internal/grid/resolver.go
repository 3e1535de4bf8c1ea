// Package grid maps a geographic point onto the native grid of a climate
// dataset, either by nearest-cell selection or bilinear interpolation.
// Whichever mode a run chooses must be applied uniformly across all of its
// datasets: mixing policies would bias the ensemble.
package grid

import (
	"math"
	"sort"

	"github.com/buildenergy/epwmorph/internal/domain"
)

// Mode selects the resolution policy for a run.
type Mode int

const (
	// Nearest picks the closest grid cell by great-circle distance, ties
	// broken by lowest cell index.
	Nearest Mode = iota
	// Bilinear interpolates across the four enclosing cells.
	Bilinear
)

func (m Mode) String() string {
	if m == Bilinear {
		return "bilinear"
	}
	return "nearest"
}

const earthRadiusKm = 6371.0

// haversine returns the great-circle distance between two points in km.
func haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const deg = math.Pi / 180
	dLat := (lat2 - lat1) * deg
	dLon := (lon2 - lon1) * deg
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*deg)*math.Cos(lat2*deg)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}

// normalizeLon maps a longitude onto the dataset's convention. CMIP grids
// commonly span [0, 360) while weather files use [-180, 180].
func normalizeLon(lon float64, lons []float64) float64 {
	if len(lons) == 0 {
		return lon
	}
	maxLon := lons[0]
	for _, l := range lons {
		if l > maxLon {
			maxLon = l
		}
	}
	if maxLon > 180 && lon < 0 {
		return lon + 360
	}
	return lon
}

// axisStep returns the typical spacing of a sorted grid axis.
func axisStep(axis []float64) float64 {
	if len(axis) < 2 {
		return 0
	}
	return math.Abs(axis[len(axis)-1]-axis[0]) / float64(len(axis)-1)
}

// inBounds reports whether v lies within the axis extent, allowing half a
// grid step of slack so points between the outermost cell centers and the
// grid edge still resolve.
func inBounds(v float64, axis []float64) bool {
	lo, hi := axis[0], axis[len(axis)-1]
	if lo > hi {
		lo, hi = hi, lo
	}
	slack := axisStep(axis) / 2
	return v >= lo-slack && v <= hi+slack
}

// Resolve extracts the time series for a geographic point from a dataset
// using the given mode. Points outside the grid (plus half a cell of
// slack) return CoordinateOutOfRangeError.
func Resolve(ds *domain.RawDataset, lat, lon float64, mode Mode) (domain.GridCellSeries, error) {
	if len(ds.Lats) == 0 || len(ds.Lons) == 0 {
		return domain.GridCellSeries{}, &domain.CoordinateOutOfRangeError{Latitude: lat, Longitude: lon}
	}
	lon = normalizeLon(lon, ds.Lons)
	if !inBounds(lat, ds.Lats) || !inBounds(lon, ds.Lons) {
		return domain.GridCellSeries{}, &domain.CoordinateOutOfRangeError{Latitude: lat, Longitude: lon}
	}
	if mode == Bilinear {
		return bilinear(ds, lat, lon)
	}
	return nearest(ds, lat, lon)
}

func nearest(ds *domain.RawDataset, lat, lon float64) (domain.GridCellSeries, error) {
	bestCell := -1
	bestDist := math.Inf(1)
	for li, gl := range ds.Lats {
		for lo, gn := range ds.Lons {
			d := haversine(lat, lon, gl, gn)
			cell := ds.CellIndex(li, lo)
			// Strict less keeps the lowest cell index on ties.
			if d < bestDist {
				bestDist = d
				bestCell = cell
			}
		}
	}
	values := make([]float64, len(ds.Times))
	copy(values, ds.Values[bestCell])
	return domain.GridCellSeries{Key: ds.Key, Times: ds.Times, Values: values}, nil
}

// bracket finds the axis indices (i, i+1) enclosing v and the fractional
// position of v between them. Points beyond the outermost centers pin to
// the edge cell with weight 0 or 1. Axes may run in either direction;
// gridded products commonly store latitude north-to-south.
func bracket(axis []float64, v float64) (int, float64) {
	n := len(axis)
	var i int
	if axis[0] > axis[n-1] {
		i = sort.Search(n, func(j int) bool { return axis[j] <= v })
	} else {
		i = sort.SearchFloat64s(axis, v)
	}
	switch {
	case i == 0:
		return 0, 0
	case i >= n:
		return n - 2, 1
	}
	lo, hi := axis[i-1], axis[i]
	frac := 0.0
	if hi != lo {
		frac = (v - lo) / (hi - lo)
	}
	return i - 1, frac
}

func bilinear(ds *domain.RawDataset, lat, lon float64) (domain.GridCellSeries, error) {
	if len(ds.Lats) < 2 || len(ds.Lons) < 2 {
		// A degenerate axis cannot enclose the point; fall back to the
		// single available cell.
		return nearest(ds, lat, lon)
	}
	li, fLat := bracket(ds.Lats, lat)
	lo, fLon := bracket(ds.Lons, lon)

	c00 := ds.Values[ds.CellIndex(li, lo)]
	c01 := ds.Values[ds.CellIndex(li, lo+1)]
	c10 := ds.Values[ds.CellIndex(li+1, lo)]
	c11 := ds.Values[ds.CellIndex(li+1, lo+1)]

	values := make([]float64, len(ds.Times))
	for t := range values {
		top := c00[t]*(1-fLon) + c01[t]*fLon
		bottom := c10[t]*(1-fLon) + c11[t]*fLon
		values[t] = top*(1-fLat) + bottom*fLat
	}
	return domain.GridCellSeries{Key: ds.Key, Times: ds.Times, Values: values}, nil
}
