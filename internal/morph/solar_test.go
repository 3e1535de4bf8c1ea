package morph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buildenergy/epwmorph/internal/domain"
)

func denver() domain.Location {
	return domain.Location{Latitude: 39.83, Longitude: -104.65, TimezoneOffset: -7}
}

// hourAt returns the hour index for a day-of-year and local hour.
func hourAt(doy, hour int) int { return (doy-1)*24 + hour }

func TestSolarGeometry_SeasonalAltitude(t *testing.T) {
	geometry := solarGeometry(denver())
	require.Len(t, geometry, domain.HoursPerYear)

	// Noon sun stands far higher at the June solstice than the December
	// one; both are above the horizon at 40N.
	summerNoon := geometry[hourAt(172, 12)].altitude
	winterNoon := geometry[hourAt(355, 12)].altitude
	assert.Greater(t, summerNoon, 65.0)
	assert.Less(t, winterNoon, 30.0)
	assert.Greater(t, winterNoon, 15.0)

	// Midnight is always below the horizon at mid-latitudes.
	assert.Less(t, geometry[hourAt(172, 0)].altitude, 0.0)
	assert.Less(t, geometry[hourAt(355, 0)].altitude, 0.0)
}

func TestSolarGeometry_SolarTimeTracksLongitudeCorrection(t *testing.T) {
	geometry := solarGeometry(denver())

	// Denver sits east of its 105W time-zone meridian by 0.35 degrees,
	// so solar time stays within a few minutes plus the equation of time
	// of clock time.
	for _, h := range []int{hourAt(1, 12), hourAt(180, 12)} {
		assert.InDelta(t, 12.0, geometry[h].solarTime, 0.4, "hour %d", h)
	}
}

func TestHourlyClearness(t *testing.T) {
	clearness := hourlyClearness([]float64{0, 200, 450}, []float64{0, 400, 900})
	assert.Equal(t, 0.0, clearness[0], "dark hour has zero clearness")
	assert.InDelta(t, 0.5, clearness[1], 1e-12)
	assert.InDelta(t, 0.5, clearness[2], 1e-12)
}

func TestDailyClearness_BroadcastsPerDay(t *testing.T) {
	glohor := make([]float64, 48)
	exthor := make([]float64, 48)
	// Day one: half-clear. Day two: fully dark.
	glohor[12] = 300
	exthor[12] = 600
	daily := dailyClearness(glohor, exthor)
	for h := 0; h < 24; h++ {
		assert.InDelta(t, 0.5, daily[h], 1e-12, "hour %d", h)
	}
	for h := 24; h < 48; h++ {
		assert.Equal(t, 0.0, daily[h], "hour %d", h)
	}
}

func TestPersistence_EdgeHours(t *testing.T) {
	geometry := make([]solarHour, 6)
	for i, alt := range []float64{-10, -5, 20, 40, 15, -5} {
		geometry[i] = solarHour{altitude: alt}
	}
	clearness := []float64{0, 0, 0.3, 0.6, 0.4, 0}

	got := persistence(clearness, geometry)

	assert.Equal(t, clearness[0], got[0], "first hour keeps its own clearness")
	assert.Equal(t, clearness[5], got[5], "last hour keeps its own clearness")
	assert.Equal(t, clearness[3], got[2], "sunrise hour takes the next hour")
	assert.Equal(t, clearness[3], got[4], "sunset hour takes the previous hour")
	assert.InDelta(t, (clearness[2]+clearness[4])/2, got[3], 1e-12, "midday averages neighbours")
}

func TestDiffuseFraction_DecreasesWithClearness(t *testing.T) {
	overcast := diffuseFraction(0.1, 12, 45, 0.1, 0.1)
	clear := diffuseFraction(0.8, 12, 45, 0.8, 0.8)

	assert.Greater(t, overcast, 0.9, "overcast skies are nearly all diffuse")
	assert.Less(t, clear, 0.35, "clear skies are mostly beam")
	assert.Greater(t, clear, 0.0)
}

func TestDiffuseHorizontal_BoundedByGlobal(t *testing.T) {
	glohor := make([]float64, domain.HoursPerYear)
	exthor := make([]float64, domain.HoursPerYear)
	geometry := solarGeometry(denver())
	for h := range glohor {
		if geometry[h].altitude > 0 {
			exthor[h] = 1367 * geometry[h].cosZenith
			glohor[h] = 0.6 * exthor[h]
		}
	}

	diffhor := DiffuseHorizontal(denver(), glohor, exthor)

	for h := range diffhor {
		assert.GreaterOrEqual(t, diffhor[h], 0.0, "hour %d", h)
		assert.LessOrEqual(t, diffhor[h], glohor[h], "hour %d", h)
		if glohor[h] == 0 {
			assert.Equal(t, 0.0, diffhor[h], "dark hour %d", h)
		}
	}
}

func TestDirectNormal(t *testing.T) {
	loc := denver()
	geometry := solarGeometry(loc)
	glohor := make([]float64, domain.HoursPerYear)
	diffhor := make([]float64, domain.HoursPerYear)

	noon := hourAt(172, 12)
	glohor[noon] = 800
	diffhor[noon] = 200

	dirnor := DirectNormal(loc, glohor, diffhor)

	want := (800.0 - 200.0) / geometry[noon].cosZenith
	assert.InDelta(t, want, dirnor[noon], 1e-9)

	// Dark hours stay zero even if a column carries stray values.
	midnight := hourAt(172, 0)
	assert.Equal(t, 0.0, dirnor[midnight])

	// Diffuse exceeding global cannot produce a negative beam.
	glohor[noon], diffhor[noon] = 100, 150
	dirnor = DirectNormal(loc, glohor, diffhor)
	assert.Equal(t, 0.0, dirnor[noon])
}
