package morph

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buildenergy/epwmorph/internal/domain"
	"github.com/buildenergy/epwmorph/internal/observability"
)

func testEngine() *Engine {
	return NewEngine(slog.New(slog.NewTextHandler(io.Discard, nil)), observability.NewMetricsForTesting())
}

func testSeries() *domain.WeatherSeries {
	return &domain.WeatherSeries{
		Location:      domain.Location{Title: "Test City", Latitude: 40.0, Longitude: -105.0},
		BaselineRange: domain.YearRange{Start: 1990, End: 2005},
		Columns: map[string][]float64{
			"drybulb_C":         hourlyYear([12]float64{0, 2, 6, 11, 16, 21, 24, 23, 18, 12, 5, 1}, 5),
			"dewpoint_C":        constantYear(2),
			"relhum_percent":    constantYear(60),
			"atmos_Pa":          constantYear(101325),
			"windspd_ms":        constantYear(4),
			"totskycvr_tenths":  constantYear(6),
			"opaqskycvr_tenths": constantYear(3),
		},
	}
}

func testSignals() map[string]domain.Delta {
	return map[string]domain.Delta{
		"tas":     monthlyDelta("tas", domain.Additive, 2.0),
		"tasmax":  monthlyDelta("tasmax", domain.Additive, 2.5),
		"tasmin":  monthlyDelta("tasmin", domain.Additive, 1.5),
		"huss":    monthlyDelta("huss", domain.Multiplicative, 1.05),
		"psl":     monthlyDelta("psl", domain.Additive, -120),
		"sfcWind": monthlyDelta("sfcWind", domain.Multiplicative, 1.1),
		"clt":     monthlyDelta("clt", domain.Additive, 5), // percent
	}
}

func morphAll(t *testing.T, base *domain.WeatherSeries, signals map[string]domain.Delta, names ...string) *domain.MorphedSeries {
	t.Helper()
	ordered, autoAdded, err := domain.Resolve(names)
	require.NoError(t, err)
	out, err := testEngine().Morph(base, ordered, autoAdded, signals,
		domain.Provenance{Pathway: "ssp245", Percentile: 50, Year: 2050})
	require.NoError(t, err)
	return out
}

func TestEngine_MorphsRequestedVariables(t *testing.T) {
	base := testSeries()
	out := morphAll(t, base, testSignals(), "Temperature", "Wind")

	assert.ElementsMatch(t, []string{"Temperature", "Wind"}, out.Provenance.Morphed)
	assert.Empty(t, out.Provenance.PassedThrough)

	for h, v := range out.Columns["windspd_ms"] {
		assert.InDelta(t, 4.4, v, 1e-12, "hour %d", h)
	}
	// Temperature moved by the mean shift on average.
	baseMeans := monthlyMeans(base.Columns["drybulb_C"])
	gotMeans := monthlyMeans(out.Columns["drybulb_C"])
	for m := 0; m < 12; m++ {
		assert.InDelta(t, baseMeans[m]+2.0, gotMeans[m], 1e-9)
	}
}

func TestEngine_DoesNotMutateBase(t *testing.T) {
	base := testSeries()
	want := base.CloneColumns()

	_ = morphAll(t, base, testSignals(), "Temperature", "Wind", "Pressure")

	for name, col := range want {
		assert.Equal(t, col, base.Columns[name], "column %q", name)
	}
}

func TestEngine_MissingSignalSkipsVariableOnly(t *testing.T) {
	base := testSeries()
	signals := testSignals()
	delete(signals, "sfcWind")

	out := morphAll(t, base, signals, "Temperature", "Wind")

	assert.Contains(t, out.Provenance.Morphed, "Temperature")
	assert.Contains(t, out.Provenance.PassedThrough, "Wind")
	assert.Equal(t, base.Columns["windspd_ms"], out.Columns["windspd_ms"])
}

func TestEngine_DewPointRecomputedFromMorphedColumns(t *testing.T) {
	base := testSeries()
	out := morphAll(t, base, testSignals(), "Dew Point")

	// Resolving Dew Point pulls in its whole prerequisite chain.
	assert.ElementsMatch(t, []string{"Temperature", "Pressure", "Humidity"}, out.Provenance.AutoAdded)
	assert.Contains(t, out.Provenance.Morphed, "Dew Point")

	temp := out.Columns["drybulb_C"]
	dew := out.Columns["dewpoint_C"]
	for h := range dew {
		assert.LessOrEqual(t, dew[h], temp[h], "hour %d", h)
	}
	assert.NotEqual(t, base.Columns["dewpoint_C"], dew)
}

func TestEngine_DerivedSkippedWhenNoPrerequisiteMorphed(t *testing.T) {
	base := testSeries()
	signals := testSignals()
	delete(signals, "clt")

	out := morphAll(t, base, signals, "Opaque Sky Cover")

	assert.Contains(t, out.Provenance.PassedThrough, "Sky Cover")
	assert.Contains(t, out.Provenance.PassedThrough, "Opaque Sky Cover")
	assert.Equal(t, base.Columns["opaqskycvr_tenths"], out.Columns["opaqskycvr_tenths"])
}

func TestEngine_OpaqueSkyCoverTracksMorphedTotal(t *testing.T) {
	base := testSeries()
	out := morphAll(t, base, testSignals(), "Opaque Sky Cover")

	// clt +5% is +0.5 tenths: total 6 -> 6.5, opaque scales 3 -> 3.25.
	for h := range out.Columns["totskycvr_tenths"] {
		assert.InDelta(t, 6.5, out.Columns["totskycvr_tenths"][h], 1e-9)
		assert.InDelta(t, 3.25, out.Columns["opaqskycvr_tenths"][h], 1e-9)
	}
}

// radiationSeries extends the base fixture with a clear-sky radiation
// year derived from the site's own solar geometry.
func radiationSeries() *domain.WeatherSeries {
	s := testSeries()
	s.Location.TimezoneOffset = -7
	geometry := solarGeometry(s.Location)
	exthor := make([]float64, domain.HoursPerYear)
	glohor := make([]float64, domain.HoursPerYear)
	diffhor := make([]float64, domain.HoursPerYear)
	dirnor := make([]float64, domain.HoursPerYear)
	for h, g := range geometry {
		if g.cosZenith <= 0 {
			continue
		}
		exthor[h] = 1361 * g.cosZenith
		glohor[h] = 0.62 * exthor[h]
		diffhor[h] = 0.25 * exthor[h]
		dirnor[h] = (glohor[h] - diffhor[h]) / g.cosZenith
	}
	s.Columns["exthorrad_Whm2"] = exthor
	s.Columns["glohorrad_Whm2"] = glohor
	s.Columns["difhorrad_Whm2"] = diffhor
	s.Columns["dirnorrad_Whm2"] = dirnor
	return s
}

func radiationSignals() map[string]domain.Delta {
	signals := testSignals()
	signals["rsds"] = monthlyDelta("rsds", domain.Additive, 15)
	return signals
}

func TestEngine_GlobalRadiationStretchedByMonthlyShare(t *testing.T) {
	base := radiationSeries()
	out := morphAll(t, base, radiationSignals(), "Global Radiation")

	assert.Contains(t, out.Provenance.Morphed, "Global Radiation")
	baseMeans := monthlyMeans(base.Columns["glohorrad_Whm2"])
	for h, v := range out.Columns["glohorrad_Whm2"] {
		want := base.Columns["glohorrad_Whm2"][h] * (1 + 15/baseMeans[domain.MonthOfHour(h)])
		assert.InDelta(t, want, v, 1e-9, "hour %d", h)
	}
}

func TestEngine_DiffuseRecomputedFromMorphedGlobal(t *testing.T) {
	base := radiationSeries()
	out := morphAll(t, base, radiationSignals(), "Diffuse Radiation")

	assert.Contains(t, out.Provenance.AutoAdded, "Global Radiation")
	glohor := out.Columns["glohorrad_Whm2"]
	diffhor := out.Columns["difhorrad_Whm2"]
	for h := range diffhor {
		assert.LessOrEqual(t, diffhor[h], glohor[h]+1e-9, "hour %d", h)
		if base.Columns["exthorrad_Whm2"][h] == 0 {
			assert.Zero(t, diffhor[h], "hour %d", h)
		}
	}
	assert.NotEqual(t, base.Columns["difhorrad_Whm2"], diffhor)
}

func TestEngine_DirectNormalClosesAgainstGlobalAndDiffuse(t *testing.T) {
	base := radiationSeries()
	out := morphAll(t, base, radiationSignals(), "Direct Radiation")

	geometry := solarGeometry(base.Location)
	glohor := out.Columns["glohorrad_Whm2"]
	diffhor := out.Columns["difhorrad_Whm2"]
	for h, beam := range out.Columns["dirnorrad_Whm2"] {
		assert.GreaterOrEqual(t, beam, 0.0, "hour %d", h)
		if glohor[h] <= 0 || geometry[h].cosZenith < minCosZenith {
			assert.Zero(t, beam, "hour %d", h)
			continue
		}
		assert.InDelta(t, (glohor[h]-diffhor[h])/geometry[h].cosZenith, beam, 1e-6, "hour %d", h)
	}
}

func TestEngine_HumidityClampedToPhysicalRange(t *testing.T) {
	base := testSeries()
	base.Columns["relhum_percent"] = constantYear(99)
	signals := testSignals()
	signals["huss"] = monthlyDelta("huss", domain.Multiplicative, 1.5)
	// Hold temperature and pressure still so the stretch dominates.
	signals["tas"] = monthlyDelta("tas", domain.Additive, 0)
	signals["tasmax"] = monthlyDelta("tasmax", domain.Additive, 0)
	signals["tasmin"] = monthlyDelta("tasmin", domain.Additive, 0)
	signals["psl"] = monthlyDelta("psl", domain.Additive, 0)

	out := morphAll(t, base, signals, "Humidity")
	for _, v := range out.Columns["relhum_percent"] {
		assert.LessOrEqual(t, v, 100.0)
		assert.GreaterOrEqual(t, v, 1.0)
	}
}

func TestEngine_WindClampedAtZero(t *testing.T) {
	base := testSeries()
	base.Columns["windspd_ms"] = constantYear(0.5)
	signals := testSignals()
	d := monthlyDelta("sfcWind", domain.Multiplicative, 0)
	d.Bins[0] = -2 // fallback difference for January
	d.FallbackBins = []int{0}
	for i := 1; i < 12; i++ {
		d.Bins[i] = 1
	}
	signals["sfcWind"] = d

	out := morphAll(t, base, signals, "Wind")
	for _, v := range out.Columns["windspd_ms"] {
		assert.GreaterOrEqual(t, v, 0.0)
	}
}

func TestEngine_ProvenanceCarriesRunIdentity(t *testing.T) {
	out := morphAll(t, testSeries(), testSignals(), "Temperature")
	assert.Equal(t, "ssp245", out.Provenance.Pathway)
	assert.Equal(t, 50.0, out.Provenance.Percentile)
	assert.Equal(t, 2050, out.Provenance.Year)
}
