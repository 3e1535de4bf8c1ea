package morph

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/buildenergy/epwmorph/internal/domain"
	"github.com/buildenergy/epwmorph/internal/observability"
)

// Engine applies a set of change signals to a weather series. Variables
// run in dependency order: direct transforms first, then derived
// variables recomputed from the already-morphed columns. A variable
// whose signal is missing or malformed is skipped with a warning; the
// rest of the run proceeds.
type Engine struct {
	logger  *slog.Logger
	metrics *observability.Metrics
}

func NewEngine(logger *slog.Logger, metrics *observability.Metrics) *Engine {
	return &Engine{logger: logger, metrics: metrics}
}

// Morph produces a new series with the ordered variables applied. The
// base series is never mutated. signals is keyed by model-variable code
// ("tas", "huss", "sfcWind", ...). run seeds the provenance with the
// combination identity; Morph fills in what it did.
func (e *Engine) Morph(base *domain.WeatherSeries, ordered []domain.VariableSpec, autoAdded []string, signals map[string]domain.Delta, run domain.Provenance) (*domain.MorphedSeries, error) {
	if len(base.Columns) == 0 {
		return nil, fmt.Errorf("base series has no columns")
	}
	start := time.Now()

	cols := base.CloneColumns()
	state := map[string]bool{}
	run.AutoAdded = autoAdded

	for _, spec := range ordered {
		if spec.Kind == domain.Derived {
			continue
		}
		vals, err := e.applyDirect(spec, base, cols, signals)
		if err != nil {
			e.skip(spec, &run, err)
			continue
		}
		e.adopt(spec, vals, cols, state, &run)
	}

	for _, spec := range ordered {
		if spec.Kind != domain.Derived {
			continue
		}
		if !anyMorphed(spec.Requires, state) {
			e.skip(spec, &run, fmt.Errorf("no morphed prerequisite"))
			continue
		}
		vals, err := e.applyDerived(spec, base, cols)
		if err != nil {
			e.skip(spec, &run, err)
			continue
		}
		e.adopt(spec, vals, cols, state, &run)
	}

	e.metrics.MorphDuration.Observe(time.Since(start).Seconds())
	return &domain.MorphedSeries{
		WeatherSeries: domain.WeatherSeries{
			Location:      base.Location,
			BaselineRange: base.BaselineRange,
			Columns:       cols,
			Header:        base.Header,
			Rows:          base.Rows,
			LineEnding:    base.LineEnding,
		},
		Provenance: run,
	}, nil
}

func (e *Engine) adopt(spec domain.VariableSpec, vals []float64, cols map[string][]float64, state map[string]bool, run *domain.Provenance) {
	if spec.Clamp != nil {
		for i, v := range vals {
			vals[i] = spec.Clamp.Clamp(v)
		}
	}
	cols[spec.Column] = vals
	state[spec.Name] = true
	run.Morphed = append(run.Morphed, spec.Name)
	e.metrics.VariablesMorphed.Inc()
}

func (e *Engine) skip(spec domain.VariableSpec, run *domain.Provenance, err error) {
	e.logger.Warn("skipping variable", "variable", spec.Name, "error", err)
	run.PassedThrough = append(run.PassedThrough, spec.Name)
	e.metrics.VariablesSkipped.Inc()
}

func (e *Engine) applyDirect(spec domain.VariableSpec, base *domain.WeatherSeries, cols map[string][]float64, signals map[string]domain.Delta) ([]float64, error) {
	col, err := base.Column(spec.Column)
	if err != nil {
		return nil, err
	}

	switch spec.Name {
	case "Temperature":
		mean, err := signalFor(signals, "tas", spec.Name)
		if err != nil {
			return nil, err
		}
		max, err := signalFor(signals, "tasmax", spec.Name)
		if err != nil {
			return nil, err
		}
		min, err := signalFor(signals, "tasmin", spec.Name)
		if err != nil {
			return nil, err
		}
		return ShiftStretch(col, mean, max, min)

	case "Humidity":
		d, err := signalFor(signals, "huss", spec.Name)
		if err != nil {
			return nil, err
		}
		return e.morphHumidity(col, d, base, cols)

	case "Wind":
		d, err := signalFor(signals, "sfcWind", spec.Name)
		if err != nil {
			return nil, err
		}
		return Stretch(col, d)

	case "Sky Cover":
		d, err := signalFor(signals, "clt", spec.Name)
		if err != nil {
			return nil, err
		}
		// Model cloud fraction is percent; the column is tenths.
		return Shift(col, scaleDelta(d, 0.1))

	case "Global Radiation":
		d, err := signalFor(signals, "rsds", spec.Name)
		if err != nil {
			return nil, err
		}
		return RelativeStretch(col, d)
	}

	// Other variables apply their kind directly off the first model code.
	if len(spec.ModelVariables) == 0 {
		return nil, &domain.IncompleteDeltaError{Variable: spec.Name, Reason: "no model variables"}
	}
	d, err := signalFor(signals, spec.ModelVariables[0], spec.Name)
	if err != nil {
		return nil, err
	}
	if spec.Kind == domain.Multiplicative {
		return Stretch(col, d)
	}
	return Shift(col, d)
}

// morphHumidity stretches relative humidity by the specific-humidity
// ratio, corrected for the temperature and pressure morphs already
// applied this run. Fallback bins carry an absolute specific-humidity
// difference that cannot be mapped onto relative humidity, so those
// bins keep a unit ratio and only the correction applies.
func (e *Engine) morphHumidity(rh []float64, d domain.Delta, base *domain.WeatherSeries, cols map[string][]float64) ([]float64, error) {
	oldTemp, err := base.Column("drybulb_C")
	if err != nil {
		return nil, err
	}
	oldPressure, err := base.Column("atmos_Pa")
	if err != nil {
		return nil, err
	}
	newTemp := workingColumn(cols, "drybulb_C", oldTemp)
	newPressure := workingColumn(cols, "atmos_Pa", oldPressure)

	out := make([]float64, len(rh))
	for h, v := range rh {
		ratio, err := d.Bin(h)
		if err != nil {
			return nil, err
		}
		if isFallbackHour(d, h) {
			ratio = 1
		}
		out[h] = relHumAdjust(v, ratio, oldTemp[h], newTemp[h], oldPressure[h], newPressure[h])
	}
	return out, nil
}

func (e *Engine) applyDerived(spec domain.VariableSpec, base *domain.WeatherSeries, cols map[string][]float64) ([]float64, error) {
	switch spec.Name {
	case "Dew Point":
		temp := cols["drybulb_C"]
		rh := cols["relhum_percent"]
		if temp == nil || rh == nil {
			return nil, fmt.Errorf("missing drybulb or humidity column")
		}
		out := make([]float64, len(temp))
		for h := range temp {
			out[h] = DewPoint(temp[h], rh[h])
		}
		return out, nil

	case "Opaque Sky Cover":
		presentOpaque, err := base.Column("opaqskycvr_tenths")
		if err != nil {
			return nil, err
		}
		presentTotal, err := base.Column("totskycvr_tenths")
		if err != nil {
			return nil, err
		}
		morphedTotal := workingColumn(cols, "totskycvr_tenths", presentTotal)
		out := make([]float64, len(presentOpaque))
		for h := range presentOpaque {
			out[h] = OpaqueSkyCover(presentOpaque[h], presentTotal[h], morphedTotal[h])
		}
		return out, nil

	case "Diffuse Radiation":
		exthor, err := base.Column("exthorrad_Whm2")
		if err != nil {
			return nil, err
		}
		baseGlohor, err := base.Column("glohorrad_Whm2")
		if err != nil {
			return nil, err
		}
		glohor := workingColumn(cols, "glohorrad_Whm2", baseGlohor)
		return DiffuseHorizontal(base.Location, glohor, exthor), nil

	case "Direct Radiation":
		baseGlohor, err := base.Column("glohorrad_Whm2")
		if err != nil {
			return nil, err
		}
		baseDiffhor, err := base.Column("difhorrad_Whm2")
		if err != nil {
			return nil, err
		}
		glohor := workingColumn(cols, "glohorrad_Whm2", baseGlohor)
		diffhor := workingColumn(cols, "difhorrad_Whm2", baseDiffhor)
		return DirectNormal(base.Location, glohor, diffhor), nil
	}
	return nil, fmt.Errorf("no derivation for %q", spec.Name)
}

func signalFor(signals map[string]domain.Delta, code, variable string) (domain.Delta, error) {
	d, ok := signals[code]
	if !ok {
		return domain.Delta{}, &domain.IncompleteDeltaError{
			Variable: variable,
			Reason:   fmt.Sprintf("missing %q signal", code),
		}
	}
	return d, nil
}

// scaleDelta returns a copy of an additive delta with every bin scaled,
// for unit conversion between model and weather-file conventions.
func scaleDelta(d domain.Delta, factor float64) domain.Delta {
	out := d
	out.Bins = make([]float64, len(d.Bins))
	for i, v := range d.Bins {
		out.Bins[i] = v * factor
	}
	return out
}

func workingColumn(cols map[string][]float64, name string, fallback []float64) []float64 {
	if col, ok := cols[name]; ok && len(col) == len(fallback) {
		return col
	}
	return fallback
}

func anyMorphed(requires []string, state map[string]bool) bool {
	for _, name := range requires {
		if state[name] {
			return true
		}
	}
	return false
}

func isFallbackHour(d domain.Delta, hour int) bool {
	for _, b := range d.FallbackBins {
		if b == binIndex(d, hour) {
			return true
		}
	}
	return false
}
