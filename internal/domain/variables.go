package domain

import (
	"fmt"
	"sort"
)

// Range is an inclusive physically valid interval for a morphed variable.
type Range struct {
	Lo float64
	Hi float64
}

// Clamp bounds v to the range.
func (r Range) Clamp(v float64) float64 {
	if v < r.Lo {
		return r.Lo
	}
	if v > r.Hi {
		return r.Hi
	}
	return v
}

// VariableSpec describes one human-facing morphable variable: which weather
// file column it lives in, which model-variable codes feed its change
// signal, which variables must be morphed before it, and how the signal is
// applied.
type VariableSpec struct {
	Name string

	// Column is the weather-series column the transform reads and writes.
	Column string

	// ModelVariables are the climate-model codes fetched for this variable.
	// Empty for derived variables.
	ModelVariables []string

	// Requires names prerequisite variables; together these form the
	// dependency DAG.
	Requires []string

	Kind TransformKind

	// Clamp, when non-nil, bounds morphed values to the physically valid
	// range.
	Clamp *Range
}

// Registry of the built-in morphable variables. Model-variable codes follow
// the CMIP convention: tas (near-surface air temperature), huss (specific
// humidity), psl (sea-level pressure), uas/vas (eastward/northward wind),
// clt (cloud fraction), rsds (downwelling shortwave radiation).
var registry = map[string]VariableSpec{
	"Temperature": {
		Name:           "Temperature",
		Column:         "drybulb_C",
		ModelVariables: []string{"tas", "tasmax", "tasmin"},
		Kind:           Additive,
	},
	"Humidity": {
		Name:           "Humidity",
		Column:         "relhum_percent",
		ModelVariables: []string{"huss"},
		Requires:       []string{"Temperature", "Pressure"},
		Kind:           Multiplicative,
		Clamp:          &Range{Lo: 1, Hi: 100},
	},
	"Pressure": {
		Name:           "Pressure",
		Column:         "atmos_Pa",
		ModelVariables: []string{"psl"},
		Kind:           Additive,
	},
	"Wind": {
		Name:           "Wind",
		Column:         "windspd_ms",
		ModelVariables: []string{"uas", "vas"},
		Kind:           Multiplicative,
		Clamp:          &Range{Lo: 0, Hi: 40},
	},
	"Sky Cover": {
		Name:           "Sky Cover",
		Column:         "totskycvr_tenths",
		ModelVariables: []string{"clt"},
		Kind:           Additive,
		Clamp:          &Range{Lo: 0, Hi: 10},
	},
	"Global Radiation": {
		Name:           "Global Radiation",
		Column:         "glohorrad_Whm2",
		ModelVariables: []string{"rsds"},
		Kind:           Additive,
		Clamp:          &Range{Lo: 0, Hi: 1500},
	},
	"Diffuse Radiation": {
		Name:     "Diffuse Radiation",
		Column:   "difhorrad_Whm2",
		Requires: []string{"Global Radiation"},
		Kind:     Derived,
		Clamp:    &Range{Lo: 0, Hi: 1500},
	},
	"Direct Radiation": {
		Name:     "Direct Radiation",
		Column:   "dirnorrad_Whm2",
		Requires: []string{"Global Radiation", "Diffuse Radiation"},
		Kind:     Derived,
		Clamp:    &Range{Lo: 0, Hi: 1500},
	},
	"Dew Point": {
		Name:     "Dew Point",
		Column:   "dewpoint_C",
		Requires: []string{"Temperature", "Humidity"},
		Kind:     Derived,
	},
	"Opaque Sky Cover": {
		Name:     "Opaque Sky Cover",
		Column:   "opaqskycvr_tenths",
		Requires: []string{"Sky Cover"},
		Kind:     Derived,
		Clamp:    &Range{Lo: 0, Hi: 10},
	},
}

// LookupVariable returns the spec for a variable name.
func LookupVariable(name string) (VariableSpec, error) {
	spec, ok := registry[name]
	if !ok {
		return VariableSpec{}, fmt.Errorf("%w: %q", ErrUnknownVariable, name)
	}
	return spec, nil
}

// Variables returns the registered variable names, sorted.
func Variables() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve topologically orders the requested variables by their dependency
// DAG. Prerequisites that were not requested are silently added to the
// ordering and returned in autoAdded so the caller can report them. A cycle
// returns InvalidDependencyGraphError; an unknown name ErrUnknownVariable.
func Resolve(requested []string) (ordered []VariableSpec, autoAdded []string, err error) {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int)
	requestedSet := make(map[string]bool, len(requested))
	for _, name := range requested {
		requestedSet[name] = true
	}

	var visit func(name string, stack []string) error
	visit = func(name string, stack []string) error {
		switch state[name] {
		case done:
			return nil
		case visiting:
			return &InvalidDependencyGraphError{Cycle: append(stack, name)}
		}
		spec, err := LookupVariable(name)
		if err != nil {
			return err
		}
		state[name] = visiting
		for _, dep := range spec.Requires {
			if err := visit(dep, append(stack, name)); err != nil {
				return err
			}
		}
		state[name] = done
		ordered = append(ordered, spec)
		if !requestedSet[name] {
			autoAdded = append(autoAdded, name)
		}
		return nil
	}

	for _, name := range requested {
		if err := visit(name, nil); err != nil {
			return nil, nil, err
		}
	}
	return ordered, autoAdded, nil
}

// ModelVariables expands an ordered variable list into the deduplicated set
// of model-variable codes that must be fetched.
func ModelVariables(specs []VariableSpec) []string {
	seen := make(map[string]bool)
	var out []string
	for _, spec := range specs {
		for _, code := range spec.ModelVariables {
			if !seen[code] {
				seen[code] = true
				out = append(out, code)
			}
		}
	}
	return out
}
